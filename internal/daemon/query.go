package daemon

import "fmt"

// ValidationError reports why a query value was rejected before any
// command was composed.
type ValidationError struct {
	Input  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed '%s': %s", e.Input, e.Reason)
}

// QueryValue is an opaque short string taken from the URL path and
// embedded, single-quoted, into a daemon command. Validation is the only
// thing standing between the URL and the control socket, so it is strict:
// non-empty, at most 128 characters, charset [A-Za-z0-9_.:].
type QueryValue string

// Aliases for the three query positions. They share QueryValue's
// validation; the distinct names document which argument a command takes.
type (
	ProtocolID = QueryValue
	TableID    = QueryValue
	PeerID     = QueryValue
)

// ParseQueryValue validates s and returns it as a QueryValue.
func ParseQueryValue(s string) (QueryValue, error) {
	if s == "" {
		return "", &ValidationError{Input: s, Reason: "is empty"}
	}
	if len(s) > 128 {
		return "", &ValidationError{Input: s, Reason: "is too long"}
	}
	for _, c := range s {
		switch {
		case c >= 'a' && c <= 'z':
		case c >= 'A' && c <= 'Z':
		case c >= '0' && c <= '9':
		case c == '_' || c == '.' || c == ':':
		default:
			return "", &ValidationError{Input: s, Reason: "contains invalid characters"}
		}
	}
	return QueryValue(s), nil
}

// ParseProtocolID validates a neighbor identifier such as "R194_42".
func ParseProtocolID(s string) (ProtocolID, error) {
	return ParseQueryValue(s)
}

// ParseTableID validates a table name such as "master4".
func ParseTableID(s string) (TableID, error) {
	return ParseQueryValue(s)
}

// ParsePeerID validates a peer address used in the table-peer query.
func ParsePeerID(s string) (PeerID, error) {
	return ParseQueryValue(s)
}
