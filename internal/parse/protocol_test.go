package parse

import (
	"strings"
	"testing"

	"github.com/lightwatcher/lightwatcher/internal/framer"
)

func TestProtocolHeaderAndChannelMeta(t *testing.T) {
	block := framer.Block{
		"1002-R1       BGP        ---        up     2024-01-01 00:00:00  Established",
		"  Description:    upstream peer",
		"  Neighbor address: 192.0.2.1",
		"  Neighbor AS:    64512",
		"  Channel ipv4",
		"    State:          UP",
		"    Import state:   up",
		"    Export state:   up",
		"    Table:          master4",
		"    Preference:     100",
		"    Input filter:   ACCEPT",
		"    Output filter:  REJECT",
		"    Routes:         5 imported, 2 filtered, 0 exported, 5 preferred",
		"    BGP Next hop:   192.0.2.1",
	}

	proto, err := Protocol(block)
	if err != nil {
		t.Fatalf("Protocol() error = %v", err)
	}

	if proto.ID != "R1" {
		t.Errorf("ID = %q, want R1", proto.ID)
	}
	if proto.State != "up" {
		t.Errorf("State = %q, want up", proto.State)
	}
	if proto.Description != "upstream peer" {
		t.Errorf("Description = %q", proto.Description)
	}
	if proto.Address != "192.0.2.1" {
		t.Errorf("Address = %q", proto.Address)
	}
	if proto.ASN != 64512 {
		t.Errorf("ASN = %d, want 64512", proto.ASN)
	}

	ch, ok := proto.Channels["ipv4"]
	if !ok {
		t.Fatal("expected channel ipv4")
	}
	if ch.Table != "master4" {
		t.Errorf("channel table = %q", ch.Table)
	}
	if ch.Preference != 100 {
		t.Errorf("preference = %d, want 100", ch.Preference)
	}
	if ch.RoutesCount["imported"] != 5 || ch.RoutesCount["filtered"] != 2 {
		t.Errorf("unexpected routes count: %#v", ch.RoutesCount)
	}

	if proto.Routes["imported"] != 5 {
		t.Errorf("protocol-level routes sum = %#v, want imported=5", proto.Routes)
	}
	if proto.Table != "master4" {
		t.Errorf("protocol-level table = %q, want master4 (promoted from first channel)", proto.Table)
	}
}

func TestProtocolRoutesCountSumsAcrossChannels(t *testing.T) {
	block := framer.Block{
		"1002-R2       BGP        ---        up     2024-01-01 00:00:00  Established",
		"  Channel ipv4",
		"    Routes:         3 imported, 1 filtered",
		"  Channel ipv6",
		"    Routes:         4 imported, 2 filtered",
	}

	proto, err := Protocol(block)
	if err != nil {
		t.Fatalf("Protocol() error = %v", err)
	}
	if proto.Routes["imported"] != 7 {
		t.Errorf("imported sum = %d, want 7", proto.Routes["imported"])
	}
	if proto.Routes["filtered"] != 3 {
		t.Errorf("filtered sum = %d, want 3", proto.Routes["filtered"])
	}
}

func TestProtocolFirstChannelIsDeterministicByInsertionOrder(t *testing.T) {
	block := framer.Block{
		"1002-R3       BGP        ---        up     2024-01-01 00:00:00  Established",
		"  Channel ipv6",
		"    Table:          master6",
		"    Peer table:     master6",
		"  Channel ipv4",
		"    Table:          master4",
		"    Peer table:     master4",
	}

	proto, err := Protocol(block)
	if err != nil {
		t.Fatalf("Protocol() error = %v", err)
	}
	if proto.Table != "master6" {
		t.Errorf("table = %q, want master6 (first channel seen, not map order)", proto.Table)
	}
}

func TestProtocolRouteChangeStats(t *testing.T) {
	block := framer.Block{
		"1002-R4       BGP        ---        up     2024-01-01 00:00:00  Established",
		"  Channel ipv4",
		"    Route change stats:     Received   Rejected   Filtered   Ignored   Accepted",
		"      Import updates:       100        5          2          ---       93",
		"      Import withdraws:     10         ---        ---        ---       10",
	}

	proto, err := Protocol(block)
	if err != nil {
		t.Fatalf("Protocol() error = %v", err)
	}
	ch := proto.Channels["ipv4"]
	if ch == nil {
		t.Fatal("expected channel ipv4")
	}
	if got := ch.RouteChanges.ImportUpdates["received"]; got == nil || *got != 100 {
		t.Errorf("import updates received = %v, want 100", got)
	}
	if got := ch.RouteChanges.ImportUpdates["rejected"]; got == nil || *got != 5 {
		t.Errorf("import updates rejected = %v, want 5", got)
	}
	if got := ch.RouteChanges.ImportWithdraws["rejected"]; got != nil {
		t.Errorf("import withdraws rejected = %v, want nil (---)", *got)
	}
}

func TestProtocolNeighborASNonNumericIsFatal(t *testing.T) {
	block := framer.Block{
		"1002-R5       BGP        ---        up     2024-01-01 00:00:00  Established",
		"  Description:    broken peer",
		"  Neighbor AS:    not-a-number",
	}
	if _, err := Protocol(block); err == nil {
		t.Fatal("expected error for non-numeric neighbor AS")
	}
}

func TestProtocolReaderBGPOnlyFilterSkipsNonBGP(t *testing.T) {
	input := strings.Join([]string{
		"1002-direct1  Direct     ---        up     2024-01-01 00:00:00",
		"1002-R1       BGP        ---        up     2024-01-01 00:00:00  Established",
		"  Neighbor address: 192.0.2.1",
	}, "\n") + "\n"

	r := NewProtocolReader(strings.NewReader(input), true, nil)
	proto, ok := r.Next()
	if !ok {
		t.Fatal("expected one protocol")
	}
	if proto.ID != "R1" {
		t.Errorf("ID = %q, want R1 (direct1 should be filtered)", proto.ID)
	}
	if _, ok := r.Next(); ok {
		t.Fatal("expected stream exhausted")
	}
}

func TestProtocolReaderSkipsFaultyBlockWithoutStopping(t *testing.T) {
	input := strings.Join([]string{
		"1002-R1       BGP        ---        up     2024-01-01 00:00:00  Established",
		"  Description:    broken peer",
		"  Neighbor AS:    garbage",
		"1002-R2       BGP        ---        up     2024-01-01 00:00:00  Established",
		"  Neighbor address: 192.0.2.2",
	}, "\n") + "\n"

	r := NewProtocolReader(strings.NewReader(input), false, nil)
	proto, ok := r.Next()
	if !ok {
		t.Fatal("expected second protocol despite first block's parse error")
	}
	if proto.ID != "R2" {
		t.Errorf("ID = %q, want R2", proto.ID)
	}
}
