package parse

import (
	"fmt"
	"io"
	"regexp"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/lightwatcher/lightwatcher/internal/framer"
	"github.com/lightwatcher/lightwatcher/internal/model"
)

// ProtocolStart matches the header line of one "show protocols all" block.
var ProtocolStart = regexp.MustCompile(`^1002-`)

var (
	reProtocolHeader  = regexp.MustCompile(`^1002-(?P<protocol>\w+)\s+(?P<bird_protocol>\w+)\s+.*?\s+(?P<state>\w+)\s+(?P<uptime>[\d\-:\s]+)(\.\d+)?\s*(?P<info>.*)$`)
	reProtocolChannel = regexp.MustCompile(`.* [Cc]hannel (?P<channel>.*)`)
	reKeyValue        = regexp.MustCompile(`.*?\s+(?P<key>[\s\w]+):\s+(?P<value>.+)$`)
)

type protocolState int

const (
	stateStart protocolState = iota
	stateMeta
	stateBgpState
	stateChannelMeta
	stateChannelStats
)

type protocolParser struct {
	protocol    model.Protocol
	state       protocolState
	channel     string
	statsFields []string
	channelOrder []string
}

// Protocol parses one 1002- block into a Protocol.
func Protocol(block framer.Block) (model.Protocol, error) {
	p := &protocolParser{
		protocol: model.Protocol{
			Routes:   model.RoutesCount{},
			Channels: model.ChannelMap{},
		},
		state: stateStart,
	}

	for _, line := range block {
		if err := p.step(line); err != nil {
			return model.Protocol{}, fmt.Errorf("parsing protocol line %q: %w", line, err)
		}
	}

	p.finalize()
	return p.protocol, nil
}

func (p *protocolParser) step(line string) error {
	switch p.state {
	case stateStart:
		return p.parseHeader(line)
	case stateMeta:
		return p.parseMeta(line)
	case stateBgpState:
		return p.parseBgpState(line)
	case stateChannelMeta:
		return p.parseChannelMeta(line)
	case stateChannelStats:
		return p.parseChannelStats(line)
	}
	return nil
}

func (p *protocolParser) parseHeader(line string) error {
	m := reProtocolHeader.FindStringSubmatch(line)
	if m == nil {
		return nil
	}
	names := reProtocolHeader.SubexpNames()
	get := func(name string) string { return submatch(m, names, name) }

	p.protocol.ID = get("protocol")
	p.protocol.BirdProtocol = get("bird_protocol")
	p.protocol.State = strings.ToLower(get("state"))
	if p.protocol.State == "down" {
		p.protocol.LastError = get("info")
	}
	uptime := strings.TrimSpace(get("uptime"))
	p.protocol.Since = uptime
	p.protocol.StateChanged = uptime

	p.state = stateMeta
	return nil
}

func (p *protocolParser) parseMeta(line string) error {
	if m := reProtocolChannel.FindStringSubmatch(line); m != nil {
		p.enterChannel(submatch(m, reProtocolChannel.SubexpNames(), "channel"))
		return nil
	}

	if m := reKeyValue.FindStringSubmatch(line); m != nil {
		key := strings.ToLower(submatch(m, reKeyValue.SubexpNames(), "key"))
		val := submatch(m, reKeyValue.SubexpNames(), "value")
		if key == "description" {
			p.protocol.Description = val
		}
	}

	p.state = stateBgpState
	return nil
}

func (p *protocolParser) parseBgpState(line string) error {
	if m := reProtocolChannel.FindStringSubmatch(line); m != nil {
		p.enterChannel(submatch(m, reProtocolChannel.SubexpNames(), "channel"))
		return nil
	}

	if m := reKeyValue.FindStringSubmatch(line); m != nil {
		key := strings.ToLower(submatch(m, reKeyValue.SubexpNames(), "key"))
		val := submatch(m, reKeyValue.SubexpNames(), "value")

		switch key {
		case "neighbor address":
			p.protocol.Address = val
		case "neighbor as":
			asn, err := strconv.ParseUint(strings.TrimSpace(val), 10, 32)
			if err != nil {
				return fmt.Errorf("neighbor AS %q is not a valid uint32: %w", val, err)
			}
			p.protocol.ASN = uint32(asn)
		}
	}

	p.state = stateBgpState
	return nil
}

func (p *protocolParser) enterChannel(name string) {
	p.channel = name
	p.state = stateChannelMeta
	if _, ok := p.protocol.Channels[name]; !ok {
		p.protocol.Channels[name] = &model.Channel{RoutesCount: model.RoutesCount{}}
		p.channelOrder = append(p.channelOrder, name)
	}
}

func (p *protocolParser) parseChannelMeta(line string) error {
	if m := reProtocolChannel.FindStringSubmatch(line); m != nil {
		p.enterChannel(submatch(m, reProtocolChannel.SubexpNames(), "channel"))
		return nil
	}

	ch := p.protocol.Channels[p.channel]
	m := reKeyValue.FindStringSubmatch(line)
	if m == nil {
		return nil
	}
	key := strings.ToLower(submatch(m, reKeyValue.SubexpNames(), "key"))
	val := submatch(m, reKeyValue.SubexpNames(), "value")

	switch key {
	case "state":
		ch.State = val
	case "import state":
		ch.ImportState = val
	case "export state":
		ch.ExportState = val
	case "table":
		ch.Table = val
	case "peer table":
		ch.PeerTable = val
	case "preference":
		n, err := strconv.ParseUint(strings.TrimSpace(val), 10, 32)
		if err != nil {
			return fmt.Errorf("preference %q is not a valid uint32: %w", val, err)
		}
		ch.Preference = uint32(n)
	case "input filter":
		ch.InputFilter = val
	case "output filter":
		ch.OutputFilter = val
	case "routes":
		ch.RoutesCount = parseRoutesCount(val)
	case "bgp next hop":
		ch.BGPNextHop = val
	case "route change stats":
		p.statsFields = parseChangeStatsFields(val)
		p.state = stateChannelStats
	}

	return nil
}

func (p *protocolParser) parseChannelStats(line string) error {
	if m := reProtocolChannel.FindStringSubmatch(line); m != nil {
		p.enterChannel(submatch(m, reProtocolChannel.SubexpNames(), "channel"))
		return nil
	}

	ch := p.protocol.Channels[p.channel]
	lower := strings.ToLower(line)
	m := reKeyValue.FindStringSubmatch(lower)
	if m == nil {
		return nil
	}
	key := submatch(m, reKeyValue.SubexpNames(), "key")
	val := submatch(m, reKeyValue.SubexpNames(), "value")

	if key == "bgp next hop" {
		ch.BGPNextHop = val
		return nil
	}

	stats := zipChangeStats(p.statsFields, parseChangeStatsValues(val))
	switch key {
	case "import updates":
		ch.RouteChanges.ImportUpdates = stats
	case "import withdraws":
		ch.RouteChanges.ImportWithdraws = stats
	case "export updates":
		ch.RouteChanges.ExportUpdates = stats
	case "export withdraws":
		ch.RouteChanges.ExportWithdraws = stats
	}

	return nil
}

func (p *protocolParser) finalize() {
	total := model.RoutesCount{}
	for _, name := range p.channelOrder {
		total.Add(p.protocol.Channels[name].RoutesCount)
	}
	p.protocol.Routes = total

	if len(p.channelOrder) > 0 {
		first := p.protocol.Channels[p.channelOrder[0]]
		p.protocol.Table = first.Table
		p.protocol.PeerTable = first.PeerTable
	}
}

func submatch(m []string, names []string, name string) string {
	for i, n := range names {
		if n == name && i < len(m) {
			return m[i]
		}
	}
	return ""
}

func parseRoutesCount(s string) model.RoutesCount {
	result := model.RoutesCount{}
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		fields := strings.Fields(part)
		if len(fields) < 2 {
			continue
		}
		n, err := strconv.ParseUint(fields[0], 10, 32)
		if err != nil {
			n = 0
		}
		label := strings.Join(fields[1:], " ")
		result[label] = uint32(n)
	}
	return result
}

func parseChangeStatsFields(s string) []string {
	var fields []string
	for _, f := range strings.Split(s, "  ") {
		f = strings.TrimSpace(f)
		if f == "" {
			continue
		}
		f = strings.ToLower(f)
		f = strings.ReplaceAll(f, " ", "_")
		fields = append(fields, f)
	}
	return fields
}

func parseChangeStatsValues(s string) []*uint32 {
	var values []*uint32
	for _, tok := range strings.Fields(s) {
		n, err := strconv.ParseUint(tok, 10, 32)
		if err != nil {
			values = append(values, nil)
			continue
		}
		v := uint32(n)
		values = append(values, &v)
	}
	return values
}

func zipChangeStats(fields []string, values []*uint32) model.RouteChangeStats {
	stats := model.RouteChangeStats{}
	for i, field := range fields {
		if i >= len(values) {
			break
		}
		stats[field] = values[i]
	}
	return stats
}

// ProtocolReader streams Protocol records out of a "show protocols all"
// reply. When BGPOnly is set, blocks whose header line does not contain the
// token "BGP" are skipped. Parse failures never propagate: they are logged
// and the faulty block is skipped.
type ProtocolReader struct {
	framer  *framer.Framer
	BGPOnly bool
	log     *zap.Logger
}

// NewProtocolReader creates a reader over a "show protocols all" stream.
func NewProtocolReader(r io.Reader, bgpOnly bool, log *zap.Logger) *ProtocolReader {
	return &ProtocolReader{
		framer:  framer.New(r, ProtocolStart, nil),
		BGPOnly: bgpOnly,
		log:     log,
	}
}

// Errored reports whether the stream ended on a daemon error line, and
// returns that line.
func (pr *ProtocolReader) Errored() (string, bool) {
	return pr.framer.ErrorLine, pr.framer.Errored
}

// Next returns the next successfully parsed protocol, or (nil, false) when
// the stream is exhausted.
func (pr *ProtocolReader) Next() (*model.Protocol, bool) {
	for {
		block, ok := pr.framer.Next()
		if !ok {
			return nil, false
		}
		if pr.BGPOnly && (len(block) == 0 || !strings.Contains(block[0], "BGP")) {
			continue
		}
		proto, err := Protocol(block)
		if err != nil {
			if pr.log != nil {
				pr.log.Warn("parsing protocol block failed",
					zap.Error(err), zap.String("line", block[0]))
			}
			continue
		}
		return &proto, true
	}
}
