package parse

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/lightwatcher/lightwatcher/internal/framer"
	"github.com/lightwatcher/lightwatcher/internal/model"
)

// RouteStart marks the start of an inner route block within a prefix group.
var RouteStart = regexp.MustCompile(`^1007-`)

// RoutesStart marks the start of an outer prefix-group block within a
// "show route" reply (the leading route always carries a non-blank network).
var RoutesStart = regexp.MustCompile(`^1007-\S`)

var (
	reRouteHeader     = regexp.MustCompile(`^.*?(?P<prefix>[0-9a-f:\./]+)?\s+(?P<type>\w+)\s+\[(?P<from_protocol>.*?)\s+(?P<age>[\d\-:\.\s]+)(\s+from\s+(?P<learnt_from>.+))?\]\s+((?P<primary>\*)\s+)?\((?P<metric>\d+)\)\s+.*$`)
	reGatewayInterface = regexp.MustCompile(`^.*?via\s+(?P<gateway>[0-9a-f:\.]+)?\s+on\s+(?P<interface>.+)$`)
	reRouteKeyValue    = regexp.MustCompile(`.*?\s+(?P<key>[\s\w\.]+):\s+(?P<value>.+)$`)
	reBGPCommunity     = regexp.MustCompile(`\((\d+), (\d+), (\d+)\)`)
	reBGPExtCommunity  = regexp.MustCompile(`\(([^,()]+),\s*([^,()]+),\s*([^,()]+)\)`)
)

type communityType int

const (
	communityStandard communityType = iota
	communityLarge
	communityExtended
)

type routeState int

const (
	routeStateStart routeState = iota
	routeStateMeta
	routeStateBGP
	routeStateCommunities
)

type routeParser struct {
	route     model.Route
	state     routeState
	community communityType
}

// Route parses one inner 1007- block into a Route.
func Route(block framer.Block) (model.Route, error) {
	p := &routeParser{state: routeStateStart}
	for _, line := range block {
		if err := p.step(line); err != nil {
			return model.Route{}, fmt.Errorf("parsing route line %q: %w", line, err)
		}
	}
	return p.route, nil
}

func (p *routeParser) step(line string) error {
	switch p.state {
	case routeStateStart:
		return p.parseHeader(line)
	case routeStateMeta:
		return p.parseMeta(line)
	case routeStateBGP:
		return p.parseBGP(line)
	case routeStateCommunities:
		return p.parseCommunities(line)
	}
	return nil
}

func (p *routeParser) parseHeader(line string) error {
	m := reRouteHeader.FindStringSubmatch(line)
	if m == nil {
		return nil
	}
	names := reRouteHeader.SubexpNames()
	get := func(name string) string { return submatch(m, names, name) }

	p.route.Network = get("prefix")
	p.route.Age = strings.TrimSpace(get("age"))
	if get("primary") != "" {
		p.route.Primary = true
	}
	if metric := get("metric"); metric != "" {
		n, err := strconv.ParseUint(metric, 10, 32)
		if err != nil {
			return fmt.Errorf("metric %q is not a valid uint32: %w", metric, err)
		}
		p.route.Metric = uint32(n)
	}
	if learnt := get("learnt_from"); learnt != "" {
		p.route.LearntFrom = &learnt
	}
	if proto := get("from_protocol"); proto != "" {
		p.route.NeighborID = &proto
	}

	p.state = routeStateMeta
	return nil
}

func (p *routeParser) parseMeta(line string) error {
	if m := reGatewayInterface.FindStringSubmatch(line); m != nil {
		names := reGatewayInterface.SubexpNames()
		p.route.Gateway = submatch(m, names, "gateway")
		p.route.Interface = submatch(m, names, "interface")
		p.state = routeStateMeta
		return nil
	}

	if m := reRouteKeyValue.FindStringSubmatch(line); m != nil {
		key := strings.TrimSpace(submatch(m, reRouteKeyValue.SubexpNames(), "key"))
		val := submatch(m, reRouteKeyValue.SubexpNames(), "value")
		if key == "Type" {
			p.route.RouteType = strings.Split(val, " ")
		}
	}

	p.state = routeStateBGP
	return nil
}

func (p *routeParser) parseBGP(line string) error {
	m := reRouteKeyValue.FindStringSubmatch(line)
	if m == nil {
		return nil
	}
	names := reRouteKeyValue.SubexpNames()
	rawKey := strings.ToLower(strings.TrimSpace(submatch(m, names, "key")))
	val := submatch(m, names, "value")
	key := stripBGPPrefix(rawKey)

	switch key {
	case "origin":
		p.route.BGP.Origin = val
	case "as_path", "path":
		p.route.BGP.ASPath = strings.Fields(val)
	case "next_hop":
		p.route.BGP.NextHop = val
	case "otc":
		v := val
		p.route.BGP.OTC = &v
	case "med":
		p.route.BGP.Med = val
	case "local_pref":
		p.route.BGP.LocalPref = val
	case "community":
		p.community = communityStandard
		return p.appendCommunities(val)
	case "large_community":
		p.community = communityLarge
		return p.appendCommunities(val)
	case "ext_community":
		p.community = communityExtended
		return p.appendCommunities(val)
	}

	return nil
}

func stripBGPPrefix(key string) string {
	switch {
	case strings.HasPrefix(key, "bgp."):
		return strings.TrimPrefix(key, "bgp.")
	case strings.HasPrefix(key, "bgp_"):
		return strings.TrimPrefix(key, "bgp_")
	default:
		return key
	}
}

func (p *routeParser) parseCommunities(line string) error {
	trimmed := strings.TrimSpace(line)

	switch {
	case strings.HasPrefix(trimmed, "BGP.community"):
		p.community = communityStandard
	case strings.HasPrefix(trimmed, "BGP.large_community"):
		p.community = communityLarge
	case strings.HasPrefix(trimmed, "BGP.ext_community"):
		p.community = communityExtended
	case strings.HasPrefix(trimmed, "BGP."):
		// A non-community attribute ends the communities run.
		p.state = routeStateBGP
		return p.parseBGP(line)
	}

	if idx := strings.Index(trimmed, ":"); idx >= 0 {
		trimmed = strings.TrimSpace(trimmed[idx+1:])
	}

	return p.appendCommunities(trimmed)
}

func (p *routeParser) appendCommunities(s string) error {
	p.state = routeStateCommunities
	if s == "" {
		return nil
	}

	switch p.community {
	case communityStandard:
		communities, err := parseStandardCommunities(s)
		if err != nil {
			return err
		}
		p.route.BGP.Communities = append(p.route.BGP.Communities, communities...)
	case communityLarge:
		p.route.BGP.LargeCommunities = append(p.route.BGP.LargeCommunities, parseLargeCommunities(s)...)
	case communityExtended:
		p.route.BGP.ExtCommunities = append(p.route.BGP.ExtCommunities, parseExtCommunities(s)...)
	}
	return nil
}

// parseStandardCommunities parses whitespace-separated "(asn,value)" tuples.
func parseStandardCommunities(s string) ([]model.Community, error) {
	var result []model.Community
	for _, tok := range strings.Fields(s) {
		tok = strings.TrimSpace(tok)
		if !strings.HasPrefix(tok, "(") || !strings.HasSuffix(tok, ")") {
			continue
		}
		inner := tok[1 : len(tok)-1]
		parts := strings.Split(inner, ",")
		if len(parts) != 2 {
			return nil, fmt.Errorf("invalid community %q", tok)
		}
		asn, err := strconv.ParseUint(strings.TrimSpace(parts[0]), 10, 32)
		if err != nil {
			return nil, fmt.Errorf("invalid community asn %q: %w", tok, err)
		}
		val, err := strconv.ParseUint(strings.TrimSpace(parts[1]), 10, 32)
		if err != nil {
			return nil, fmt.Errorf("invalid community value %q: %w", tok, err)
		}
		result = append(result, model.Community{ASN: uint32(asn), Value: uint32(val)})
	}
	return result, nil
}

// parseLargeCommunities parses "(global, local1, local2)" tuples via reBGPCommunity.
func parseLargeCommunities(s string) []model.LargeCommunity {
	var result []model.LargeCommunity
	for _, m := range reBGPCommunity.FindAllStringSubmatch(s, -1) {
		a := parseUint32OrZero(m[1])
		b := parseUint32OrZero(m[2])
		c := parseUint32OrZero(m[3])
		result = append(result, model.LargeCommunity{GlobalAdmin: a, LocalData1: b, LocalData2: c})
	}
	return result
}

// parseExtCommunities parses "(tag, s1, s2)" tuples, all three kept as
// strings: the daemon prints decimal and hex forms interchangeably here.
func parseExtCommunities(s string) []model.ExtCommunity {
	var result []model.ExtCommunity
	for _, m := range reBGPExtCommunity.FindAllStringSubmatch(s, -1) {
		result = append(result, model.ExtCommunity{
			Kind:  strings.TrimSpace(m[1]),
			Part1: strings.TrimSpace(m[2]),
			Part2: strings.TrimSpace(m[3]),
		})
	}
	return result
}

func parseUint32OrZero(s string) uint32 {
	n, err := strconv.ParseUint(strings.TrimSpace(s), 10, 32)
	if err != nil {
		return 0
	}
	return uint32(n)
}

// PrefixGroup splits an outer 1007-\S block into routes, inheriting the
// leading route's network across blank-network continuations, and dropping
// any route whose neighbor_id is absent.
func PrefixGroup(block framer.Block) (model.PrefixGroup, error) {
	group := framer.NewGroup(block, RouteStart)
	var routes model.PrefixGroup
	var prefix string

	for {
		inner, ok := group.Next()
		if !ok {
			break
		}
		if len(inner) > 0 && strings.HasPrefix(inner[0], "0001") {
			continue
		}

		route, err := Route(inner)
		if err != nil {
			return nil, err
		}

		if route.Network == "" {
			route.Network = prefix
		} else {
			prefix = route.Network
		}

		if route.NeighborID == nil {
			continue
		}

		routes = append(routes, route)
	}

	return routes, nil
}
