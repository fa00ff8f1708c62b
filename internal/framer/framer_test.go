package framer

import (
	"regexp"
	"strings"
	"testing"
)

var reProtocolStart = regexp.MustCompile(`^1002-`)

func TestNextSplitsOnStartRegex(t *testing.T) {
	input := "1002-proto1 line\nmeta1\n1002-proto2 line\nmeta2\n"
	f := New(strings.NewReader(input), reProtocolStart, nil)

	b1, ok := f.Next()
	if !ok {
		t.Fatal("expected first block")
	}
	if len(b1) != 2 || b1[0] != "1002-proto1 line" || b1[1] != "meta1" {
		t.Fatalf("unexpected first block: %#v", b1)
	}

	b2, ok := f.Next()
	if !ok {
		t.Fatal("expected second block")
	}
	if len(b2) != 2 || b2[0] != "1002-proto2 line" {
		t.Fatalf("unexpected second block: %#v", b2)
	}

	if _, ok := f.Next(); ok {
		t.Fatal("expected no third block")
	}
}

func TestNextStopRegexTerminatesInclusive(t *testing.T) {
	input := "0001 BIRD 2.0.10 ready.\n1011-Router ID is 1.2.3.4\n0013 Daemon is up and running\n"
	never := regexp.MustCompile(`^EOF$`)
	stop := regexp.MustCompile(`^0013 `)
	f := New(strings.NewReader(input), never, stop)

	block, ok := f.Next()
	if !ok {
		t.Fatal("expected a block")
	}
	if len(block) != 3 {
		t.Fatalf("expected 3 lines, got %d: %#v", len(block), block)
	}
	if block[2] != "0013 Daemon is up and running" {
		t.Fatalf("unexpected last line: %q", block[2])
	}

	if _, ok := f.Next(); ok {
		t.Fatal("expected stream exhausted after stop regex")
	}
}

func TestOnlyTerminatorYieldsZeroBlocks(t *testing.T) {
	f := New(strings.NewReader("0000\n"), reProtocolStart, nil)
	if _, ok := f.Next(); ok {
		t.Fatal("expected zero blocks for input containing only 0000")
	}
}

func TestErrorSentinelEndsStreamAfterLoggingLine(t *testing.T) {
	input := "1002-proto1 line\nmeta1\n9001 something went wrong\n1002-proto2 line\n"
	f := New(strings.NewReader(input), reProtocolStart, nil)

	block, ok := f.Next()
	if !ok {
		t.Fatal("expected block containing lines before 9001")
	}
	if len(block) != 2 {
		t.Fatalf("expected the 2 data lines without the sentinel, got %#v", block)
	}
	if !f.Errored {
		t.Fatal("expected Errored flag set")
	}
	if f.ErrorLine != "9001 something went wrong" {
		t.Fatalf("unexpected error line: %q", f.ErrorLine)
	}

	if _, ok := f.Next(); ok {
		t.Fatal("expected zero blocks past the 9001 line")
	}
}

func TestGroupFramerSplitsInnerBlocks(t *testing.T) {
	block := Block{
		"1007-10.0.0.0/24 unicast [R1] * (100)",
		" via 10.0.0.1 on eth0",
		"1007-10.0.1.0/24 unicast [R1] (100)",
		" via 10.0.1.1 on eth0",
	}
	reRouteStart := regexp.MustCompile(`^1007-`)
	g := NewGroup(block, reRouteStart)

	b1, ok := g.Next()
	if !ok || len(b1) != 2 {
		t.Fatalf("unexpected first group block: %#v", b1)
	}
	b2, ok := g.Next()
	if !ok || len(b2) != 2 {
		t.Fatalf("unexpected second group block: %#v", b2)
	}
	if _, ok := g.Next(); ok {
		t.Fatal("expected group framer exhausted")
	}
}
