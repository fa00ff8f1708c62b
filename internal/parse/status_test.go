package parse

import (
	"strings"
	"testing"

	"github.com/lightwatcher/lightwatcher/internal/framer"
)

func TestStatusEndToEndScenario(t *testing.T) {
	input := "0001 BIRD 2.0.10 ready.\n" +
		"1011-Router ID is 1.2.3.4\n" +
		" Current server time is 2024-01-01 00:00:00\n" +
		"0013 Daemon is up and running\n"

	f := framer.New(strings.NewReader(input), StatusStart, StatusStop)
	block, ok := f.Next()
	if !ok {
		t.Fatal("expected one block")
	}

	status := Status(block)
	if status.Version != "2.0.10" {
		t.Errorf("version = %q, want 2.0.10", status.Version)
	}
	if status.RouterID != "1.2.3.4" {
		t.Errorf("router_id = %q, want 1.2.3.4", status.RouterID)
	}
	if status.CurrentServer != "2024-01-01 00:00:00" {
		t.Errorf("current_server = %q", status.CurrentServer)
	}
	if status.Message != "Daemon is up and running" {
		t.Errorf("message = %q", status.Message)
	}
}

func TestStatusUnknownLinesIgnored(t *testing.T) {
	status := Status(framer.Block{"bogus line", "0013 done"})
	if status.Message != "done" {
		t.Errorf("message = %q, want done", status.Message)
	}
	if status.Version != "" {
		t.Errorf("expected empty version default, got %q", status.Version)
	}
}
