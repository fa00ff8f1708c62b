package ratelimit

import (
	"net/http/httptest"
	"testing"
	"time"
)

func TestAllowBlocksAfterLimit(t *testing.T) {
	l := New(Config{Requests: 2, Window: time.Minute})

	if !l.Allow("k") {
		t.Fatal("expected first request allowed")
	}
	if !l.Allow("k") {
		t.Fatal("expected second request allowed")
	}
	if l.Allow("k") {
		t.Fatal("expected third request denied")
	}
}

func TestAllowPerKeyIsolation(t *testing.T) {
	l := New(Config{Requests: 1, Window: time.Minute})

	if !l.Allow("a") {
		t.Fatal("expected key a allowed")
	}
	if !l.Allow("b") {
		t.Fatal("expected key b allowed")
	}
	if l.Allow("a") {
		t.Fatal("expected key a denied on second request")
	}
	if l.Allow("b") {
		t.Fatal("expected key b denied on second request")
	}
}

func TestAllowWindowReset(t *testing.T) {
	l := New(Config{Requests: 1, Window: 10 * time.Millisecond})

	if !l.Allow("k") {
		t.Fatal("expected first request allowed")
	}
	if l.Allow("k") {
		t.Fatal("expected second request denied within window")
	}

	time.Sleep(15 * time.Millisecond)

	if !l.Allow("k") {
		t.Fatal("expected request allowed after window elapsed")
	}
}

func TestClientKeyPrefersForwardedHeader(t *testing.T) {
	r := httptest.NewRequest("GET", "/status", nil)
	r.RemoteAddr = "10.0.0.1:1234"
	r.Header.Set("Forwarded", "for=192.0.2.1")

	if got := ClientKey(r); got != "for=192.0.2.1" {
		t.Fatalf("expected forwarded header key, got %q", got)
	}
}

func TestClientKeyFallsBackToRemoteAddr(t *testing.T) {
	r := httptest.NewRequest("GET", "/status", nil)
	r.RemoteAddr = "10.0.0.1:1234"

	if got := ClientKey(r); got != "10.0.0.1:1234" {
		t.Fatalf("expected remote addr key, got %q", got)
	}
}
