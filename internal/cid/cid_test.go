package cid

import (
	"context"
	"testing"
)

func TestRoundTrip(t *testing.T) {
	ctx := WithCID(context.Background(), "abc123")
	if got := CIDFromContext(ctx); got != "abc123" {
		t.Fatalf("CIDFromContext = %q, want abc123", got)
	}
}

func TestMissingCID(t *testing.T) {
	if got := CIDFromContext(context.Background()); got != "" {
		t.Fatalf("expected empty cid, got %q", got)
	}
	if got := CIDFromContext(nil); got != "" {
		t.Fatalf("nil context should yield empty cid, got %q", got)
	}
}

func TestAddHeaderFromContext(t *testing.T) {
	headers := map[string][]string{}
	AddHeaderFromContext(headers, WithCID(context.Background(), "abc123"))
	if got := headers[HeaderName]; len(got) != 1 || got[0] != "abc123" {
		t.Fatalf("header = %v", got)
	}

	// No cid in context leaves the headers untouched.
	empty := map[string][]string{}
	AddHeaderFromContext(empty, context.Background())
	if len(empty) != 0 {
		t.Fatalf("headers modified without a cid: %v", empty)
	}

	// A nil map is tolerated.
	AddHeaderFromContext(nil, WithCID(context.Background(), "abc123"))
}
