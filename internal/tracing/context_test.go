package tracing

import (
	"context"
	"testing"
)

func TestNewTraceID(t *testing.T) {
	id1 := NewTraceID()
	id2 := NewTraceID()

	if id1 == "" {
		t.Error("NewTraceID returned empty string")
	}

	if id1 == id2 {
		t.Error("NewTraceID returned duplicate IDs")
	}
}

func TestWithTraceID(t *testing.T) {
	ctx := context.Background()
	traceID := "test-trace-id"

	ctx = WithTraceID(ctx, traceID)

	if got := GetTraceID(ctx); got != traceID {
		t.Errorf("Expected trace ID %s, got %s", traceID, got)
	}
}

func TestWithSessionID(t *testing.T) {
	ctx := context.Background()
	sessionID := "test-session"

	ctx = WithSessionID(ctx, sessionID)

	if got := GetSessionID(ctx); got != sessionID {
		t.Errorf("Expected session id %s, got %s", sessionID, got)
	}
}

func TestWithChannel(t *testing.T) {
	ctx := context.Background()

	ctx = WithChannel(ctx, "terminal")

	if got := GetChannel(ctx); got != "terminal" {
		t.Errorf("Expected channel terminal, got %s", got)
	}
}

func TestGettersOnEmptyContext(t *testing.T) {
	ctx := context.Background()

	if GetTraceID(ctx) != "" {
		t.Error("Expected empty trace ID")
	}
	if GetSessionID(ctx) != "" {
		t.Error("Expected empty session id")
	}
	if GetChannel(ctx) != "" {
		t.Error("Expected empty channel")
	}
}

func TestFromContext(t *testing.T) {
	ctx := context.Background()
	ctx = WithTraceID(ctx, "trace-123")
	ctx = WithChannel(ctx, "whatsapp")

	tc := FromContext(ctx)

	if tc.TraceID != "trace-123" {
		t.Errorf("Expected trace ID trace-123, got %s", tc.TraceID)
	}
	if tc.Channel != "whatsapp" {
		t.Errorf("Expected channel whatsapp, got %s", tc.Channel)
	}
	if tc.SessionID != "" {
		t.Errorf("Expected empty session id, got %s", tc.SessionID)
	}
}

func TestNewContext(t *testing.T) {
	tc := &TraceContext{
		TraceID:   "trace-123",
		SessionID: "session-456",
	}

	ctx := NewContext(context.Background(), tc)

	if GetTraceID(ctx) != "trace-123" {
		t.Error("Trace ID not applied")
	}
	if GetSessionID(ctx) != "session-456" {
		t.Error("Session id not applied")
	}
	if GetChannel(ctx) != "" {
		t.Error("Channel should be unset")
	}
}

func TestNewRequestContext(t *testing.T) {
	ctx := NewRequestContext(context.Background())

	if GetTraceID(ctx) == "" {
		t.Error("NewRequestContext did not set a trace ID")
	}
}
