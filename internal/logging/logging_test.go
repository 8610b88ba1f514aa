package logging

import (
	"context"
	"io"
	"log/slog"
	"testing"
)

func TestNew_DefaultLevel(t *testing.T) {
	logger := New("", "text")
	if logger == nil {
		t.Fatal("expected non-nil logger")
	}
}

func TestNew_DebugLevel(t *testing.T) {
	logger := New("debug", "text")
	if !logger.Enabled(context.Background(), slog.LevelDebug) {
		t.Error("expected debug level to be enabled")
	}
}

func TestNew_ErrorLevel(t *testing.T) {
	logger := New("error", "json")
	if logger.Enabled(context.Background(), slog.LevelInfo) {
		t.Error("expected info level to be disabled at error level")
	}
}

func TestDeliveryID(t *testing.T) {
	ctx := context.Background()

	if id := DeliveryID(ctx); id != "" {
		t.Errorf("expected empty delivery ID, got %q", id)
	}

	ctx = WithDeliveryID(ctx, "dlv_123")
	if id := DeliveryID(ctx); id != "dlv_123" {
		t.Errorf("expected dlv_123, got %q", id)
	}
}

func TestL_FallsBackToDefault(t *testing.T) {
	if L(context.Background()) == nil {
		t.Fatal("expected a logger even without one in context")
	}
}

func TestL_UsesContextLoggerWithDeliveryID(t *testing.T) {
	base := slog.New(slog.NewTextHandler(io.Discard, nil))
	ctx := WithLogger(context.Background(), base)
	ctx = WithDeliveryID(ctx, "dlv_123")

	if L(ctx) == nil {
		t.Fatal("expected logger from context")
	}
	if FromContext(ctx) != base {
		t.Error("expected the logger stored in context")
	}
}
