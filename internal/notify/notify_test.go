package notify

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
)

func TestMemoryNotifier_Captures(t *testing.T) {
	n := &MemoryNotifier{}
	ctx := context.Background()

	if err := n.Send(ctx, "billing@acme.test", "Action required", "<p>hi</p>"); err != nil {
		t.Fatalf("send: %v", err)
	}

	sent := n.All()
	if len(sent) != 1 {
		t.Fatalf("expected 1 sent, got %d", len(sent))
	}
	if sent[0].To != "billing@acme.test" || sent[0].Subject != "Action required" {
		t.Fatalf("unexpected capture: %+v", sent[0])
	}
}

func TestMemoryNotifier_FailWith(t *testing.T) {
	boom := errors.New("smtp: connection refused")
	n := &MemoryNotifier{FailWith: boom}

	err := n.Send(context.Background(), "a@b.test", "s", "b")
	if !errors.Is(err, boom) {
		t.Fatalf("expected injected error, got %v", err)
	}
	if len(n.All()) != 0 {
		t.Fatal("failed send must not be captured")
	}
}

func TestLogNotifier_NeverFails(t *testing.T) {
	n := &LogNotifier{Logger: slog.New(slog.NewTextHandler(io.Discard, nil))}
	if err := n.Send(context.Background(), "a@b.test", "s", "b"); err != nil {
		t.Fatalf("log notifier returned error: %v", err)
	}
}

func TestNewSMTPNotifier_DefaultSender(t *testing.T) {
	n := NewSMTPNotifier(SMTPConfig{Host: "mail.test", Port: "587"})
	if n.cfg.Sender != "no-reply@localhost" {
		t.Fatalf("expected default sender, got %q", n.cfg.Sender)
	}
}
