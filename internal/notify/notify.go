// Package notify delivers billing emails to tenants.
//
// Send failures are non-fatal to the reconciliation pass: callers log and
// continue, relying on the aggregate's own markers to avoid duplicate
// sends on retry.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"net/smtp"
	"sync"
)

// Notifier sends one HTML email.
type Notifier interface {
	Send(ctx context.Context, to, subject, htmlBody string) error
}

// SMTPConfig configures the SMTP notifier.
type SMTPConfig struct {
	Host     string
	Port     string
	Username string
	Password string
	Sender   string
}

// SMTPNotifier delivers mail over SMTP.
type SMTPNotifier struct {
	cfg SMTPConfig
}

// NewSMTPNotifier creates an SMTP-backed notifier.
func NewSMTPNotifier(cfg SMTPConfig) *SMTPNotifier {
	if cfg.Sender == "" {
		cfg.Sender = "no-reply@localhost"
	}
	return &SMTPNotifier{cfg: cfg}
}

func (n *SMTPNotifier) Send(ctx context.Context, to, subject, htmlBody string) error {
	var auth smtp.Auth
	if n.cfg.Username != "" && n.cfg.Password != "" {
		auth = smtp.PlainAuth("", n.cfg.Username, n.cfg.Password, n.cfg.Host)
	}

	addr := n.cfg.Host + ":" + n.cfg.Port
	msg := []byte(
		fmt.Sprintf("From: %s\r\nTo: %s\r\nSubject: %s\r\n", n.cfg.Sender, to, subject) +
			"MIME-Version: 1.0\r\n" +
			"Content-Type: text/html; charset=UTF-8\r\n\r\n" +
			htmlBody,
	)

	if err := smtp.SendMail(addr, auth, n.cfg.Sender, []string{to}, msg); err != nil {
		return fmt.Errorf("smtp send to %s: %w", to, err)
	}
	return nil
}

// LogNotifier logs instead of sending; the default when SMTP is not
// configured (development runs).
type LogNotifier struct {
	Logger *slog.Logger
}

func (n *LogNotifier) Send(ctx context.Context, to, subject, htmlBody string) error {
	n.Logger.Info("notification (smtp not configured)", "to", to, "subject", subject)
	return nil
}

// Sent records one captured notification.
type Sent struct {
	To      string
	Subject string
	Body    string
}

// MemoryNotifier captures notifications for tests.
type MemoryNotifier struct {
	mu   sync.Mutex
	sent []Sent

	// FailWith, when set, makes Send return it — tests the non-fatal
	// handling of notification failures.
	FailWith error
}

func (n *MemoryNotifier) Send(ctx context.Context, to, subject, htmlBody string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.FailWith != nil {
		return n.FailWith
	}
	n.sent = append(n.sent, Sent{To: to, Subject: subject, Body: htmlBody})
	return nil
}

// All returns a copy of everything captured so far.
func (n *MemoryNotifier) All() []Sent {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]Sent(nil), n.sent...)
}

var (
	_ Notifier = (*SMTPNotifier)(nil)
	_ Notifier = (*LogNotifier)(nil)
	_ Notifier = (*MemoryNotifier)(nil)
)
