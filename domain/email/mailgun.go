package email

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/mailgun/mailgun-go/v4"

	"github.com/banterhq/banter/pkg/logger"
)

// Message is one rendered email ready to deliver.
type Message struct {
	To      string
	ToName  string
	Subject string
	HTML    string
	Text    string
}

// Sender delivers one rendered email and returns the provider message id.
type Sender interface {
	Send(ctx context.Context, msg Message) (string, error)
}

// MailgunSender sends emails via the Mailgun API.
// This is a thin wrapper around the Mailgun SDK.
type MailgunSender struct {
	cfg    *Config
	log    *slog.Logger
	client *mailgun.MailgunImpl
}

// NewMailgunSender creates a new Mailgun email sender.
// Returns nil if Mailgun is not configured.
func NewMailgunSender(cfg *Config, log *slog.Logger) *MailgunSender {
	if !cfg.IsConfigured() {
		return nil
	}

	client := mailgun.NewMailgun(cfg.MailgunDomain, cfg.MailgunAPIKey)

	return &MailgunSender{
		cfg:    cfg,
		log:    log.With(logger.Scope("email.mailgun")),
		client: client,
	}
}

// Send sends an email via Mailgun.
func (s *MailgunSender) Send(ctx context.Context, msg Message) (string, error) {
	if err := s.validate(); err != nil {
		return "", fmt.Errorf("email configuration invalid: %w", err)
	}

	// Format recipient with name if provided
	to := msg.To
	if msg.ToName != "" {
		to = fmt.Sprintf("%s <%s>", msg.ToName, msg.To)
	}

	// Format sender with name
	from := fmt.Sprintf("%s <%s>", s.cfg.FromName, s.cfg.FromEmail)

	message := s.client.NewMessage(from, msg.Subject, msg.Text, to)
	if msg.HTML != "" {
		message.SetHtml(msg.HTML)
	}

	s.log.Debug("sending email",
		slog.String("to", msg.To),
		slog.String("subject", msg.Subject))

	// Send with timeout
	sendCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	_, messageID, err := s.client.Send(sendCtx, message)
	if err != nil {
		return "", fmt.Errorf("mailgun send: %w", err)
	}
	return messageID, nil
}

// validate checks that the configuration is valid
func (s *MailgunSender) validate() error {
	if s.cfg.MailgunDomain == "" {
		return fmt.Errorf("MAILGUN_DOMAIN is required")
	}
	if s.cfg.MailgunAPIKey == "" {
		return fmt.Errorf("MAILGUN_API_KEY is required")
	}
	if s.cfg.FromEmail == "" {
		return fmt.Errorf("EMAIL_FROM is required")
	}
	if s.cfg.FromName == "" {
		return fmt.Errorf("EMAIL_FROM_NAME is required")
	}
	return nil
}

// noOpSender logs and succeeds when Mailgun isn't configured, so
// development runs still exercise the full consume path.
type noOpSender struct {
	log *slog.Logger
}

func (s *noOpSender) Send(ctx context.Context, msg Message) (string, error) {
	s.log.Info("email send (no-op)",
		slog.String("to", msg.To),
		slog.String("subject", msg.Subject))
	return "noop-" + msg.To, nil
}
