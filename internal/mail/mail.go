// Package mail delivers composed digests over SMTP.
package mail

import (
	"context"
	"fmt"
	"log/slog"

	gomail "github.com/wneessen/go-mail"

	"github.com/kalambet/paperfeed/internal/digest"
)

// Sender delivers one digest report. The pipeline only advances state after
// Send returns nil.
type Sender interface {
	Send(ctx context.Context, rep digest.Report) error
}

// Config holds the SMTP connection and addressing settings.
type Config struct {
	Host     string
	Port     int
	Username string
	Password string
	FromName string
	To       []string
}

// SMTPSender sends multipart text+HTML mail. Port 465 uses implicit TLS;
// any other port requires STARTTLS.
type SMTPSender struct {
	cfg    Config
	logger *slog.Logger
}

// NewSMTPSender creates an SMTPSender for the given settings.
func NewSMTPSender(cfg Config) *SMTPSender {
	return &SMTPSender{cfg: cfg, logger: slog.Default().With("component", "mailer")}
}

func buildMessage(cfg Config, rep digest.Report) (*gomail.Msg, error) {
	msg := gomail.NewMsg()
	if err := msg.FromFormat(cfg.FromName, cfg.Username); err != nil {
		return nil, fmt.Errorf("setting sender: %w", err)
	}
	if err := msg.To(cfg.To...); err != nil {
		return nil, fmt.Errorf("setting recipients: %w", err)
	}
	msg.Subject(rep.Subject)
	msg.SetBodyString(gomail.TypeTextPlain, rep.Text)
	msg.AddAlternativeString(gomail.TypeTextHTML, rep.HTML)
	return msg, nil
}

// Send delivers the report to every configured recipient in one message.
func (s *SMTPSender) Send(ctx context.Context, rep digest.Report) error {
	msg, err := buildMessage(s.cfg, rep)
	if err != nil {
		return err
	}

	opts := []gomail.Option{
		gomail.WithPort(s.cfg.Port),
		gomail.WithSMTPAuth(gomail.SMTPAuthPlain),
		gomail.WithUsername(s.cfg.Username),
		gomail.WithPassword(s.cfg.Password),
	}
	if s.cfg.Port == 465 {
		opts = append(opts, gomail.WithSSL())
	} else {
		opts = append(opts, gomail.WithTLSPolicy(gomail.TLSMandatory))
	}

	client, err := gomail.NewClient(s.cfg.Host, opts...)
	if err != nil {
		return fmt.Errorf("creating smtp client: %w", err)
	}

	if err := client.DialAndSendWithContext(ctx, msg); err != nil {
		return fmt.Errorf("sending mail via %s:%d: %w", s.cfg.Host, s.cfg.Port, err)
	}
	s.logger.Info("digest delivered", "subject", rep.Subject, "recipients", len(s.cfg.To))
	return nil
}
