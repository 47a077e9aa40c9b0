// Package notification sends transactional email: license expiry
// reminders to clients and password-reset codes to operators.
package notification

import (
	"context"
	"fmt"
	"log/slog"
	"net/smtp"
	"strings"
	"time"

	"authia/internal/config"
)

// Sender delivers a single message. Split out so tests can swap the SMTP
// transport for a recorder.
type Sender interface {
	Send(ctx context.Context, to, subject, body string) error
}

// Mailer builds and sends the panel's messages through a Sender
type Mailer struct {
	sender Sender
	logger *slog.Logger
}

// NewMailer creates a Mailer over the given transport
func NewMailer(sender Sender, logger *slog.Logger) *Mailer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Mailer{sender: sender, logger: logger}
}

// SendExpiryReminder emails a client that their license has lapsed.
// expiryDate is the formatted date or empty when unknown.
func (m *Mailer) SendExpiryReminder(ctx context.Context, to, domain, clientName, expiryDate string) error {
	name := clientName
	if name == "" {
		name = "there"
	}
	when := "recently"
	if expiryDate != "" {
		when = "on " + expiryDate
	}

	subject := fmt.Sprintf("License expired for %s", domain)
	body := fmt.Sprintf(
		"Hello %s,\r\n\r\n"+
			"The license for %s expired %s. The domain will stop validating "+
			"until the license is renewed.\r\n\r\n"+
			"Please get in touch to renew your license.\r\n",
		name, domain, when)

	if err := m.sender.Send(ctx, to, subject, body); err != nil {
		m.logger.Error("expiry reminder delivery failed",
			slog.String("domain", domain),
			slog.String("error", err.Error()))
		return err
	}
	m.logger.Info("expiry reminder sent", slog.String("domain", domain))
	return nil
}

// SendResetCode emails a one-time password-reset code to an operator
func (m *Mailer) SendResetCode(ctx context.Context, to, code string, validFor time.Duration) error {
	subject := "Your password reset code"
	body := fmt.Sprintf(
		"A password reset was requested for your account.\r\n\r\n"+
			"Your verification code is: %s\r\n\r\n"+
			"The code expires in %d minutes. If you did not request a reset, "+
			"you can ignore this message.\r\n",
		code, int(validFor.Minutes()))

	if err := m.sender.Send(ctx, to, subject, body); err != nil {
		m.logger.Error("reset code delivery failed", slog.String("error", err.Error()))
		return err
	}
	m.logger.Info("reset code sent")
	return nil
}

// SMTPSender sends mail over authenticated SMTP with STARTTLS
type SMTPSender struct {
	cfg config.SMTPConfig
}

// NewSMTPSender creates a Sender from the SMTP configuration
func NewSMTPSender(cfg config.SMTPConfig) *SMTPSender {
	return &SMTPSender{cfg: cfg}
}

// Send delivers one message. The context deadline is not honored
// mid-connection since net/smtp has no context support, but the server's
// write timeout bounds the overall request.
func (s *SMTPSender) Send(_ context.Context, to, subject, body string) error {
	if s.cfg.Host == "" {
		return fmt.Errorf("smtp host not configured")
	}

	from := s.cfg.From
	if from == "" {
		from = s.cfg.Username
	}

	var msg strings.Builder
	fmt.Fprintf(&msg, "From: %s <%s>\r\n", s.cfg.FromName, from)
	fmt.Fprintf(&msg, "To: %s\r\n", to)
	fmt.Fprintf(&msg, "Subject: %s\r\n", subject)
	fmt.Fprintf(&msg, "Date: %s\r\n", time.Now().UTC().Format(time.RFC1123Z))
	msg.WriteString("MIME-Version: 1.0\r\n")
	msg.WriteString("Content-Type: text/plain; charset=utf-8\r\n")
	msg.WriteString("\r\n")
	msg.WriteString(body)

	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
	var auth smtp.Auth
	if s.cfg.Username != "" {
		auth = smtp.PlainAuth("", s.cfg.Username, s.cfg.Password, s.cfg.Host)
	}

	if err := smtp.SendMail(addr, auth, from, []string{to}, []byte(msg.String())); err != nil {
		return fmt.Errorf("smtp send to %s failed: %w", s.cfg.Host, err)
	}
	return nil
}
