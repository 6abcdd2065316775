package mailer

import (
	"fmt"
	"net/smtp"
	"strings"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"example.com/backstage/services/fulfillment/config"
)

// Sender delivers notification emails
type Sender interface {
	Send(to, subject, body string) error
}

// SMTPSender sends mail through a configured SMTP relay
type SMTPSender struct {
	cfg config.EmailConfig
}

// NewSender returns an SMTP sender when a host is configured, otherwise a
// sender that only logs the message. The logging fallback keeps the
// notification path exercisable in development.
func NewSender(cfg config.EmailConfig) Sender {
	if cfg.SMTPHost == "" {
		log.Warn().Msg("SMTP host not configured, notifications will be logged only")
		return &LogSender{}
	}
	return &SMTPSender{cfg: cfg}
}

// Send delivers one email via SMTP
func (s *SMTPSender) Send(to, subject, body string) error {
	addr := fmt.Sprintf("%s:%d", s.cfg.SMTPHost, s.cfg.SMTPPort)

	var auth smtp.Auth
	if s.cfg.SMTPUser != "" {
		auth = smtp.PlainAuth("", s.cfg.SMTPUser, s.cfg.SMTPPass, s.cfg.SMTPHost)
	}

	var msg strings.Builder
	fmt.Fprintf(&msg, "From: %s\r\n", s.cfg.FromAddress)
	fmt.Fprintf(&msg, "To: %s\r\n", to)
	fmt.Fprintf(&msg, "Subject: %s\r\n", subject)
	msg.WriteString("MIME-Version: 1.0\r\n")
	msg.WriteString("Content-Type: text/plain; charset=utf-8\r\n")
	msg.WriteString("\r\n")
	msg.WriteString(body)

	if err := smtp.SendMail(addr, auth, s.cfg.FromAddress, []string{to}, []byte(msg.String())); err != nil {
		return errors.Wrap(err, "failed to send email")
	}
	return nil
}

// LogSender writes the message to the log instead of sending it
type LogSender struct{}

// Send logs the message at info level
func (s *LogSender) Send(to, subject, body string) error {
	log.Info().
		Str("to", to).
		Str("subject", subject).
		Str("body", body).
		Msg("Email notification (log only)")
	return nil
}
