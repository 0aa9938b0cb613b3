// Package mailer renders and delivers the platform's transactional emails.
package mailer

import (
	"context"
	"fmt"
	"net/smtp"

	"github.com/charmbracelet/log"

	"github.com/FaydArshan94/Prodexa-sub000/shared/config"
)

type Email struct {
	To      string
	Subject string
	HTML    string
}

// Mailer delivers one email. A returned error means it was not sent.
type Mailer interface {
	Send(ctx context.Context, email Email) error
}

// New returns an SMTP mailer when cfg carries SMTP settings, and a LogMailer
// otherwise.
func New(cfg *config.Config, logger *log.Logger) Mailer {
	if !cfg.SMTPEnabled() {
		logger.Warn("SMTP is not configured, emails will only be logged")
		return NewLogMailer(logger)
	}
	return NewSMTPMailer(cfg.SMTP)
}

// emailSender abstracts the sending mechanism for testing.
type emailSender interface {
	send(from, to, subject, htmlBody string) error
}

type SMTPMailer struct {
	from   string
	sender emailSender
}

func NewSMTPMailer(cfg config.SMTP) *SMTPMailer {
	return &SMTPMailer{
		from:   cfg.From,
		sender: &smtpSender{config: cfg},
	}
}

func (m *SMTPMailer) Send(ctx context.Context, email Email) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := m.sender.send(m.from, email.To, email.Subject, email.HTML); err != nil {
		return fmt.Errorf("send to %s: %w", email.To, err)
	}
	return nil
}

type smtpSender struct {
	config config.SMTP
}

func (s *smtpSender) send(from, to, subject, htmlBody string) error {
	addr := s.config.Host + ":" + s.config.Port

	msg := "From: " + from + "\r\n" +
		"To: " + to + "\r\n" +
		"Subject: " + subject + "\r\n" +
		"MIME-Version: 1.0\r\n" +
		"Content-Type: text/html; charset=\"UTF-8\"\r\n" +
		"\r\n" + htmlBody

	var auth smtp.Auth
	if s.config.User != "" {
		auth = smtp.PlainAuth("", s.config.User, s.config.Pass, s.config.Host)
	}

	return smtp.SendMail(addr, auth, from, []string{to}, []byte(msg))
}

// LogMailer writes emails to the log instead of sending them.
type LogMailer struct {
	logger *log.Logger
}

func NewLogMailer(logger *log.Logger) *LogMailer {
	return &LogMailer{logger: logger}
}

func (m *LogMailer) Send(_ context.Context, email Email) error {
	m.logger.Info("email not sent, SMTP disabled", "to", email.To, "subject", email.Subject)
	return nil
}
