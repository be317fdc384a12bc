package mail

import (
	"context"
	"errors"
	"fmt"
	"net/smtp"
	"strings"

	"github.com/ManuelReschke/PayFox/internal/pkg/config"
	"github.com/gofiber/fiber/v2/log"
)

// ErrNotConfigured is returned when SMTP_HOST is empty.
var ErrNotConfigured = errors.New("smtp host not configured")

// Sender delivers a rendered message.
type Sender interface {
	Send(ctx context.Context, to, subject, htmlBody string) error
}

// SMTPMailer sends emails via SMTP
type SMTPMailer struct {
	addr   string
	host   string
	auth   smtp.Auth
	sender string
	send   func(addr string, a smtp.Auth, from string, to []string, msg []byte) error
}

func NewSMTPMailer(cfg config.SMTPConfig) *SMTPMailer {
	sender := cfg.Sender
	if sender == "" {
		sender = fmt.Sprintf("no-reply@%s", "localhost")
		log.Warnf("[Mail] SMTP_SENDER not set, using default sender: %s", sender)
	}

	var auth smtp.Auth
	if cfg.Username != "" && cfg.Password != "" {
		auth = smtp.PlainAuth("", cfg.Username, cfg.Password, cfg.Host)
	}

	return &SMTPMailer{
		addr:   fmt.Sprintf("%s:%s", cfg.Host, cfg.Port),
		host:   cfg.Host,
		auth:   auth,
		sender: sender,
		send:   smtp.SendMail,
	}
}

func (m *SMTPMailer) Send(ctx context.Context, to, subject, htmlBody string) error {
	if m.host == "" {
		return ErrNotConfigured
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if strings.ContainsAny(to, "\r\n") || strings.ContainsAny(subject, "\r\n") {
		return fmt.Errorf("invalid header value for recipient %q", to)
	}

	msg := []byte(
		fmt.Sprintf("From: %s\r\nTo: %s\r\nSubject: %s\r\n", m.sender, to, subject) +
			"MIME-Version: 1.0\r\n" +
			"Content-Type: text/html; charset=UTF-8\r\n\r\n" +
			htmlBody,
	)

	err := m.send(m.addr, m.auth, m.sender, []string{to}, msg)
	if err != nil {
		log.Errorf("[Mail] SMTP send error: %v", err)
	} else {
		log.Infof("[Mail] Email sent to %s via %s", to, m.addr)
	}
	return err
}
