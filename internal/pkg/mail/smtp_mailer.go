package mail

import (
	"context"
	"fmt"
	"html"
	"net/smtp"
	"strings"

	"github.com/gofiber/fiber/v2/log"

	"github.com/ManuelReschke/CiteCheck/internal/pkg/config"
	"github.com/ManuelReschke/CiteCheck/internal/pkg/verification"
)

type sendFunc func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

// SMTPSender delivers verification codes and links by email.
type SMTPSender struct {
	cfg  config.MailConfig
	send sendFunc
}

func NewSMTPSender(cfg config.MailConfig) *SMTPSender {
	if cfg.Sender == "" {
		cfg.Sender = "no-reply@localhost"
		log.Warnf("[Mail] SMTP_SENDER not set, using default sender: %s", cfg.Sender)
	}
	return &SMTPSender{cfg: cfg, send: smtp.SendMail}
}

func (s *SMTPSender) SendVerificationMessage(ctx context.Context, email string, msg verification.Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	subject, body := renderVerification(msg)
	return s.SendMail(email, subject, body)
}

// SendMail sends a single HTML message.
func (s *SMTPSender) SendMail(to, subject, body string) error {
	if s.cfg.Host == "" {
		return fmt.Errorf("smtp host is not configured")
	}
	var auth smtp.Auth
	if s.cfg.Username != "" && s.cfg.Password != "" {
		auth = smtp.PlainAuth("", s.cfg.Username, s.cfg.Password, s.cfg.Host)
	}
	addr := fmt.Sprintf("%s:%s", s.cfg.Host, s.cfg.Port)

	raw := []byte(
		fmt.Sprintf("From: %s\r\nTo: %s\r\nSubject: %s\r\n", s.cfg.Sender, to, subject) +
			"MIME-Version: 1.0\r\n" +
			"Content-Type: text/html; charset=UTF-8\r\n\r\n" +
			body,
	)

	if err := s.send(addr, auth, s.cfg.Sender, []string{to}, raw); err != nil {
		log.Errorf("[Mail] SMTP send to %s failed: %v", to, err)
		return err
	}
	log.Infof("[Mail] Verification email sent to %s via %s", to, addr)
	return nil
}

func renderVerification(msg verification.Message) (string, string) {
	var b strings.Builder
	b.WriteString("<p>Confirm your CiteCheck email address.</p>")
	if msg.Code != "" {
		fmt.Fprintf(&b, "<p>Your verification code is <strong>%s</strong>.</p>", html.EscapeString(msg.Code))
	}
	if msg.Link != "" {
		fmt.Fprintf(&b, `<p><a href="%s">Verify my email</a></p>`, html.EscapeString(msg.Link))
	}
	if !msg.ExpiresAt.IsZero() {
		fmt.Fprintf(&b, "<p>This expires at %s.</p>", msg.ExpiresAt.UTC().Format("2006-01-02 15:04 MST"))
	}
	return "Verify your email", b.String()
}
