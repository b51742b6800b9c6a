package services

import (
	"context"
	"fmt"
	"net/smtp"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/example/shopmart/internal/logger"
	"github.com/example/shopmart/internal/models"
)

// Mailer delivers plain-text email.
type Mailer interface {
	Send(ctx context.Context, to, subject, body string) error
}

// SMTPConfig holds SMTP relay settings.
type SMTPConfig struct {
	Host     string
	Port     string
	User     string
	Pass     string
	From     string
	FromName string
}

// SMTPMailer sends mail through an SMTP relay with PLAIN auth.
type SMTPMailer struct {
	cfg  SMTPConfig
	send func(addr string, a smtp.Auth, from string, to []string, msg []byte) error
}

func NewSMTPMailer(cfg SMTPConfig) *SMTPMailer {
	return &SMTPMailer{cfg: cfg, send: smtp.SendMail}
}

func (m *SMTPMailer) Send(ctx context.Context, to, subject, body string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if m.cfg.Host == "" || m.cfg.Port == "" || m.cfg.From == "" {
		return fmt.Errorf("smtp not configured: host=%q port=%q from=%q", m.cfg.Host, m.cfg.Port, m.cfg.From)
	}

	msg := []byte(fmt.Sprintf("From: %s <%s>\r\n"+
		"To: %s\r\n"+
		"Subject: %s\r\n"+
		"MIME-Version: 1.0\r\n"+
		"Content-Type: text/plain; charset=UTF-8\r\n\r\n"+
		"%s",
		m.cfg.FromName, m.cfg.From, to, subject, body))

	var auth smtp.Auth
	if m.cfg.User != "" {
		auth = smtp.PlainAuth("", m.cfg.User, m.cfg.Pass, m.cfg.Host)
	}

	if err := m.send(m.cfg.Host+":"+m.cfg.Port, auth, m.cfg.From, []string{to}, msg); err != nil {
		return fmt.Errorf("failed to send email: %w", err)
	}
	return nil
}

// LogMailer writes messages to the log instead of sending them. Used when no
// SMTP relay is configured.
type LogMailer struct {
	logger *zap.Logger
}

func NewLogMailer(logger *zap.Logger) *LogMailer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogMailer{logger: logger}
}

func (m *LogMailer) Send(_ context.Context, to, subject, body string) error {
	m.logger.Info("mail (not sent)",
		zap.String("to", logger.MaskEmail(to)),
		zap.String("subject", subject),
		zap.String("body", body),
	)
	return nil
}

// OTPMessage renders the subject and body for a code of the given purpose.
func OTPMessage(purpose models.OTPPurpose, code string, ttl time.Duration) (string, string) {
	var subject, intro string
	switch purpose {
	case models.OTPPurposeLogin:
		subject, intro = "Your ShopMart login code", "Use this code to finish signing in"
	case models.OTPPurposePasswordReset:
		subject, intro = "Reset your ShopMart password", "Use this code to reset your password"
	case models.OTPPurposeResetToken:
		subject, intro = "Your ShopMart reset token", "Use this token to choose a new password"
	default:
		subject, intro = "Verify your ShopMart email", "Use this code to verify your email address"
	}

	minutes := int(ttl.Round(time.Minute) / time.Minute)
	if minutes < 1 {
		minutes = 1
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%s:\n\n    %s\n\n", intro, code)
	fmt.Fprintf(&b, "The code expires in %d minute(s) and can be used once.\n", minutes)
	b.WriteString("If you did not request it, you can ignore this email.\n")
	return subject, b.String()
}
