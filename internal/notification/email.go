package notification

import (
	"fmt"
	"net/smtp"
	"time"

	"go.uber.org/zap"

	"github.com/smukkama/welfare-notifier/pkg/config"
)

// OpsNotifier alerts operators about delivery problems
type OpsNotifier interface {
	NotifyOps(subject, body string) error
}

// EmailNotifier sends operator emails over SMTP
type EmailNotifier struct {
	config *config.SMTPConfig
	logger *zap.Logger
	send   func(addr string, a smtp.Auth, from string, to []string, msg []byte) error
}

// NewEmailNotifier creates a new email notifier
func NewEmailNotifier(cfg *config.SMTPConfig, logger *zap.Logger) *EmailNotifier {
	return &EmailNotifier{config: cfg, logger: logger, send: smtp.SendMail}
}

// NotifyOps sends an email to the configured operator address
func (e *EmailNotifier) NotifyOps(subject, body string) error {
	// Skip sending if SMTP is not configured
	if e.config.Username == "" || e.config.Password == "" {
		e.logger.Warn("SMTP not configured, skipping ops email",
			zap.String("subject", subject),
			zap.String("body", body),
		)
		return nil
	}

	message := fmt.Sprintf("From: %s\r\n", e.config.From)
	message += fmt.Sprintf("To: %s\r\n", e.config.To)
	message += fmt.Sprintf("Subject: %s\r\n", subject)
	message += fmt.Sprintf("Date: %s\r\n", time.Now().Format(time.RFC1123Z))
	message += "Content-Type: text/plain; charset=UTF-8\r\n"
	message += "\r\n"
	message += body

	auth := smtp.PlainAuth("", e.config.Username, e.config.Password, e.config.Host)
	addr := fmt.Sprintf("%s:%d", e.config.Host, e.config.Port)
	if err := e.send(addr, auth, e.config.From, []string{e.config.To}, []byte(message)); err != nil {
		return fmt.Errorf("failed to send email: %w", err)
	}

	e.logger.Info("Ops email sent", zap.String("subject", subject))
	return nil
}
