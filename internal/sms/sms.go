package sms

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"

	"github.com/smukkama/welfare-notifier/pkg/config"
)

// ErrInvalidPhone is returned for numbers that cannot be a Korean mobile number
var ErrInvalidPhone = errors.New("invalid phone number")

// ErrNotConfigured is the failure reported for every message when no gateway
// is configured and dry run is off.
var ErrNotConfigured = errors.New("SMS gateway not configured, message not sent")

// Transport delivers one text message to one phone number. Sending the same
// message twice is acceptable, so callers may retry freely.
type Transport interface {
	SendOne(ctx context.Context, phoneNumber, text string) (bool, error)
}

// NewTransport returns the HTTP gateway transport, or a log-only transport
// when no gateway is configured.
func NewTransport(cfg config.SMSConfig, logger *zap.Logger) Transport {
	if cfg.GatewayURL == "" || cfg.APIKey == "" {
		logger.Warn("SMS gateway not configured, messages will be logged only", zap.Bool("dry_run", cfg.DryRun))
		return &LogTransport{logger: logger, dryRun: cfg.DryRun}
	}
	return NewGatewayTransport(cfg, logger)
}

// NormalizePhone strips separators and checks the result looks like a
// mobile number (01X followed by 7 or 8 digits).
func NormalizePhone(raw string) (string, error) {
	var b strings.Builder
	for _, r := range raw {
		switch {
		case unicode.IsDigit(r):
			b.WriteRune(r)
		case r == '-' || r == ' ' || r == '.':
		default:
			return "", fmt.Errorf("%w: %q", ErrInvalidPhone, raw)
		}
	}
	phone := b.String()
	if !strings.HasPrefix(phone, "01") || len(phone) < 10 || len(phone) > 11 {
		return "", fmt.Errorf("%w: %q", ErrInvalidPhone, raw)
	}
	return phone, nil
}

type gatewayRequest struct {
	To   string `json:"to"`
	From string `json:"from"`
	Text string `json:"text"`
}

type gatewayResponse struct {
	Status    string `json:"status"`
	MessageID string `json:"message_id"`
	Error     string `json:"error"`
}

// GatewayTransport posts messages to an HTTP SMS gateway
type GatewayTransport struct {
	http   *resty.Client
	sender string
	logger *zap.Logger
}

// NewGatewayTransport creates a gateway transport
func NewGatewayTransport(cfg config.SMSConfig, logger *zap.Logger) *GatewayTransport {
	client := resty.New().
		SetBaseURL(cfg.GatewayURL).
		SetTimeout(cfg.Timeout).
		SetRetryCount(0).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json").
		SetHeader("Authorization", "Bearer "+cfg.APIKey)

	return &GatewayTransport{http: client, sender: cfg.Sender, logger: logger}
}

// SendOne submits one message. delivered is true once the gateway accepted it.
func (g *GatewayTransport) SendOne(ctx context.Context, phoneNumber, text string) (bool, error) {
	phone, err := NormalizePhone(phoneNumber)
	if err != nil {
		return false, err
	}

	var result gatewayResponse
	resp, err := g.http.R().
		SetContext(ctx).
		SetBody(gatewayRequest{To: phone, From: g.sender, Text: text}).
		SetResult(&result).
		SetError(&result).
		Post("/messages")
	if err != nil {
		return false, fmt.Errorf("SMS gateway request failed: %w", err)
	}
	if resp.IsError() {
		return false, fmt.Errorf("SMS gateway returned status %d: %s", resp.StatusCode(), result.Error)
	}

	switch result.Status {
	case "accepted", "queued", "sent":
		g.logger.Debug("SMS accepted",
			zap.String("message_id", result.MessageID),
			zap.String("phone", maskPhone(phone)),
		)
		return true, nil
	default:
		return false, fmt.Errorf("SMS gateway rejected message: status=%q error=%q", result.Status, result.Error)
	}
}

// LogTransport only logs messages. Used when no gateway is configured.
// Messages count as failed with ErrNotConfigured unless dryRun is set.
type LogTransport struct {
	logger *zap.Logger
	dryRun bool
}

// SendOne logs the message
func (l *LogTransport) SendOne(_ context.Context, phoneNumber, text string) (bool, error) {
	phone, err := NormalizePhone(phoneNumber)
	if err != nil {
		return false, err
	}
	l.logger.Info("SMS (not sent, gateway not configured)",
		zap.String("phone", maskPhone(phone)),
		zap.String("text", text),
		zap.Bool("dry_run", l.dryRun),
	)
	if !l.dryRun {
		return false, ErrNotConfigured
	}
	return true, nil
}

// maskPhone hides the middle digits for logs
func maskPhone(phone string) string {
	if len(phone) < 8 {
		return phone
	}
	return phone[:3] + strings.Repeat("*", len(phone)-7) + phone[len(phone)-4:]
}
