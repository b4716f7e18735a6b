package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/spec-kit/echannelling-auth/internal/config"
	"github.com/spec-kit/echannelling-auth/internal/events"
)

const outboundTimeout = 10 * time.Second

// EmailMessage is a single outbound email.
type EmailMessage struct {
	To      string
	Subject string
	Text    string
}

// Mailer delivers email.
type Mailer interface {
	Send(ctx context.Context, msg EmailMessage) error
}

// HTTPMailer posts messages to a transactional email API.
type HTTPMailer struct {
	apiURL string
	apiKey string
	from   string
}

// NewHTTPMailer builds a mailer for a JSON send endpoint.
func NewHTTPMailer(apiURL, apiKey, from string) *HTTPMailer {
	return &HTTPMailer{apiURL: apiURL, apiKey: apiKey, from: from}
}

// Send posts msg and fails on any non-2xx response.
func (m *HTTPMailer) Send(_ context.Context, msg EmailMessage) error {
	agent := fiber.Post(m.apiURL).
		Set(fiber.HeaderAuthorization, "Bearer "+m.apiKey).
		Timeout(outboundTimeout).
		JSON(fiber.Map{
			"from":    fiber.Map{"email": m.from},
			"to":      []fiber.Map{{"email": msg.To}},
			"subject": msg.Subject,
			"text":    msg.Text,
		})
	code, body, errs := agent.Bytes()
	if len(errs) > 0 {
		return fmt.Errorf("send email: %w", errs[0])
	}
	if code < 200 || code >= 300 {
		return fmt.Errorf("mail api returned status %d: %s", code, string(body))
	}
	return nil
}

// LogMailer only records that a message would have been sent.
type LogMailer struct {
	logger *zap.Logger
}

// NewLogMailer builds a mailer for environments without an email API.
func NewLogMailer(logger *zap.Logger) *LogMailer {
	return &LogMailer{logger: logger}
}

// Send logs the recipient and subject. Message bodies may hold codes and are not logged.
func (m *LogMailer) Send(_ context.Context, msg EmailMessage) error {
	m.logger.Info("email suppressed; no mail api configured",
		zap.String("to", msg.To),
		zap.String("subject", msg.Subject))
	return nil
}

// NotificationService turns domain events into emails and webhook calls.
type NotificationService struct {
	mailer Mailer
	logger *zap.Logger
	cfg    config.NotificationConfig
}

// NewNotificationService creates the service.
func NewNotificationService(mailer Mailer, logger *zap.Logger, cfg config.NotificationConfig) *NotificationService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &NotificationService{
		mailer: mailer,
		logger: logger,
		cfg:    cfg,
	}
}

// Handles lists the event types that produce notifications.
func (n *NotificationService) Handles() []events.EventType {
	return []events.EventType{events.EventOtpIssued, events.EventPasswordChanged, events.EventUserCreated}
}

// Handle delivers the notification for event. Unknown types are ignored.
func (n *NotificationService) Handle(ctx context.Context, event events.Event) error {
	switch event.Type {
	case events.EventOtpIssued:
		return n.handleOtpIssued(ctx, event)
	case events.EventPasswordChanged:
		return n.handlePasswordChanged(ctx, event)
	case events.EventUserCreated:
		return n.handleUserCreated(ctx, event)
	}
	return nil
}

func (n *NotificationService) handleOtpIssued(ctx context.Context, event events.Event) error {
	payload, ok := event.Payload.(events.OtpIssuedPayload)
	if !ok {
		return fmt.Errorf("unexpected payload %T for %s", event.Payload, event.Type)
	}
	minutes := int(time.Until(payload.ExpiresAt).Round(time.Minute).Minutes())
	return n.sendEmail(ctx, EmailMessage{
		To:      payload.Email,
		Subject: "Your eChannelling password reset code",
		Text:    fmt.Sprintf("Your verification code is %s. It expires in %d minutes.", payload.Code, minutes),
	})
}

func (n *NotificationService) handlePasswordChanged(ctx context.Context, event events.Event) error {
	payload, ok := event.Payload.(events.PasswordChangedPayload)
	if !ok {
		return fmt.Errorf("unexpected payload %T for %s", event.Payload, event.Type)
	}
	n.sendWebhook(event)
	return n.sendEmail(ctx, EmailMessage{
		To:      payload.Email,
		Subject: "Your eChannelling password was changed",
		Text:    "Your password was changed and all sessions were signed out. Contact support if this was not you.",
	})
}

func (n *NotificationService) handleUserCreated(_ context.Context, event events.Event) error {
	n.sendWebhook(event)
	return nil
}

func (n *NotificationService) sendEmail(ctx context.Context, msg EmailMessage) error {
	if n.mailer == nil || strings.TrimSpace(msg.To) == "" {
		return nil
	}
	if err := n.mailer.Send(ctx, msg); err != nil {
		n.logger.Error("email delivery failed", zap.String("to", msg.To), zap.Error(err))
		return err
	}
	return nil
}

func (n *NotificationService) sendWebhook(event events.Event) {
	if strings.TrimSpace(n.cfg.WebhookURL) == "" {
		return
	}
	code, _, errs := fiber.Post(n.cfg.WebhookURL).Timeout(outboundTimeout).JSON(event).Bytes()
	if len(errs) > 0 || code >= 300 {
		n.logger.Warn("webhook delivery failed",
			zap.String("url", n.cfg.WebhookURL),
			zap.String("event_type", string(event.Type)),
			zap.Int("status", code),
			zap.Errors("errors", errs))
	}
}
