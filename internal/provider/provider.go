package provider

import (
	"context"
	"fmt"

	"github.com/baechuer/notification-fabric/internal/config"
)

// Message is the channel-agnostic payload handed to a provider. Email
// providers read Subject/BodyHTML/BodyText; push providers read Title/Body.
type Message struct {
	To       string // email address or device token
	Subject  string
	BodyHTML string
	BodyText string
	Title    string
	Body     string
	Image    string
	Data     map[string]any
	Priority int // 0 is highest
}

// SendResult normalizes every provider outcome. Providers never return Go
// errors and never panic; all failure modes end up in Error/Transient.
type SendResult struct {
	OK        bool
	MessageID string
	Provider  string
	Transient bool // whether the failure is worth retrying
	Error     string
}

// Provider is a single outbound transport.
type Provider interface {
	Send(ctx context.Context, msg *Message) SendResult
	Name() string
}

// NewEmailProvider builds the configured email transport.
func NewEmailProvider(cfg *config.Config) (Provider, error) {
	switch cfg.EmailProvider {
	case "sendgrid":
		return NewSendGridProvider(cfg)
	case "smtp":
		return NewSMTPProvider(cfg)
	default:
		return nil, fmt.Errorf("unsupported email provider: %s", cfg.EmailProvider)
	}
}

// NewPushProvider builds the push transport.
func NewPushProvider(cfg *config.Config) (Provider, error) {
	return NewFCMProvider(cfg)
}

func failure(name, msg string, transient bool) SendResult {
	return SendResult{Provider: name, Error: msg, Transient: transient}
}
