package domain

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	ErrNotFound          = errors.New("delivery not found")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrCacheMiss         = errors.New("cache miss")
)

// Channel is the delivery transport family.
type Channel string

const (
	ChannelEmail Channel = "email"
	ChannelPush  Channel = "push"
)

// DeliveryJob is the payload dequeued from the broker. It is transient;
// only the resulting DeliveryRecord is persisted.
type DeliveryJob struct {
	NotificationID uuid.UUID      `json:"notification_id" validate:"required"`
	UserID         uuid.UUID      `json:"user_id" validate:"required"`
	TemplateID     uuid.UUID      `json:"template_id"`
	TemplateCode   string         `json:"template_code"`
	Variables      map[string]any `json:"variables"`
	Priority       int            `json:"priority"`
	RequestID      string         `json:"request_id"`
	CreatedAt      time.Time      `json:"created_at"`
	Metadata       map[string]any `json:"metadata,omitempty"`
}

// HasTemplate reports whether the job names a template by id or code.
func (j *DeliveryJob) HasTemplate() bool {
	return j.TemplateID != uuid.Nil || j.TemplateCode != ""
}

// DeliveryRecord is one row in deliveries: the persisted lifecycle of a
// single (notification_id, channel) pair.
type DeliveryRecord struct {
	ID                uuid.UUID
	NotificationID    uuid.UUID
	UserID            uuid.UUID
	Channel           Channel
	Address           string
	Subject           string
	BodyHTML          string
	BodyText          string
	Provider          string
	ProviderMessageID string
	Status            Status
	Priority          int
	AttemptCount      int
	MaxAttempts       int
	ErrorCode         string
	ErrorMessage      string
	ExtraData         map[string]any
	CreatedAt         time.Time
	UpdatedAt         time.Time
	SentAt            *time.Time
	DeliveredAt       *time.Time
	FailedAt          *time.Time
}

// Retryable reports whether a failed record may be attempted again.
func (r *DeliveryRecord) Retryable() bool {
	return r.AttemptCount < r.MaxAttempts && r.Status != StatusDelivered && r.Status != StatusBounced
}

// UserPreferenceSnapshot is the cached, non-authoritative view of a user's
// notification preferences.
type UserPreferenceSnapshot struct {
	EmailEnabled bool   `json:"email_enabled"`
	PushEnabled  bool   `json:"push_enabled"`
	EmailAddress string `json:"email,omitempty"`
	PushToken    string `json:"push_token,omitempty"`
}

// EnabledFor reports whether the given channel is enabled.
func (p *UserPreferenceSnapshot) EnabledFor(ch Channel) bool {
	if ch == ChannelPush {
		return p.PushEnabled
	}
	return p.EmailEnabled
}

// AddressFor returns the channel's recipient address or device token.
func (p *UserPreferenceSnapshot) AddressFor(ch Channel) string {
	if ch == ChannelPush {
		return p.PushToken
	}
	return p.EmailAddress
}

// RenderedTemplate carries both the email and push shapes; the orchestrator
// selects fields by channel.
type RenderedTemplate struct {
	Subject  string `json:"subject"`
	BodyHTML string `json:"body_html,omitempty"`
	BodyText string `json:"body_text,omitempty"`
	Title    string `json:"title,omitempty"`
	Body     string `json:"body,omitempty"`
}
