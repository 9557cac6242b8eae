package domain

import (
	"context"

	"github.com/google/uuid"
)

// StatusFields carries the optional columns written alongside a status change.
type StatusFields struct {
	ProviderMessageID string
	ErrorCode         string
	ErrorMessage      string
}

// DeliveryRepository persists delivery lifecycles. Implementations must
// enforce the status lattice and the one-row-per-(notification_id, channel)
// invariant.
type DeliveryRepository interface {
	// Create inserts the record in status pending, or returns the existing
	// row for (notification_id, channel) untouched.
	Create(ctx context.Context, rec *DeliveryRecord) (*DeliveryRecord, error)

	GetByID(ctx context.Context, id uuid.UUID) (*DeliveryRecord, error)
	GetByNotification(ctx context.Context, notificationID uuid.UUID, channel Channel) (*DeliveryRecord, error)
	GetByProviderMessageID(ctx context.Context, providerMessageID string) (*DeliveryRecord, error)

	// UpdateStatus applies a transition, stamping the status timestamp
	// columns. Returns ErrInvalidTransition for moves outside the lattice
	// and never overwrites a non-empty provider_message_id.
	UpdateStatus(ctx context.Context, id uuid.UUID, to Status, fields StatusFields) (*DeliveryRecord, error)

	// IncrementAttempt bumps attempt_count and returns the new value.
	IncrementAttempt(ctx context.Context, id uuid.UUID) (int, error)

	// ListRetryable returns failed rows that have attempts left.
	ListRetryable(ctx context.Context, limit int) ([]*DeliveryRecord, error)
}
