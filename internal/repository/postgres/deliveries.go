package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/baechuer/notification-fabric/internal/domain"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type Repository struct {
	pool *pgxpool.Pool
}

func New(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const deliveryColumns = `
	id, notification_id, user_id, channel, address,
	COALESCE(subject, ''), COALESCE(body_html, ''), COALESCE(body_text, ''),
	provider, COALESCE(provider_message_id, ''), status, priority,
	attempt_count, max_attempts,
	COALESCE(error_code, ''), COALESCE(error_message, ''), extra_data,
	created_at, updated_at, sent_at, delivered_at, failed_at`

func scanDelivery(row pgx.Row) (*domain.DeliveryRecord, error) {
	var rec domain.DeliveryRecord
	var extra []byte
	err := row.Scan(
		&rec.ID, &rec.NotificationID, &rec.UserID, &rec.Channel, &rec.Address,
		&rec.Subject, &rec.BodyHTML, &rec.BodyText,
		&rec.Provider, &rec.ProviderMessageID, &rec.Status, &rec.Priority,
		&rec.AttemptCount, &rec.MaxAttempts,
		&rec.ErrorCode, &rec.ErrorMessage, &extra,
		&rec.CreatedAt, &rec.UpdatedAt, &rec.SentAt, &rec.DeliveredAt, &rec.FailedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	if len(extra) > 0 {
		_ = json.Unmarshal(extra, &rec.ExtraData)
	}
	return &rec, nil
}

// Create inserts a pending row, or returns the existing one for
// (notification_id, channel). At-least-once redelivery lands here.
func (r *Repository) Create(ctx context.Context, rec *domain.DeliveryRecord) (*domain.DeliveryRecord, error) {
	var extra []byte
	if rec.ExtraData != nil {
		var err error
		extra, err = json.Marshal(rec.ExtraData)
		if err != nil {
			return nil, err
		}
	}

	maxAttempts := rec.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	status := rec.Status
	if status == "" {
		status = domain.StatusPending
	}

	row := r.pool.QueryRow(ctx, `
		INSERT INTO deliveries (
			notification_id, user_id, channel, address,
			subject, body_html, body_text,
			provider, status, priority, max_attempts, error_code, error_message, extra_data
		)
		VALUES ($1, $2, $3, $4, NULLIF($5, ''), NULLIF($6, ''), NULLIF($7, ''),
		        $8, $9, $10, $11, NULLIF($12, ''), NULLIF($13, ''), $14)
		ON CONFLICT (notification_id, channel) DO NOTHING
		RETURNING `+deliveryColumns,
		rec.NotificationID, rec.UserID, rec.Channel, rec.Address,
		rec.Subject, rec.BodyHTML, rec.BodyText,
		rec.Provider, status, rec.Priority, maxAttempts, rec.ErrorCode, rec.ErrorMessage, extra,
	)

	created, err := scanDelivery(row)
	if err == nil {
		return created, nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return nil, err
	}

	// Conflict: the row already exists for this (notification_id, channel).
	return r.GetByNotification(ctx, rec.NotificationID, rec.Channel)
}

func (r *Repository) GetByID(ctx context.Context, id uuid.UUID) (*domain.DeliveryRecord, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+deliveryColumns+` FROM deliveries WHERE id = $1`, id)
	return scanDelivery(row)
}

func (r *Repository) GetByNotification(ctx context.Context, notificationID uuid.UUID, channel domain.Channel) (*domain.DeliveryRecord, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+deliveryColumns+` FROM deliveries
		WHERE notification_id = $1 AND channel = $2`,
		notificationID, channel)
	return scanDelivery(row)
}

func (r *Repository) GetByProviderMessageID(ctx context.Context, providerMessageID string) (*domain.DeliveryRecord, error) {
	if providerMessageID == "" {
		return nil, domain.ErrNotFound
	}
	row := r.pool.QueryRow(ctx, `
		SELECT `+deliveryColumns+` FROM deliveries
		WHERE provider_message_id = $1
		ORDER BY created_at DESC
		LIMIT 1`,
		providerMessageID)
	return scanDelivery(row)
}

// UpdateStatus applies a transition inside one transaction: the row is
// locked, the move is checked against the lattice, timestamp columns are
// stamped, and provider_message_id is write-once.
func (r *Repository) UpdateStatus(ctx context.Context, id uuid.UUID, to domain.Status, fields domain.StatusFields) (*domain.DeliveryRecord, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var from domain.Status
	var existingPMID string
	err = tx.QueryRow(ctx, `
		SELECT status, COALESCE(provider_message_id, '')
		FROM deliveries
		WHERE id = $1
		FOR UPDATE`,
		id).Scan(&from, &existingPMID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}

	// Same-status repeats are invalid too: a duplicated webhook must not
	// re-stamp or re-report an already-settled row.
	if !domain.CanTransition(from, to) {
		return nil, domain.ErrInvalidTransition
	}

	pmid := existingPMID
	if pmid == "" {
		pmid = fields.ProviderMessageID
	}

	now := time.Now().UTC()
	var sentAt, deliveredAt, failedAt *time.Time
	switch to {
	case domain.StatusSent:
		sentAt = &now
	case domain.StatusDelivered:
		deliveredAt = &now
	case domain.StatusFailed, domain.StatusBounced:
		failedAt = &now
	}

	row := tx.QueryRow(ctx, `
		UPDATE deliveries
		SET status = $2,
		    provider_message_id = NULLIF($3, ''),
		    error_code = COALESCE(NULLIF($4, ''), error_code),
		    error_message = COALESCE(NULLIF($5, ''), error_message),
		    sent_at = COALESCE(sent_at, $6),
		    delivered_at = COALESCE(delivered_at, $7),
		    failed_at = COALESCE(failed_at, $8),
		    updated_at = NOW()
		WHERE id = $1
		RETURNING `+deliveryColumns,
		id, to, pmid, fields.ErrorCode, fields.ErrorMessage, sentAt, deliveredAt, failedAt)

	rec, err := scanDelivery(row)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return rec, nil
}

// IncrementAttempt bumps attempt_count before a provider call so a crash
// mid-send still counts the attempt.
func (r *Repository) IncrementAttempt(ctx context.Context, id uuid.UUID) (int, error) {
	var count int
	err := r.pool.QueryRow(ctx, `
		UPDATE deliveries
		SET attempt_count = attempt_count + 1, updated_at = NOW()
		WHERE id = $1
		RETURNING attempt_count`,
		id).Scan(&count)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, domain.ErrNotFound
		}
		return 0, err
	}
	return count, nil
}

// ListRetryable returns failed rows with attempts remaining, oldest first.
func (r *Repository) ListRetryable(ctx context.Context, limit int) ([]*domain.DeliveryRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.pool.Query(ctx, `
		SELECT `+deliveryColumns+` FROM deliveries
		WHERE status = 'failed' AND attempt_count < max_attempts
		ORDER BY created_at ASC
		LIMIT $1`,
		limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*domain.DeliveryRecord
	for rows.Next() {
		rec, err := scanDelivery(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}
