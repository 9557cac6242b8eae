package webhook

import (
	"context"
	"errors"

	"github.com/baechuer/notification-fabric/internal/domain"
	"github.com/baechuer/notification-fabric/internal/logger"
	"github.com/baechuer/notification-fabric/internal/metrics"
	"github.com/rs/zerolog"
)

// Event is one transport callback in an inbound batch.
type Event struct {
	Event             string         `json:"event"`
	Timestamp         int64          `json:"timestamp"`
	ProviderMessageID string         `json:"provider_message_id"`
	Reason            string         `json:"reason,omitempty"`
	Extra             map[string]any `json:"extra,omitempty"`
}

// Reporter mirrors the gateway reporting side of the pipeline.
type Reporter interface {
	ReportStatus(ctx context.Context, rec *domain.DeliveryRecord) error
}

// Reconciler folds asynchronous transport callbacks back into delivery rows.
// Individual event failures never fail the batch.
type Reconciler struct {
	repo     domain.DeliveryRepository
	reporter Reporter
	lg       zerolog.Logger
}

func NewReconciler(repo domain.DeliveryRepository, reporter Reporter) *Reconciler {
	return &Reconciler{
		repo:     repo,
		reporter: reporter,
		lg:       logger.WithComponent("webhook_reconciler"),
	}
}

// ProcessBatch applies a batch of events for one channel and returns
// (received, processed) counts.
func (r *Reconciler) ProcessBatch(ctx context.Context, channel string, events []Event) (int, int) {
	processed := 0
	for _, ev := range events {
		if r.processOne(ctx, channel, ev) {
			processed++
		}
	}
	return len(events), processed
}

func (r *Reconciler) processOne(ctx context.Context, channel string, ev Event) bool {
	log := r.lg.With().
		Str("channel", channel).
		Str("event", ev.Event).
		Str("provider_message_id", ev.ProviderMessageID).
		Logger()

	if ev.ProviderMessageID == "" {
		log.Warn().Msg("event without provider_message_id, skipping")
		metrics.RecordWebhookEvent(channel, ev.Event, "skipped")
		return false
	}

	target := domain.WebhookStatus(ev.Event)
	if target == "" {
		log.Warn().Msg("unknown event name, skipping")
		metrics.RecordWebhookEvent(channel, ev.Event, "unknown")
		return false
	}

	rec, err := r.repo.GetByProviderMessageID(ctx, ev.ProviderMessageID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			log.Warn().Msg("no delivery for provider message id")
			metrics.RecordWebhookEvent(channel, ev.Event, "not_found")
		} else {
			log.Error().Err(err).Msg("delivery lookup failed")
			metrics.RecordWebhookEvent(channel, ev.Event, "error")
		}
		return false
	}

	fields := domain.StatusFields{}
	if target == domain.StatusBounced || target == domain.StatusFailed {
		fields.ErrorCode = string(target)
		fields.ErrorMessage = ev.Reason
	}

	updated, err := r.repo.UpdateStatus(ctx, rec.ID, target, fields)
	if err != nil {
		if errors.Is(err, domain.ErrInvalidTransition) {
			// Terminal rows stay terminal; late callbacks are expected.
			log.Debug().Str("from", string(rec.Status)).Str("to", string(target)).Msg("transition rejected")
			metrics.RecordWebhookEvent(channel, ev.Event, "invalid_transition")
			return false
		}
		log.Error().Err(err).Msg("status update failed")
		metrics.RecordWebhookEvent(channel, ev.Event, "error")
		return false
	}

	if err := r.reporter.ReportStatus(ctx, updated); err != nil {
		log.Warn().Err(err).Msg("gateway status report failed")
	}

	log.Info().Str("status", string(updated.Status)).Msg("delivery reconciled")
	metrics.RecordWebhookEvent(channel, ev.Event, "processed")
	return true
}
