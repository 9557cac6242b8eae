package orchestrator

import (
	"context"
	"errors"
	"time"

	"github.com/baechuer/notification-fabric/internal/apperrors"
	"github.com/baechuer/notification-fabric/internal/circuitbreaker"
	"github.com/baechuer/notification-fabric/internal/config"
	"github.com/baechuer/notification-fabric/internal/domain"
	"github.com/baechuer/notification-fabric/internal/logger"
	"github.com/baechuer/notification-fabric/internal/metrics"
	"github.com/baechuer/notification-fabric/internal/provider"
	"github.com/baechuer/notification-fabric/internal/retry"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Outcome is the per-message verdict handed back to the consumer.
type Outcome int

const (
	OutcomeOK        Outcome = iota // ack
	OutcomeTransient                // nack with requeue
	OutcomePermanent                // nack without requeue
)

// PreferenceSource resolves user preferences and push tokens.
type PreferenceSource interface {
	GetPreferences(ctx context.Context, userID uuid.UUID) (*domain.UserPreferenceSnapshot, error)
	GetPushToken(ctx context.Context, userID uuid.UUID) (string, error)
}

// Renderer resolves and renders a template.
type Renderer interface {
	Render(ctx context.Context, templateID uuid.UUID, templateCode string, variables map[string]any) (*domain.RenderedTemplate, error)
}

// Reporter pushes delivery status to the notification gateway.
type Reporter interface {
	ReportStatus(ctx context.Context, rec *domain.DeliveryRecord) error
}

// PrefCache is the advisory snapshot cache in front of PreferenceSource.
type PrefCache interface {
	Get(ctx context.Context, userID uuid.UUID) (*domain.UserPreferenceSnapshot, error)
	Set(ctx context.Context, userID uuid.UUID, prefs *domain.UserPreferenceSnapshot) error
}

// Orchestrator runs the per-job delivery pipeline for one channel.
type Orchestrator struct {
	channel  domain.Channel
	repo     domain.DeliveryRepository
	prefs    PreferenceSource
	cache    PrefCache
	renderer Renderer
	reporter Reporter
	provider provider.Provider

	userBreaker     *circuitbreaker.CircuitBreaker
	templateBreaker *circuitbreaker.CircuitBreaker
	gatewayBreaker  *circuitbreaker.CircuitBreaker
	providerBreaker *circuitbreaker.CircuitBreaker

	retryConfig *retry.Config
	maxAttempts int
	lg          zerolog.Logger
}

// Deps bundles the orchestrator's collaborators.
type Deps struct {
	Repo     domain.DeliveryRepository
	Prefs    PreferenceSource
	Cache    PrefCache
	Renderer Renderer
	Reporter Reporter
	Provider provider.Provider
}

func New(cfg *config.Config, channel domain.Channel, d Deps) *Orchestrator {
	return &Orchestrator{
		channel:         channel,
		repo:            d.Repo,
		prefs:           d.Prefs,
		cache:           d.Cache,
		renderer:        d.Renderer,
		reporter:        d.Reporter,
		provider:        d.Provider,
		userBreaker:     circuitbreaker.New("user-service", cfg.BreakerFailMax, cfg.BreakerTimeout),
		templateBreaker: circuitbreaker.New("template-service", cfg.BreakerFailMax, cfg.BreakerTimeout),
		gatewayBreaker:  circuitbreaker.New("gateway", cfg.BreakerFailMax, cfg.BreakerTimeout),
		providerBreaker: circuitbreaker.New(d.Provider.Name(), cfg.BreakerFailMax, cfg.BreakerTimeout),
		retryConfig: &retry.Config{
			MaxAttempts: cfg.MaxAttempts,
			MinWait:     cfg.RetryMin,
			MaxWait:     cfg.RetryMax,
			Multiplier:  2,
		},
		maxAttempts: cfg.MaxAttempts,
		lg:          logger.WithComponent("orchestrator"),
	}
}

// Handle executes the pipeline for one dequeued job. The returned error is
// diagnostic only; the Outcome decides the broker verdict.
func (o *Orchestrator) Handle(ctx context.Context, job *domain.DeliveryJob) (Outcome, error) {
	log := o.lg.With().
		Str("notification_id", job.NotificationID.String()).
		Str("user_id", job.UserID.String()).
		Str("channel", string(o.channel)).
		Str("request_id", job.RequestID).
		Logger()

	// 1. Preferences (cache -> user service, default on open breaker)
	prefs, err := o.resolvePreferences(ctx, job.UserID, log)
	if err != nil {
		return OutcomeTransient, err
	}

	// 2. Channel gate
	if !prefs.EnabledFor(o.channel) {
		log.Info().Msg("channel disabled by preferences, skipping")
		return o.finishWithoutSend(ctx, job, "", domain.StatusSkipped, "", "channel disabled", log)
	}

	// 3. Address gate
	address, err := o.resolveAddress(ctx, job.UserID, prefs)
	if err != nil {
		return OutcomeTransient, err
	}
	if address == "" {
		log.Warn().Msg("no address resolved for recipient")
		return o.finishWithoutSend(ctx, job, "", domain.StatusFailed,
			string(apperrors.ErrCodeNoAddress), "no address or device token", log)
	}

	// 4. Render
	rendered, err := o.render(ctx, job)
	if err != nil {
		if retry.IsRetryable(err) || circuitbreaker.IsOpen(err) {
			return OutcomeTransient, err
		}
		log.Warn().Err(err).Msg("template render failed")
		return o.finishWithoutSend(ctx, job, address, domain.StatusFailed,
			string(apperrors.ErrCodeRenderFailed), err.Error(), log)
	}

	// 5. Upsert pending row
	rec, err := o.repo.Create(ctx, o.buildRecord(job, address, rendered))
	if err != nil {
		return OutcomeTransient, err
	}

	// Redelivery: an already-sent or terminal row just gets re-reported.
	if rec.Status != domain.StatusPending {
		log.Info().Str("status", string(rec.Status)).Msg("delivery already settled, re-reporting")
		o.report(ctx, rec, log)
		return OutcomeOK, nil
	}
	if rec.AttemptCount >= rec.MaxAttempts {
		return o.markFailed(ctx, rec, apperrors.ErrCodePermanentFailure, "attempts exhausted", log)
	}

	// 6. Send with retry
	return o.send(ctx, rec, log)
}

func (o *Orchestrator) resolvePreferences(ctx context.Context, userID uuid.UUID, log zerolog.Logger) (*domain.UserPreferenceSnapshot, error) {
	if cached, err := o.cache.Get(ctx, userID); err == nil {
		return cached, nil
	} else if !errors.Is(err, domain.ErrCacheMiss) {
		log.Warn().Err(err).Msg("preference cache read failed, falling through")
	}

	var prefs *domain.UserPreferenceSnapshot
	err := o.userBreaker.Call(ctx, func() error {
		var callErr error
		prefs, callErr = o.prefs.GetPreferences(ctx, userID)
		return callErr
	})
	o.publishBreakerState(o.userBreaker)

	if err != nil {
		if circuitbreaker.IsOpen(err) || apperrors.CodeOf(err) == apperrors.ErrCodePreferencesNotFound {
			// Conservative default so downstream gates still decide coherently.
			log.Warn().Err(err).Msg("preferences unavailable, using defaults")
			return &domain.UserPreferenceSnapshot{EmailEnabled: true, PushEnabled: true}, nil
		}
		return nil, err
	}

	if cacheErr := o.cache.Set(ctx, userID, prefs); cacheErr != nil {
		log.Warn().Err(cacheErr).Msg("preference cache write failed")
	}
	return prefs, nil
}

func (o *Orchestrator) resolveAddress(ctx context.Context, userID uuid.UUID, prefs *domain.UserPreferenceSnapshot) (string, error) {
	address := prefs.AddressFor(o.channel)
	if address != "" || o.channel != domain.ChannelPush {
		return address, nil
	}

	// The snapshot often lacks the device token; ask the user service.
	var token string
	err := o.userBreaker.Call(ctx, func() error {
		var callErr error
		token, callErr = o.prefs.GetPushToken(ctx, userID)
		return callErr
	})
	o.publishBreakerState(o.userBreaker)

	if err != nil {
		if circuitbreaker.IsOpen(err) {
			return "", nil // treated as NO_ADDRESS upstream
		}
		return "", err
	}
	return token, nil
}

func (o *Orchestrator) render(ctx context.Context, job *domain.DeliveryJob) (*domain.RenderedTemplate, error) {
	var rendered *domain.RenderedTemplate
	err := o.templateBreaker.Call(ctx, func() error {
		var callErr error
		rendered, callErr = o.renderer.Render(ctx, job.TemplateID, job.TemplateCode, job.Variables)
		return callErr
	})
	o.publishBreakerState(o.templateBreaker)
	if err != nil {
		return nil, err
	}
	return rendered, nil
}

// buildRecord maps the rendered template into the channel's column slots:
// push reuses subject/body_text for title/body.
func (o *Orchestrator) buildRecord(job *domain.DeliveryJob, address string, rendered *domain.RenderedTemplate) *domain.DeliveryRecord {
	rec := &domain.DeliveryRecord{
		NotificationID: job.NotificationID,
		UserID:         job.UserID,
		Channel:        o.channel,
		Address:        address,
		Provider:       o.provider.Name(),
		Status:         domain.StatusPending,
		Priority:       job.Priority,
		MaxAttempts:    o.maxAttempts,
		ExtraData:      job.Metadata,
	}

	if o.channel == domain.ChannelPush {
		title := rendered.Title
		if title == "" {
			title = rendered.Subject
		}
		body := rendered.Body
		if body == "" {
			body = rendered.BodyText
		}
		rec.Subject = title
		rec.BodyText = body
	} else {
		rec.Subject = rendered.Subject
		rec.BodyHTML = rendered.BodyHTML
		rec.BodyText = rendered.BodyText
	}
	return rec
}

func (o *Orchestrator) send(ctx context.Context, rec *domain.DeliveryRecord, log zerolog.Logger) (Outcome, error) {
	msg := o.buildMessage(rec)

	remaining := rec.MaxAttempts - rec.AttemptCount
	cfg := *o.retryConfig
	cfg.MaxAttempts = remaining

	var result provider.SendResult
	sendErr := retry.Do(ctx, &cfg,
		func(attempt int) error {
			if attempt > 0 {
				metrics.RecordRetryAttempt(string(o.channel))
			}
			// attempt_count is committed before the provider call so a crash
			// mid-send still counts it.
			if _, err := o.repo.IncrementAttempt(ctx, rec.ID); err != nil {
				return apperrors.NewRetryableError("failed to persist attempt", err)
			}
			rec.AttemptCount++
			return nil
		},
		func() error {
			start := time.Now()
			err := o.providerBreaker.Call(ctx, func() error {
				result = o.provider.Send(ctx, msg)
				if result.OK {
					return nil
				}
				if result.Transient {
					return apperrors.NewProviderError(result.Error, nil)
				}
				return apperrors.NewPermanentFailure(result.Error, nil)
			})
			o.publishBreakerState(o.providerBreaker)
			metrics.RecordSendDuration(string(o.channel), o.provider.Name(), time.Since(start))
			if circuitbreaker.IsOpen(err) {
				// Non-retryable code so the backoff loop aborts immediately.
				return apperrors.NewProviderUnavailable("provider circuit open", err)
			}
			return err
		},
	)

	if sendErr != nil {
		if apperrors.CodeOf(sendErr) == apperrors.ErrCodeProviderUnavailable {
			log.Warn().Msg("provider breaker open, failing fast")
			return o.markFailed(ctx, rec, apperrors.ErrCodeProviderUnavailable, "provider circuit open", log)
		}
		if errors.Is(sendErr, context.Canceled) || errors.Is(sendErr, context.DeadlineExceeded) {
			return OutcomeTransient, sendErr
		}
		log.Error().Err(sendErr).Int("attempts", rec.AttemptCount).Msg("send failed")
		code := apperrors.CodeOf(sendErr)
		if code == apperrors.ErrCodeInternal || code == apperrors.ErrCodeProvider || code == apperrors.ErrCodeRetryable {
			code = apperrors.ErrCodePermanentFailure
		}
		return o.markFailed(ctx, rec, code, sendErr.Error(), log)
	}

	updated, err := o.repo.UpdateStatus(ctx, rec.ID, domain.StatusSent, domain.StatusFields{
		ProviderMessageID: result.MessageID,
	})
	if err != nil {
		return OutcomeTransient, err
	}

	metrics.RecordDelivery(string(o.channel), o.provider.Name(), string(domain.StatusSent))
	log.Info().
		Str("provider_message_id", updated.ProviderMessageID).
		Int("attempt_count", updated.AttemptCount).
		Msg("delivery sent")

	o.report(ctx, updated, log)
	return OutcomeOK, nil
}

func (o *Orchestrator) buildMessage(rec *domain.DeliveryRecord) *provider.Message {
	msg := &provider.Message{
		To:       rec.Address,
		Subject:  rec.Subject,
		Priority: rec.Priority,
	}
	if o.channel == domain.ChannelPush {
		msg.Title = rec.Subject
		msg.Body = rec.BodyText
		msg.Data = rec.ExtraData
	} else {
		msg.BodyHTML = rec.BodyHTML
		msg.BodyText = rec.BodyText
	}
	return msg
}

// finishWithoutSend records a terminal row for jobs that never reach the
// provider (skipped, no address, render failure).
func (o *Orchestrator) finishWithoutSend(ctx context.Context, job *domain.DeliveryJob, address string, status domain.Status, errorCode, errorMessage string, log zerolog.Logger) (Outcome, error) {
	rec, err := o.repo.Create(ctx, &domain.DeliveryRecord{
		NotificationID: job.NotificationID,
		UserID:         job.UserID,
		Channel:        o.channel,
		Address:        address,
		Provider:       o.provider.Name(),
		Status:         status,
		MaxAttempts:    o.maxAttempts,
		ErrorCode:      errorCode,
		ErrorMessage:   errorMessage,
		ExtraData:      job.Metadata,
	})
	if err != nil {
		return OutcomeTransient, err
	}

	// Redelivered messages find the earlier row; leave it as it stands.
	metrics.RecordDelivery(string(o.channel), o.provider.Name(), string(rec.Status))
	o.report(ctx, rec, log)
	return OutcomeOK, nil
}

func (o *Orchestrator) markFailed(ctx context.Context, rec *domain.DeliveryRecord, code apperrors.ErrorCode, message string, log zerolog.Logger) (Outcome, error) {
	updated, err := o.repo.UpdateStatus(ctx, rec.ID, domain.StatusFailed, domain.StatusFields{
		ErrorCode:    string(code),
		ErrorMessage: message,
	})
	if err != nil {
		if errors.Is(err, domain.ErrInvalidTransition) {
			// Row already terminal; nothing left to do.
			o.report(ctx, rec, log)
			return OutcomeOK, nil
		}
		return OutcomeTransient, err
	}

	metrics.RecordDelivery(string(o.channel), o.provider.Name(), string(domain.StatusFailed))
	o.report(ctx, updated, log)
	return OutcomeOK, nil
}

// report is non-fatal: a gateway outage never rolls back local state.
func (o *Orchestrator) report(ctx context.Context, rec *domain.DeliveryRecord, log zerolog.Logger) {
	err := o.gatewayBreaker.Call(ctx, func() error {
		return o.reporter.ReportStatus(ctx, rec)
	})
	o.publishBreakerState(o.gatewayBreaker)
	if err != nil {
		log.Warn().Err(err).Str("status", string(rec.Status)).Msg("gateway status report failed")
	}
}

func (o *Orchestrator) publishBreakerState(cb *circuitbreaker.CircuitBreaker) {
	metrics.SetBreakerState(cb.Name(), int(cb.State()))
}
