package orchestrator

import (
	"context"
	"sync"
	"time"

	"github.com/baechuer/notification-fabric/internal/apperrors"
	"github.com/baechuer/notification-fabric/internal/domain"
	"github.com/baechuer/notification-fabric/internal/provider"
	"github.com/google/uuid"
)

// fakeRepo is an in-memory DeliveryRepository enforcing the same rules as
// the postgres implementation.
type fakeRepo struct {
	mu      sync.Mutex
	rows    map[uuid.UUID]*domain.DeliveryRecord
	byPair  map[string]uuid.UUID
	failAll bool
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		rows:   make(map[uuid.UUID]*domain.DeliveryRecord),
		byPair: make(map[string]uuid.UUID),
	}
}

func pairKey(notificationID uuid.UUID, channel domain.Channel) string {
	return notificationID.String() + "/" + string(channel)
}

func (f *fakeRepo) Create(ctx context.Context, rec *domain.DeliveryRecord) (*domain.DeliveryRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failAll {
		return nil, apperrors.NewInternal("db down")
	}

	if id, ok := f.byPair[pairKey(rec.NotificationID, rec.Channel)]; ok {
		cp := *f.rows[id]
		return &cp, nil
	}

	cp := *rec
	cp.ID = uuid.New()
	if cp.Status == "" {
		cp.Status = domain.StatusPending
	}
	if cp.MaxAttempts <= 0 {
		cp.MaxAttempts = 3
	}
	cp.CreatedAt = time.Now().UTC()
	cp.UpdatedAt = cp.CreatedAt
	f.rows[cp.ID] = &cp
	f.byPair[pairKey(cp.NotificationID, cp.Channel)] = cp.ID

	out := cp
	return &out, nil
}

func (f *fakeRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.DeliveryRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	rec, ok := f.rows[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *rec
	return &cp, nil
}

func (f *fakeRepo) GetByNotification(ctx context.Context, notificationID uuid.UUID, channel domain.Channel) (*domain.DeliveryRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	id, ok := f.byPair[pairKey(notificationID, channel)]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *f.rows[id]
	return &cp, nil
}

func (f *fakeRepo) GetByProviderMessageID(ctx context.Context, providerMessageID string) (*domain.DeliveryRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if providerMessageID == "" {
		return nil, domain.ErrNotFound
	}
	for _, rec := range f.rows {
		if rec.ProviderMessageID == providerMessageID {
			cp := *rec
			return &cp, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (f *fakeRepo) UpdateStatus(ctx context.Context, id uuid.UUID, to domain.Status, fields domain.StatusFields) (*domain.DeliveryRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	rec, ok := f.rows[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	if !domain.CanTransition(rec.Status, to) {
		return nil, domain.ErrInvalidTransition
	}

	now := time.Now().UTC()
	rec.Status = to
	if rec.ProviderMessageID == "" {
		rec.ProviderMessageID = fields.ProviderMessageID
	}
	if fields.ErrorCode != "" {
		rec.ErrorCode = fields.ErrorCode
	}
	if fields.ErrorMessage != "" {
		rec.ErrorMessage = fields.ErrorMessage
	}
	switch to {
	case domain.StatusSent:
		if rec.SentAt == nil {
			rec.SentAt = &now
		}
	case domain.StatusDelivered:
		rec.DeliveredAt = &now
	case domain.StatusFailed, domain.StatusBounced:
		rec.FailedAt = &now
	}
	rec.UpdatedAt = now

	cp := *rec
	return &cp, nil
}

func (f *fakeRepo) IncrementAttempt(ctx context.Context, id uuid.UUID) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	rec, ok := f.rows[id]
	if !ok {
		return 0, domain.ErrNotFound
	}
	rec.AttemptCount++
	return rec.AttemptCount, nil
}

func (f *fakeRepo) ListRetryable(ctx context.Context, limit int) ([]*domain.DeliveryRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*domain.DeliveryRecord
	for _, rec := range f.rows {
		if rec.Status == domain.StatusFailed && rec.AttemptCount < rec.MaxAttempts {
			cp := *rec
			out = append(out, &cp)
		}
	}
	return out, nil
}

// fakePrefs serves canned preferences per user.
type fakePrefs struct {
	prefs     map[uuid.UUID]*domain.UserPreferenceSnapshot
	tokens    map[uuid.UUID]string
	err       error
	callCount int
}

func (f *fakePrefs) GetPreferences(ctx context.Context, userID uuid.UUID) (*domain.UserPreferenceSnapshot, error) {
	f.callCount++
	if f.err != nil {
		return nil, f.err
	}
	p, ok := f.prefs[userID]
	if !ok {
		return nil, &apperrors.AppError{Code: apperrors.ErrCodePreferencesNotFound, Message: "not found"}
	}
	cp := *p
	return &cp, nil
}

func (f *fakePrefs) GetPushToken(ctx context.Context, userID uuid.UUID) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	return f.tokens[userID], nil
}

// fakeRenderer returns a fixed template or error.
type fakeRenderer struct {
	rendered *domain.RenderedTemplate
	err      error
}

func (f *fakeRenderer) Render(ctx context.Context, templateID uuid.UUID, templateCode string, variables map[string]any) (*domain.RenderedTemplate, error) {
	if f.err != nil {
		return nil, f.err
	}
	cp := *f.rendered
	return &cp, nil
}

// fakeReporter records every status pushed to the gateway.
type fakeReporter struct {
	mu      sync.Mutex
	reports []*domain.DeliveryRecord
	err     error
}

func (f *fakeReporter) ReportStatus(ctx context.Context, rec *domain.DeliveryRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *rec
	f.reports = append(f.reports, &cp)
	return f.err
}

func (f *fakeReporter) last() *domain.DeliveryRecord {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.reports) == 0 {
		return nil
	}
	return f.reports[len(f.reports)-1]
}

// fakeProvider pops one scripted result per call.
type fakeProvider struct {
	mu      sync.Mutex
	results []provider.SendResult
	calls   int
	lastMsg *provider.Message
}

func (f *fakeProvider) Send(ctx context.Context, msg *provider.Message) provider.SendResult {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.lastMsg = msg
	if len(f.results) == 0 {
		return provider.SendResult{OK: true, MessageID: "M-default", Provider: f.Name()}
	}
	res := f.results[0]
	if len(f.results) > 1 {
		f.results = f.results[1:]
	}
	return res
}

func (f *fakeProvider) Name() string { return "fake" }

// fakeCache is a map-backed PrefCache.
type fakeCache struct {
	mu    sync.Mutex
	items map[uuid.UUID]*domain.UserPreferenceSnapshot
}

func newFakeCache() *fakeCache {
	return &fakeCache{items: make(map[uuid.UUID]*domain.UserPreferenceSnapshot)}
}

func (f *fakeCache) Get(ctx context.Context, userID uuid.UUID) (*domain.UserPreferenceSnapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.items[userID]
	if !ok {
		return nil, domain.ErrCacheMiss
	}
	cp := *p
	return &cp, nil
}

func (f *fakeCache) Set(ctx context.Context, userID uuid.UUID, prefs *domain.UserPreferenceSnapshot) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *prefs
	f.items[userID] = &cp
	return nil
}
