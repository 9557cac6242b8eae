package postgres

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/baechuer/notification-fabric/internal/domain"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

// setupRepository starts a disposable PostgreSQL container, applies the
// deliveries migration and returns a ready repository.
func setupRepository(t *testing.T) *Repository {
	t.Helper()
	ctx := context.Background()

	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}
	// NewDockerClientWithOpts panics (rather than returning an error) when no
	// Docker host can be detected, so catch that too and skip.
	dockerErr := func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("%v", r)
			}
		}()
		cli, err := testcontainers.NewDockerClientWithOpts(ctx)
		if err != nil {
			return err
		}
		// Client creation is lazy; ping to confirm the daemon is reachable.
		_, err = cli.Ping(ctx)
		return err
	}()
	if dockerErr != nil {
		t.Skipf("Skipping integration test because Docker is unavailable: %v", dockerErr)
	}

	container, err := tcpostgres.RunContainer(ctx,
		testcontainers.WithImage("postgres:17"),
		tcpostgres.WithDatabase("deliveries_test"),
		tcpostgres.WithUsername("testuser"),
		tcpostgres.WithPassword("testpass"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	require.NoError(t, err, "Failed to start PostgreSQL container")
	t.Cleanup(func() {
		if err := container.Terminate(ctx); err != nil {
			t.Logf("Failed to terminate container: %v", err)
		}
	})

	connStr, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	pool, err := pgxpool.New(ctx, connStr)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	ddl, err := os.ReadFile("../../../migrations/001_create_deliveries.sql")
	require.NoError(t, err)
	_, err = pool.Exec(ctx, string(ddl))
	require.NoError(t, err)

	return New(pool)
}

func pendingDelivery() *domain.DeliveryRecord {
	return &domain.DeliveryRecord{
		NotificationID: uuid.New(),
		UserID:         uuid.New(),
		Channel:        domain.ChannelEmail,
		Address:        "ada@example.com",
		Subject:        "Hi Ada",
		BodyText:       "Hi",
		Provider:       "smtp",
		Priority:       1,
		MaxAttempts:    3,
	}
}

func TestRepository_Create_IdempotentPerNotificationChannel(t *testing.T) {
	repo := setupRepository(t)
	ctx := context.Background()

	rec := pendingDelivery()
	created, err := repo.Create(ctx, rec)
	require.NoError(t, err)
	assert.NotEqual(t, uuid.Nil, created.ID)
	assert.Equal(t, domain.StatusPending, created.Status)
	assert.Equal(t, 0, created.AttemptCount)
	assert.Equal(t, 1, created.Priority)

	// Redelivered job lands on the same row, new field values ignored.
	dup := pendingDelivery()
	dup.NotificationID = rec.NotificationID
	dup.Subject = "different subject"
	again, err := repo.Create(ctx, dup)
	require.NoError(t, err)
	assert.Equal(t, created.ID, again.ID)
	assert.Equal(t, "Hi Ada", again.Subject)

	// Same notification on the other channel is a separate row.
	other := pendingDelivery()
	other.NotificationID = rec.NotificationID
	other.Channel = domain.ChannelPush
	push, err := repo.Create(ctx, other)
	require.NoError(t, err)
	assert.NotEqual(t, created.ID, push.ID)
}

func TestRepository_UpdateStatus_Lattice(t *testing.T) {
	repo := setupRepository(t)
	ctx := context.Background()

	created, err := repo.Create(ctx, pendingDelivery())
	require.NoError(t, err)

	// pending cannot jump straight to delivered
	_, err = repo.UpdateStatus(ctx, created.ID, domain.StatusDelivered, domain.StatusFields{})
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)

	sent, err := repo.UpdateStatus(ctx, created.ID, domain.StatusSent, domain.StatusFields{
		ProviderMessageID: "M1",
	})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusSent, sent.Status)
	assert.Equal(t, "M1", sent.ProviderMessageID)
	require.NotNil(t, sent.SentAt)

	delivered, err := repo.UpdateStatus(ctx, created.ID, domain.StatusDelivered, domain.StatusFields{})
	require.NoError(t, err)
	require.NotNil(t, delivered.DeliveredAt)
	require.NotNil(t, delivered.SentAt)
	assert.WithinDuration(t, *sent.SentAt, *delivered.SentAt, time.Millisecond)

	// A duplicated delivered webhook must be rejected, not re-applied.
	_, err = repo.UpdateStatus(ctx, created.ID, domain.StatusDelivered, domain.StatusFields{})
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)

	// Terminal rows stay terminal.
	_, err = repo.UpdateStatus(ctx, created.ID, domain.StatusFailed, domain.StatusFields{})
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)
}

func TestRepository_UpdateStatus_ProviderMessageIDWriteOnce(t *testing.T) {
	repo := setupRepository(t)
	ctx := context.Background()

	created, err := repo.Create(ctx, pendingDelivery())
	require.NoError(t, err)

	sent, err := repo.UpdateStatus(ctx, created.ID, domain.StatusSent, domain.StatusFields{
		ProviderMessageID: "M1",
	})
	require.NoError(t, err)
	firstSentAt := sent.SentAt

	// Deferred callback reopens the delivery, then a second send completes.
	_, err = repo.UpdateStatus(ctx, created.ID, domain.StatusPending, domain.StatusFields{})
	require.NoError(t, err)

	resent, err := repo.UpdateStatus(ctx, created.ID, domain.StatusSent, domain.StatusFields{
		ProviderMessageID: "M2",
	})
	require.NoError(t, err)
	assert.Equal(t, "M1", resent.ProviderMessageID)
	require.NotNil(t, resent.SentAt)
	assert.WithinDuration(t, *firstSentAt, *resent.SentAt, time.Millisecond)
}

func TestRepository_UpdateStatus_FailureFields(t *testing.T) {
	repo := setupRepository(t)
	ctx := context.Background()

	created, err := repo.Create(ctx, pendingDelivery())
	require.NoError(t, err)

	failed, err := repo.UpdateStatus(ctx, created.ID, domain.StatusFailed, domain.StatusFields{
		ErrorCode:    "PROVIDER_UNAVAILABLE",
		ErrorMessage: "provider circuit open",
	})
	require.NoError(t, err)
	assert.Equal(t, "PROVIDER_UNAVAILABLE", failed.ErrorCode)
	assert.Equal(t, "provider circuit open", failed.ErrorMessage)
	require.NotNil(t, failed.FailedAt)

	_, err = repo.UpdateStatus(ctx, uuid.New(), domain.StatusFailed, domain.StatusFields{})
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestRepository_IncrementAttempt(t *testing.T) {
	repo := setupRepository(t)
	ctx := context.Background()

	created, err := repo.Create(ctx, pendingDelivery())
	require.NoError(t, err)

	for want := 1; want <= 3; want++ {
		got, err := repo.IncrementAttempt(ctx, created.ID)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}

	_, err = repo.IncrementAttempt(ctx, uuid.New())
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestRepository_Lookups(t *testing.T) {
	repo := setupRepository(t)
	ctx := context.Background()

	created, err := repo.Create(ctx, pendingDelivery())
	require.NoError(t, err)
	_, err = repo.UpdateStatus(ctx, created.ID, domain.StatusSent, domain.StatusFields{
		ProviderMessageID: "M42",
	})
	require.NoError(t, err)

	byID, err := repo.GetByID(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, created.NotificationID, byID.NotificationID)

	byNotification, err := repo.GetByNotification(ctx, created.NotificationID, domain.ChannelEmail)
	require.NoError(t, err)
	assert.Equal(t, created.ID, byNotification.ID)

	byPMID, err := repo.GetByProviderMessageID(ctx, "M42")
	require.NoError(t, err)
	assert.Equal(t, created.ID, byPMID.ID)

	_, err = repo.GetByProviderMessageID(ctx, "")
	assert.ErrorIs(t, err, domain.ErrNotFound)
	_, err = repo.GetByProviderMessageID(ctx, "no-such-id")
	assert.ErrorIs(t, err, domain.ErrNotFound)
	_, err = repo.GetByNotification(ctx, uuid.New(), domain.ChannelEmail)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestRepository_ListRetryable(t *testing.T) {
	repo := setupRepository(t)
	ctx := context.Background()

	retryable, err := repo.Create(ctx, pendingDelivery())
	require.NoError(t, err)
	_, err = repo.IncrementAttempt(ctx, retryable.ID)
	require.NoError(t, err)
	_, err = repo.UpdateStatus(ctx, retryable.ID, domain.StatusFailed, domain.StatusFields{})
	require.NoError(t, err)

	exhausted, err := repo.Create(ctx, pendingDelivery())
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		_, err = repo.IncrementAttempt(ctx, exhausted.ID)
		require.NoError(t, err)
	}
	_, err = repo.UpdateStatus(ctx, exhausted.ID, domain.StatusFailed, domain.StatusFields{})
	require.NoError(t, err)

	_, err = repo.Create(ctx, pendingDelivery()) // still pending, not eligible
	require.NoError(t, err)

	rows, err := repo.ListRetryable(ctx, 10)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, retryable.ID, rows[0].ID)
}
