package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCanTransition_FromPending(t *testing.T) {
	assert.True(t, CanTransition(StatusPending, StatusSent))
	assert.True(t, CanTransition(StatusPending, StatusFailed))
	assert.True(t, CanTransition(StatusPending, StatusSkipped))

	assert.False(t, CanTransition(StatusPending, StatusDelivered))
	assert.False(t, CanTransition(StatusPending, StatusBounced))
}

func TestCanTransition_FromSent(t *testing.T) {
	assert.True(t, CanTransition(StatusSent, StatusDelivered))
	assert.True(t, CanTransition(StatusSent, StatusBounced))
	assert.True(t, CanTransition(StatusSent, StatusFailed))

	// deferred callbacks push a sent row back to pending
	assert.True(t, CanTransition(StatusSent, StatusPending))

	assert.False(t, CanTransition(StatusSent, StatusSkipped))
}

func TestCanTransition_TerminalStatesAreFrozen(t *testing.T) {
	terminals := []Status{StatusDelivered, StatusBounced, StatusFailed, StatusSkipped}
	all := []Status{StatusPending, StatusSent, StatusDelivered, StatusBounced, StatusFailed, StatusSkipped}

	for _, from := range terminals {
		for _, to := range all {
			assert.False(t, CanTransition(from, to), "%s -> %s should be invalid", from, to)
		}
	}
}

func TestStatus_Terminal(t *testing.T) {
	assert.False(t, StatusPending.Terminal())
	assert.False(t, StatusSent.Terminal())
	assert.True(t, StatusDelivered.Terminal())
	assert.True(t, StatusBounced.Terminal())
	assert.True(t, StatusFailed.Terminal())
	assert.True(t, StatusSkipped.Terminal())
}

func TestExternalStatus(t *testing.T) {
	assert.Equal(t, "delivered", ExternalStatus(StatusSent))
	assert.Equal(t, "delivered", ExternalStatus(StatusDelivered))
	assert.Equal(t, "failed", ExternalStatus(StatusFailed))
	assert.Equal(t, "failed", ExternalStatus(StatusBounced))
	assert.Equal(t, "pending", ExternalStatus(StatusPending))
	assert.Equal(t, "pending", ExternalStatus(StatusSkipped))
}

func TestWebhookStatus(t *testing.T) {
	assert.Equal(t, StatusDelivered, WebhookStatus("delivered"))
	assert.Equal(t, StatusBounced, WebhookStatus("bounce"))
	assert.Equal(t, StatusFailed, WebhookStatus("dropped"))
	assert.Equal(t, StatusPending, WebhookStatus("deferred"))
	assert.Equal(t, Status(""), WebhookStatus("opened"))
	assert.Equal(t, Status(""), WebhookStatus(""))
}

func TestUserPreferenceSnapshot_ChannelHelpers(t *testing.T) {
	prefs := &UserPreferenceSnapshot{
		EmailEnabled: true,
		PushEnabled:  false,
		EmailAddress: "ada@example.com",
		PushToken:    "tok-1",
	}

	assert.True(t, prefs.EnabledFor(ChannelEmail))
	assert.False(t, prefs.EnabledFor(ChannelPush))
	assert.Equal(t, "ada@example.com", prefs.AddressFor(ChannelEmail))
	assert.Equal(t, "tok-1", prefs.AddressFor(ChannelPush))
}

func TestDeliveryRecord_Retryable(t *testing.T) {
	rec := &DeliveryRecord{Status: StatusFailed, AttemptCount: 1, MaxAttempts: 3}
	assert.True(t, rec.Retryable())

	rec.AttemptCount = 3
	assert.False(t, rec.Retryable())

	rec = &DeliveryRecord{Status: StatusDelivered, AttemptCount: 1, MaxAttempts: 3}
	assert.False(t, rec.Retryable())
}
