package client

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/baechuer/notification-fabric/internal/apperrors"
	"github.com/baechuer/notification-fabric/internal/domain"
	"github.com/baechuer/notification-fabric/internal/logger"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// UserClient fetches preference snapshots and push tokens from the user service.
type UserClient struct {
	baseURL string
	client  *http.Client
	lg      zerolog.Logger
}

func NewUserClient(baseURL string, timeout time.Duration) *UserClient {
	return &UserClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
		lg:      logger.WithComponent("user_client"),
	}
}

// GetPreferences fetches the user's notification preferences.
func (c *UserClient) GetPreferences(ctx context.Context, userID uuid.UUID) (*domain.UserPreferenceSnapshot, error) {
	url := fmt.Sprintf("%s/users/%s/preferences", c.baseURL, userID)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, apperrors.NewInternal("failed to build preferences request")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		c.lg.Warn().Err(err).Msg("user service unreachable")
		return nil, apperrors.NewRetryableError("user service unreachable", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode == http.StatusNotFound:
		return nil, &apperrors.AppError{
			Code:    apperrors.ErrCodePreferencesNotFound,
			Message: fmt.Sprintf("no preferences for user %s", userID),
		}
	case retryableStatus(resp.StatusCode):
		c.lg.Warn().Int("status", resp.StatusCode).Msg("user service error")
		return nil, apperrors.NewRetryableError(fmt.Sprintf("user service returned %d", resp.StatusCode), nil)
	default:
		c.lg.Warn().Int("status", resp.StatusCode).Msg("user service error")
		return nil, apperrors.NewPermanentFailure(fmt.Sprintf("user service returned %d", resp.StatusCode), nil)
	}

	var prefs domain.UserPreferenceSnapshot
	ok, err := decodeEnvelope(resp.Body, &prefs)
	if err != nil {
		return nil, apperrors.NewRetryableError("invalid preferences response", err)
	}
	if !ok {
		// The service answered but carries no snapshot for this user.
		return nil, &apperrors.AppError{
			Code:    apperrors.ErrCodePreferencesNotFound,
			Message: fmt.Sprintf("no preferences for user %s", userID),
		}
	}
	return &prefs, nil
}

// GetPushToken fetches the user's device token for the push channel.
func (c *UserClient) GetPushToken(ctx context.Context, userID uuid.UUID) (string, error) {
	url := fmt.Sprintf("%s/users/%s/push-token", c.baseURL, userID)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", apperrors.NewInternal("failed to build push token request")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		c.lg.Warn().Err(err).Msg("user service unreachable")
		return "", apperrors.NewRetryableError("user service unreachable", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return "", nil // user has no registered device
	}
	if resp.StatusCode != http.StatusOK {
		c.lg.Warn().Int("status", resp.StatusCode).Msg("user service error")
		if retryableStatus(resp.StatusCode) {
			return "", apperrors.NewRetryableError(fmt.Sprintf("user service returned %d", resp.StatusCode), nil)
		}
		return "", apperrors.NewPermanentFailure(fmt.Sprintf("user service returned %d", resp.StatusCode), nil)
	}

	var body struct {
		Token string `json:"token"`
	}
	ok, err := decodeEnvelope(resp.Body, &body)
	if err != nil {
		return "", apperrors.NewRetryableError("invalid push token response", err)
	}
	if !ok {
		return "", nil
	}
	return body.Token, nil
}

// retryableStatus: 5xx plus the two 4xx codes that signal congestion.
func retryableStatus(code int) bool {
	return code >= 500 || code == http.StatusRequestTimeout || code == http.StatusTooManyRequests
}
