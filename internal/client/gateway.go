package client

import (
	"bytes"
	"context"
	"encoding/json"
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

// GatewayClient pushes delivery status back to the notification gateway.
// Callers treat failures as non-fatal; the gateway reconciles out-of-band.
type GatewayClient struct {
	baseURL string
	client  *http.Client
	lg      zerolog.Logger
}

func NewGatewayClient(baseURL string, timeout time.Duration) *GatewayClient {
	return &GatewayClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
		lg:      logger.WithComponent("gateway_client"),
	}
}

// StatusUpdate is the normalized payload PATCHed to the gateway.
type StatusUpdate struct {
	Channel           string     `json:"channel"`
	Status            string     `json:"status"`
	ProviderMessageID string     `json:"provider_message_id,omitempty"`
	SentAt            *time.Time `json:"sent_at,omitempty"`
	ErrorMessage      string     `json:"error_message,omitempty"`
}

// ReportStatus sends the record's current status, mapped to the gateway's
// external vocabulary.
func (c *GatewayClient) ReportStatus(ctx context.Context, rec *domain.DeliveryRecord) error {
	update := StatusUpdate{
		Channel:           string(rec.Channel),
		Status:            domain.ExternalStatus(rec.Status),
		ProviderMessageID: rec.ProviderMessageID,
		SentAt:            rec.SentAt,
		ErrorMessage:      rec.ErrorMessage,
	}
	return c.Report(ctx, rec.NotificationID, update)
}

// Report PATCHes the gateway's internal notification endpoint.
func (c *GatewayClient) Report(ctx context.Context, notificationID uuid.UUID, update StatusUpdate) error {
	data, err := json.Marshal(update)
	if err != nil {
		return apperrors.NewInternal("failed to marshal status update")
	}

	url := fmt.Sprintf("%s/internal/notifications/%s", c.baseURL, notificationID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPatch, url, bytes.NewReader(data))
	if err != nil {
		return apperrors.NewInternal("failed to build status update request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		c.lg.Warn().Err(err).Msg("notification gateway unreachable")
		return apperrors.NewRetryableError("notification gateway unreachable", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		c.lg.Warn().Int("status", resp.StatusCode).Str("notification_id", notificationID.String()).Msg("gateway status report rejected")
		if retryableStatus(resp.StatusCode) {
			return apperrors.NewRetryableError(fmt.Sprintf("gateway returned %d", resp.StatusCode), nil)
		}
		return apperrors.NewPermanentFailure(fmt.Sprintf("gateway returned %d", resp.StatusCode), nil)
	}
	return nil
}
