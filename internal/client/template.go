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

// TemplateClient renders notification templates via the template service.
type TemplateClient struct {
	baseURL string
	client  *http.Client
	lg      zerolog.Logger
}

func NewTemplateClient(baseURL string, timeout time.Duration) *TemplateClient {
	return &TemplateClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
		lg:      logger.WithComponent("template_client"),
	}
}

type renderRequest struct {
	TemplateID   *uuid.UUID     `json:"template_id,omitempty"`
	TemplateCode string         `json:"template_code,omitempty"`
	Variables    map[string]any `json:"variables"`
}

// Render resolves the template by id or code and substitutes variables.
// The response carries both the email and push field shapes.
func (c *TemplateClient) Render(ctx context.Context, templateID uuid.UUID, templateCode string, variables map[string]any) (*domain.RenderedTemplate, error) {
	if variables == nil {
		variables = map[string]any{}
	}
	reqBody := renderRequest{TemplateCode: templateCode, Variables: variables}
	if templateID != uuid.Nil {
		reqBody.TemplateID = &templateID
	}

	data, err := json.Marshal(reqBody)
	if err != nil {
		return nil, apperrors.NewInternal("failed to marshal render request")
	}

	url := c.baseURL + "/templates/render"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return nil, apperrors.NewInternal("failed to build render request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		c.lg.Warn().Err(err).Msg("template service unreachable")
		return nil, apperrors.NewRetryableError("template service unreachable", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		c.lg.Warn().Int("status", resp.StatusCode).Msg("template service error")
		if retryableStatus(resp.StatusCode) {
			return nil, apperrors.NewRetryableError(fmt.Sprintf("template service returned %d", resp.StatusCode), nil)
		}
		return nil, apperrors.NewRenderFailed(fmt.Sprintf("template service returned %d", resp.StatusCode), nil)
	}

	var rendered domain.RenderedTemplate
	ok, err := decodeEnvelope(resp.Body, &rendered)
	if err != nil {
		return nil, apperrors.NewRenderFailed("invalid render response", err)
	}
	if !ok {
		return nil, apperrors.NewRenderFailed("template service reported failure", nil)
	}
	return &rendered, nil
}
