package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/baechuer/notification-fabric/internal/config"
)

// SendGrid API structures
type sendGridPersonalization struct {
	To []sendGridEmail `json:"to"`
}

type sendGridEmail struct {
	Email string `json:"email"`
	Name  string `json:"name,omitempty"`
}

type sendGridContent struct {
	Type  string `json:"type"`
	Value string `json:"value"`
}

type sendGridMessage struct {
	Personalizations []sendGridPersonalization `json:"personalizations"`
	From             sendGridEmail             `json:"from"`
	Subject          string                    `json:"subject"`
	Content          []sendGridContent         `json:"content"`
}

// SendGridProvider sends email through a SendGrid-compatible HTTP API.
// Success is HTTP 202 with the message id in the X-Message-Id header.
type SendGridProvider struct {
	apiKey   string
	apiURL   string
	from     string
	fromName string
	client   *http.Client
}

func NewSendGridProvider(cfg *config.Config) (*SendGridProvider, error) {
	if cfg.SendGridAPIKey == "" {
		return nil, fmt.Errorf("SENDGRID_API_KEY is required")
	}

	return &SendGridProvider{
		apiKey:   cfg.SendGridAPIKey,
		apiURL:   cfg.SendGridAPIURL,
		from:     cfg.FromAddress,
		fromName: cfg.FromName,
		client:   &http.Client{Timeout: cfg.HTTPTimeout},
	}, nil
}

// Send posts the mail envelope. 5xx/408/429 and transport errors are
// transient; any other non-202 status is permanent.
func (p *SendGridProvider) Send(ctx context.Context, msg *Message) SendResult {
	content := make([]sendGridContent, 0, 2)
	if msg.BodyText != "" {
		content = append(content, sendGridContent{Type: "text/plain", Value: msg.BodyText})
	}
	if msg.BodyHTML != "" {
		content = append(content, sendGridContent{Type: "text/html", Value: msg.BodyHTML})
	}
	if len(content) == 0 {
		return failure(p.Name(), "empty message body", false)
	}

	envelope := sendGridMessage{
		Personalizations: []sendGridPersonalization{
			{To: []sendGridEmail{{Email: msg.To}}},
		},
		From:    sendGridEmail{Email: p.from, Name: p.fromName},
		Subject: msg.Subject,
		Content: content,
	}

	data, err := json.Marshal(envelope)
	if err != nil {
		return failure(p.Name(), fmt.Sprintf("marshal failed: %v", err), false)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.apiURL, bytes.NewReader(data))
	if err != nil {
		return failure(p.Name(), fmt.Sprintf("request build failed: %v", err), false)
	}
	req.Header.Set("Authorization", "Bearer "+p.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return failure(p.Name(), fmt.Sprintf("request failed: %v", err), true)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusAccepted {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		transient := resp.StatusCode >= 500 ||
			resp.StatusCode == http.StatusRequestTimeout ||
			resp.StatusCode == http.StatusTooManyRequests
		return failure(p.Name(), fmt.Sprintf("%d %s", resp.StatusCode, string(body)), transient)
	}

	messageID := resp.Header.Get("X-Message-Id")
	if messageID == "" {
		messageID = "unknown"
	}

	return SendResult{OK: true, MessageID: messageID, Provider: p.Name()}
}

// Name returns the provider name
func (p *SendGridProvider) Name() string {
	return "sendgrid"
}
