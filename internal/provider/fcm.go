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

type fcmNotification struct {
	Title string `json:"title"`
	Body  string `json:"body"`
	Image string `json:"image,omitempty"`
}

type fcmPayload struct {
	To           string          `json:"to"`
	Notification fcmNotification `json:"notification"`
	Data         map[string]any  `json:"data,omitempty"`
	Priority     string          `json:"priority"`
}

type fcmResponse struct {
	Success   int `json:"success"`
	Failure   int `json:"failure"`
	MessageID any `json:"message_id,omitempty"`
	Results   []struct {
		MessageID string `json:"message_id"`
		Error     string `json:"error"`
	} `json:"results"`
}

// FCMProvider pushes through an FCM-style legacy HTTP gateway. Success is
// HTTP 200 with success:1 in the body.
type FCMProvider struct {
	serverKey string
	apiURL    string
	client    *http.Client
}

func NewFCMProvider(cfg *config.Config) (*FCMProvider, error) {
	return &FCMProvider{
		serverKey: cfg.FCMServerKey,
		apiURL:    cfg.FCMAPIURL,
		client:    &http.Client{Timeout: cfg.HTTPTimeout},
	}, nil
}

func (p *FCMProvider) Send(ctx context.Context, msg *Message) SendResult {
	priority := "normal"
	if msg.Priority == 0 {
		priority = "high"
	}

	payload := fcmPayload{
		To: msg.To,
		Notification: fcmNotification{
			Title: msg.Title,
			Body:  msg.Body,
			Image: msg.Image,
		},
		Data:     msg.Data,
		Priority: priority,
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return failure(p.Name(), fmt.Sprintf("marshal failed: %v", err), false)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.apiURL, bytes.NewReader(data))
	if err != nil {
		return failure(p.Name(), fmt.Sprintf("request build failed: %v", err), false)
	}
	req.Header.Set("Authorization", "key="+p.serverKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return failure(p.Name(), fmt.Sprintf("request failed: %v", err), true)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		transient := resp.StatusCode >= 500 ||
			resp.StatusCode == http.StatusRequestTimeout ||
			resp.StatusCode == http.StatusTooManyRequests
		return failure(p.Name(), fmt.Sprintf("%d %s", resp.StatusCode, string(body)), transient)
	}

	var parsed fcmResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return failure(p.Name(), fmt.Sprintf("invalid response: %v", err), true)
	}
	if parsed.Success < 1 {
		reason := "unknown"
		if len(parsed.Results) > 0 && parsed.Results[0].Error != "" {
			reason = parsed.Results[0].Error
		}
		// NotRegistered / InvalidRegistration mean the token is dead
		transient := reason != "NotRegistered" && reason != "InvalidRegistration" && reason != "MismatchSenderId"
		return failure(p.Name(), "fcm rejected message: "+reason, transient)
	}

	messageID := "unknown"
	if len(parsed.Results) > 0 && parsed.Results[0].MessageID != "" {
		messageID = parsed.Results[0].MessageID
	} else if id, ok := parsed.MessageID.(string); ok && id != "" {
		messageID = id
	} else if id, ok := parsed.MessageID.(float64); ok {
		messageID = fmt.Sprintf("%.0f", id)
	}

	return SendResult{OK: true, MessageID: messageID, Provider: p.Name()}
}

// Name returns the provider name
func (p *FCMProvider) Name() string {
	return "fcm"
}
