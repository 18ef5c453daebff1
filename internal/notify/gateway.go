package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// DefaultGatewayURL is the Expo push endpoint.
const DefaultGatewayURL = "https://exp.host/--/api/v2/push/send"

// Gateway posts notifications to an Expo-compatible push service.
type Gateway struct {
	url    string
	client *http.Client
}

// NewGateway creates a Gateway client for url.
func NewGateway(url string, timeout time.Duration) *Gateway {
	if url == "" {
		url = DefaultGatewayURL
	}
	return &Gateway{url: url, client: &http.Client{Timeout: timeout}}
}

type expoMessage struct {
	To    string            `json:"to"`
	Title string            `json:"title"`
	Body  string            `json:"body"`
	Sound string            `json:"sound"`
	Data  map[string]string `json:"data"`
}

type expoResponse struct {
	Data struct {
		Status  string `json:"status"`
		Message string `json:"message"`
	} `json:"data"`
}

// Send delivers one job and returns an error for transport failures, non-2xx
// responses and tickets the gateway marked as errors.
func (g *Gateway) Send(ctx context.Context, job Job) error {
	n := job.Notification
	data := map[string]string{
		"roomId":   n.RoomID,
		"senderId": n.SenderID,
	}
	if n.SenderAvatar != "" {
		data["senderAvatar"] = n.SenderAvatar
	}
	for k, v := range n.Metadata {
		data[k] = v
	}
	body, err := json.Marshal(expoMessage{
		To:    job.PushToken,
		Title: n.SenderName,
		Body:  n.Message,
		Sound: "default",
		Data:  data,
	})
	if err != nil {
		return fmt.Errorf("gateway: marshal: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("gateway: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := g.client.Do(req)
	if err != nil {
		return fmt.Errorf("gateway: post: %w", err)
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if resp.StatusCode/100 != 2 {
		return fmt.Errorf("gateway: status %d: %s", resp.StatusCode, bytes.TrimSpace(raw))
	}
	var out expoResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return fmt.Errorf("gateway: decode response: %w", err)
	}
	if out.Data.Status == "error" {
		return fmt.Errorf("gateway: rejected: %s", out.Data.Message)
	}
	return nil
}
