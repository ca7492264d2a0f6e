// Package notify sends WhatsApp messages through the notification edge
// function and records admin notifications.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

var (
	// ErrNoTarget indicates the recipient has no usable WhatsApp number.
	ErrNoTarget = errors.New("notify: whatsapp target missing")
	// ErrDelivery indicates the gateway refused or failed the message.
	ErrDelivery = errors.New("notify: whatsapp delivery failed")
)

// Sender delivers one WhatsApp message.
type Sender interface {
	Send(ctx context.Context, target, message string) error
}

// Client calls the send-whatsapp-notification edge function.
type Client struct {
	Endpoint string
	Key      string
	HTTP     *http.Client
}

// NewClient constructs a Client with its own timeout.
func NewClient(endpoint, key string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Client{Endpoint: endpoint, Key: key, HTTP: &http.Client{Timeout: timeout}}
}

type sendRequest struct {
	Target  string `json:"target"`
	Message string `json:"message"`
}

type sendResponse struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data,omitempty"`
	Message string          `json:"message,omitempty"`
}

// Send posts {target, message} and checks the {success} envelope.
func (c *Client) Send(ctx context.Context, target, message string) error {
	target = NormalizeNumber(target)
	if target == "" {
		return ErrNoTarget
	}
	body, err := json.Marshal(sendRequest{Target: target, Message: message})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.Endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.Key != "" {
		req.Header.Set("Authorization", "Bearer "+c.Key)
		req.Header.Set("apikey", c.Key)
	}
	client := c.HTTP
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrDelivery, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("%w: read response: %v", ErrDelivery, err)
	}
	var out sendResponse
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &out); err != nil && resp.StatusCode < 300 {
			return fmt.Errorf("%w: decode response: %v", ErrDelivery, err)
		}
	}
	if resp.StatusCode >= 300 {
		return fmt.Errorf("%w: status %d: %s", ErrDelivery, resp.StatusCode, strings.TrimSpace(out.Message))
	}
	if !out.Success {
		return fmt.Errorf("%w: %s", ErrDelivery, out.Message)
	}
	return nil
}

// NormalizeNumber converts local Indonesian numbers to the 62… form the gateway expects.
func NormalizeNumber(raw string) string {
	var b strings.Builder
	for _, r := range raw {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	digits := b.String()
	switch {
	case digits == "":
		return ""
	case strings.HasPrefix(digits, "62"):
		return digits
	case strings.HasPrefix(digits, "0"):
		return "62" + digits[1:]
	case strings.HasPrefix(digits, "8"):
		return "62" + digits
	default:
		return digits
	}
}
