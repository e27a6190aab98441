// Package relay forwards finalized batches to the spreadsheet backend
// and serves the pass-through proxy plus result downloads over HTTP.
package relay

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/shelfgrab/shelfgrab/models"
)

// DeliveryState tracks the outcome of one batch forwarding attempt.
type DeliveryState string

const (
	DeliveryPending   DeliveryState = "pending"
	DeliveryDelivered DeliveryState = "delivered"
	DeliveryFailed    DeliveryState = "failed"
)

// Delivery records what happened to one forwarded batch, so the
// fire-and-forget forwarding still has an observable outcome.
type Delivery struct {
	Timestamp string        `json:"timestamp"`
	State     DeliveryState `json:"state"`
	SentAt    time.Time     `json:"sent_at"`
	Error     string        `json:"error,omitempty"`
	Response  string        `json:"response,omitempty"`
}

// Client posts JSON batches to the relay endpoint. Failures are
// recorded and reported, never retried.
type Client struct {
	url    string
	client *http.Client

	mu         sync.Mutex
	deliveries map[string]*Delivery
}

// NewClient builds a relay client for the given endpoint.
func NewClient(url string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		url:        url,
		client:     &http.Client{Timeout: timeout},
		deliveries: make(map[string]*Delivery),
	}
}

// Forward posts the batch body to the relay endpoint and records the
// delivery outcome under the batch timestamp.
func (c *Client) Forward(ctx context.Context, timestamp string, batch models.Batch) error {
	delivery := &Delivery{
		Timestamp: timestamp,
		State:     DeliveryPending,
		SentAt:    time.Now(),
	}
	c.mu.Lock()
	c.deliveries[timestamp] = delivery
	c.mu.Unlock()

	err := c.post(ctx, batch, delivery)
	c.mu.Lock()
	if err != nil {
		delivery.State = DeliveryFailed
		delivery.Error = err.Error()
	} else {
		delivery.State = DeliveryDelivered
	}
	c.mu.Unlock()
	return err
}

func (c *Client) post(ctx context.Context, batch models.Batch, delivery *Delivery) error {
	body, err := json.Marshal(batch)
	if err != nil {
		return fmt.Errorf("encode batch: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build relay request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("post batch: %w", err)
	}
	defer resp.Body.Close()

	text, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	delivery.Response = string(text)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("relay responded %d", resp.StatusCode)
	}
	return nil
}

// Delivery returns the recorded outcome for a batch timestamp.
func (c *Client) Delivery(timestamp string) (Delivery, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	d, ok := c.deliveries[timestamp]
	if !ok {
		return Delivery{}, false
	}
	return *d, true
}
