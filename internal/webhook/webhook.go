// Package webhook delivers terminal task notifications. A notification is
// at-least-once: a few bounded retries, then give up. Delivery never feeds
// back into task state; the receiver learns the outcome, the task record
// only logs it.
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/MrWong99/castforge/internal/observe"
	"github.com/MrWong99/castforge/internal/task"
)

// Delivery policy.
const (
	maxAttempts    = 3
	attemptTimeout = 10 * time.Second
	backoffBase    = time.Second
)

// Payload is the JSON body POSTed to the webhook URL.
type Payload struct {
	TaskID    string      `json:"task_id"`
	Status    task.Status `json:"status"`
	Timestamp string      `json:"timestamp"`

	// IdempotencyKey is stable per task and terminal status, so receivers
	// can deduplicate redelivered notifications.
	IdempotencyKey string `json:"idempotency_key"`

	// Result is set for completed tasks, null otherwise.
	Result *task.Episode `json:"result"`

	// Error is set for failed tasks, null otherwise.
	Error *task.Error `json:"error"`
}

// NewPayload builds the notification payload for a terminal record.
func NewPayload(rec *task.Record) Payload {
	return Payload{
		TaskID:         rec.TaskID,
		Status:         rec.Status,
		Timestamp:      time.Now().UTC().Format(time.RFC3339),
		IdempotencyKey: fmt.Sprintf("%s:%s", rec.TaskID, rec.Status),
		Result:         rec.Episode,
		Error:          rec.Error,
	}
}

// Notifier posts terminal notifications.
type Notifier struct {
	client  *http.Client
	metrics *observe.Metrics
	backoff time.Duration
}

// Option configures a [Notifier].
type Option func(*Notifier)

// WithHTTPClient overrides the HTTP client. The per-attempt timeout still
// applies through the request context.
func WithHTTPClient(c *http.Client) Option {
	return func(n *Notifier) {
		n.client = c
	}
}

// WithBackoff overrides the base retry backoff. Mainly for tests.
func WithBackoff(d time.Duration) Option {
	return func(n *Notifier) {
		if d > 0 {
			n.backoff = d
		}
	}
}

// WithMetrics overrides the metrics instance.
func WithMetrics(m *observe.Metrics) Option {
	return func(n *Notifier) {
		n.metrics = m
	}
}

// New creates a [Notifier].
func New(opts ...Option) *Notifier {
	n := &Notifier{
		client:  &http.Client{},
		backoff: backoffBase,
	}
	for _, opt := range opts {
		opt(n)
	}
	if n.metrics == nil {
		n.metrics = observe.DefaultMetrics()
	}
	return n
}

// NotifyTerminal posts the payload to url, retrying non-2xx responses and
// transport errors up to the attempt budget. The returned error reports
// the final failure; callers log it against the task, nothing more.
func (n *Notifier) NotifyTerminal(ctx context.Context, url string, payload Payload) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("webhook: marshal payload: %w", err)
	}

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("webhook: notify %s: %w", payload.TaskID, err)
		}

		lastErr = n.post(ctx, url, body, payload.IdempotencyKey)
		if lastErr == nil {
			n.metrics.RecordWebhookDelivery(ctx, true)
			slog.Info("webhook delivered",
				"task_id", payload.TaskID,
				"status", payload.Status,
				"attempt", attempt)
			return nil
		}

		slog.Warn("webhook delivery failed",
			"task_id", payload.TaskID,
			"attempt", attempt,
			"max_attempts", maxAttempts,
			"error", lastErr)

		if attempt == maxAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("webhook: notify %s: %w", payload.TaskID, ctx.Err())
		case <-time.After(n.backoff << (attempt - 1)):
		}
	}

	n.metrics.RecordWebhookDelivery(ctx, false)
	return fmt.Errorf("webhook: notify %s after %d attempts: %w", payload.TaskID, maxAttempts, lastErr)
}

// post performs one delivery attempt. Any 2xx status counts as delivered.
func (n *Notifier) post(ctx context.Context, url string, body []byte, idempotencyKey string) error {
	ctx, cancel := context.WithTimeout(ctx, attemptTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Delivery-ID", uuid.NewString())
	req.Header.Set("X-Idempotency-Key", idempotencyKey)

	resp, err := n.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	// Drain so the connection can be reused.
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("receiver returned %s", resp.Status)
	}
	return nil
}
