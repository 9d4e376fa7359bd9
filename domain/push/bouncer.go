package push

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/banterhq/banter/internal/queue"
	"github.com/banterhq/banter/pkg/logger"
)

// Bouncer forwards one push event to the notification bouncer service.
type Bouncer interface {
	Notify(ctx context.Context, event Event) error
}

// HTTPBouncer posts events to the bouncer's notify endpoint.
type HTTPBouncer struct {
	baseURL string
	token   string
	client  *http.Client
	log     *slog.Logger
}

// NewHTTPBouncer builds a bouncer client for the given base URL.
func NewHTTPBouncer(baseURL, token string, timeout time.Duration, log *slog.Logger) *HTTPBouncer {
	return &HTTPBouncer{
		baseURL: baseURL,
		token:   token,
		client:  &http.Client{Timeout: timeout},
		log:     log.With(logger.Scope("push.bouncer")),
	}
}

// Notify posts the event. Network errors and 5xx responses are retryable;
// any other non-2xx status means the bouncer rejected the payload, which a
// retry cannot fix.
func (b *HTTPBouncer) Notify(ctx context.Context, event Event) error {
	body, err := json.Marshal(event)
	if err != nil {
		return queue.Permanent(fmt.Errorf("encode push event: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.baseURL+"/api/v1/remotes/push/notify", bytes.NewReader(body))
	if err != nil {
		return queue.Permanent(fmt.Errorf("build bouncer request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	if b.token != "" {
		req.Header.Set("Authorization", "Bearer "+b.token)
	}

	resp, err := b.client.Do(req)
	if err != nil {
		return fmt.Errorf("bouncer request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}

	detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	if resp.StatusCode >= 500 {
		return fmt.Errorf("bouncer returned %d: %s", resp.StatusCode, detail)
	}
	return queue.Permanent(fmt.Errorf("bouncer rejected event with %d: %s", resp.StatusCode, detail))
}

// noOpBouncer logs and drops events when no bouncer is configured.
type noOpBouncer struct {
	log *slog.Logger
}

func (b *noOpBouncer) Notify(ctx context.Context, event Event) error {
	b.log.Info("push event dropped (no bouncer configured)",
		slog.String("type", event.Type),
		slog.Int64("user_id", event.UserID))
	return nil
}
