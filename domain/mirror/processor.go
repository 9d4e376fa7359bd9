package mirror

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/banterhq/banter/pkg/logger"
)

// IngestRequest is one mirrored email handed to the platform for message
// creation.
type IngestRequest struct {
	RcptTo  string `json:"rcpt_to"`
	Message string `json:"message"`
	RealmID int64  `json:"realm_id,omitempty"`
}

// Processor turns one mirrored email into a platform message.
type Processor interface {
	Ingest(ctx context.Context, req IngestRequest) error
}

// HTTPProcessor posts mirrored emails to the platform's internal ingest
// endpoint.
type HTTPProcessor struct {
	url    string
	client *http.Client
	log    *slog.Logger
}

// NewHTTPProcessor builds a processor for the given ingest URL.
func NewHTTPProcessor(url string, timeout time.Duration, log *slog.Logger) *HTTPProcessor {
	return &HTTPProcessor{
		url:    url,
		client: &http.Client{Timeout: timeout},
		log:    log.With(logger.Scope("mirror.processor")),
	}
}

// Ingest posts the request. Any failure is retryable: the ingest endpoint is
// our own service and comes back.
func (p *HTTPProcessor) Ingest(ctx context.Context, req IngestRequest) error {
	body, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("encode ingest request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build ingest request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return fmt.Errorf("ingest request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	return fmt.Errorf("ingest returned %d: %s", resp.StatusCode, detail)
}

// noOpProcessor logs and drops mirrored emails when no ingest endpoint is
// configured.
type noOpProcessor struct {
	log *slog.Logger
}

func (p *noOpProcessor) Ingest(ctx context.Context, req IngestRequest) error {
	p.log.Info("mirrored email dropped (no ingest endpoint configured)",
		slog.String("rcpt_to", req.RcptTo))
	return nil
}
