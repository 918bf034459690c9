// Package upstream talks to the clinic platform that owns slots, patient
// profiles, providers and appointments. Every call forwards the caller's
// session token untouched.
package upstream

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

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/wolfman30/clinic-booking/pkg/logging"
)

var upstreamTracer = otel.Tracer("booking.internal.upstream")

var (
	// ErrNotFound is returned when the platform answers 404.
	ErrNotFound = errors.New("upstream: not found")
	// ErrMissingToken is returned when a call is attempted without a session token.
	ErrMissingToken = errors.New("upstream: session token required")
)

// StatusError describes a non-2xx answer from the platform.
type StatusError struct {
	Op         string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("upstream: %s: status %d: %s", e.Op, e.StatusCode, e.Body)
}

// APIError is returned when the platform answers 200 with success=false.
type APIError struct {
	Op      string
	Message string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("upstream: %s: request rejected", e.Op)
	}
	return fmt.Sprintf("upstream: %s: %s", e.Op, e.Message)
}

// LatencyObserver receives the duration of each upstream call.
type LatencyObserver interface {
	ObserveUpstream(op, outcome string, seconds float64)
}

// Client is a JSON HTTP client for the clinic platform.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *logging.Logger
	observer   LatencyObserver
}

// NewClient creates a platform client. A zero timeout defaults to 10s.
func NewClient(baseURL string, timeout time.Duration, logger *logging.Logger) *Client {
	if logger == nil {
		logger = logging.Default()
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL:    strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger,
	}
}

// WithHTTPClient swaps the transport (tests, custom TLS).
func (c *Client) WithHTTPClient(hc *http.Client) *Client {
	if hc != nil {
		c.httpClient = hc
	}
	return c
}

// WithObserver attaches a latency observer.
func (c *Client) WithObserver(o LatencyObserver) *Client {
	c.observer = o
	return c
}

// Do performs a JSON call against the platform, forwarding the session token.
// out may be nil when the response body is not needed.
func (c *Client) Do(ctx context.Context, op, method, path, token string, body any, out any) (err error) {
	if strings.TrimSpace(token) == "" {
		return ErrMissingToken
	}

	ctx, span := upstreamTracer.Start(ctx, "upstream."+op, trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()
	span.SetAttributes(attribute.String("http.method", method), attribute.String("upstream.path", path))

	start := time.Now()
	defer func() {
		if c.observer == nil {
			return
		}
		outcome := "ok"
		if err != nil {
			outcome = "error"
		}
		c.observer.ObserveUpstream(op, outcome, time.Since(start).Seconds())
	}()

	var reader io.Reader
	if body != nil {
		payload, merr := json.Marshal(body)
		if merr != nil {
			return fmt.Errorf("upstream: %s: marshal: %w", op, merr)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("upstream: %s: request: %w", op, err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("token", token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("upstream: %s: http: %w", op, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return fmt.Errorf("upstream: %s: %w", op, ErrNotFound)
	}
	if resp.StatusCode >= http.StatusMultipleChoices {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		serr := &StatusError{Op: op, StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(raw))}
		span.RecordError(serr)
		return serr
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("upstream: %s: decode: %w", op, err)
	}
	return nil
}
