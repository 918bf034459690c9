package router

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/wolfman30/clinic-booking/internal/booking"
	"github.com/wolfman30/clinic-booking/internal/http/handlers"
	httpmiddleware "github.com/wolfman30/clinic-booking/internal/http/middleware"
	"github.com/wolfman30/clinic-booking/internal/intake"
	"github.com/wolfman30/clinic-booking/internal/observability/metrics"
	"github.com/wolfman30/clinic-booking/internal/payments"
	"github.com/wolfman30/clinic-booking/internal/slots"
	"github.com/wolfman30/clinic-booking/internal/upstream"
	"github.com/wolfman30/clinic-booking/internal/workflow"
	"github.com/wolfman30/clinic-booking/pkg/logging"
)

type emptySlots struct{}

func (emptySlots) FetchSlots(context.Context, string, string) ([]slots.DaySlotGroup, error) {
	return nil, nil
}

type emptyProfiles struct{}

func (emptyProfiles) Profile(context.Context, string) (*intake.Intake, error) {
	return &intake.Intake{}, nil
}

type oneProvider struct{}

func (oneProvider) Provider(_ context.Context, _ string, id string) (*upstream.Provider, error) {
	return &upstream.Provider{ID: id}, nil
}

type noopSubmitter struct{}

func (noopSubmitter) Submit(context.Context, string, booking.Draft) (booking.Record, error) {
	return booking.Record{}, errors.New("not used")
}

type noopGateway struct{}

func (noopGateway) RequestHandoff(context.Context, string, string) (payments.Handoff, error) {
	return payments.Handoff{}, errors.New("not used")
}

func (noopGateway) VerifyPayment(context.Context, string, json.RawMessage) (payments.Verification, error) {
	return payments.Verification{}, errors.New("not used")
}

func newTestRouter(t *testing.T, checks map[string]HealthCheck) http.Handler {
	t.Helper()

	logger := logging.Discard()
	reg := prometheus.NewRegistry()
	m := metrics.NewWorkflowMetrics(reg)
	registry := workflow.NewRegistry(workflow.Deps{
		Slots:     emptySlots{},
		Profiles:  emptyProfiles{},
		Providers: oneProvider{},
		Submitter: noopSubmitter{},
		Gateway:   noopGateway{},
		Metrics:   m,
	}, time.Hour, m, logger)

	cfg := &Config{
		Logger:             logger,
		WorkflowHandler:    handlers.NewWorkflowHandler(registry, nil, logger),
		MetricsHandler:     promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
		CORSAllowedOrigins: []string{"https://app.example"},
		RateLimiter:        httpmiddleware.NewSessionLimiter(100, 100),
		HealthChecks:       checks,
	}
	return New(cfg)
}

func TestRouterHealthEndpoint(t *testing.T) {
	router := newTestRouter(t, nil)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, rr.Code)
	}
	var resp map[string]string
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode health response: %v", err)
	}
	if resp["status"] != "ok" {
		t.Errorf("expected status 'ok', got %q", resp["status"])
	}
}

func TestRouterHealthReportsFailingDependency(t *testing.T) {
	router := newTestRouter(t, map[string]HealthCheck{
		"redis":    func(context.Context) error { return nil },
		"postgres": func(context.Context) error { return errors.New("connection refused") },
	})

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/health", nil))

	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected status %d, got %d", http.StatusServiceUnavailable, rr.Code)
	}
	var resp map[string]string
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode health response: %v", err)
	}
	if resp["status"] != "degraded" || resp["redis"] != "ok" || resp["postgres"] != "connection refused" {
		t.Fatalf("unexpected health body: %v", resp)
	}
}

func TestRouterRequiresSessionForWorkflows(t *testing.T) {
	router := newTestRouter(t, nil)

	req := httptest.NewRequest(http.MethodPost, "/workflows", strings.NewReader(`{"providerId":"doc-1"}`))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected status %d, got %d", http.StatusUnauthorized, rr.Code)
	}

	req = httptest.NewRequest(http.MethodPost, "/workflows", strings.NewReader(`{"providerId":"doc-1"}`))
	req.Header.Set("token", "tok")
	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	if rr.Code != http.StatusCreated {
		t.Fatalf("expected status %d, got %d: %s", http.StatusCreated, rr.Code, rr.Body.String())
	}
}

func TestRouterExposesMetrics(t *testing.T) {
	router := newTestRouter(t, nil)

	req := httptest.NewRequest(http.MethodPost, "/workflows", strings.NewReader(`{"providerId":"doc-1"}`))
	req.Header.Set("token", "tok")
	router.ServeHTTP(httptest.NewRecorder(), req)

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, rr.Code)
	}
	if !strings.Contains(rr.Body.String(), "booking_workflow_active") {
		t.Fatalf("expected active workflow gauge in metrics output")
	}
}

func TestRouterCORSPreflight(t *testing.T) {
	router := newTestRouter(t, nil)

	req := httptest.NewRequest(http.MethodOptions, "/workflows", nil)
	req.Header.Set("Origin", "https://app.example")
	req.Header.Set("Access-Control-Request-Method", "POST")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusNoContent {
		t.Fatalf("expected status %d, got %d", http.StatusNoContent, rr.Code)
	}
	if got := rr.Header().Get("Access-Control-Allow-Origin"); got != "https://app.example" {
		t.Fatalf("expected allow origin header, got %q", got)
	}
}
