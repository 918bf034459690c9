package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/wolfman30/clinic-booking/internal/booking"
	"github.com/wolfman30/clinic-booking/internal/intake"
	"github.com/wolfman30/clinic-booking/internal/session"
	"github.com/wolfman30/clinic-booking/internal/slots"
	"github.com/wolfman30/clinic-booking/internal/upstream"
	"github.com/wolfman30/clinic-booking/internal/workflow"
	"github.com/wolfman30/clinic-booking/pkg/logging"
)

const maxBodyBytes = 64 << 10

var requestValidator = validator.New()

// BookingCanceller cancels confirmed bookings.
type BookingCanceller interface {
	CancelAppointment(ctx context.Context, token, bookingID string) error
}

// WorkflowHandler exposes booking workflows over HTTP.
type WorkflowHandler struct {
	registry  *workflow.Registry
	canceller BookingCanceller
	logger    *logging.Logger
}

// NewWorkflowHandler creates a workflow handler.
func NewWorkflowHandler(registry *workflow.Registry, canceller BookingCanceller, logger *logging.Logger) *WorkflowHandler {
	if logger == nil {
		logger = logging.Default()
	}
	return &WorkflowHandler{registry: registry, canceller: canceller, logger: logger}
}

type createWorkflowRequest struct {
	ProviderID string `json:"providerId" validate:"required"`
}

type selectSlotRequest struct {
	Date string `json:"date" validate:"required"`
	Time string `json:"time" validate:"required"`
}

type settlementRequest struct {
	Path string `json:"path" validate:"required"`
}

type editIntakeRequest struct {
	Field string `json:"field" validate:"required"`
	Value string `json:"value"`
}

type resumePaymentRequest struct {
	WorkflowID string `json:"workflowId"`
}

// Routes mounts the workflow and booking endpoints. Callers must already
// carry a session token in context.
func (h *WorkflowHandler) Routes(r chi.Router) {
	r.Post("/workflows", h.Create)
	r.Route("/workflows/{workflowID}", func(wr chi.Router) {
		wr.Get("/", h.Get)
		wr.Post("/refresh", h.Refresh)
		wr.Post("/slot", h.SelectSlot)
		wr.Post("/settlement", h.ChooseSettlement)
		wr.Post("/book", h.Book)
		wr.Patch("/intake", h.EditIntake)
		wr.Post("/intake/cancel", h.CancelIntake)
		wr.Post("/intake/submit", h.SubmitIntake)
		wr.Post("/payment/checkout", h.Checkout)
		wr.Post("/payment/callback", h.PaymentCallback)
		wr.Post("/payment/abandon", h.Abandon)
	})
	r.Post("/bookings/{bookingID}/payment", h.ResumePayment)
	r.Post("/bookings/{bookingID}/cancel", h.CancelBooking)
}

// Create starts a workflow for a provider and loads its availability.
func (h *WorkflowHandler) Create(w http.ResponseWriter, r *http.Request) {
	token, ok := session.TokenFromContext(r.Context())
	if !ok {
		jsonError(w, "missing session token", http.StatusUnauthorized)
		return
	}
	var req createWorkflowRequest
	if !decodeBody(w, r, &req) {
		return
	}
	wf, err := h.registry.Create(token, strings.TrimSpace(req.ProviderID))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if err := wf.Load(r.Context()); err != nil {
		h.registry.Remove(wf.ID())
		h.fail(w, r, err)
		return
	}
	h.logger.Info("workflow created", "workflow_id", wf.ID(), "provider_id", req.ProviderID, "session", session.Fingerprint(token))
	writeJSON(w, http.StatusCreated, wf.Snapshot())
}

// Get returns the workflow snapshot.
func (h *WorkflowHandler) Get(w http.ResponseWriter, r *http.Request) {
	wf, ok := h.lookup(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, wf.Snapshot())
}

// Refresh reloads slots, profile and provider.
func (h *WorkflowHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	h.apply(w, r, func(wf *workflow.Workflow) error {
		return wf.Load(r.Context())
	})
}

// SelectSlot picks a slot by calendar key and time label.
func (h *WorkflowHandler) SelectSlot(w http.ResponseWriter, r *http.Request) {
	var req selectSlotRequest
	h.applyWithBody(w, r, &req, func(wf *workflow.Workflow) error {
		if _, err := slots.ParseCalendarKey(req.Date); err != nil {
			return badRequest(err)
		}
		return wf.SelectSlot(slots.CalendarKey(req.Date), req.Time)
	})
}

// ChooseSettlement records cash or online.
func (h *WorkflowHandler) ChooseSettlement(w http.ResponseWriter, r *http.Request) {
	var req settlementRequest
	h.applyWithBody(w, r, &req, func(wf *workflow.Workflow) error {
		path, err := intake.ParseSettlementPath(req.Path)
		if err != nil {
			return badRequest(err)
		}
		return wf.ChooseSettlement(path)
	})
}

// Book runs the completeness gate and either submits or opens intake.
func (h *WorkflowHandler) Book(w http.ResponseWriter, r *http.Request) {
	h.apply(w, r, func(wf *workflow.Workflow) error {
		return wf.Book(r.Context())
	})
}

// EditIntake sets one intake field.
func (h *WorkflowHandler) EditIntake(w http.ResponseWriter, r *http.Request) {
	var req editIntakeRequest
	h.applyWithBody(w, r, &req, func(wf *workflow.Workflow) error {
		field, err := intake.ParseField(req.Field)
		if err != nil {
			return badRequest(err)
		}
		_, err = wf.EditIntake(field, req.Value)
		return err
	})
}

// CancelIntake discards the intake draft.
func (h *WorkflowHandler) CancelIntake(w http.ResponseWriter, r *http.Request) {
	h.apply(w, r, func(wf *workflow.Workflow) error {
		return wf.CancelIntake()
	})
}

// SubmitIntake validates the form and submits the reservation.
func (h *WorkflowHandler) SubmitIntake(w http.ResponseWriter, r *http.Request) {
	h.apply(w, r, func(wf *workflow.Workflow) error {
		return wf.SubmitIntake(r.Context())
	})
}

// Checkout returns the gateway order for the checkout UI.
func (h *WorkflowHandler) Checkout(w http.ResponseWriter, r *http.Request) {
	wf, ok := h.lookup(w, r)
	if !ok {
		return
	}
	handoff, err := wf.Checkout()
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, handoff)
}

// PaymentCallback forwards the raw gateway callback to the workflow and
// waits for verification.
func (h *WorkflowHandler) PaymentCallback(w http.ResponseWriter, r *http.Request) {
	wf, ok := h.lookup(w, r)
	if !ok {
		return
	}
	raw, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		jsonError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if err := wf.Deliver(r.Context(), json.RawMessage(raw)); err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, wf.Snapshot())
}

// Abandon records that checkout closed without payment.
func (h *WorkflowHandler) Abandon(w http.ResponseWriter, r *http.Request) {
	h.apply(w, r, func(wf *workflow.Workflow) error {
		return wf.Abandon()
	})
}

// ResumePayment opens a new checkout for an unpaid online booking, either on
// an existing workflow or on a fresh one created for the booking.
func (h *WorkflowHandler) ResumePayment(w http.ResponseWriter, r *http.Request) {
	token, ok := session.TokenFromContext(r.Context())
	if !ok {
		jsonError(w, "missing session token", http.StatusUnauthorized)
		return
	}
	bookingID := strings.TrimSpace(chi.URLParam(r, "bookingID"))
	var req resumePaymentRequest
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		jsonError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if len(strings.TrimSpace(string(body))) > 0 {
		if err := json.Unmarshal(body, &req); err != nil {
			jsonError(w, "invalid request body", http.StatusBadRequest)
			return
		}
	}

	status := http.StatusOK
	var wf *workflow.Workflow
	if id := strings.TrimSpace(req.WorkflowID); id != "" {
		wf, err = h.registry.Get(id, token)
	} else {
		wf, err = h.registry.Create(token, "")
		status = http.StatusCreated
	}
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if err := wf.ResumePayment(r.Context(), bookingID); err != nil {
		if status == http.StatusCreated {
			h.registry.Remove(wf.ID())
		}
		h.fail(w, r, err)
		return
	}
	writeJSON(w, status, wf.Snapshot())
}

// CancelBooking cancels a booking with the platform.
func (h *WorkflowHandler) CancelBooking(w http.ResponseWriter, r *http.Request) {
	token, ok := session.TokenFromContext(r.Context())
	if !ok {
		jsonError(w, "missing session token", http.StatusUnauthorized)
		return
	}
	bookingID := strings.TrimSpace(chi.URLParam(r, "bookingID"))
	if bookingID == "" {
		jsonError(w, "missing bookingID", http.StatusBadRequest)
		return
	}
	if h.canceller == nil {
		jsonError(w, "cancellation unavailable", http.StatusServiceUnavailable)
		return
	}
	if err := h.canceller.CancelAppointment(r.Context(), token, bookingID); err != nil {
		h.fail(w, r, err)
		return
	}
	h.logger.Info("booking cancelled", "booking_id", bookingID, "session", session.Fingerprint(token))
	writeJSON(w, http.StatusOK, map[string]any{"bookingId": bookingID, "cancelled": true})
}

func (h *WorkflowHandler) lookup(w http.ResponseWriter, r *http.Request) (*workflow.Workflow, bool) {
	token, ok := session.TokenFromContext(r.Context())
	if !ok {
		jsonError(w, "missing session token", http.StatusUnauthorized)
		return nil, false
	}
	wf, err := h.registry.Get(chi.URLParam(r, "workflowID"), token)
	if err != nil {
		h.fail(w, r, err)
		return nil, false
	}
	return wf, true
}

func (h *WorkflowHandler) apply(w http.ResponseWriter, r *http.Request, op func(*workflow.Workflow) error) {
	wf, ok := h.lookup(w, r)
	if !ok {
		return
	}
	if err := op(wf); err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, wf.Snapshot())
}

func (h *WorkflowHandler) applyWithBody(w http.ResponseWriter, r *http.Request, dst any, op func(*workflow.Workflow) error) {
	wf, ok := h.lookup(w, r)
	if !ok {
		return
	}
	if !decodeBody(w, r, dst) {
		return
	}
	if err := op(wf); err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, wf.Snapshot())
}

func (h *WorkflowHandler) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error("workflow request failed", "path", r.URL.Path, "status", status, "error", err)
	} else {
		h.logger.Debug("workflow request rejected", "path", r.URL.Path, "status", status, "error", err)
	}
	jsonError(w, err.Error(), status)
}

type requestError struct{ err error }

func (e *requestError) Error() string { return e.err.Error() }
func (e *requestError) Unwrap() error { return e.err }

func badRequest(err error) error { return &requestError{err: err} }

// statusFor maps domain errors onto HTTP statuses.
func statusFor(err error) int {
	var (
		reqErr      *requestError
		gateErr     *intake.GateValidationError
		conflictErr *booking.ReservationConflictError
		verifyErr   *workflow.PaymentVerificationError
		fetchErr    *slots.SlotFetchError
		statusErr   *upstream.StatusError
		apiErr      *upstream.APIError
	)
	switch {
	case errors.As(err, &reqErr):
		return http.StatusBadRequest
	case errors.Is(err, upstream.ErrMissingToken):
		return http.StatusUnauthorized
	case errors.Is(err, workflow.ErrUnknownWorkflow):
		return http.StatusNotFound
	case errors.Is(err, workflow.ErrTokenMismatch):
		return http.StatusForbidden
	case errors.Is(err, booking.ErrTooManyAttempts):
		return http.StatusTooManyRequests
	case errors.As(err, &verifyErr):
		return http.StatusPaymentRequired
	case errors.As(err, &gateErr),
		errors.Is(err, workflow.ErrUnknownSlot),
		errors.Is(err, workflow.ErrPathNotAccepted),
		errors.Is(err, workflow.ErrNoSettlementPath):
		return http.StatusUnprocessableEntity
	case errors.As(err, &conflictErr),
		errors.Is(err, workflow.ErrCatalogStale),
		errors.Is(err, workflow.ErrNotLoaded),
		errors.Is(err, workflow.ErrInvalidTransition),
		errors.Is(err, workflow.ErrHandoffConsumed),
		errors.Is(err, workflow.ErrNotAwaitingPayment),
		errors.Is(err, workflow.ErrBookingMismatch):
		return http.StatusConflict
	case errors.Is(err, upstream.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.As(err, &apiErr):
		return http.StatusUnprocessableEntity
	case errors.Is(err, booking.ErrMissingBookingID),
		errors.As(err, &fetchErr),
		errors.As(err, &statusErr):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	if err := dec.Decode(dst); err != nil {
		jsonError(w, "invalid request body", http.StatusBadRequest)
		return false
	}
	if err := requestValidator.Struct(dst); err != nil {
		jsonError(w, validationMessage(err), http.StatusBadRequest)
		return false
	}
	return true
}

func validationMessage(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return "invalid request body"
	}
	fields := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		fields = append(fields, fe.Field())
	}
	return "missing required fields: " + strings.Join(fields, ", ")
}
