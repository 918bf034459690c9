package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfman30/clinic-booking/internal/booking"
	"github.com/wolfman30/clinic-booking/internal/http/middleware"
	"github.com/wolfman30/clinic-booking/internal/intake"
	"github.com/wolfman30/clinic-booking/internal/payments"
	"github.com/wolfman30/clinic-booking/internal/slots"
	"github.com/wolfman30/clinic-booking/internal/upstream"
	"github.com/wolfman30/clinic-booking/internal/workflow"
	"github.com/wolfman30/clinic-booking/pkg/logging"
)

var testDate = slots.Date{Year: 2026, Month: time.March, Day: 7}

type stubSlots struct{ err error }

func (s stubSlots) FetchSlots(context.Context, string, string) ([]slots.DaySlotGroup, error) {
	if s.err != nil {
		return nil, s.err
	}
	return []slots.DaySlotGroup{{
		Date:  testDate,
		Key:   testDate.Key(),
		Slots: []slots.Slot{{Date: testDate, Time: "10:00 AM", DateTimeUTC: time.Date(2026, time.March, 7, 10, 0, 0, 0, time.UTC)}},
	}}, nil
}

type stubProfiles struct{ profile intake.Intake }

func (s stubProfiles) Profile(context.Context, string) (*intake.Intake, error) {
	p := s.profile
	return &p, nil
}

type stubDirectory struct{}

func (stubDirectory) Provider(_ context.Context, _ string, providerID string) (*upstream.Provider, error) {
	return &upstream.Provider{ID: providerID, Name: "Dr. Rao", Fees: 500}, nil
}

type stubSubmitter struct {
	mu  sync.Mutex
	err error
	n   int
}

func (s *stubSubmitter) Submit(_ context.Context, _ string, draft booking.Draft) (booking.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return booking.Record{}, s.err
	}
	s.n++
	return booking.Record{
		BookingID:      fmt.Sprintf("bk-%d", s.n),
		ProviderID:     draft.ProviderID,
		SlotDate:       draft.Slot.Date.Key(),
		SlotTime:       draft.Slot.Time,
		SettlementPath: draft.Path,
	}, nil
}

type stubGateway struct{ verified bool }

func (stubGateway) RequestHandoff(_ context.Context, _ string, bookingID string) (payments.Handoff, error) {
	return payments.Handoff{OrderID: "order_" + bookingID, Amount: 50000, Currency: "INR", Receipt: bookingID}, nil
}

func (g stubGateway) VerifyPayment(context.Context, string, json.RawMessage) (payments.Verification, error) {
	if g.verified {
		return payments.Verification{Verified: true, Message: "Payment Successful"}, nil
	}
	return payments.Verification{Verified: false, Message: "signature mismatch"}, nil
}

type stubCanceller struct {
	cancelled []string
	err       error
}

func (s *stubCanceller) CancelAppointment(_ context.Context, _ string, bookingID string) error {
	if s.err != nil {
		return s.err
	}
	s.cancelled = append(s.cancelled, bookingID)
	return nil
}

func completeProfile() intake.Intake {
	return intake.Intake{
		Name:              "Jane Doe",
		Phone:             "+15551234567",
		Gender:            "Female",
		DOB:               "1990-04-12",
		Address:           intake.Address{Line1: "12 Main St", City: "Austin", State: "TX", Zip: "78701"},
		EmergencyContact:  intake.EmergencyContact{Name: "John Doe", Phone: "+15557654321"},
		InsuranceProvider: "Acme Health",
		InsuranceID:       "POL-991",
	}
}

type testServer struct {
	handler   http.Handler
	registry  *workflow.Registry
	submitter *stubSubmitter
	canceller *stubCanceller
}

type serverOption func(*workflow.Deps)

func newTestServer(t *testing.T, profile intake.Intake, opts ...serverOption) *testServer {
	t.Helper()
	sub := &stubSubmitter{}
	deps := workflow.Deps{
		Slots:     stubSlots{},
		Profiles:  stubProfiles{profile: profile},
		Providers: stubDirectory{},
		Submitter: sub,
		Gateway:   stubGateway{verified: true},
		Logger:    logging.Discard(),
	}
	for _, opt := range opts {
		opt(&deps)
	}
	reg := workflow.NewRegistry(deps, time.Hour, nil, logging.Discard())
	canceller := &stubCanceller{}
	h := NewWorkflowHandler(reg, canceller, logging.Discard())

	r := chi.NewRouter()
	r.Group(func(api chi.Router) {
		api.Use(middleware.RequireSession)
		h.Routes(api)
	})
	return &testServer{handler: r, registry: reg, submitter: sub, canceller: canceller}
}

func (s *testServer) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	switch b := body.(type) {
	case nil:
	case string:
		buf.WriteString(b)
	default:
		require.NoError(t, json.NewEncoder(&buf).Encode(b))
	}
	req := httptest.NewRequest(method, path, &buf)
	if token != "" {
		req.Header.Set(middleware.TokenHeader, token)
	}
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	return rec
}

func decodeSnapshot(t *testing.T, rec *httptest.ResponseRecorder) workflow.Snapshot {
	t.Helper()
	var snap workflow.Snapshot
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &snap), rec.Body.String())
	return snap
}

func (s *testServer) createWorkflow(t *testing.T, token string) workflow.Snapshot {
	t.Helper()
	rec := s.do(t, http.MethodPost, "/workflows", token, map[string]string{"providerId": "doc-1"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	return decodeSnapshot(t, rec)
}

func TestCreateWorkflowLoadsCatalog(t *testing.T) {
	srv := newTestServer(t, completeProfile())
	snap := srv.createWorkflow(t, "tok")

	assert.Equal(t, workflow.StateIdle, snap.State)
	require.Len(t, snap.Catalog, 1)
	assert.Equal(t, slots.CalendarKey("7_3_2026"), snap.Catalog[0].Key)
	assert.True(t, snap.AcceptedPaths.Cash)
	assert.True(t, snap.AcceptedPaths.Online)

	rec := srv.do(t, http.MethodGet, "/workflows/"+snap.ID, "tok", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestCreateWorkflowRequiresSessionAndProvider(t *testing.T) {
	srv := newTestServer(t, completeProfile())

	rec := srv.do(t, http.MethodPost, "/workflows", "", map[string]string{"providerId": "doc-1"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = srv.do(t, http.MethodPost, "/workflows", "tok", map[string]string{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = srv.do(t, http.MethodPost, "/workflows", "tok", "{not json")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCreateWorkflowSlotFetchFailure(t *testing.T) {
	srv := newTestServer(t, completeProfile(), func(d *workflow.Deps) {
		d.Slots = stubSlots{err: &slots.SlotFetchError{ProviderID: "doc-1", Err: errors.New("boom")}}
	})
	rec := srv.do(t, http.MethodPost, "/workflows", "tok", map[string]string{"providerId": "doc-1"})
	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.Equal(t, 0, srv.registry.Len())
}

func TestWorkflowBelongsToSession(t *testing.T) {
	srv := newTestServer(t, completeProfile())
	snap := srv.createWorkflow(t, "tok")

	rec := srv.do(t, http.MethodGet, "/workflows/"+snap.ID, "other", nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = srv.do(t, http.MethodGet, "/workflows/unknown", "tok", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCashBookingFlow(t *testing.T) {
	srv := newTestServer(t, completeProfile())
	snap := srv.createWorkflow(t, "tok")
	base := "/workflows/" + snap.ID

	rec := srv.do(t, http.MethodPost, base+"/slot", "tok", map[string]string{"date": "7_3_2026", "time": "10:00 am"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, workflow.StateSlotChosen, decodeSnapshot(t, rec).State)

	rec = srv.do(t, http.MethodPost, base+"/settlement", "tok", map[string]string{"path": "cash"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = srv.do(t, http.MethodPost, base+"/book", "tok", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	final := decodeSnapshot(t, rec)
	assert.Equal(t, workflow.StateCashConfirmed, final.State)
	require.NotNil(t, final.Booking)
	assert.Equal(t, "bk-1", final.Booking.BookingID)

	rec = srv.do(t, http.MethodPost, base+"/book", "tok", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestSelectSlotValidation(t *testing.T) {
	srv := newTestServer(t, completeProfile())
	snap := srv.createWorkflow(t, "tok")
	base := "/workflows/" + snap.ID

	rec := srv.do(t, http.MethodPost, base+"/slot", "tok", map[string]string{"date": "31_2_2026", "time": "10:00 AM"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = srv.do(t, http.MethodPost, base+"/slot", "tok", map[string]string{"date": "8_3_2026", "time": "10:00 AM"})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	rec = srv.do(t, http.MethodPost, base+"/settlement", "tok", map[string]string{"path": "cheque"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestIntakeFlowOverHTTP(t *testing.T) {
	profile := completeProfile()
	profile.EmergencyContact = intake.EmergencyContact{}
	srv := newTestServer(t, profile)
	snap := srv.createWorkflow(t, "tok")
	base := "/workflows/" + snap.ID

	require.Equal(t, http.StatusOK, srv.do(t, http.MethodPost, base+"/slot", "tok", map[string]string{"date": "7_3_2026", "time": "10:00 AM"}).Code)
	require.Equal(t, http.StatusOK, srv.do(t, http.MethodPost, base+"/settlement", "tok", map[string]string{"path": "cash"}).Code)

	rec := srv.do(t, http.MethodPost, base+"/book", "tok", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, workflow.StateIntakeRequired, decodeSnapshot(t, rec).State)

	rec = srv.do(t, http.MethodPost, base+"/intake/submit", "tok", nil)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	rec = srv.do(t, http.MethodPatch, base+"/intake", "tok", map[string]string{"field": "nickname", "value": "x"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = srv.do(t, http.MethodPatch, base+"/intake", "tok", map[string]string{"field": "emergencyContact.name", "value": "John Doe"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	rec = srv.do(t, http.MethodPatch, base+"/intake", "tok", map[string]string{"field": "emergencyContact.phone", "value": "+15557654321"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = srv.do(t, http.MethodPost, base+"/intake/submit", "tok", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, workflow.StateCashConfirmed, decodeSnapshot(t, rec).State)
}

func TestCancelIntakeOverHTTP(t *testing.T) {
	profile := completeProfile()
	profile.Phone = ""
	srv := newTestServer(t, profile)
	snap := srv.createWorkflow(t, "tok")
	base := "/workflows/" + snap.ID

	require.Equal(t, http.StatusOK, srv.do(t, http.MethodPost, base+"/slot", "tok", map[string]string{"date": "7_3_2026", "time": "10:00 AM"}).Code)
	require.Equal(t, http.StatusOK, srv.do(t, http.MethodPost, base+"/settlement", "tok", map[string]string{"path": "online"}).Code)
	require.Equal(t, http.StatusOK, srv.do(t, http.MethodPost, base+"/book", "tok", nil).Code)

	rec := srv.do(t, http.MethodPost, base+"/intake/cancel", "tok", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, workflow.StateSlotChosen, decodeSnapshot(t, rec).State)
	assert.Equal(t, 0, srv.submitter.n)
}

func bookOnline(t *testing.T, srv *testServer, token string) string {
	t.Helper()
	snap := srv.createWorkflow(t, token)
	base := "/workflows/" + snap.ID
	require.Equal(t, http.StatusOK, srv.do(t, http.MethodPost, base+"/slot", token, map[string]string{"date": "7_3_2026", "time": "10:00 AM"}).Code)
	require.Equal(t, http.StatusOK, srv.do(t, http.MethodPost, base+"/settlement", token, map[string]string{"path": "online"}).Code)
	rec := srv.do(t, http.MethodPost, base+"/book", token, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.Equal(t, workflow.StatePaymentPending, decodeSnapshot(t, rec).State)
	return base
}

func TestOnlinePaymentFlow(t *testing.T) {
	srv := newTestServer(t, completeProfile())
	base := bookOnline(t, srv, "tok")

	rec := srv.do(t, http.MethodPost, base+"/payment/checkout", "tok", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var handoff payments.Handoff
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &handoff))
	assert.Equal(t, "order_bk-1", handoff.OrderID)

	rec = srv.do(t, http.MethodPost, base+"/payment/checkout", "tok", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)

	callback := `{"razorpay_order_id":"order_bk-1","razorpay_payment_id":"pay_1","razorpay_signature":"sig"}`
	rec = srv.do(t, http.MethodPost, base+"/payment/callback", "tok", callback)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	snap := decodeSnapshot(t, rec)
	assert.Equal(t, workflow.StatePaymentConfirmed, snap.State)
	require.NotNil(t, snap.Booking)
	assert.True(t, snap.Booking.Paid)
}

func TestPaymentVerificationFailure(t *testing.T) {
	srv := newTestServer(t, completeProfile(), func(d *workflow.Deps) {
		d.Gateway = stubGateway{verified: false}
	})
	base := bookOnline(t, srv, "tok")

	callback := `{"razorpay_order_id":"order_bk-1","razorpay_payment_id":"pay_1","razorpay_signature":"bad"}`
	rec := srv.do(t, http.MethodPost, base+"/payment/callback", "tok", callback)
	assert.Equal(t, http.StatusPaymentRequired, rec.Code)

	rec = srv.do(t, http.MethodGet, base, "tok", nil)
	snap := decodeSnapshot(t, rec)
	require.NotNil(t, snap.Booking)
	assert.False(t, snap.Booking.Paid)
}

func TestAbandonAndResumePayment(t *testing.T) {
	srv := newTestServer(t, completeProfile())
	base := bookOnline(t, srv, "tok")
	id := base[len("/workflows/"):]

	rec := srv.do(t, http.MethodPost, base+"/payment/abandon", "tok", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, workflow.StatePaymentAbandoned, decodeSnapshot(t, rec).State)

	rec = srv.do(t, http.MethodPost, "/bookings/bk-1/payment", "tok", map[string]string{"workflowId": id})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, workflow.StatePaymentPending, decodeSnapshot(t, rec).State)

	rec = srv.do(t, http.MethodPost, "/bookings/bk-9/payment", "tok", map[string]string{"workflowId": id})
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestLateCallbackAfterAbandonConfirms(t *testing.T) {
	srv := newTestServer(t, completeProfile())
	base := bookOnline(t, srv, "tok")

	rec := srv.do(t, http.MethodPost, base+"/payment/abandon", "tok", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	callback := `{"razorpay_order_id":"order_bk-1","razorpay_payment_id":"pay_1","razorpay_signature":"sig"}`
	rec = srv.do(t, http.MethodPost, base+"/payment/callback", "tok", callback)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	snap := decodeSnapshot(t, rec)
	assert.Equal(t, workflow.StatePaymentConfirmed, snap.State)
	require.NotNil(t, snap.Booking)
	assert.True(t, snap.Booking.Paid)
}

func TestResumePaymentOnFreshWorkflow(t *testing.T) {
	srv := newTestServer(t, completeProfile())

	rec := srv.do(t, http.MethodPost, "/bookings/bk-42/payment", "tok", nil)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	snap := decodeSnapshot(t, rec)
	assert.Equal(t, workflow.StatePaymentPending, snap.State)
	require.NotNil(t, snap.Booking)
	assert.Equal(t, "bk-42", snap.Booking.BookingID)
	assert.Equal(t, 1, srv.registry.Len())
}

func TestCancelBooking(t *testing.T) {
	srv := newTestServer(t, completeProfile())

	rec := srv.do(t, http.MethodPost, "/bookings/bk-1/cancel", "tok", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, []string{"bk-1"}, srv.canceller.cancelled)

	srv.canceller.err = &upstream.APIError{Op: "cancel", Message: "Appointment already cancelled"}
	rec = srv.do(t, http.MethodPost, "/bookings/bk-1/cancel", "tok", nil)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestReservationConflictIsConflict(t *testing.T) {
	srv := newTestServer(t, completeProfile())
	srv.submitter.err = &booking.ReservationConflictError{Message: "Slot not available"}
	snap := srv.createWorkflow(t, "tok")
	base := "/workflows/" + snap.ID

	require.Equal(t, http.StatusOK, srv.do(t, http.MethodPost, base+"/slot", "tok", map[string]string{"date": "7_3_2026", "time": "10:00 AM"}).Code)
	require.Equal(t, http.StatusOK, srv.do(t, http.MethodPost, base+"/settlement", "tok", map[string]string{"path": "cash"}).Code)

	rec := srv.do(t, http.MethodPost, base+"/book", "tok", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)

	srv.submitter.err = nil
	rec = srv.do(t, http.MethodPost, base+"/refresh", "tok", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.False(t, decodeSnapshot(t, rec).CatalogStale)
}

func TestStatusFor(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{booking.ErrTooManyAttempts, http.StatusTooManyRequests},
		{fmt.Errorf("wrap: %w", booking.ErrMissingBookingID), http.StatusBadGateway},
		{&workflow.PaymentVerificationError{BookingID: "bk-1"}, http.StatusPaymentRequired},
		{&intake.GateValidationError{Message: "Please complete your address"}, http.StatusUnprocessableEntity},
		{workflow.ErrCatalogStale, http.StatusConflict},
		{&upstream.StatusError{Op: "slots", StatusCode: 500}, http.StatusBadGateway},
		{upstream.ErrMissingToken, http.StatusUnauthorized},
		{context.DeadlineExceeded, http.StatusGatewayTimeout},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, statusFor(tc.err), tc.err.Error())
	}
}

func TestJSONError(t *testing.T) {
	rec := httptest.NewRecorder()
	jsonError(rec, "oops", http.StatusTeapot)

	if rec.Code != http.StatusTeapot {
		t.Fatalf("expected status %d, got %d", http.StatusTeapot, rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Fatalf("expected content type application/json, got %q", ct)
	}
	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("failed to decode json response: %v", err)
	}
	if body["error"] != "oops" {
		t.Fatalf("unexpected error message %q", body["error"])
	}
}
