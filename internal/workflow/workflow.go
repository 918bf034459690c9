// Package workflow coordinates one booking attempt: slot selection, the
// profile completeness gate, intake collection, reservation and settlement.
package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"github.com/wolfman30/clinic-booking/internal/booking"
	"github.com/wolfman30/clinic-booking/internal/events"
	"github.com/wolfman30/clinic-booking/internal/intake"
	"github.com/wolfman30/clinic-booking/internal/payments"
	"github.com/wolfman30/clinic-booking/internal/slots"
	"github.com/wolfman30/clinic-booking/internal/upstream"
	"github.com/wolfman30/clinic-booking/pkg/logging"
)

var workflowTracer = otel.Tracer("booking.internal.workflow")

var nowFunc = time.Now

// State is a workflow state.
type State string

const (
	StateIdle             State = "Idle"
	StateSlotChosen       State = "SlotChosen"
	StateGateCheck        State = "GateCheck"
	StateDirectSubmit     State = "DirectSubmit"
	StateIntakeRequired   State = "IntakeRequired"
	StateSubmitted        State = "Submitted"
	StateCashConfirmed    State = "CashConfirmed"
	StatePaymentPending   State = "PaymentPending"
	StatePaymentConfirmed State = "PaymentConfirmed"
	StatePaymentAbandoned State = "PaymentAbandoned"
	StateFailed           State = "Failed"
)

// Terminal reports whether no further transition is possible.
func (s State) Terminal() bool {
	return s == StateCashConfirmed || s == StatePaymentConfirmed || s == StateFailed
}

// SlotSource loads a provider's day groups.
type SlotSource interface {
	FetchSlots(ctx context.Context, token, providerID string) ([]slots.DaySlotGroup, error)
}

// ProfileSource loads the patient profile.
type ProfileSource interface {
	Profile(ctx context.Context, token string) (*intake.Intake, error)
}

// ProviderDirectory resolves a provider and its accepted settlement paths.
type ProviderDirectory interface {
	Provider(ctx context.Context, token, providerID string) (*upstream.Provider, error)
}

// Submitter places reservations.
type Submitter interface {
	Submit(ctx context.Context, token string, draft booking.Draft) (booking.Record, error)
}

// Gateway opens checkout orders and verifies callbacks.
type Gateway interface {
	RequestHandoff(ctx context.Context, token, bookingID string) (payments.Handoff, error)
	VerifyPayment(ctx context.Context, token string, raw json.RawMessage) (payments.Verification, error)
}

// Ledger remembers verified payments.
type Ledger interface {
	Lookup(ctx context.Context, orderID string) (*payments.VerifiedPayment, error)
	Record(ctx context.Context, vp payments.VerifiedPayment) (bool, error)
}

// Metrics receives workflow observations.
type Metrics interface {
	ObserveTransition(from, to string)
	ObserveSubmission(path, outcome string)
	ObserveVerification(outcome string)
}

// Deps are the collaborators a workflow talks to. Ledger, Events and
// Metrics are optional.
type Deps struct {
	Slots     SlotSource
	Profiles  ProfileSource
	Providers ProviderDirectory
	Submitter Submitter
	Gateway   Gateway
	Ledger    Ledger
	Events    events.Publisher
	Metrics   Metrics
	Logger    *logging.Logger
}

// Params identify one booking attempt.
type Params struct {
	ID         string
	Token      string
	ProviderID string
}

// PaymentCallback carries a raw gateway callback into the workflow. Reply,
// when set, must be buffered; it receives nil on confirmation or the
// verification error.
type PaymentCallback struct {
	Raw   json.RawMessage
	Reply chan<- error
}

// Workflow is a single booking attempt. Operations are serialized; Snapshot
// may be called at any time.
type Workflow struct {
	id         string
	token      string
	providerID string
	deps       Deps
	logger     *logging.Logger

	// opMu serializes operations; mu guards the fields below for readers.
	opMu sync.Mutex
	mu   sync.Mutex

	state        State
	loaded       bool
	provider     *upstream.Provider
	accepted     intake.AcceptedPaths
	catalog      []slots.DaySlotGroup
	catalogStale bool
	profile      *intake.Intake
	slot         *slots.Slot
	path         intake.SettlementPath
	form         *intake.Form
	typed        intake.Intake
	record       *booking.Record
	handoff      *payments.Handoff
	orders       map[string]struct{}
	consumed     bool
	lastErr      error
	updatedAt    time.Time

	callbacks      chan PaymentCallback
	listenerCancel context.CancelFunc
	listenerDone   chan struct{}
}

// New creates a workflow in Idle. ProviderID may be empty for a workflow that
// only resumes payment of an existing booking.
func New(params Params, deps Deps) (*Workflow, error) {
	if strings.TrimSpace(params.ID) == "" {
		return nil, errors.New("workflow: id required")
	}
	if strings.TrimSpace(params.Token) == "" {
		return nil, upstream.ErrMissingToken
	}
	if deps.Slots == nil || deps.Profiles == nil || deps.Providers == nil || deps.Submitter == nil || deps.Gateway == nil {
		return nil, errors.New("workflow: slot source, profile source, provider directory, submitter and gateway required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = logging.Default()
	}
	return &Workflow{
		id:         params.ID,
		token:      params.Token,
		providerID: strings.TrimSpace(params.ProviderID),
		deps:       deps,
		logger:     logger.With("workflow_id", params.ID),
		state:      StateIdle,
		updatedAt:  nowFunc().UTC(),
		callbacks:  make(chan PaymentCallback),
	}, nil
}

// ID returns the workflow id.
func (w *Workflow) ID() string { return w.id }

// Token returns the session token the workflow was created with.
func (w *Workflow) Token() string { return w.token }

// State returns the current state.
func (w *Workflow) State() State {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state
}

// UpdatedAt returns when the workflow last changed.
func (w *Workflow) UpdatedAt() time.Time {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.updatedAt
}

// Load fetches slots, profile and provider concurrently. All three are
// required before the gate can run. Refresh after a reservation conflict
// goes through here too.
func (w *Workflow) Load(ctx context.Context) error {
	w.opMu.Lock()
	defer w.opMu.Unlock()

	ctx, span := workflowTracer.Start(ctx, "workflow.load")
	defer span.End()
	span.SetAttributes(attribute.String("booking.workflow_id", w.id), attribute.String("booking.provider_id", w.providerID))

	if st := w.State(); st != StateIdle && st != StateSlotChosen {
		return invalidTransition("load", st)
	}

	var (
		catalog  []slots.DaySlotGroup
		profile  *intake.Intake
		provider *upstream.Provider
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		c, err := w.deps.Slots.FetchSlots(gctx, w.token, w.providerID)
		if err != nil {
			return err
		}
		catalog = c
		return nil
	})
	g.Go(func() error {
		p, err := w.deps.Profiles.Profile(gctx, w.token)
		if err != nil {
			return fmt.Errorf("workflow: load profile: %w", err)
		}
		profile = p
		return nil
	})
	g.Go(func() error {
		p, err := w.deps.Providers.Provider(gctx, w.token, w.providerID)
		if err != nil {
			if errors.Is(err, upstream.ErrNotFound) {
				return &slots.SlotFetchError{ProviderID: w.providerID, Err: err}
			}
			return fmt.Errorf("workflow: load provider: %w", err)
		}
		provider = p
		return nil
	})
	err := g.Wait()

	w.mu.Lock()
	defer w.mu.Unlock()
	w.slot = nil
	w.setStateLocked(StateIdle)
	if err != nil {
		span.RecordError(err)
		w.loaded = false
		w.catalog = nil
		w.lastErr = err
		w.logger.Warn("workflow load failed", "error", err)
		return err
	}

	w.loaded = true
	w.catalog = catalog
	w.catalogStale = false
	w.profile = profile
	w.provider = provider
	w.accepted = provider.AcceptedPaths()
	w.lastErr = nil
	if only, ok := w.accepted.Only(); ok {
		w.path = only
	} else if w.path != "" && !w.accepted.Allows(w.path) {
		w.path = ""
	}
	return nil
}

// SelectSlot picks a slot from the current catalog.
func (w *Workflow) SelectSlot(key slots.CalendarKey, timeLabel string) error {
	w.opMu.Lock()
	defer w.opMu.Unlock()
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.state != StateIdle && w.state != StateSlotChosen {
		return invalidTransition("select slot", w.state)
	}
	if !w.loaded {
		return ErrNotLoaded
	}
	if w.catalogStale {
		return ErrCatalogStale
	}
	slot, ok := slots.Find(w.catalog, key, timeLabel)
	if !ok {
		return fmt.Errorf("%w: %s %s", ErrUnknownSlot, key, timeLabel)
	}
	w.slot = &slot
	w.lastErr = nil
	w.setStateLocked(StateSlotChosen)
	return nil
}

// ChooseSettlement sets cash or online. Paths the provider does not accept
// are rejected. While the intake form is open the insurance requirement
// follows the new path.
func (w *Workflow) ChooseSettlement(path intake.SettlementPath) error {
	w.opMu.Lock()
	defer w.opMu.Unlock()
	w.mu.Lock()
	defer w.mu.Unlock()

	switch w.state {
	case StateIdle, StateSlotChosen, StateIntakeRequired:
	default:
		return invalidTransition("choose settlement", w.state)
	}
	if !w.loaded {
		return ErrNotLoaded
	}
	if path != intake.PathCash && path != intake.PathOnline {
		return fmt.Errorf("workflow: unknown settlement path %q", path)
	}
	if !w.accepted.Allows(path) {
		return fmt.Errorf("%w: %s", ErrPathNotAccepted, path)
	}
	w.path = path
	if w.form != nil {
		w.form.SetPath(path)
	}
	w.touchLocked()
	return nil
}

// Book runs the completeness gate. A complete profile is submitted straight
// away without an intake payload; otherwise the intake form opens.
func (w *Workflow) Book(ctx context.Context) error {
	w.opMu.Lock()
	defer w.opMu.Unlock()

	ctx, span := workflowTracer.Start(ctx, "workflow.book")
	defer span.End()

	w.mu.Lock()
	if w.state != StateSlotChosen {
		st := w.state
		w.mu.Unlock()
		return invalidTransition("book", st)
	}
	if w.path == "" {
		w.mu.Unlock()
		return ErrNoSettlementPath
	}
	w.setStateLocked(StateGateCheck)
	complete := intake.IsComplete(w.profile, w.path)
	span.SetAttributes(attribute.Bool("booking.profile_complete", complete), attribute.String("booking.settlement_path", string(w.path)))
	if !complete {
		w.form = intake.NewForm(w.profile, w.path, w.typed)
		w.setStateLocked(StateIntakeRequired)
		w.mu.Unlock()
		return nil
	}
	w.setStateLocked(StateDirectSubmit)
	w.mu.Unlock()

	return w.submit(ctx, nil, StateSlotChosen)
}

// Form returns the open intake form, or nil.
func (w *Workflow) Form() *intake.Form {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.form
}

// EditIntake sets one intake field and returns the new draft.
func (w *Workflow) EditIntake(field intake.Field, value string) (intake.Intake, error) {
	w.opMu.Lock()
	defer w.opMu.Unlock()

	form, err := w.openForm("edit intake")
	if err != nil {
		return intake.Intake{}, err
	}
	draft, err := form.Set(field, value)
	w.touch()
	return draft, err
}

// CancelIntake discards the draft and returns to slot selection.
func (w *Workflow) CancelIntake() error {
	w.opMu.Lock()
	defer w.opMu.Unlock()

	form, err := w.openForm("cancel intake")
	if err != nil {
		return err
	}
	form.Cancel()

	w.mu.Lock()
	defer w.mu.Unlock()
	w.form = nil
	w.typed = intake.Intake{}
	w.lastErr = nil
	w.setStateLocked(StateSlotChosen)
	return nil
}

// SubmitIntake validates the form and submits the reservation with the
// intake payload.
func (w *Workflow) SubmitIntake(ctx context.Context) error {
	w.opMu.Lock()
	defer w.opMu.Unlock()

	ctx, span := workflowTracer.Start(ctx, "workflow.submit_intake")
	defer span.End()

	form, err := w.openForm("submit intake")
	if err != nil {
		return err
	}
	if err := form.Validate(); err != nil {
		w.setLastErr(err)
		return err
	}
	draft := form.Draft()
	return w.submit(ctx, &draft, StateIntakeRequired)
}

func (w *Workflow) openForm(op string) (*intake.Form, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.state != StateIntakeRequired || w.form == nil {
		return nil, invalidTransition(op, w.state)
	}
	return w.form, nil
}

// submit reserves the slot. On a transport failure or rate limit the
// workflow returns to retryState.
func (w *Workflow) submit(ctx context.Context, payload *intake.Intake, retryState State) error {
	w.mu.Lock()
	draft := booking.Draft{ProviderID: w.providerID, Slot: *w.slot, Path: w.path, Intake: payload}
	w.mu.Unlock()

	path := string(draft.Path)
	record, err := w.deps.Submitter.Submit(ctx, w.token, draft)
	if err != nil {
		var conflict *booking.ReservationConflictError
		w.mu.Lock()
		defer w.mu.Unlock()
		w.lastErr = err
		switch {
		case errors.As(err, &conflict):
			w.observeSubmission(path, "conflict")
			if w.form != nil {
				// kept so the next form for another slot starts from it
				w.typed = w.form.Draft()
				w.form.Cancel()
				w.form = nil
			}
			w.slot = nil
			w.catalogStale = true
			w.setStateLocked(StateIdle)
		case errors.Is(err, booking.ErrMissingBookingID):
			w.observeSubmission(path, "missing_id")
			w.setStateLocked(StateFailed)
		case errors.Is(err, booking.ErrTooManyAttempts):
			w.observeSubmission(path, "rate_limited")
			w.setStateLocked(retryState)
		default:
			w.observeSubmission(path, "error")
			w.setStateLocked(retryState)
		}
		w.logger.Warn("reservation failed", "error", err, "state", w.state)
		return err
	}

	w.observeSubmission(path, "ok")
	if draft.Path == intake.PathOnline && record.Paid {
		// only a verified gateway callback marks an online booking paid
		w.logger.Warn("reservation reported online booking as paid before checkout", "booking_id", record.BookingID)
		record.Paid = false
	}
	w.mu.Lock()
	if w.form != nil {
		w.form.Close()
		w.form = nil
	}
	w.typed = intake.Intake{}
	w.record = &record
	w.lastErr = nil
	w.setStateLocked(StateSubmitted)
	w.mu.Unlock()

	now := nowFunc().UTC()
	w.publish(ctx, record.BookingID, events.BookingSubmittedV1{
		WorkflowID:     w.id,
		BookingID:      record.BookingID,
		ProviderID:     record.ProviderID,
		SlotDate:       string(record.SlotDate),
		SlotTime:       record.SlotTime,
		SettlementPath: path,
		WithIntake:     payload != nil,
		SubmittedAt:    now,
	})

	if draft.Path == intake.PathCash {
		w.mu.Lock()
		w.setStateLocked(StateCashConfirmed)
		w.mu.Unlock()
		w.publish(ctx, record.BookingID, events.BookingCashConfirmedV1{WorkflowID: w.id, BookingID: record.BookingID, ConfirmedAt: now})
		return nil
	}
	return w.requestHandoff(ctx)
}

func (w *Workflow) requestHandoff(ctx context.Context) error {
	w.mu.Lock()
	bookingID := w.record.BookingID
	w.mu.Unlock()

	handoff, err := w.deps.Gateway.RequestHandoff(ctx, w.token, bookingID)
	if err != nil {
		w.setLastErr(err)
		w.logger.Warn("payment handoff failed", "booking_id", bookingID, "error", err)
		return err
	}

	w.mu.Lock()
	w.handoff = &handoff
	if w.orders == nil {
		w.orders = make(map[string]struct{})
	}
	w.orders[handoff.OrderID] = struct{}{}
	w.consumed = false
	w.lastErr = nil
	w.setStateLocked(StatePaymentPending)
	w.startListenerLocked()
	w.mu.Unlock()

	w.publish(ctx, bookingID, events.PaymentPendingV1{
		WorkflowID:  w.id,
		BookingID:   bookingID,
		OrderID:     handoff.OrderID,
		Amount:      handoff.Amount,
		Currency:    handoff.Currency,
		RequestedAt: nowFunc().UTC(),
	})
	return nil
}

// Checkout hands out the gateway order used to open the checkout UI. It can
// be taken once per order.
func (w *Workflow) Checkout() (payments.Handoff, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.state != StatePaymentPending || w.handoff == nil {
		return payments.Handoff{}, invalidTransition("checkout", w.state)
	}
	if w.consumed {
		return payments.Handoff{}, ErrHandoffConsumed
	}
	w.consumed = true
	w.touchLocked()
	return *w.handoff, nil
}

// Abandon records that the checkout session ended without a callback. The
// booking stays unpaid and payment can be resumed later. A late callback for
// an order already opened is still verified through Deliver.
func (w *Workflow) Abandon() error {
	w.opMu.Lock()
	defer w.opMu.Unlock()
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.state != StatePaymentPending {
		return invalidTransition("abandon", w.state)
	}
	w.stopListenerLocked()
	w.setStateLocked(StatePaymentAbandoned)
	return nil
}

// ResumePayment requests a fresh handoff for an unpaid online booking. A
// workflow created only for this purpose adopts bookingID.
func (w *Workflow) ResumePayment(ctx context.Context, bookingID string) error {
	w.opMu.Lock()
	defer w.opMu.Unlock()

	bookingID = strings.TrimSpace(bookingID)
	if bookingID == "" {
		return booking.ErrMissingBookingID
	}

	w.mu.Lock()
	switch w.state {
	case StateSubmitted, StatePaymentPending, StatePaymentAbandoned:
		if w.record == nil || w.record.SettlementPath != intake.PathOnline {
			st := w.state
			w.mu.Unlock()
			return invalidTransition("resume payment", st)
		}
		if w.record.BookingID != bookingID {
			w.mu.Unlock()
			return ErrBookingMismatch
		}
	case StateIdle:
		if w.record != nil || w.slot != nil {
			w.mu.Unlock()
			return invalidTransition("resume payment", StateIdle)
		}
		w.record = &booking.Record{BookingID: bookingID, ProviderID: w.providerID, SettlementPath: intake.PathOnline}
		w.path = intake.PathOnline
	default:
		st := w.state
		w.mu.Unlock()
		return invalidTransition("resume payment", st)
	}
	w.stopListenerLocked()
	w.mu.Unlock()

	return w.requestHandoff(ctx)
}

// Callbacks returns the channel the host delivers gateway callbacks on.
// Sends block until a listener is running; Deliver bounds the wait.
func (w *Workflow) Callbacks() chan<- PaymentCallback {
	return w.callbacks
}

// Deliver sends a raw callback to the payment listener and waits for the
// verdict. nil means the payment is confirmed.
func (w *Workflow) Deliver(ctx context.Context, raw json.RawMessage) error {
	w.mu.Lock()
	state := w.state
	done := w.listenerDone
	w.mu.Unlock()

	switch {
	case state == StatePaymentConfirmed:
		return nil
	case state == StatePaymentAbandoned:
		// no listener runs after abandon; a late callback is verified inline
		return w.handleCallback(ctx, raw)
	case state != StatePaymentPending || done == nil:
		return fmt.Errorf("%w: state %s", ErrNotAwaitingPayment, state)
	}

	reply := make(chan error, 1)
	select {
	case w.callbacks <- PaymentCallback{Raw: raw, Reply: reply}:
	case <-done:
		return ErrNotAwaitingPayment
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops the payment listener. A workflow still waiting for payment is
// marked abandoned.
func (w *Workflow) Close() {
	w.opMu.Lock()
	defer w.opMu.Unlock()
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.state == StatePaymentPending {
		w.setStateLocked(StatePaymentAbandoned)
	}
	w.stopListenerLocked()
}

func (w *Workflow) startListenerLocked() {
	if w.listenerDone != nil {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	w.listenerCancel = cancel
	w.listenerDone = done
	go w.listen(ctx, done)
}

func (w *Workflow) stopListenerLocked() {
	if w.listenerCancel != nil {
		w.listenerCancel()
	}
	w.listenerCancel = nil
	w.listenerDone = nil
}

func (w *Workflow) listen(ctx context.Context, done chan struct{}) {
	defer close(done)
	for {
		select {
		case <-ctx.Done():
			return
		case cb := <-w.callbacks:
			// state is re-checked under opMu, so a listener replaced by
			// ResumePayment may still answer correctly.
			err := w.handleCallback(context.WithoutCancel(ctx), cb.Raw)
			if cb.Reply != nil {
				select {
				case cb.Reply <- err:
				default:
				}
			}
			if err == nil {
				return
			}
		}
	}
}

func (w *Workflow) handleCallback(ctx context.Context, raw json.RawMessage) error {
	w.opMu.Lock()
	defer w.opMu.Unlock()

	ctx, span := workflowTracer.Start(ctx, "workflow.payment_callback")
	defer span.End()

	w.mu.Lock()
	state := w.state
	var bookingID, orderID string
	if w.record != nil {
		bookingID = w.record.BookingID
	}
	if w.handoff != nil {
		orderID = w.handoff.OrderID
	}
	w.mu.Unlock()

	if state == StatePaymentConfirmed {
		return nil
	}
	if state != StatePaymentPending && state != StatePaymentAbandoned {
		return fmt.Errorf("%w: state %s", ErrNotAwaitingPayment, state)
	}
	span.SetAttributes(attribute.String("booking.id", bookingID), attribute.String("payments.order_id", orderID))

	cb, err := payments.ParseCallback(raw)
	if err != nil {
		return w.verificationFailed(ctx, bookingID, orderID, "", err)
	}

	if w.deps.Ledger != nil {
		prior, lerr := w.deps.Ledger.Lookup(ctx, cb.OrderID)
		if lerr != nil {
			w.logger.Warn("verified ledger lookup failed", "order_id", cb.OrderID, "error", lerr)
		} else if prior != nil && prior.BookingID == bookingID {
			w.observeVerification("replayed")
			w.confirmPayment(ctx, cb.OrderID, prior.PaymentID, true)
			return nil
		}
	}
	// every order opened for this booking stays payable, including ones
	// replaced by ResumePayment
	if !w.issuedOrder(cb.OrderID) {
		return w.verificationFailed(ctx, bookingID, cb.OrderID, "callback is for an order not opened for this booking", nil)
	}

	verdict, err := w.deps.Gateway.VerifyPayment(ctx, w.token, raw)
	if err != nil {
		span.RecordError(err)
		return w.verificationFailed(ctx, bookingID, cb.OrderID, "", err)
	}
	if !verdict.Verified {
		return w.verificationFailed(ctx, bookingID, cb.OrderID, verdict.Message, nil)
	}

	if w.deps.Ledger != nil {
		if _, lerr := w.deps.Ledger.Record(ctx, payments.VerifiedPayment{
			OrderID:   cb.OrderID,
			BookingID: bookingID,
			PaymentID: cb.PaymentID,
		}); lerr != nil {
			w.logger.Warn("verified ledger write failed", "order_id", cb.OrderID, "error", lerr)
		}
	}
	w.observeVerification("verified")
	w.confirmPayment(ctx, cb.OrderID, cb.PaymentID, false)
	return nil
}

func (w *Workflow) issuedOrder(orderID string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	_, ok := w.orders[orderID]
	return ok
}

func (w *Workflow) verificationFailed(ctx context.Context, bookingID, orderID, reason string, cause error) error {
	verr := &PaymentVerificationError{BookingID: bookingID, OrderID: orderID, Reason: reason, Err: cause}
	w.observeVerification("failed")
	w.setLastErr(verr)
	w.logger.Warn("payment verification failed", "booking_id", bookingID, "order_id", orderID, "error", verr)
	if bookingID != "" {
		w.publish(ctx, bookingID, events.PaymentVerificationFailedV1{
			WorkflowID: w.id,
			BookingID:  bookingID,
			OrderID:    orderID,
			Reason:     verr.Error(),
			FailedAt:   nowFunc().UTC(),
		})
	}
	return verr
}

func (w *Workflow) confirmPayment(ctx context.Context, orderID, paymentID string, replayed bool) {
	w.mu.Lock()
	w.record.Paid = true
	bookingID := w.record.BookingID
	w.lastErr = nil
	w.setStateLocked(StatePaymentConfirmed)
	w.mu.Unlock()

	w.logger.Info("payment confirmed", "booking_id", bookingID, "order_id", orderID, "replayed", replayed)
	w.publish(ctx, bookingID, events.PaymentConfirmedV1{
		WorkflowID:  w.id,
		BookingID:   bookingID,
		OrderID:     orderID,
		PaymentID:   paymentID,
		Replayed:    replayed,
		ConfirmedAt: nowFunc().UTC(),
	})
}

func (w *Workflow) publish(ctx context.Context, bookingID string, evt events.CanonicalEvent) {
	if w.deps.Events == nil {
		return
	}
	if _, err := w.deps.Events.Publish(ctx, events.BookingAggregate(bookingID), w.id, evt); err != nil {
		w.logger.Warn("event publish failed", "event_type", evt.EventType(), "booking_id", bookingID, "error", err)
	}
}

func (w *Workflow) setStateLocked(to State) {
	from := w.state
	w.state = to
	w.updatedAt = nowFunc().UTC()
	if from == to {
		return
	}
	if w.deps.Metrics != nil {
		w.deps.Metrics.ObserveTransition(string(from), string(to))
	}
	w.logger.Debug("workflow transition", "from", from, "to", to)
}

func (w *Workflow) observeSubmission(path, outcome string) {
	if w.deps.Metrics != nil {
		w.deps.Metrics.ObserveSubmission(path, outcome)
	}
}

func (w *Workflow) observeVerification(outcome string) {
	if w.deps.Metrics != nil {
		w.deps.Metrics.ObserveVerification(outcome)
	}
}

func (w *Workflow) setLastErr(err error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.lastErr = err
	w.updatedAt = nowFunc().UTC()
}

func (w *Workflow) touch() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.touchLocked()
}

func (w *Workflow) touchLocked() {
	w.updatedAt = nowFunc().UTC()
}
