// Package booking submits reservations to the clinic platform, persisting
// intake data to the patient profile first when the gate asked for it.
package booking

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/wolfman30/clinic-booking/internal/intake"
	"github.com/wolfman30/clinic-booking/internal/session"
	"github.com/wolfman30/clinic-booking/internal/slots"
	"github.com/wolfman30/clinic-booking/internal/upstream"
	"github.com/wolfman30/clinic-booking/pkg/logging"
)

var bookingTracer = otel.Tracer("booking.internal.booking")

var (
	// ErrMissingBookingID is returned when the reservation service reports
	// success without a booking identifier.
	ErrMissingBookingID = errors.New("booking failed: missing identifier")
	// ErrTooManyAttempts is returned when the attempt limiter rejects a submission.
	ErrTooManyAttempts = errors.New("booking: too many booking attempts, try again later")
	// ErrIncompleteDraft is returned when a draft lacks a provider or slot.
	ErrIncompleteDraft = errors.New("booking: draft requires provider and slot")
)

// ReservationConflictError means the slot was taken between fetch and submit.
// The slot list the patient saw is stale.
type ReservationConflictError struct {
	Message string
}

func (e *ReservationConflictError) Error() string {
	if strings.TrimSpace(e.Message) == "" {
		return "booking: slot is no longer available"
	}
	return "booking: " + e.Message
}

// Draft is an in-flight booking. Intake is nil when the profile was already
// complete for the chosen settlement path.
type Draft struct {
	ProviderID string
	Slot       slots.Slot
	Path       intake.SettlementPath
	Intake     *intake.Intake
}

// Record is a reservation accepted by the platform.
type Record struct {
	BookingID      string                `json:"bookingId"`
	ProviderID     string                `json:"providerId"`
	SlotDate       slots.CalendarKey     `json:"slotDate"`
	SlotTime       string                `json:"slotTime"`
	SettlementPath intake.SettlementPath `json:"settlementPath"`
	Paid           bool                  `json:"paid"`
}

// ProfileWriter persists intake fields to the patient profile.
type ProfileWriter interface {
	UpdateProfile(ctx context.Context, token string, fields intake.Intake) error
}

// Reserver places reservations.
type Reserver interface {
	BookAppointment(ctx context.Context, token string, req upstream.BookRequest) (*upstream.BookResponse, error)
}

// AttemptLimiter caps booking attempts per key.
type AttemptLimiter interface {
	Allow(ctx context.Context, key string) (*AttemptResult, error)
}

// Submitter turns drafts into reservations.
type Submitter struct {
	profiles ProfileWriter
	reserver Reserver
	limiter  AttemptLimiter
	logger   *logging.Logger
}

// Option configures a Submitter.
type Option func(*Submitter)

// WithLimiter installs an attempt limiter checked before each reservation.
func WithLimiter(l AttemptLimiter) Option {
	return func(s *Submitter) {
		s.limiter = l
	}
}

// NewSubmitter creates a submitter.
func NewSubmitter(profiles ProfileWriter, reserver Reserver, logger *logging.Logger, opts ...Option) *Submitter {
	if profiles == nil || reserver == nil {
		panic("booking: profile writer and reserver required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	s := &Submitter{profiles: profiles, reserver: reserver, logger: logger}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Submit persists the intake (if any) and reserves the slot. Intake
// persistence is awaited but a failure only gets logged; the reservation
// still goes ahead.
func (s *Submitter) Submit(ctx context.Context, token string, draft Draft) (Record, error) {
	ctx, span := bookingTracer.Start(ctx, "booking.submit")
	defer span.End()
	span.SetAttributes(
		attribute.String("booking.provider_id", draft.ProviderID),
		attribute.String("booking.settlement_path", string(draft.Path)),
		attribute.Bool("booking.with_intake", draft.Intake != nil),
	)

	if strings.TrimSpace(draft.ProviderID) == "" || draft.Slot.Date.IsZero() || strings.TrimSpace(draft.Slot.Time) == "" {
		return Record{}, ErrIncompleteDraft
	}
	logger := s.logger.With("provider_id", draft.ProviderID, "session", session.Fingerprint(token))

	if s.limiter != nil {
		res, err := s.limiter.Allow(ctx, "booking:"+session.Fingerprint(token))
		if err != nil {
			logger.Warn("attempt limiter unavailable", "error", err)
		} else if !res.Allowed {
			span.SetAttributes(attribute.Bool("booking.rate_limited", true))
			return Record{}, ErrTooManyAttempts
		}
	}

	if draft.Intake != nil {
		if err := s.profiles.UpdateProfile(ctx, token, *draft.Intake); err != nil {
			span.RecordError(err)
			logger.Warn("intake persistence failed, continuing with reservation", "error", err)
		}
	}

	key := draft.Slot.Date.Key()
	req := upstream.BookRequest{
		ProviderID: draft.ProviderID,
		SlotDate:   string(key),
		SlotTime:   draft.Slot.Time,
		Intake:     draft.Intake,
	}
	resp, err := s.reserver.BookAppointment(ctx, token, req)
	if err != nil {
		span.RecordError(err)
		return Record{}, fmt.Errorf("booking: reserve: %w", err)
	}
	if !resp.Success {
		logger.Info("reservation rejected", "slot_date", key, "slot_time", draft.Slot.Time, "message", resp.Message)
		return Record{}, &ReservationConflictError{Message: resp.Message}
	}
	bookingID := strings.TrimSpace(resp.BookingID)
	if bookingID == "" {
		logger.Error("reservation accepted without booking id", "slot_date", key)
		return Record{}, ErrMissingBookingID
	}

	if statusPaid := strings.EqualFold(resp.PaymentStatus, "paid"); resp.PaymentStatus != "" && statusPaid != resp.Payment {
		logger.Warn("paymentStatus disagrees with payment flag", "booking_id", bookingID, "payment", resp.Payment, "payment_status", resp.PaymentStatus)
	}

	span.SetAttributes(attribute.String("booking.id", bookingID))
	logger.Info("reservation accepted", "booking_id", bookingID, "slot_date", key)
	return Record{
		BookingID:      bookingID,
		ProviderID:     draft.ProviderID,
		SlotDate:       key,
		SlotTime:       draft.Slot.Time,
		SettlementPath: draft.Path,
		Paid:           resp.Payment,
	}, nil
}
