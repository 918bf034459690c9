package workflow

import (
	"time"

	"github.com/wolfman30/clinic-booking/internal/booking"
	"github.com/wolfman30/clinic-booking/internal/intake"
	"github.com/wolfman30/clinic-booking/internal/slots"
	"github.com/wolfman30/clinic-booking/internal/upstream"
)

// Snapshot is a read-only view of a workflow.
type Snapshot struct {
	ID             string                `json:"id"`
	State          State                 `json:"state"`
	ProviderID     string                `json:"providerId,omitempty"`
	Provider       *upstream.Provider    `json:"provider,omitempty"`
	AcceptedPaths  intake.AcceptedPaths  `json:"acceptedPaths"`
	Catalog        []slots.DaySlotGroup  `json:"catalog,omitempty"`
	CatalogStale   bool                  `json:"catalogStale"`
	Slot           *slots.Slot           `json:"slot,omitempty"`
	SettlementPath intake.SettlementPath `json:"settlementPath,omitempty"`
	Intake         *intake.Intake        `json:"intake,omitempty"`
	IntakeIssue    string                `json:"intakeIssue,omitempty"`
	Booking        *booking.Record       `json:"booking,omitempty"`
	CheckoutReady  bool                  `json:"checkoutReady"`
	LastError      string                `json:"lastError,omitempty"`
	UpdatedAt      time.Time             `json:"updatedAt"`
}

// Snapshot copies the current workflow view.
func (w *Workflow) Snapshot() Snapshot {
	w.mu.Lock()
	defer w.mu.Unlock()

	snap := Snapshot{
		ID:             w.id,
		State:          w.state,
		ProviderID:     w.providerID,
		AcceptedPaths:  w.accepted,
		CatalogStale:   w.catalogStale,
		SettlementPath: w.path,
		CheckoutReady:  w.state == StatePaymentPending && w.handoff != nil && !w.consumed,
		UpdatedAt:      w.updatedAt,
	}
	if w.provider != nil {
		p := *w.provider
		snap.Provider = &p
	}
	if len(w.catalog) > 0 {
		snap.Catalog = make([]slots.DaySlotGroup, len(w.catalog))
		for i, g := range w.catalog {
			snap.Catalog[i] = slots.DaySlotGroup{Date: g.Date, Key: g.Key, Slots: append([]slots.Slot(nil), g.Slots...)}
		}
	}
	if w.slot != nil {
		s := *w.slot
		snap.Slot = &s
	}
	if w.form != nil {
		draft := w.form.Draft()
		snap.Intake = &draft
		if issue := w.form.Issue(); issue != nil {
			snap.IntakeIssue = issue.Error()
		}
	}
	if w.record != nil {
		r := *w.record
		snap.Booking = &r
	}
	if w.lastErr != nil {
		snap.LastError = w.lastErr.Error()
	}
	return snap
}
