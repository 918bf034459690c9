package events

import "time"

type BookingSubmittedV1 struct {
	WorkflowID     string    `json:"workflow_id"`
	BookingID      string    `json:"booking_id"`
	ProviderID     string    `json:"provider_id"`
	SlotDate       string    `json:"slot_date"`
	SlotTime       string    `json:"slot_time"`
	SettlementPath string    `json:"settlement_path"`
	WithIntake     bool      `json:"with_intake"`
	SubmittedAt    time.Time `json:"submitted_at"`
}

func (BookingSubmittedV1) EventType() string { return "booking.submitted.v1" }

type BookingCashConfirmedV1 struct {
	WorkflowID  string    `json:"workflow_id"`
	BookingID   string    `json:"booking_id"`
	ConfirmedAt time.Time `json:"confirmed_at"`
}

func (BookingCashConfirmedV1) EventType() string { return "booking.cash_confirmed.v1" }

type PaymentPendingV1 struct {
	WorkflowID  string    `json:"workflow_id"`
	BookingID   string    `json:"booking_id"`
	OrderID     string    `json:"order_id"`
	Amount      int64     `json:"amount"`
	Currency    string    `json:"currency"`
	RequestedAt time.Time `json:"requested_at"`
}

func (PaymentPendingV1) EventType() string { return "payment.pending.v1" }

type PaymentConfirmedV1 struct {
	WorkflowID  string    `json:"workflow_id"`
	BookingID   string    `json:"booking_id"`
	OrderID     string    `json:"order_id,omitempty"`
	PaymentID   string    `json:"payment_id,omitempty"`
	Replayed    bool      `json:"replayed,omitempty"`
	ConfirmedAt time.Time `json:"confirmed_at"`
}

func (PaymentConfirmedV1) EventType() string { return "payment.confirmed.v1" }

type PaymentVerificationFailedV1 struct {
	WorkflowID string    `json:"workflow_id"`
	BookingID  string    `json:"booking_id"`
	OrderID    string    `json:"order_id,omitempty"`
	Reason     string    `json:"reason"`
	FailedAt   time.Time `json:"failed_at"`
}

func (PaymentVerificationFailedV1) EventType() string { return "payment.verification_failed.v1" }
