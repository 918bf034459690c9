package upstream

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/wolfman30/clinic-booking/internal/intake"
)

// RawSlot is one entry of the platform's per-day slot arrays.
type RawSlot struct {
	Time     string    `json:"time"`
	DateTime time.Time `json:"datetime"`
}

// Provider is a bookable practitioner as listed by the platform directory.
type Provider struct {
	ID           string   `json:"_id"`
	Name         string   `json:"name"`
	Speciality   string   `json:"speciality"`
	Fees         int64    `json:"fees"`
	Available    bool     `json:"available"`
	PaymentModes []string `json:"paymentModes"`
}

// AcceptedPaths reports which settlement paths the provider takes. A provider
// with no declared modes is treated as accepting both.
func (p Provider) AcceptedPaths() intake.AcceptedPaths {
	if len(p.PaymentModes) == 0 {
		return intake.AcceptedPaths{Cash: true, Online: true}
	}
	var accepted intake.AcceptedPaths
	for _, mode := range p.PaymentModes {
		switch intake.SettlementPath(strings.ToLower(strings.TrimSpace(mode))) {
		case intake.PathCash:
			accepted.Cash = true
		case intake.PathOnline:
			accepted.Online = true
		}
	}
	return accepted
}

// BookRequest is the reservation payload. Intake is omitted when the profile
// was already complete.
type BookRequest struct {
	ProviderID string         `json:"providerId"`
	SlotDate   string         `json:"slotDate"`
	SlotTime   string         `json:"slotTime"`
	Intake     *intake.Intake `json:"intake,omitempty"`
}

// BookResponse mirrors the reservation service answer.
type BookResponse struct {
	Success       bool   `json:"success"`
	BookingID     string `json:"bookingId,omitempty"`
	Message       string `json:"message,omitempty"`
	Payment       bool   `json:"payment"`
	PaymentStatus string `json:"paymentStatus,omitempty"`
}

type envelope struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// ProviderSlots returns the provider's available slots as per-day arrays.
func (c *Client) ProviderSlots(ctx context.Context, token, providerID string) ([][]RawSlot, error) {
	var resp struct {
		envelope
		Slots [][]RawSlot `json:"slots"`
	}
	path := "/api/doctor/slots/" + url.PathEscape(providerID)
	if err := c.Do(ctx, "slots", http.MethodGet, path, token, nil, &resp); err != nil {
		return nil, err
	}
	if !resp.Success {
		return nil, &APIError{Op: "slots", Message: resp.Message}
	}
	return resp.Slots, nil
}

// Profile returns the patient record bound to the session token.
func (c *Client) Profile(ctx context.Context, token string) (*intake.Intake, error) {
	var resp struct {
		envelope
		UserData *intake.Intake `json:"userData"`
	}
	if err := c.Do(ctx, "profile", http.MethodGet, "/api/user/get-profile", token, nil, &resp); err != nil {
		return nil, err
	}
	if !resp.Success {
		return nil, &APIError{Op: "profile", Message: resp.Message}
	}
	if resp.UserData == nil {
		return &intake.Intake{}, nil
	}
	return resp.UserData, nil
}

// UpdateProfile writes intake fields to the patient's profile.
func (c *Client) UpdateProfile(ctx context.Context, token string, fields intake.Intake) error {
	var resp envelope
	if err := c.Do(ctx, "update_profile", http.MethodPost, "/api/user/update-profile", token, fields, &resp); err != nil {
		return err
	}
	if !resp.Success {
		return &APIError{Op: "update_profile", Message: resp.Message}
	}
	return nil
}

// Providers lists the provider directory.
func (c *Client) Providers(ctx context.Context, token string) ([]Provider, error) {
	var resp struct {
		envelope
		Doctors []Provider `json:"doctors"`
	}
	if err := c.Do(ctx, "providers", http.MethodGet, "/api/doctor/list", token, nil, &resp); err != nil {
		return nil, err
	}
	if !resp.Success {
		return nil, &APIError{Op: "providers", Message: resp.Message}
	}
	return resp.Doctors, nil
}

// Provider looks a single provider up in the directory.
func (c *Client) Provider(ctx context.Context, token, providerID string) (*Provider, error) {
	providers, err := c.Providers(ctx, token)
	if err != nil {
		return nil, err
	}
	for i := range providers {
		if providers[i].ID == providerID {
			return &providers[i], nil
		}
	}
	return nil, fmt.Errorf("upstream: provider %s: %w", providerID, ErrNotFound)
}

// BookAppointment submits a reservation. A success=false answer is returned as
// a response, not an error, so callers can tell conflicts from transport faults.
func (c *Client) BookAppointment(ctx context.Context, token string, req BookRequest) (*BookResponse, error) {
	var resp BookResponse
	if err := c.Do(ctx, "book", http.MethodPost, "/api/user/book-appointment", token, req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// CancelAppointment cancels a booking on behalf of the appointment
// management surface.
func (c *Client) CancelAppointment(ctx context.Context, token, bookingID string) error {
	var resp envelope
	body := map[string]string{"appointmentId": bookingID}
	if err := c.Do(ctx, "cancel", http.MethodPost, "/api/user/cancel-appointment", token, body, &resp); err != nil {
		return err
	}
	if !resp.Success {
		return &APIError{Op: "cancel", Message: resp.Message}
	}
	return nil
}
