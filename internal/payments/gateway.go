// Package payments opens online checkout sessions and verifies the gateway
// callback before a booking is treated as paid.
package payments

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/wolfman30/clinic-booking/pkg/logging"
)

var gatewayTracer = otel.Tracer("booking.internal.payments")

var (
	// ErrHandoffRejected is returned when the gateway refuses to open an order.
	ErrHandoffRejected = errors.New("payments: gateway refused to create order")
	// ErrMalformedCallback is returned when a callback payload cannot be parsed.
	ErrMalformedCallback = errors.New("payments: malformed callback payload")
)

// Handoff is the gateway order used to open the checkout UI. It is consumed
// once.
type Handoff struct {
	OrderID  string `json:"id"`
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
	Receipt  string `json:"receipt"`
}

// Callback is the subset of the gateway's completion payload used to key the
// verified ledger. The raw payload is what gets verified.
type Callback struct {
	OrderID   string `json:"razorpay_order_id"`
	PaymentID string `json:"razorpay_payment_id"`
	Signature string `json:"razorpay_signature"`
}

// ParseCallback extracts identifiers from a raw callback.
func ParseCallback(raw json.RawMessage) (Callback, error) {
	var cb Callback
	if err := json.Unmarshal(raw, &cb); err != nil {
		return Callback{}, fmt.Errorf("%w: %v", ErrMalformedCallback, err)
	}
	if strings.TrimSpace(cb.OrderID) == "" {
		return Callback{}, fmt.Errorf("%w: missing order id", ErrMalformedCallback)
	}
	return cb, nil
}

// Verification is the gateway verdict for a callback.
type Verification struct {
	Verified bool
	Message  string
}

// Caller performs token-forwarding JSON calls.
type Caller interface {
	Do(ctx context.Context, op, method, path, token string, body any, out any) error
}

// GatewayClient requests checkout orders and verifies completion callbacks.
type GatewayClient struct {
	caller Caller
	logger *logging.Logger
}

// NewGatewayClient creates a gateway client on top of a platform caller.
func NewGatewayClient(caller Caller, logger *logging.Logger) *GatewayClient {
	if caller == nil {
		panic("payments: caller required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &GatewayClient{caller: caller, logger: logger}
}

// RequestHandoff opens a gateway order for an unpaid booking.
func (g *GatewayClient) RequestHandoff(ctx context.Context, token, bookingID string) (Handoff, error) {
	ctx, span := gatewayTracer.Start(ctx, "payments.request_handoff")
	defer span.End()
	span.SetAttributes(attribute.String("booking.id", bookingID))

	var resp struct {
		Success bool    `json:"success"`
		Message string  `json:"message"`
		Order   Handoff `json:"order"`
	}
	body := map[string]string{"appointmentId": bookingID}
	if err := g.caller.Do(ctx, "payment_order", http.MethodPost, "/api/user/payment-razorpay", token, body, &resp); err != nil {
		span.RecordError(err)
		return Handoff{}, fmt.Errorf("payments: request handoff: %w", err)
	}
	if !resp.Success || strings.TrimSpace(resp.Order.OrderID) == "" {
		g.logger.Warn("gateway order rejected", "booking_id", bookingID, "message", resp.Message)
		if resp.Message != "" {
			return Handoff{}, fmt.Errorf("%w: %s", ErrHandoffRejected, resp.Message)
		}
		return Handoff{}, ErrHandoffRejected
	}
	span.SetAttributes(attribute.String("payments.order_id", resp.Order.OrderID))
	return resp.Order, nil
}

// VerifyPayment asks the gateway to verify a raw callback payload. A transport
// failure is returned as an error; a negative verdict is not.
func (g *GatewayClient) VerifyPayment(ctx context.Context, token string, raw json.RawMessage) (Verification, error) {
	ctx, span := gatewayTracer.Start(ctx, "payments.verify")
	defer span.End()

	if !json.Valid(raw) {
		return Verification{}, ErrMalformedCallback
	}
	var resp struct {
		Success bool   `json:"success"`
		Message string `json:"message"`
	}
	if err := g.caller.Do(ctx, "payment_verify", http.MethodPost, "/api/user/verifyRazorpay", token, raw, &resp); err != nil {
		span.RecordError(err)
		return Verification{}, fmt.Errorf("payments: verify: %w", err)
	}
	span.SetAttributes(attribute.Bool("payments.verified", resp.Success))
	return Verification{Verified: resp.Success, Message: resp.Message}, nil
}
