package payments

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

type rowQuerier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// VerifiedPayment is a callback the gateway confirmed.
type VerifiedPayment struct {
	OrderID    string
	BookingID  string
	PaymentID  string
	VerifiedAt time.Time
}

// VerifiedLedger records verified callbacks so a replayed callback does not
// hit the gateway twice.
type VerifiedLedger struct {
	pool rowQuerier
}

func NewVerifiedLedger(pool *pgxpool.Pool) *VerifiedLedger {
	if pool == nil {
		panic("payments: pgx pool required")
	}
	return &VerifiedLedger{pool: pool}
}

func newVerifiedLedgerWithExec(exec rowQuerier) *VerifiedLedger {
	if exec == nil {
		panic("payments: exec required")
	}
	return &VerifiedLedger{pool: exec}
}

// Lookup returns the verified record for an order, or nil if none exists.
func (l *VerifiedLedger) Lookup(ctx context.Context, orderID string) (*VerifiedPayment, error) {
	query := `SELECT order_id, booking_id, payment_id, verified_at FROM verified_payments WHERE order_id = $1`
	var vp VerifiedPayment
	if err := l.pool.QueryRow(ctx, query, orderID).Scan(&vp.OrderID, &vp.BookingID, &vp.PaymentID, &vp.VerifiedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("payments: lookup verified: %w", err)
	}
	return &vp, nil
}

// Record inserts a verified payment, returning false if the order was already recorded.
func (l *VerifiedLedger) Record(ctx context.Context, vp VerifiedPayment) (bool, error) {
	if vp.VerifiedAt.IsZero() {
		vp.VerifiedAt = time.Now().UTC()
	}
	query := `
		INSERT INTO verified_payments (order_id, booking_id, payment_id, verified_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (order_id) DO NOTHING
	`
	ct, err := l.pool.Exec(ctx, query, vp.OrderID, vp.BookingID, vp.PaymentID, vp.VerifiedAt)
	if err != nil {
		return false, fmt.Errorf("payments: record verified: %w", err)
	}
	return ct.RowsAffected() > 0, nil
}
