package repository

import (
	"context"
	"time"

	"mpesa-payment-service/internal/domain/model"
)

// -----------------------------
// Checkout sessions
// -----------------------------

type CheckoutSessionRepository interface {
	Save(ctx context.Context, qx Tx, s *model.CheckoutSession) error
	FindByCheckoutID(ctx context.Context, qx Tx, checkoutRequestID string) (*model.CheckoutSession, error)
	// UpdateStatusIfPending atomically transitions a session out of pending.
	// Returns false when the session was already terminal (duplicate or late
	// callback); callers treat that as a no-op, never an error.
	UpdateStatusIfPending(ctx context.Context, qx Tx, checkoutRequestID string, status model.PaymentStatus, resultCode *int, resultDesc string) (bool, error)
	ListPendingOlderThan(ctx context.Context, qx Tx, olderThan time.Time, limit int) ([]*model.CheckoutSession, error)
}

// -----------------------------
// Transactions
// -----------------------------

type TransactionRepository interface {
	// Save inserts the record; a second insert for the same checkout request
	// id returns domain.ErrAlreadyExists and writes nothing. The uniqueness
	// constraint lives in storage so concurrent duplicate callbacks race
	// safely.
	Save(ctx context.Context, qx Tx, tr *model.TransactionRecord) error
	FindByCheckoutID(ctx context.Context, qx Tx, checkoutRequestID string) (*model.TransactionRecord, error)
}
