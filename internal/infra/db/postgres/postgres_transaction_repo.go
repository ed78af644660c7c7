package postgres

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"mpesa-payment-service/internal/domain"
	"mpesa-payment-service/internal/domain/model"
	"mpesa-payment-service/internal/domain/ports/repository"
)

var _ repository.TransactionRepository = (*transactionRepo)(nil)

type transactionRepo struct{ pool *pgxpool.Pool }

func NewTransactionRepo(pool *pgxpool.Pool) *transactionRepo {
	return &transactionRepo{pool: pool}
}

// Save inserts exactly once per checkout request id. The unique key plus
// ON CONFLICT DO NOTHING is the serialization point for concurrent duplicate
// callbacks: one insert wins, the rest observe ErrAlreadyExists.
func (r *transactionRepo) Save(ctx context.Context, tx repository.Tx, t *model.TransactionRecord) error {
	const q = `
INSERT INTO mpesa_transactions (
  checkout_request_id, amount, mpesa_receipt_number, phone_number, status, created_at
) VALUES (
  $1,$2,$3,$4,$5,$6
) ON CONFLICT (checkout_request_id) DO NOTHING;`

	cmd, err := execSQL(ctx, r.pool, tx, q, t.CheckoutRequestID, t.Amount, t.MpesaReceiptNumber, t.PhoneNumber, t.Status, t.CreatedAt)
	if err != nil {
		if err == domain.ErrInvalidArgument || err == domain.ErrInvalidExecContext {
			return err
		}
		return domain.ErrOperationFailed
	}
	if cmd.RowsAffected() == 0 {
		return domain.ErrAlreadyExists
	}
	return nil
}

func (r *transactionRepo) FindByCheckoutID(ctx context.Context, tx repository.Tx, checkoutRequestID string) (*model.TransactionRecord, error) {
	const q = `SELECT checkout_request_id, amount, mpesa_receipt_number, phone_number, status, created_at FROM mpesa_transactions WHERE checkout_request_id=$1;`
	row, err := pickRow(ctx, r.pool, tx, q, checkoutRequestID)
	if err != nil {
		return nil, err
	}

	t := &model.TransactionRecord{}
	if err := row.Scan(&t.CheckoutRequestID, &t.Amount, &t.MpesaReceiptNumber, &t.PhoneNumber, &t.Status, &t.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, domain.ErrReadDatabaseRow
	}
	return t, nil
}
