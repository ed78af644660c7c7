package postgres

import (
	"errors"
	"time"

	"context"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"mpesa-payment-service/internal/domain"
	"mpesa-payment-service/internal/domain/model"
	"mpesa-payment-service/internal/domain/ports/repository"
)

var _ repository.CheckoutSessionRepository = (*sessionRepo)(nil)

type sessionRepo struct{ pool *pgxpool.Pool }

func NewCheckoutSessionRepo(pool *pgxpool.Pool) *sessionRepo {
	return &sessionRepo{pool: pool}
}

const sessionColumns = `checkout_request_id, merchant_request_id, phone_number, amount, account_reference, description, status, result_code, result_desc, created_at, updated_at`

func scanSession(row pgx.Row) (*model.CheckoutSession, error) {
	s := &model.CheckoutSession{}
	if err := row.Scan(&s.CheckoutRequestID, &s.MerchantRequestID, &s.PhoneNumber, &s.Amount, &s.AccountReference, &s.Description, &s.Status, &s.ResultCode, &s.ResultDesc, &s.CreatedAt, &s.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, domain.ErrReadDatabaseRow
	}
	return s, nil
}

func (r *sessionRepo) Save(ctx context.Context, tx repository.Tx, s *model.CheckoutSession) error {
	const q = `
INSERT INTO checkout_sessions (
  checkout_request_id, merchant_request_id, phone_number, amount, account_reference, description, status, result_code, result_desc, created_at, updated_at
) VALUES (
  $1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11
);`
	_, err := execSQL(ctx, r.pool, tx, q, s.CheckoutRequestID, s.MerchantRequestID, s.PhoneNumber, s.Amount, s.AccountReference, s.Description, s.Status, s.ResultCode, s.ResultDesc, s.CreatedAt, s.UpdatedAt)
	if err != nil {
		if err == domain.ErrInvalidArgument || err == domain.ErrInvalidExecContext {
			return err
		}
		return domain.ErrOperationFailed
	}
	return nil
}

func (r *sessionRepo) FindByCheckoutID(ctx context.Context, tx repository.Tx, checkoutRequestID string) (*model.CheckoutSession, error) {
	q := `SELECT ` + sessionColumns + ` FROM checkout_sessions WHERE checkout_request_id=$1`
	if _, ok := tx.(pgx.Tx); ok {
		q += " FOR UPDATE"
	}
	q += ";"
	row, err := pickRow(ctx, r.pool, tx, q, checkoutRequestID)
	if err != nil {
		return nil, err
	}
	return scanSession(row)
}

// UpdateStatusIfPending performs the single permitted state transition. The
// WHERE clause keeps terminal sessions terminal: a duplicate or conflicting
// callback matches zero rows and the caller sees false.
func (r *sessionRepo) UpdateStatusIfPending(
	ctx context.Context, tx repository.Tx, checkoutRequestID string, status model.PaymentStatus, resultCode *int, resultDesc string,
) (bool, error) {
	const q = `
    UPDATE checkout_sessions
       SET status = $2,
           result_code = COALESCE($3, result_code),
           result_desc = COALESCE(NULLIF($4, ''), result_desc),
           updated_at = NOW()
     WHERE checkout_request_id = $1
       AND status = 'pending';`

	cmd, err := execSQL(ctx, r.pool, tx, q, checkoutRequestID, string(status), resultCode, resultDesc)
	if err != nil {
		if err == domain.ErrInvalidArgument || err == domain.ErrInvalidExecContext {
			return false, err
		}
		return false, domain.ErrOperationFailed
	}
	return cmd.RowsAffected() >= 1, nil
}

func (r *sessionRepo) ListPendingOlderThan(ctx context.Context, tx repository.Tx, olderThan time.Time, limit int) ([]*model.CheckoutSession, error) {
	if limit <= 0 {
		limit = 100
	}
	const q = `SELECT ` + sessionColumns + ` FROM checkout_sessions WHERE status='pending' AND created_at < $1 ORDER BY created_at ASC LIMIT $2;`
	rows, err := queryRows(ctx, r.pool, tx, q, olderThan, limit)
	if err != nil {
		switch err {
		case domain.ErrInvalidArgument, domain.ErrInvalidExecContext:
			return nil, err
		default:
			return nil, domain.ErrOperationFailed
		}
	}
	defer rows.Close()

	var out []*model.CheckoutSession
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, nil
}
