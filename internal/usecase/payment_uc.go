// File: internal/usecase/payment_uc.go
package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"time"

	"github.com/jackc/pgx/v4"
	"github.com/rs/zerolog"

	"mpesa-payment-service/internal/domain"
	"mpesa-payment-service/internal/domain/model"
	"mpesa-payment-service/internal/domain/ports/adapter"
	"mpesa-payment-service/internal/domain/ports/repository"
	"mpesa-payment-service/internal/infra/metrics"
)

// Compile-time check
var _ PaymentUseCase = (*paymentUC)(nil)

type PaymentUseCase interface {
	// Initiate normalizes the phone number, sends the STK push and records a
	// pending checkout session keyed by the gateway's checkout request id.
	// Nothing is persisted when the gateway does not acknowledge the push.
	Initiate(ctx context.Context, phoneNumber string, amount int64, accountReference, description string) (*model.CheckoutSession, error)
	// HandleCallback reconciles the gateway's asynchronous result. It returns
	// an error only for malformed input; duplicate callbacks are a silent
	// no-op so the handler can always acknowledge them.
	HandleCallback(ctx context.Context, cb *model.StkCallback) error
	// QueryStatus polls the gateway for the state of a checkout request and
	// returns the raw provider payload. Side-channel read, not a transition.
	QueryStatus(ctx context.Context, checkoutRequestID string) (json.RawMessage, error)
	// ReconcilePending finalizes stale pending sessions via the query
	// endpoint, covering callbacks that never arrived. Returns how many
	// sessions reached a terminal state.
	ReconcilePending(ctx context.Context, olderThan time.Time, limit int) (int, error)
}

type paymentUC struct {
	sessions     repository.CheckoutSessionRepository
	transactions repository.TransactionRepository
	gateway      adapter.PaymentGateway
	tm           repository.TransactionManager
	log          *zerolog.Logger
}

func NewPaymentUseCase(
	sessions repository.CheckoutSessionRepository,
	transactions repository.TransactionRepository,
	gateway adapter.PaymentGateway,
	tm repository.TransactionManager,
	logger *zerolog.Logger,
) *paymentUC {
	return &paymentUC{sessions: sessions, transactions: transactions, gateway: gateway, tm: tm, log: logger}
}

func (u *paymentUC) Initiate(ctx context.Context, phoneNumber string, amount int64, accountReference, description string) (*model.CheckoutSession, error) {
	// Validation runs before any network call.
	phone, err := model.NormalizePhoneNumber(phoneNumber)
	if err != nil {
		metrics.IncStkPush("invalid")
		return nil, err
	}
	if amount <= 0 {
		metrics.IncStkPush("invalid")
		return nil, domain.ErrInvalidArgument
	}

	resp, err := u.gateway.StkPush(ctx, adapter.StkPushRequest{
		PhoneNumber:      phone,
		Amount:           amount,
		AccountReference: accountReference,
		Description:      description,
	})
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrGatewayRejected):
			metrics.IncStkPush("rejected")
		default:
			metrics.IncStkPush("unavailable")
		}
		return nil, err
	}

	now := time.Now()
	s := &model.CheckoutSession{
		CheckoutRequestID: resp.CheckoutRequestID,
		MerchantRequestID: resp.MerchantRequestID,
		PhoneNumber:       phone,
		Amount:            amount,
		AccountReference:  accountReference,
		Description:       description,
		Status:            model.PaymentStatusPending,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if err := u.sessions.Save(ctx, nil, s); err != nil {
		u.log.Error().Err(err).Str("checkout_request_id", s.CheckoutRequestID).Msg("failed to persist checkout session")
		return nil, err
	}
	metrics.IncStkPush("accepted")
	u.log.Info().Str("checkout_request_id", s.CheckoutRequestID).Int64("amount", amount).Msg("stk push accepted")
	return s, nil
}

func (u *paymentUC) HandleCallback(ctx context.Context, cb *model.StkCallback) error {
	if cb == nil || cb.CheckoutRequestID == "" {
		metrics.IncCallback("malformed")
		return domain.ErrMalformedCallback
	}

	if cb.ResultCode != 0 {
		// Declined, cancelled or timed out on the handset. No receipt
		// metadata exists, but the session must still report failed to
		// status lookups.
		code := cb.ResultCode
		ok, err := u.sessions.UpdateStatusIfPending(ctx, nil, cb.CheckoutRequestID, model.PaymentStatusFailed, &code, cb.ResultDesc)
		if err != nil {
			return err
		}
		if !ok {
			metrics.IncCallback("duplicate")
			u.log.Debug().Str("checkout_request_id", cb.CheckoutRequestID).Msg("callback for terminal session ignored")
			return nil
		}
		metrics.IncCallback("failed")
		u.log.Info().Str("checkout_request_id", cb.CheckoutRequestID).Int("result_code", cb.ResultCode).Str("result_desc", cb.ResultDesc).Msg("payment failed")
		return nil
	}

	md, err := cb.Metadata()
	if err != nil {
		metrics.IncCallback("malformed")
		return err
	}

	var duplicate bool
	err = u.tm.WithTx(ctx, pgx.TxOptions{}, func(ctx context.Context, tx repository.Tx) error {
		record := &model.TransactionRecord{
			CheckoutRequestID:  cb.CheckoutRequestID,
			Amount:             md.Amount,
			MpesaReceiptNumber: md.MpesaReceiptNumber,
			PhoneNumber:        md.PhoneNumber,
			Status:             model.PaymentStatusSuccess,
			CreatedAt:          time.Now(),
		}
		if err := u.transactions.Save(ctx, tx, record); err != nil {
			if errors.Is(err, domain.ErrAlreadyExists) {
				duplicate = true
				return nil
			}
			return err
		}
		code := cb.ResultCode
		if _, err := u.sessions.UpdateStatusIfPending(ctx, tx, cb.CheckoutRequestID, model.PaymentStatusSuccess, &code, cb.ResultDesc); err != nil {
			return err
		}
		return nil
	})
	if err != nil {
		return err
	}

	if duplicate {
		metrics.IncCallback("duplicate")
		u.log.Debug().Str("checkout_request_id", cb.CheckoutRequestID).Msg("duplicate success callback ignored")
		return nil
	}
	metrics.IncCallback("success")
	u.log.Info().Str("checkout_request_id", cb.CheckoutRequestID).Str("receipt", md.MpesaReceiptNumber).Int64("amount", md.Amount).Msg("payment reconciled")
	return nil
}

func (u *paymentUC) QueryStatus(ctx context.Context, checkoutRequestID string) (json.RawMessage, error) {
	if checkoutRequestID == "" {
		return nil, domain.ErrInvalidArgument
	}
	return u.gateway.QueryStatus(ctx, checkoutRequestID)
}

// queryResult is the subset of the stkpushquery response the reconciler needs.
// Daraja encodes both codes as strings here, unlike the callback.
type queryResult struct {
	ResponseCode string `json:"ResponseCode"`
	ResultCode   string `json:"ResultCode"`
	ResultDesc   string `json:"ResultDesc"`
	ErrorCode    string `json:"errorCode"`
	ErrorMessage string `json:"errorMessage"`
}

func (u *paymentUC) ReconcilePending(ctx context.Context, olderThan time.Time, limit int) (int, error) {
	pending, err := u.sessions.ListPendingOlderThan(ctx, nil, olderThan, limit)
	if err != nil {
		return 0, err
	}

	finalized := 0
	for _, s := range pending {
		raw, err := u.gateway.QueryStatus(ctx, s.CheckoutRequestID)
		if err != nil {
			u.log.Warn().Err(err).Str("checkout_request_id", s.CheckoutRequestID).Msg("status query failed")
			continue
		}
		var qr queryResult
		if err := json.Unmarshal(raw, &qr); err != nil {
			u.log.Warn().Err(err).Str("checkout_request_id", s.CheckoutRequestID).Msg("unparseable status payload")
			continue
		}
		if qr.ErrorCode != "" || qr.ResultCode == "" {
			// Still processing on the gateway side; try again next tick.
			continue
		}

		status := model.PaymentStatusFailed
		if qr.ResultCode == "0" {
			status = model.PaymentStatusSuccess
		}
		code, convErr := strconv.Atoi(qr.ResultCode)
		var codePtr *int
		if convErr == nil {
			codePtr = &code
		}
		ok, err := u.sessions.UpdateStatusIfPending(ctx, nil, s.CheckoutRequestID, status, codePtr, qr.ResultDesc)
		if err != nil {
			u.log.Warn().Err(err).Str("checkout_request_id", s.CheckoutRequestID).Msg("reconcile update failed")
			continue
		}
		if ok {
			finalized++
			u.log.Info().Str("checkout_request_id", s.CheckoutRequestID).Str("status", string(status)).Msg("stale session reconciled")
		}
	}
	return finalized, nil
}
