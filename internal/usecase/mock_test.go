//go:build !integration

package usecase_test

import (
	"context"
	"encoding/json"
	"io"
	"sync"
	"time"

	"github.com/jackc/pgx/v4"
	"github.com/rs/zerolog"

	"mpesa-payment-service/internal/domain"
	"mpesa-payment-service/internal/domain/model"
	"mpesa-payment-service/internal/domain/ports/adapter"
	"mpesa-payment-service/internal/domain/ports/repository"
)

func newTestLogger() *zerolog.Logger {
	l := zerolog.New(io.Discard)
	return &l
}

// =============================
// Repositories
// =============================

// ---- Mock CheckoutSessionRepository ----

type MockSessionRepo struct {
	mu       sync.Mutex
	sessions map[string]*model.CheckoutSession

	SaveFunc                  func(ctx context.Context, qx repository.Tx, s *model.CheckoutSession) error
	UpdateStatusIfPendingFunc func(ctx context.Context, qx repository.Tx, id string, status model.PaymentStatus, resultCode *int, resultDesc string) (bool, error)
	ListPendingOlderThanFunc  func(ctx context.Context, qx repository.Tx, olderThan time.Time, limit int) ([]*model.CheckoutSession, error)
}

var _ repository.CheckoutSessionRepository = (*MockSessionRepo)(nil)

func NewMockSessionRepo() *MockSessionRepo {
	return &MockSessionRepo{sessions: map[string]*model.CheckoutSession{}}
}

func (m *MockSessionRepo) Save(ctx context.Context, qx repository.Tx, s *model.CheckoutSession) error {
	if m.SaveFunc != nil {
		return m.SaveFunc(ctx, qx, s)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *s
	m.sessions[s.CheckoutRequestID] = &cp
	return nil
}

func (m *MockSessionRepo) FindByCheckoutID(ctx context.Context, qx repository.Tx, id string) (*model.CheckoutSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *s
	return &cp, nil
}

func (m *MockSessionRepo) UpdateStatusIfPending(ctx context.Context, qx repository.Tx, id string, status model.PaymentStatus, resultCode *int, resultDesc string) (bool, error) {
	if m.UpdateStatusIfPendingFunc != nil {
		return m.UpdateStatusIfPendingFunc(ctx, qx, id, status, resultCode, resultDesc)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok || s.Status != model.PaymentStatusPending {
		return false, nil
	}
	s.Status = status
	s.ResultCode = resultCode
	s.ResultDesc = resultDesc
	s.UpdatedAt = time.Now()
	return true, nil
}

func (m *MockSessionRepo) ListPendingOlderThan(ctx context.Context, qx repository.Tx, olderThan time.Time, limit int) ([]*model.CheckoutSession, error) {
	if m.ListPendingOlderThanFunc != nil {
		return m.ListPendingOlderThanFunc(ctx, qx, olderThan, limit)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*model.CheckoutSession
	for _, s := range m.sessions {
		if s.Status == model.PaymentStatusPending && s.CreatedAt.Before(olderThan) {
			cp := *s
			out = append(out, &cp)
			if len(out) == limit {
				break
			}
		}
	}
	return out, nil
}

// ---- Mock TransactionRepository ----

type MockTransactionRepo struct {
	mu      sync.Mutex
	records map[string]*model.TransactionRecord

	SaveFunc func(ctx context.Context, qx repository.Tx, t *model.TransactionRecord) error
}

var _ repository.TransactionRepository = (*MockTransactionRepo)(nil)

func NewMockTransactionRepo() *MockTransactionRepo {
	return &MockTransactionRepo{records: map[string]*model.TransactionRecord{}}
}

func (m *MockTransactionRepo) Save(ctx context.Context, qx repository.Tx, t *model.TransactionRecord) error {
	if m.SaveFunc != nil {
		return m.SaveFunc(ctx, qx, t)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.records[t.CheckoutRequestID]; ok {
		return domain.ErrAlreadyExists
	}
	cp := *t
	m.records[t.CheckoutRequestID] = &cp
	return nil
}

func (m *MockTransactionRepo) FindByCheckoutID(ctx context.Context, qx repository.Tx, id string) (*model.TransactionRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.records[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *t
	return &cp, nil
}

func (m *MockTransactionRepo) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.records)
}

// =============================
// Adapters
// =============================

// ---- Mock PaymentGateway ----

type MockPaymentGateway struct {
	mu sync.Mutex

	StkPushFunc     func(ctx context.Context, req adapter.StkPushRequest) (*adapter.StkPushResponse, error)
	QueryStatusFunc func(ctx context.Context, checkoutRequestID string) (json.RawMessage, error)

	Pushes  []adapter.StkPushRequest
	Queries []string
}

var _ adapter.PaymentGateway = (*MockPaymentGateway)(nil)

func (m *MockPaymentGateway) Name() string { return "mock" }

func (m *MockPaymentGateway) StkPush(ctx context.Context, req adapter.StkPushRequest) (*adapter.StkPushResponse, error) {
	m.mu.Lock()
	m.Pushes = append(m.Pushes, req)
	m.mu.Unlock()
	if m.StkPushFunc != nil {
		return m.StkPushFunc(ctx, req)
	}
	return &adapter.StkPushResponse{
		MerchantRequestID: "29115-34620561-1",
		CheckoutRequestID: "ws_CO_191220191020363925",
		ResponseCode:      "0",
		ResponseDesc:      "Success. Request accepted for processing",
	}, nil
}

func (m *MockPaymentGateway) QueryStatus(ctx context.Context, checkoutRequestID string) (json.RawMessage, error) {
	m.mu.Lock()
	m.Queries = append(m.Queries, checkoutRequestID)
	m.mu.Unlock()
	if m.QueryStatusFunc != nil {
		return m.QueryStatusFunc(ctx, checkoutRequestID)
	}
	return json.RawMessage(`{"ResponseCode": "0", "ResultCode": "0", "ResultDesc": "The service request is processed successfully."}`), nil
}

// ---- Mock TransactionManager ----

type MockTxManager struct {
	WithTxFunc func(ctx context.Context, txOpt pgx.TxOptions, fn func(ctx context.Context, tx repository.Tx) error) error
}

var _ repository.TransactionManager = (*MockTxManager)(nil)

func NewMockTxManager() *MockTxManager { return &MockTxManager{} }

func (m *MockTxManager) WithTx(ctx context.Context, txOpt pgx.TxOptions, fn func(ctx context.Context, tx repository.Tx) error) error {
	if m.WithTxFunc != nil {
		return m.WithTxFunc(ctx, txOpt, fn)
	}
	return fn(ctx, nil)
}
