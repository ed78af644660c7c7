package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"mpesa-payment-service/internal/domain"
	"mpesa-payment-service/internal/domain/model"
	"mpesa-payment-service/internal/infra/logging"
	"mpesa-payment-service/internal/usecase"
)

// Server wires the payment endpoints to PaymentUseCase.
type Server struct {
	payUC usecase.PaymentUseCase
	log   *zerolog.Logger
}

func NewServer(payUC usecase.PaymentUseCase, logger *zerolog.Logger) *Server {
	return &Server{payUC: payUC, log: logger}
}

// Router builds the chi router. The callback and status paths keep their
// trailing slash; that is what the gateway is registered with.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(TraceID(s.log))
	r.Use(RequestLog(s.log))

	r.Post("/", s.handleInitiate)
	r.Post("/callback/", s.handleCallback)
	r.Post("/stk-status/", s.handleStatus)
	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())
	return r
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// handleInitiate accepts the form-encoded payment submission and starts an
// STK push. Validation and gateway failures come back as messages the client
// can render next to the form.
func (s *Server) handleInitiate(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		writeError(w, http.StatusBadRequest, "invalid form body")
		return
	}

	phone := r.PostFormValue("phone_number")
	rawAmount := r.PostFormValue("amount")
	accountRef := r.PostFormValue("account_number")
	if accountRef == "" {
		accountRef = r.PostFormValue("paybill")
	}
	description := r.PostFormValue("description")

	if phone == "" || rawAmount == "" {
		writeError(w, http.StatusBadRequest, "phone_number and amount are required")
		return
	}
	amount, err := strconv.ParseInt(rawAmount, 10, 64)
	if err != nil || amount <= 0 {
		writeError(w, http.StatusBadRequest, "amount must be a positive integer")
		return
	}

	session, err := s.payUC.Initiate(r.Context(), phone, amount, accountRef, description)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrInvalidPhoneNumber), errors.Is(err, domain.ErrInvalidArgument):
			writeError(w, http.StatusBadRequest, err.Error())
		case errors.Is(err, domain.ErrGatewayRejected):
			writeError(w, http.StatusBadGateway, err.Error())
		default:
			logging.With(r.Context(), s.log).Error().Err(err).Msg("initiate failed")
			writeError(w, http.StatusBadGateway, "failed to process request")
		}
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"checkout_request_id": session.CheckoutRequestID,
		"status":              string(session.Status),
	})
}

// callbackEnvelope mirrors the gateway's POST body:
// {"Body": {"stkCallback": {...}}}
type callbackEnvelope struct {
	Body struct {
		StkCallback model.StkCallback `json:"stkCallback"`
	} `json:"Body"`
}

// handleCallback reconciles the asynchronous payment result. The gateway
// retries aggressively, so every path answers with a well-formed body:
// 200 for anything reconciled (including duplicates), 400 for bodies we can
// never process, and a controlled 500 only for storage faults where a retry
// is safe thanks to the unique-key idempotency.
func (s *Server) handleCallback(w http.ResponseWriter, r *http.Request) {
	var env callbackEnvelope
	if err := json.NewDecoder(r.Body).Decode(&env); err != nil {
		writeError(w, http.StatusBadRequest, "invalid callback body: "+err.Error())
		return
	}
	cb := env.Body.StkCallback

	if err := s.payUC.HandleCallback(r.Context(), &cb); err != nil {
		if errors.Is(err, domain.ErrMalformedCallback) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		logging.With(r.Context(), s.log).Error().Err(err).Str("checkout_request_id", cb.CheckoutRequestID).Msg("callback reconciliation failed")
		writeError(w, http.StatusInternalServerError, "reconciliation failed")
		return
	}

	if cb.ResultCode != 0 {
		writeJSON(w, http.StatusOK, map[string]any{
			"ResultCode": cb.ResultCode,
			"ResultDesc": cb.ResultDesc,
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"ResultCode": 0,
		"ResultDesc": "Success",
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	var req struct {
		CheckoutRequestID string `json:"checkout_request_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.CheckoutRequestID == "" {
		writeError(w, http.StatusBadRequest, "checkout_request_id is required")
		return
	}

	status, err := s.payUC.QueryStatus(r.Context(), req.CheckoutRequestID)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrInvalidArgument):
			writeError(w, http.StatusBadRequest, err.Error())
		default:
			logging.With(r.Context(), s.log).Error().Err(err).Str("checkout_request_id", req.CheckoutRequestID).Msg("status query failed")
			writeError(w, http.StatusBadGateway, "failed to query stk status")
		}
		return
	}

	writeJSON(w, http.StatusOK, map[string]json.RawMessage{"status": status})
}
