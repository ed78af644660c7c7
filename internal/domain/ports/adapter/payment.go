package adapter

import (
	"context"
	"encoding/json"
)

// StkPushRequest carries the already-normalized parameters of one push.
type StkPushRequest struct {
	PhoneNumber      string // canonical 254XXXXXXXXX form
	Amount           int64
	AccountReference string
	Description      string
}

// StkPushResponse is the gateway's synchronous acknowledgment of a push.
type StkPushResponse struct {
	MerchantRequestID string
	CheckoutRequestID string
	ResponseCode      string
	ResponseDesc      string
	CustomerMessage   string
}

// PaymentGateway is the hex port for the mobile-money provider.
type PaymentGateway interface {
	Name() string

	// StkPush triggers the PIN prompt on the payer's phone and returns the
	// gateway's acknowledgment. The checkout request id in the response names
	// the pending transaction for callbacks and status queries.
	StkPush(ctx context.Context, req StkPushRequest) (*StkPushResponse, error)

	// QueryStatus polls the gateway for the current state of a checkout
	// request and returns the provider's raw status payload.
	QueryStatus(ctx context.Context, checkoutRequestID string) (json.RawMessage, error)
}

// TokenSource yields a short-lived bearer access token for gateway calls.
// Implementations own the token lifecycle; callers must not cache the result.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}
