package model

import "time"

type PaymentStatus string

const (
	PaymentStatusPending PaymentStatus = "pending" // STK push acknowledged by gateway; awaiting callback
	PaymentStatusSuccess PaymentStatus = "success" // callback (or query) confirmed the payment
	PaymentStatusFailed  PaymentStatus = "failed"  // declined, cancelled or timed out on the handset
)

// CheckoutSession records one STK push attempt. It exists only after the
// gateway acknowledged the push request; a push the gateway never accepted
// leaves no session behind.
//
// Lifecycle: pending -> success | failed, exactly once. Both terminal states
// are final; the storage layer enforces the single transition.
type CheckoutSession struct {
	CheckoutRequestID string // gateway-issued, unique key
	MerchantRequestID string
	PhoneNumber       string // canonical 254XXXXXXXXX form
	Amount            int64  // KES, whole units
	AccountReference  string
	Description       string
	Status            PaymentStatus
	ResultCode        *int   // gateway result code from the callback, if any
	ResultDesc        string // gateway result description, if any
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// TransactionRecord is the durable record of a completed payment. Created by
// the callback reconciler only, on the success branch. checkout_request_id is
// unique in storage so concurrent duplicate callbacks collapse to one record.
type TransactionRecord struct {
	CheckoutRequestID  string
	Amount             int64
	MpesaReceiptNumber string
	PhoneNumber        string
	Status             PaymentStatus
	CreatedAt          time.Time
}
