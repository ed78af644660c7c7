package model

import (
	"encoding/json"
	"fmt"

	"mpesa-payment-service/internal/domain"
)

// StkCallback is the gateway's asynchronous payment result, as delivered to
// the callback endpoint after unwrapping the Body.stkCallback envelope.
type StkCallback struct {
	MerchantRequestID string           `json:"MerchantRequestID"`
	CheckoutRequestID string           `json:"CheckoutRequestID"`
	ResultCode        int              `json:"ResultCode"`
	ResultDesc        string           `json:"ResultDesc"`
	CallbackMetadata  CallbackItemList `json:"CallbackMetadata"`
}

type CallbackItemList struct {
	Item []CallbackItem `json:"Item"`
}

type CallbackItem struct {
	Name  string          `json:"Name"`
	Value json.RawMessage `json:"Value"`
}

// CallbackMetadata is the typed view of the metadata item list that the
// success branch of a callback must carry.
type CallbackMetadata struct {
	Amount             int64
	MpesaReceiptNumber string
	PhoneNumber        string
}

func (c *StkCallback) item(name string) (json.RawMessage, bool) {
	for _, it := range c.CallbackMetadata.Item {
		if it.Name == name && len(it.Value) > 0 {
			return it.Value, true
		}
	}
	return nil, false
}

func (c *StkCallback) stringItem(name string) (string, error) {
	raw, ok := c.item(name)
	if !ok {
		return "", fmt.Errorf("%w: missing metadata item %q", domain.ErrMalformedCallback, name)
	}
	// The gateway is inconsistent about quoting; accept both string and number.
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s, nil
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		return n.String(), nil
	}
	return "", fmt.Errorf("%w: metadata item %q has unexpected type", domain.ErrMalformedCallback, name)
}

// Metadata extracts Amount, MpesaReceiptNumber and PhoneNumber from the item
// list, failing with ErrMalformedCallback if any of them is absent. Only valid
// on the success branch (ResultCode == 0); failure callbacks carry no
// metadata.
func (c *StkCallback) Metadata() (CallbackMetadata, error) {
	var md CallbackMetadata

	raw, ok := c.item("Amount")
	if !ok {
		return md, fmt.Errorf("%w: missing metadata item %q", domain.ErrMalformedCallback, "Amount")
	}
	var amount float64
	if err := json.Unmarshal(raw, &amount); err != nil {
		return md, fmt.Errorf("%w: metadata item %q is not a number", domain.ErrMalformedCallback, "Amount")
	}
	md.Amount = int64(amount)

	receipt, err := c.stringItem("MpesaReceiptNumber")
	if err != nil {
		return md, err
	}
	md.MpesaReceiptNumber = receipt

	phone, err := c.stringItem("PhoneNumber")
	if err != nil {
		return md, err
	}
	md.PhoneNumber = phone

	return md, nil
}
