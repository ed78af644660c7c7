package model

import (
	"strings"

	"mpesa-payment-service/internal/domain"
)

func allDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return len(s) > 0
}

// NormalizePhoneNumber rewrites a user-supplied number into the canonical
// 254XXXXXXXXX form the gateway expects. Two input shapes are accepted:
// already-canonical "254" + 9 digits, and local "0" + 9 digits. A leading "+"
// is stripped first. Anything else is ErrInvalidPhoneNumber.
//
// Pure function, no side effects; must run before any network call.
func NormalizePhoneNumber(phone string) (string, error) {
	p := strings.TrimPrefix(strings.TrimSpace(phone), "+")
	switch {
	case len(p) == 12 && strings.HasPrefix(p, "254") && allDigits(p):
		return p, nil
	case len(p) == 10 && strings.HasPrefix(p, "0") && allDigits(p):
		return "254" + p[1:], nil
	default:
		return "", domain.ErrInvalidPhoneNumber
	}
}
