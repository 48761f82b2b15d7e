package stripe

import (
	"errors"
	"net/http"
	"strings"

	stripego "github.com/stripe/stripe-go/v75"
)

// AccountReady reports whether a connected account is active and chargeable.
func AccountReady(acct *stripego.Account) bool {
	return acct != nil && acct.ChargesEnabled
}

// RefundActive reports whether r has moved, or may still move, money back to the customer.
func RefundActive(r *stripego.Refund) bool {
	if r == nil {
		return false
	}
	switch r.Status {
	case stripego.RefundStatusFailed, stripego.RefundStatusCanceled:
		return false
	}
	return true
}

// IsTransient reports whether err is worth retrying: rate limits, Stripe 5xx, and failures
// that never produced a Stripe response (network).
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	var se *stripego.Error
	if errors.As(err, &se) {
		return se.HTTPStatusCode == http.StatusTooManyRequests ||
			se.HTTPStatusCode >= http.StatusInternalServerError ||
			se.Type == stripego.ErrorTypeAPI
	}
	return true
}

// Message returns Stripe's own message for API errors, err.Error() otherwise.
func Message(err error) string {
	if err == nil {
		return ""
	}
	var se *stripego.Error
	if errors.As(err, &se) && strings.TrimSpace(se.Msg) != "" {
		return se.Msg
	}
	return err.Error()
}
