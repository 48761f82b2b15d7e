package stripe

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	stripego "github.com/stripe/stripe-go/v75"
)

func TestIsTransient(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"network", errors.New("dial tcp: i/o timeout"), true},
		{"rate limited", &stripego.Error{HTTPStatusCode: 429, Msg: "slow down"}, true},
		{"server", fmt.Errorf("wrapped: %w", &stripego.Error{HTTPStatusCode: 502}), true},
		{"already refunded", &stripego.Error{HTTPStatusCode: 400, Type: stripego.ErrorTypeInvalidRequest, Msg: "Charge has already been refunded."}, false},
		{"card", &stripego.Error{HTTPStatusCode: 402, Type: stripego.ErrorTypeCard}, false},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			assert.Equal(t, c.want, IsTransient(c.err))
		})
	}
}

func TestMessage(t *testing.T) {
	assert.Equal(t, "Charge has already been refunded.", Message(fmt.Errorf("refund: %w", &stripego.Error{Msg: "Charge has already been refunded."})))
	assert.Equal(t, "boom", Message(errors.New("boom")))
	assert.Equal(t, "", Message(nil))
}

func TestAccountReady(t *testing.T) {
	assert.False(t, AccountReady(nil))
	assert.False(t, AccountReady(&stripego.Account{PayoutsEnabled: true}))
	assert.True(t, AccountReady(&stripego.Account{ChargesEnabled: true}))
}

func TestRefundActive(t *testing.T) {
	assert.False(t, RefundActive(nil))
	assert.True(t, RefundActive(&stripego.Refund{Status: stripego.RefundStatusSucceeded}))
	assert.True(t, RefundActive(&stripego.Refund{Status: stripego.RefundStatusPending}))
	assert.False(t, RefundActive(&stripego.Refund{Status: stripego.RefundStatusFailed}))
	assert.False(t, RefundActive(&stripego.Refund{Status: stripego.RefundStatusCanceled}))
}

func TestIdempotencyKeysDifferPerAttempt(t *testing.T) {
	assert.Equal(t, "refund:cs_1:1:1", RefundIdempotencyKey("cs_1", 1, 1))
	assert.NotEqual(t, RefundIdempotencyKey("cs_1", 1, 1), RefundIdempotencyKey("cs_1", 1, 2))
	assert.NotEqual(t, RefundIdempotencyKey("cs_1", 1, 3), RefundIdempotencyKey("cs_1", 2, 1))
	assert.Equal(t, "transfer:7:0", TransferIdempotencyKey(7, 0))
	assert.NotEqual(t, TransferIdempotencyKey(7, 0), TransferIdempotencyKey(7, 1))
}
