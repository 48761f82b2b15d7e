package stripe

import (
	"context"
	"fmt"
	"strconv"

	"github.com/sirupsen/logrus"
	stripego "github.com/stripe/stripe-go/v75"
	"github.com/stripe/stripe-go/v75/client"
)

// Client wraps the Stripe API calls the payment pipeline makes. Every mutating call carries
// an idempotency key so a retried request never moves money twice.
type Client struct {
	api *client.API
	log *logrus.Entry
}

func NewClient(secretKey string, log *logrus.Entry) *Client {
	return &Client{api: client.New(secretKey, nil), log: log}
}

// Refund refunds the full amount captured on paymentIntentID and returns the refund id.
// A refund already issued for the payment intent is returned instead of creating another.
func (c *Client) Refund(ctx context.Context, paymentIntentID, idempotencyKey string) (string, error) {
	existing, err := c.findRefund(ctx, paymentIntentID)
	if err != nil {
		return "", err
	}
	if existing != "" {
		c.log.WithFields(logrus.Fields{"payment_intent": paymentIntentID, "refund_id": existing}).Info("refund already exists")
		return existing, nil
	}

	params := &stripego.RefundParams{
		PaymentIntent: stripego.String(paymentIntentID),
	}
	params.Context = ctx
	params.SetIdempotencyKey(idempotencyKey)

	r, err := c.api.Refunds.New(params)
	if err != nil {
		return "", fmt.Errorf("stripe refund %s: %w", paymentIntentID, err)
	}
	c.log.WithFields(logrus.Fields{"payment_intent": paymentIntentID, "refund_id": r.ID, "status": r.Status}).Info("refund created")
	return r.ID, nil
}

func (c *Client) findRefund(ctx context.Context, paymentIntentID string) (string, error) {
	params := &stripego.RefundListParams{PaymentIntent: stripego.String(paymentIntentID)}
	params.Context = ctx
	it := c.api.Refunds.List(params)
	for it.Next() {
		if r := it.Refund(); RefundActive(r) {
			return r.ID, nil
		}
	}
	if err := it.Err(); err != nil {
		return "", fmt.Errorf("stripe list refunds %s: %w", paymentIntentID, err)
	}
	return "", nil
}

type TransferRequest struct {
	PaymentID   uint
	Amount      int64
	Currency    string
	Destination string
	SessionID   string
	// Attempt is the payment's transfer_retry_count when the attempt starts.
	Attempt int
}

// Transfer pays the mentor's connected account. Each attempt has its own idempotency key;
// callers look for an earlier transfer with FindTransfer before retrying.
func (c *Client) Transfer(ctx context.Context, req TransferRequest) (string, error) {
	params := &stripego.TransferParams{
		Amount:        stripego.Int64(req.Amount),
		Currency:      stripego.String(req.Currency),
		Destination:   stripego.String(req.Destination),
		TransferGroup: stripego.String(req.SessionID),
	}
	params.Context = ctx
	params.SetIdempotencyKey(TransferIdempotencyKey(req.PaymentID, req.Attempt))
	params.AddMetadata("payment_id", strconv.FormatUint(uint64(req.PaymentID), 10))
	params.AddMetadata("session_id", req.SessionID)

	tr, err := c.api.Transfers.New(params)
	if err != nil {
		return "", fmt.Errorf("stripe transfer for payment %d: %w", req.PaymentID, err)
	}
	return tr.ID, nil
}

// FindTransfer returns the id of a live transfer already made for the session's payment, or
// "" when there is none.
func (c *Client) FindTransfer(ctx context.Context, sessionID string) (string, error) {
	params := &stripego.TransferListParams{TransferGroup: stripego.String(sessionID)}
	params.Context = ctx
	it := c.api.Transfers.List(params)
	for it.Next() {
		if tr := it.Transfer(); !tr.Reversed {
			return tr.ID, nil
		}
	}
	if err := it.Err(); err != nil {
		return "", fmt.Errorf("stripe list transfers %s: %w", sessionID, err)
	}
	return "", nil
}

// AccountReady fetches the connected account and reports whether it can receive payouts.
func (c *Client) AccountReady(ctx context.Context, accountID string) (bool, error) {
	params := &stripego.AccountParams{}
	params.Context = ctx
	acct, err := c.api.Accounts.GetByID(accountID, params)
	if err != nil {
		return false, fmt.Errorf("stripe account %s: %w", accountID, err)
	}
	return AccountReady(acct), nil
}

// RefundIdempotencyKey is unique per call so a retry is a new request rather than a replay
// of the stored failure.
func RefundIdempotencyKey(sessionID string, runAttempt, try int) string {
	return fmt.Sprintf("refund:%s:%d:%d", sessionID, runAttempt, try)
}

func TransferIdempotencyKey(paymentID uint, attempt int) string {
	return fmt.Sprintf("transfer:%d:%d", paymentID, attempt)
}
