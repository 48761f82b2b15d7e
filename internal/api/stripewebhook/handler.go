package stripewebhooks

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"discuno-payments/internal/domain/billing"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/stripe/stripe-go/v75"
	"github.com/stripe/stripe-go/v75/webhook"
)

type PaymentStore interface {
	Create(ctx context.Context, p *billing.Payment) error
	GetBySessionID(ctx context.Context, sessionID string) (*billing.Payment, error)
	MarkSucceeded(ctx context.Context, sessionID, paymentIntentID string, disputePeriodEnds time.Time) (bool, error)
	MarkDisputed(ctx context.Context, paymentIntentID string) error
}

type Publisher interface {
	PublishJSON(ctx context.Context, key string, v any) error
}

type Handler struct {
	secret        string
	payments      PaymentStore
	publisher     Publisher
	disputePeriod time.Duration
	now           func() time.Time
	log           *logrus.Entry
}

func NewHandler(secret string, payments PaymentStore, publisher Publisher, disputePeriod time.Duration, log *logrus.Entry) *Handler {
	return &Handler{
		secret:        secret,
		payments:      payments,
		publisher:     publisher,
		disputePeriod: disputePeriod,
		now:           func() time.Time { return time.Now().UTC() },
		log:           log.WithField("component", "stripe_webhook"),
	}
}

// StripeWebhook verifies the signature and dispatches the event. A 5xx answer makes Stripe
// redeliver; every handler is safe to run again for the same event.
func (h *Handler) StripeWebhook(c *gin.Context) {
	if h.secret == "" {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "STRIPE_WEBHOOK_SECRET not configured"})
		return
	}

	payload, err := readStripeBody(c, 65536)
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Error reading request body"})
		return
	}

	event, err := webhook.ConstructEventWithOptions(
		payload,
		c.GetHeader("Stripe-Signature"),
		h.secret,
		webhook.ConstructEventOptions{IgnoreAPIVersionMismatch: true},
	)
	if err != nil {
		h.log.WithError(err).Warn("stripe signature verification failed")
		c.JSON(http.StatusBadRequest, gin.H{"error": "Signature verification failed"})
		return
	}
	log := h.log.WithFields(logrus.Fields{"event_id": event.ID, "event_type": event.Type})

	switch event.Type {
	case "checkout.session.completed", "checkout.session.async_payment_succeeded":
		var session stripe.CheckoutSession
		if err := json.Unmarshal(event.Data.Raw, &session); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Failed to parse session"})
			return
		}
		h.respond(c, log, h.handleCheckoutSessionCompleted(c.Request.Context(), log, &session))

	case "checkout.session.expired":
		var session stripe.CheckoutSession
		if err := json.Unmarshal(event.Data.Raw, &session); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Failed to parse session"})
			return
		}
		h.respond(c, log, h.handleCheckoutSessionExpired(c.Request.Context(), log, &session))

	case "charge.dispute.created":
		var dispute stripe.Dispute
		if err := json.Unmarshal(event.Data.Raw, &dispute); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Failed to parse dispute"})
			return
		}
		h.respond(c, log, h.handleDisputeCreated(c.Request.Context(), log, &dispute))

	default:
		// Acknowledge unknown events to avoid retries
		c.JSON(http.StatusOK, gin.H{"status": "ignored"})
	}
}

func (h *Handler) respond(c *gin.Context, log *logrus.Entry, err error) {
	if err != nil {
		log.WithError(err).Error("stripe event handling failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "event handling failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "received"})
}

func readStripeBody(c *gin.Context, maxBytes int64) ([]byte, error) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes)
	return io.ReadAll(c.Request.Body)
}
