package stripewebhooks

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"discuno-payments/internal/checkout"
	"discuno-payments/internal/domain/billing"

	"github.com/sirupsen/logrus"
	"github.com/stripe/stripe-go/v75"
)

func (h *Handler) handleCheckoutSessionCompleted(ctx context.Context, log *logrus.Entry, s *stripe.CheckoutSession) error {
	log = log.WithField("session_id", s.ID)
	if s.PaymentStatus != stripe.CheckoutSessionPaymentStatusPaid {
		log.WithField("payment_status", s.PaymentStatus).Info("session not paid yet, ignoring")
		return nil
	}
	if s.PaymentIntent == nil || s.PaymentIntent.ID == "" {
		log.Warn("paid session without payment intent, ignoring")
		return nil
	}
	pi := s.PaymentIntent.ID

	payment, err := h.ensurePayment(ctx, s)
	if err != nil {
		return err
	}

	first, err := h.payments.MarkSucceeded(ctx, s.ID, pi, h.now().Add(h.disputePeriod))
	if err != nil {
		return err
	}
	if !first {
		// Already handled once. Publishing again is harmless since the workflow is keyed by session.
		log.Info("payment already left PENDING, republishing")
	}

	evt := completedEvent(payment, s, pi)
	if err := h.publisher.PublishJSON(ctx, checkout.EventCompleted, evt); err != nil {
		return fmt.Errorf("publish %s: %w", checkout.EventCompleted, err)
	}
	log.WithField("payment_id", payment.ID).Info("checkout completed event published")
	return nil
}

// ensurePayment returns the payment row for the session, creating it from the session when
// checkout creation did not record one.
func (h *Handler) ensurePayment(ctx context.Context, s *stripe.CheckoutSession) (*billing.Payment, error) {
	p, err := h.payments.GetBySessionID(ctx, s.ID)
	if err == nil {
		return p, nil
	}
	if !errors.Is(err, billing.ErrNotFound) {
		return nil, err
	}

	md := s.Metadata
	p = &billing.Payment{
		StripeSessionID:       s.ID,
		MentorUserID:          md["mentorUserId"],
		MentorEmail:           md["mentorEmail"],
		MentorStripeAccountID: md["mentorStripeAccountId"],
		CustomerEmail:         md["attendeeEmail"],
		CustomerName:          md["attendeeName"],
		Amount:                s.AmountTotal,
		Currency:              string(s.Currency),
		MentorFee:             parseInt(md["mentorFee"]),
		MenteeFee:             parseInt(md["menteeFee"]),
		MentorAmount:          parseInt(md["mentorAmount"]),
		PlatformStatus:        billing.StatusPending,
		TransferStatus:        billing.TransferPending,
	}
	if p.CustomerEmail == "" && s.CustomerDetails != nil {
		p.CustomerEmail = s.CustomerDetails.Email
	}
	if err := h.payments.Create(ctx, p); err != nil {
		return nil, err
	}
	return p, nil
}

func completedEvent(p *billing.Payment, s *stripe.CheckoutSession, pi string) checkout.CompletedEvent {
	md := s.Metadata
	evt := checkout.CompletedEvent{
		PaymentID:       p.ID,
		PaymentIntentID: pi,
		SessionID:       s.ID,
		Metadata: checkout.Metadata{
			MentorUserID:          firstNonEmpty(md["mentorUserId"], p.MentorUserID),
			EventTypeID:           parseInt(md["eventTypeId"]),
			StartTime:             md["startTime"],
			AttendeeName:          firstNonEmpty(md["attendeeName"], p.CustomerName),
			AttendeeEmail:         firstNonEmpty(md["attendeeEmail"], p.CustomerEmail),
			AttendeePhone:         md["attendeePhone"],
			AttendeeTimeZone:      md["attendeeTimeZone"],
			MentorUsername:        md["mentorUsername"],
			MentorFee:             p.MentorFee,
			MenteeFee:             p.MenteeFee,
			MentorAmount:          p.MentorAmount,
			MentorStripeAccountID: firstNonEmpty(md["mentorStripeAccountId"], p.MentorStripeAccountID),
		},
	}
	if s.AmountTotal > 0 {
		amount := s.AmountTotal
		evt.SessionAmount = &amount
	}
	if s.Currency != "" {
		currency := string(s.Currency)
		evt.SessionCurrency = &currency
	}
	return evt
}

func (h *Handler) handleCheckoutSessionExpired(ctx context.Context, log *logrus.Entry, s *stripe.CheckoutSession) error {
	if err := h.publisher.PublishJSON(ctx, checkout.EventCancelled, checkout.CancelledEvent{SessionID: s.ID}); err != nil {
		return fmt.Errorf("publish %s: %w", checkout.EventCancelled, err)
	}
	log.WithField("session_id", s.ID).Info("checkout cancelled event published")
	return nil
}

func (h *Handler) handleDisputeCreated(ctx context.Context, log *logrus.Entry, d *stripe.Dispute) error {
	if d.PaymentIntent == nil || d.PaymentIntent.ID == "" {
		log.WithField("dispute_id", d.ID).Warn("dispute without payment intent, ignoring")
		return nil
	}
	err := h.payments.MarkDisputed(ctx, d.PaymentIntent.ID)
	if errors.Is(err, billing.ErrNotFound) {
		log.WithField("payment_intent", d.PaymentIntent.ID).Warn("dispute for unknown payment")
		return nil
	}
	if err != nil {
		return err
	}
	log.WithField("payment_intent", d.PaymentIntent.ID).Warn("payment disputed, payout blocked")
	return nil
}

func parseInt(s string) int64 {
	n, _ := strconv.ParseInt(s, 10, 64)
	return n
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
