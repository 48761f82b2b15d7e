package checkout

import (
	"fmt"

	"github.com/go-playground/validator/v10"
)

// Routing keys on the checkout exchange.
const (
	EventCompleted = "checkout.completed"
	EventCancelled = "checkout.cancelled"
)

var validate = validator.New()

type Metadata struct {
	MentorUserID          string `json:"mentorUserId" validate:"required"`
	EventTypeID           int64  `json:"eventTypeId" validate:"required,gt=0"`
	StartTime             string `json:"startTime" validate:"required"`
	AttendeeName          string `json:"attendeeName"`
	AttendeeEmail         string `json:"attendeeEmail" validate:"required,email"`
	AttendeePhone         string `json:"attendeePhone,omitempty"`
	AttendeeTimeZone      string `json:"attendeeTimeZone"`
	MentorUsername        string `json:"mentorUsername"`
	MentorFee             int64  `json:"mentorFee"`
	MenteeFee             int64  `json:"menteeFee"`
	MentorAmount          int64  `json:"mentorAmount"`
	MentorStripeAccountID string `json:"mentorStripeAccountId"`
}

// CompletedEvent starts the side-effects workflow for one paid checkout session.
type CompletedEvent struct {
	PaymentID       uint     `json:"paymentId"`
	PaymentIntentID string   `json:"paymentIntentId" validate:"required"`
	SessionID       string   `json:"sessionId" validate:"required"`
	Metadata        Metadata `json:"metadata" validate:"-"`
	SessionAmount   *int64   `json:"sessionAmount"`
	SessionCurrency *string  `json:"sessionCurrency"`
}

// Validate checks what the workflow needs before it can start: the session that keys it
// and the payment intent a refund would target. Booking fields are checked inside the
// booking step.
func (e CompletedEvent) Validate() error {
	if err := validate.Struct(e); err != nil {
		return fmt.Errorf("invalid %s event: %w", EventCompleted, err)
	}
	return nil
}

// Amount is the charged total, falling back to the fee breakdown when the session total
// was not captured.
func (e CompletedEvent) Amount() int64 {
	if e.SessionAmount != nil {
		return *e.SessionAmount
	}
	return e.Metadata.MentorFee + e.Metadata.MenteeFee
}

func (e CompletedEvent) Currency() string {
	if e.SessionCurrency != nil && *e.SessionCurrency != "" {
		return *e.SessionCurrency
	}
	return "usd"
}

// Validate checks the fields the calendar needs to create a booking.
func (m Metadata) Validate() error {
	if err := validate.Struct(m); err != nil {
		return fmt.Errorf("invalid booking metadata: %w", err)
	}
	return nil
}

type CancelledEvent struct {
	SessionID string `json:"sessionId" validate:"required"`
}

func (e CancelledEvent) Validate() error {
	if err := validate.Struct(e); err != nil {
		return fmt.Errorf("invalid %s event: %w", EventCancelled, err)
	}
	return nil
}
