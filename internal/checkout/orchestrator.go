package checkout

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"discuno-payments/internal/domain/billing"
	"discuno-payments/internal/infra/calcom"
	"discuno-payments/internal/infra/mail"
	stripeinfra "discuno-payments/internal/infra/stripe"
	"discuno-payments/internal/workflow"

	"github.com/sirupsen/logrus"
)

const WorkflowName = "checkout-side-effects"

// Step names are persisted in the step log; renaming one re-runs it for in-flight runs.
const (
	stepTrack        = "track-payment-posthog"
	stepBooking      = "create-calcom-booking"
	stepRefund       = "refund-payment"
	stepAlertAdmin   = "alert-admin"
	stepUpdateStatus = "update-payment-status"
	stepFailureEmail = "send-failure-email"
)

// RefundExceptionMessage replaces any refund error that survived the step's retries.
const RefundExceptionMessage = "Refund exception thrown"

// ErrBookingFailedCompensated ends a run whose booking failed and whose compensation ran.
var ErrBookingFailedCompensated = errors.New("booking failed, compensation completed")

type Calendar interface {
	CreateBooking(ctx context.Context, req calcom.BookingRequest) (calcom.Booking, error)
}

type Payments interface {
	Refund(ctx context.Context, paymentIntentID, idempotencyKey string) (string, error)
}

type Notifier interface {
	SendBookingFailure(ctx context.Context, f mail.BookingFailure) error
	SendAdminAlert(ctx context.Context, a mail.AdminAlert) error
}

type Analytics interface {
	Track(ctx context.Context, distinctID, event string, props map[string]interface{}) error
}

type PaymentStore interface {
	MarkFailed(ctx context.Context, paymentIntentID string) error
}

type Deps struct {
	Engine    *workflow.Engine
	Calendar  Calendar
	Payments  Payments
	Notifier  Notifier
	Analytics Analytics
	Store     PaymentStore
	Log       *logrus.Entry
}

type Result struct {
	Success        bool   `json:"success"`
	BookingCreated bool   `json:"bookingCreated"`
	BookingUID     string `json:"bookingUid,omitempty"`
}

type RefundResult struct {
	Success  bool   `json:"success"`
	RefundID string `json:"refundId,omitempty"`
	Error    string `json:"error,omitempty"`
}

// Orchestrator runs the post-payment side effects of a checkout: book the session, or
// unwind the payment when the booking cannot be made.
type Orchestrator struct {
	deps Deps
	log  *logrus.Entry
}

func NewOrchestrator(deps Deps) *Orchestrator {
	return &Orchestrator{deps: deps, log: deps.Log.WithField("component", "checkout")}
}

// HandleCompleted runs (or resumes, or replays) the workflow for evt.SessionID.
func (o *Orchestrator) HandleCompleted(ctx context.Context, evt CompletedEvent) (Result, error) {
	if err := evt.Validate(); err != nil {
		return Result{}, workflow.NonRetriable(err)
	}
	return workflow.Execute(ctx, o.deps.Engine, WorkflowName, evt.SessionID, evt, func(ctx context.Context, run *workflow.Run) (Result, error) {
		return o.run(ctx, run, evt)
	})
}

// HandleCancelled stops the workflow for the session at its next step boundary.
func (o *Orchestrator) HandleCancelled(ctx context.Context, evt CancelledEvent) (bool, error) {
	if err := evt.Validate(); err != nil {
		return false, workflow.NonRetriable(err)
	}
	return o.deps.Engine.Cancel(ctx, evt.SessionID)
}

func (o *Orchestrator) run(ctx context.Context, run *workflow.Run, evt CompletedEvent) (Result, error) {
	log := run.Logger().WithFields(logrus.Fields{"payment_id": evt.PaymentID, "payment_intent": evt.PaymentIntentID})

	if err := workflow.BestEffort(ctx, run, stepTrack, func(ctx context.Context) error {
		return o.deps.Analytics.Track(ctx, evt.Metadata.MentorUserID, "payment_succeeded", map[string]interface{}{
			"payment_id":     evt.PaymentID,
			"session_id":     evt.SessionID,
			"amount":         billing.MajorUnits(evt.Amount(), evt.Currency()).InexactFloat64(),
			"mentor_fee":     billing.MajorUnits(evt.Metadata.MentorFee, evt.Currency()).InexactFloat64(),
			"mentee_fee":     billing.MajorUnits(evt.Metadata.MenteeFee, evt.Currency()).InexactFloat64(),
			"mentor_amount":  billing.MajorUnits(evt.Metadata.MentorAmount, evt.Currency()).InexactFloat64(),
			"currency":       evt.Currency(),
			"customer_email": evt.Metadata.AttendeeEmail,
		})
	}); err != nil {
		return Result{}, err
	}

	booking, err := workflow.Step(ctx, run, stepBooking, func(ctx context.Context) (calcom.Booking, error) {
		if err := evt.Metadata.Validate(); err != nil {
			return calcom.Booking{}, workflow.NonRetriable(err)
		}
		b, err := o.deps.Calendar.CreateBooking(ctx, calcom.BookingRequest{
			EventTypeID:   evt.Metadata.EventTypeID,
			Start:         evt.Metadata.StartTime,
			AttendeeName:  evt.Metadata.AttendeeName,
			AttendeeEmail: evt.Metadata.AttendeeEmail,
			AttendeePhone: evt.Metadata.AttendeePhone,
			TimeZone:      evt.Metadata.AttendeeTimeZone,
			Metadata: map[string]string{
				"sessionId":       evt.SessionID,
				"paymentIntentId": evt.PaymentIntentID,
				"paymentId":       strconv.FormatUint(uint64(evt.PaymentID), 10),
			},
		})
		if err != nil && calcom.IsPermanent(err) {
			return b, workflow.NonRetriable(err)
		}
		return b, err
	})
	if err == nil {
		log.WithField("booking_uid", booking.UID).Info("booking created")
		return Result{Success: true, BookingCreated: true, BookingUID: booking.UID}, nil
	}

	var bookingErr *workflow.StepError
	if !errors.As(err, &bookingErr) {
		return Result{}, err
	}
	log.WithError(bookingErr).Warn("booking failed, compensating")
	return Result{}, o.compensate(ctx, run, evt, bookingErr)
}

// compensate unwinds a checkout whose booking could not be created. Once started it is
// not cancellable.
func (o *Orchestrator) compensate(ctx context.Context, run *workflow.Run, evt CompletedEvent, bookingErr *workflow.StepError) error {
	run.EnterCompensation()
	log := run.Logger().WithField("payment_intent", evt.PaymentIntentID)

	try := 0
	refund, err := workflow.Step(ctx, run, stepRefund, func(ctx context.Context) (RefundResult, error) {
		try++
		id, err := o.deps.Payments.Refund(ctx, evt.PaymentIntentID, stripeinfra.RefundIdempotencyKey(evt.SessionID, run.Attempt, try))
		if err == nil {
			return RefundResult{Success: true, RefundID: id}, nil
		}
		if stripeinfra.IsTransient(err) {
			return RefundResult{}, err
		}
		return RefundResult{Success: false, Error: stripeinfra.Message(err)}, nil
	})
	if err != nil {
		var stepErr *workflow.StepError
		if !errors.As(err, &stepErr) {
			return err
		}
		refund = RefundResult{Success: false, Error: RefundExceptionMessage}
	}
	log.WithFields(logrus.Fields{"refunded": refund.Success, "refund_error": refund.Error}).Info("refund step finished")

	if !refund.Success {
		if err := workflow.BestEffort(ctx, run, stepAlertAdmin, func(ctx context.Context) error {
			return o.deps.Notifier.SendAdminAlert(ctx, mail.AdminAlert{
				Subject:  "Manual refund required",
				Priority: "HIGH",
				Summary:  "A booking could not be created and the automatic refund failed. Refund this payment manually.",
				Fields: []mail.Field{
					{Name: "Session", Value: evt.SessionID},
					{Name: "Payment intent", Value: evt.PaymentIntentID},
					{Name: "Payment id", Value: strconv.FormatUint(uint64(evt.PaymentID), 10)},
					{Name: "Customer", Value: evt.Metadata.AttendeeEmail},
					{Name: "Amount", Value: billing.FormatAmount(evt.Amount(), evt.Currency())},
					{Name: "Booking error", Value: bookingErr.Message},
					{Name: "Refund error", Value: refund.Error},
				},
				IdempotencyKey: "manual-refund:" + evt.SessionID,
			})
		}); err != nil {
			return err
		}
	}

	if _, err := workflow.Critical(ctx, run, stepUpdateStatus, func(ctx context.Context) (bool, error) {
		return true, o.deps.Store.MarkFailed(ctx, evt.PaymentIntentID)
	}); err != nil {
		return fmt.Errorf("mark payment %s failed: %w", evt.PaymentIntentID, err)
	}

	if err := workflow.BestEffort(ctx, run, stepFailureEmail, func(ctx context.Context) error {
		return o.deps.Notifier.SendBookingFailure(ctx, mail.BookingFailure{
			SessionID:      evt.SessionID,
			CustomerEmail:  evt.Metadata.AttendeeEmail,
			CustomerName:   evt.Metadata.AttendeeName,
			MentorUsername: evt.Metadata.MentorUsername,
			StartTime:      evt.Metadata.StartTime,
			Amount:         evt.Amount(),
			Currency:       evt.Currency(),
			Refunded:       refund.Success,
		})
	}); err != nil {
		return err
	}

	return workflow.NonRetriable(ErrBookingFailedCompensated)
}
