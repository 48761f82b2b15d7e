package payouts

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"discuno-payments/internal/domain/billing"
	"discuno-payments/internal/infra/mail"
	stripeinfra "discuno-payments/internal/infra/stripe"
	"discuno-payments/internal/workflow"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

type Store interface {
	ListTransferCandidates(ctx context.Context, now time.Time, maxRetries int) ([]billing.Payment, error)
	GetByID(ctx context.Context, id uint) (*billing.Payment, error)
	IncrementTransferRetry(ctx context.Context, id uint) error
	MarkTransferred(ctx context.Context, id uint, transferID string) (bool, error)
	SetTransferStatus(ctx context.Context, id uint, status string) error
}

type Transfers interface {
	AccountReady(ctx context.Context, accountID string) (bool, error)
	FindTransfer(ctx context.Context, sessionID string) (string, error)
	Transfer(ctx context.Context, req stripeinfra.TransferRequest) (string, error)
}

type Notifier interface {
	SendAdminAlert(ctx context.Context, a mail.AdminAlert) error
	SendPayoutSent(ctx context.Context, p mail.PayoutSent) error
}

type Summary struct {
	Success   bool      `json:"success"`
	Processed int       `json:"processed"`
	Failed    int       `json:"failed"`
	Total     int       `json:"total"`
	Timestamp time.Time `json:"timestamp"`
}

type outcome int

const (
	outcomeTransferred outcome = iota
	outcomeSkipped
	outcomeFailed
)

// Job transfers mentor payouts for payments whose dispute window has closed.
type Job struct {
	store       Store
	transfers   Transfers
	notifier    Notifier
	log         *logrus.Entry
	concurrency int
	baseDelay   time.Duration
	sleep       func(ctx context.Context, d time.Duration) error
}

type Option func(*Job)

func WithConcurrency(n int) Option {
	return func(j *Job) {
		if n > 0 {
			j.concurrency = n
		}
	}
}

func WithSleep(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(j *Job) { j.sleep = sleep }
}

func NewJob(store Store, transfers Transfers, notifier Notifier, log *logrus.Entry, opts ...Option) *Job {
	j := &Job{
		store:       store,
		transfers:   transfers,
		notifier:    notifier,
		log:         log.WithField("component", "payouts"),
		concurrency: 1,
		baseDelay:   time.Second,
		sleep:       workflow.SleepContext,
	}
	for _, opt := range opts {
		opt(j)
	}
	return j
}

// Run processes every transfer candidate as of now. Payments are independent: one failing
// payment never stops the others.
func (j *Job) Run(ctx context.Context, now time.Time) (Summary, error) {
	summary := Summary{Timestamp: now.UTC()}

	candidates, err := j.store.ListTransferCandidates(ctx, now, billing.MaxTransferRetries)
	if err != nil {
		return summary, err
	}
	summary.Total = len(candidates)
	j.log.WithField("candidates", len(candidates)).Info("transfer run started")

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(j.concurrency)
	for _, p := range candidates {
		g.Go(func() error {
			res := j.process(gctx, p)
			mu.Lock()
			defer mu.Unlock()
			switch res {
			case outcomeTransferred:
				summary.Processed++
			case outcomeFailed:
				summary.Failed++
			}
			return nil
		})
	}
	_ = g.Wait()

	summary.Success = ctx.Err() == nil
	j.log.WithFields(logrus.Fields{
		"processed": summary.Processed,
		"failed":    summary.Failed,
		"total":     summary.Total,
	}).Info("transfer run finished")
	return summary, ctx.Err()
}

func (j *Job) process(ctx context.Context, p billing.Payment) outcome {
	log := j.log.WithFields(logrus.Fields{"payment_id": p.ID, "account": p.MentorStripeAccountID})

	ready, err := j.transfers.AccountReady(ctx, p.MentorStripeAccountID)
	if err != nil {
		log.WithError(err).Warn("could not check mentor account, skipping")
		return outcomeSkipped
	}
	if !ready {
		log.Info("mentor account is not active, skipping")
		return outcomeSkipped
	}

	budget := billing.MaxTransferRetries - p.TransferRetryCount
	var lastErr error
	for attempt := 1; attempt <= budget; attempt++ {
		current, err := j.store.GetByID(ctx, p.ID)
		if err != nil {
			lastErr = err
			log.WithError(err).Warn("could not reload payment")
			break
		}
		if current.TransferID != nil {
			log.WithField("transfer_id", *current.TransferID).Info("payment already transferred elsewhere")
			return outcomeSkipped
		}

		// A transfer created by an earlier attempt whose result was never recorded.
		transferID, err := j.transfers.FindTransfer(ctx, p.StripeSessionID)
		if err == nil && transferID != "" {
			log.WithField("transfer_id", transferID).Info("found unrecorded transfer")
			return j.complete(ctx, log, p, transferID)
		}
		if err == nil {
			transferID, err = j.transfers.Transfer(ctx, stripeinfra.TransferRequest{
				PaymentID:   p.ID,
				Amount:      p.MentorAmount,
				Currency:    p.Currency,
				Destination: p.MentorStripeAccountID,
				SessionID:   p.StripeSessionID,
				Attempt:     current.TransferRetryCount,
			})
			if err == nil {
				return j.complete(ctx, log, p, transferID)
			}
		}

		lastErr = err
		log.WithError(err).WithField("attempt", attempt).Warn("transfer attempt failed")
		if err := j.store.IncrementTransferRetry(ctx, p.ID); err != nil {
			log.WithError(err).Error("could not record transfer retry")
		}
		wait := j.baseDelay << (attempt - 1)
		if err := j.sleep(ctx, wait); err != nil {
			return outcomeFailed
		}
	}

	if err := j.store.SetTransferStatus(ctx, p.ID, billing.TransferFailed); err != nil {
		log.WithError(err).Warn("could not record failed transfer status")
	}
	j.alert(ctx, log, p, lastErr)
	return outcomeFailed
}

func (j *Job) complete(ctx context.Context, log *logrus.Entry, p billing.Payment, transferID string) outcome {
	log = log.WithField("transfer_id", transferID)
	claimed, err := j.store.MarkTransferred(ctx, p.ID, transferID)
	if err != nil {
		// The transfer exists in Stripe; the next run finds it by transfer group and records it.
		log.WithError(err).Error("transfer created but not recorded")
		return outcomeFailed
	}
	if !claimed {
		log.Warn("payment was claimed by another run")
		return outcomeSkipped
	}
	log.Info("mentor payout transferred")

	if err := j.notifier.SendPayoutSent(ctx, mail.PayoutSent{
		PaymentID:   p.ID,
		MentorEmail: p.MentorEmail,
		Amount:      p.MentorAmount,
		Currency:    p.Currency,
		TransferID:  transferID,
	}); err != nil {
		log.WithError(err).Warn("payout email failed")
	}
	return outcomeTransferred
}

func (j *Job) alert(ctx context.Context, log *logrus.Entry, p billing.Payment, cause error) {
	if errors.Is(cause, context.Canceled) {
		return
	}
	reason := "unknown"
	if cause != nil {
		reason = stripeinfra.Message(cause)
	}
	err := j.notifier.SendAdminAlert(ctx, mail.AdminAlert{
		Subject:  "Mentor payout failed",
		Priority: "HIGH",
		Summary:  fmt.Sprintf("Transfer for payment %d failed after all retries.", p.ID),
		Fields: []mail.Field{
			{Name: "Payment id", Value: strconv.FormatUint(uint64(p.ID), 10)},
			{Name: "Session", Value: p.StripeSessionID},
			{Name: "Mentor account", Value: p.MentorStripeAccountID},
			{Name: "Amount", Value: billing.FormatAmount(p.MentorAmount, p.Currency)},
			{Name: "Error", Value: reason},
		},
	})
	if err != nil {
		log.WithError(err).Warn("payout failure alert could not be sent")
	}
}
