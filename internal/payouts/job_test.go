package payouts

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"testing"
	"time"

	"discuno-payments/internal/domain/billing"
	"discuno-payments/internal/infra/mail"
	stripeinfra "discuno-payments/internal/infra/stripe"
	"discuno-payments/internal/testutil"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var now = time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)

type fakeTransfers struct {
	mu         sync.Mutex
	calls      []uint
	keys       []string
	err        error
	inactive   map[string]bool
	accountErr error
	existing   map[string]string
	lookupErr  error
}

func (f *fakeTransfers) FindTransfer(_ context.Context, sessionID string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.lookupErr != nil {
		return "", f.lookupErr
	}
	return f.existing[sessionID], nil
}

func (f *fakeTransfers) AccountReady(_ context.Context, accountID string) (bool, error) {
	if f.accountErr != nil {
		return false, f.accountErr
	}
	return !f.inactive[accountID], nil
}

func (f *fakeTransfers) Transfer(_ context.Context, req stripeinfra.TransferRequest) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, req.PaymentID)
	f.keys = append(f.keys, stripeinfra.TransferIdempotencyKey(req.PaymentID, req.Attempt))
	if f.err != nil {
		return "", f.err
	}
	return "tr_" + req.SessionID, nil
}

type fakeNotifier struct {
	mu        sync.Mutex
	alerts    []mail.AdminAlert
	payouts   []mail.PayoutSent
	payoutErr error
}

func (f *fakeNotifier) SendAdminAlert(_ context.Context, a mail.AdminAlert) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.alerts = append(f.alerts, a)
	return nil
}

func (f *fakeNotifier) SendPayoutSent(_ context.Context, p mail.PayoutSent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.payouts = append(f.payouts, p)
	return f.payoutErr
}

type recordedSleeps struct {
	mu    sync.Mutex
	waits []time.Duration
}

func (r *recordedSleeps) sleep(ctx context.Context, d time.Duration) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.waits = append(r.waits, d)
	return ctx.Err()
}

type fixture struct {
	store     *billing.Store
	transfers *fakeTransfers
	notifier  *fakeNotifier
	sleeps    *recordedSleeps
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	return &fixture{
		store:     billing.NewStore(testutil.SetupSQLiteDB(t)),
		transfers: &fakeTransfers{inactive: map[string]bool{}, existing: map[string]string{}},
		notifier:  &fakeNotifier{},
		sleeps:    &recordedSleeps{},
	}
}

func (f *fixture) job(opts ...Option) *Job {
	opts = append([]Option{WithSleep(f.sleeps.sleep)}, opts...)
	return NewJob(f.store, f.transfers, f.notifier, testutil.Logger(), opts...)
}

func (f *fixture) seed(t *testing.T, session string, retries int) *billing.Payment {
	t.Helper()
	pi := "pi_" + session
	ends := now.Add(-time.Hour)
	p := &billing.Payment{
		StripeSessionID:       session,
		StripePaymentIntentID: &pi,
		MentorEmail:           "mentor@example.com",
		MentorStripeAccountID: "acct_" + session,
		Amount:                6000,
		Currency:              "usd",
		MentorAmount:          4500,
		PlatformStatus:        billing.StatusSucceeded,
		TransferRetryCount:    retries,
		DisputePeriodEnds:     &ends,
	}
	require.NoError(t, f.store.Create(context.Background(), p))
	return p
}

func TestRun_SelectsOnlyPaymentsWithRetryBudget(t *testing.T) {
	f := newFixture(t)
	var ids []uint
	for i, s := range []string{"cs_0", "cs_1", "cs_2", "cs_3"} {
		ids = append(ids, f.seed(t, s, i).ID)
	}

	summary, err := f.job().Run(context.Background(), now)

	require.NoError(t, err)
	assert.Equal(t, 3, summary.Total)
	assert.Equal(t, 3, summary.Processed)
	assert.Zero(t, summary.Failed)
	assert.True(t, summary.Success)
	assert.ElementsMatch(t, ids[:3], f.transfers.calls)
	assert.Len(t, f.notifier.payouts, 3)

	got, err := f.store.GetByID(context.Background(), ids[0])
	require.NoError(t, err)
	assert.Equal(t, billing.StatusTransferred, got.PlatformStatus)
	require.NotNil(t, got.TransferID)
	assert.Equal(t, "tr_cs_0", *got.TransferID)
}

func TestRun_BacksOffThenAlerts(t *testing.T) {
	f := newFixture(t)
	p := f.seed(t, "cs_1", 0)
	f.transfers.err = errors.New("stripe: connection reset")

	summary, err := f.job().Run(context.Background(), now)

	require.NoError(t, err)
	assert.Equal(t, 1, summary.Failed)
	assert.Zero(t, summary.Processed)
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second, 4 * time.Second}, f.sleeps.waits)
	assert.Len(t, f.transfers.calls, 3)
	require.Len(t, f.notifier.alerts, 1)
	assert.Equal(t, "Mentor payout failed", f.notifier.alerts[0].Subject)

	got, err := f.store.GetByID(context.Background(), p.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, got.TransferRetryCount)
	assert.Equal(t, billing.TransferFailed, got.TransferStatus)
	assert.Nil(t, got.TransferID)

	// Exhausted payments are no longer selected.
	summary, err = f.job().Run(context.Background(), now)
	require.NoError(t, err)
	assert.Zero(t, summary.Total)
	assert.Len(t, f.transfers.calls, 3)
}

func TestRun_EachAttemptUsesFreshIdempotencyKey(t *testing.T) {
	f := newFixture(t)
	p := f.seed(t, "cs_1", 0)
	f.transfers.err = errors.New("stripe: insufficient available balance")

	_, err := f.job().Run(context.Background(), now)
	require.NoError(t, err)

	id := strconv.FormatUint(uint64(p.ID), 10)
	assert.Equal(t, []string{"transfer:" + id + ":0", "transfer:" + id + ":1", "transfer:" + id + ":2"}, f.transfers.keys)
}

func TestRun_UnrecordedTransferIsRecovered(t *testing.T) {
	f := newFixture(t)
	p := f.seed(t, "cs_1", 1)
	f.transfers.existing["cs_1"] = "tr_earlier"

	summary, err := f.job().Run(context.Background(), now)

	require.NoError(t, err)
	assert.Equal(t, 1, summary.Processed)
	assert.Empty(t, f.transfers.calls)
	got, err := f.store.GetByID(context.Background(), p.ID)
	require.NoError(t, err)
	require.NotNil(t, got.TransferID)
	assert.Equal(t, "tr_earlier", *got.TransferID)
}

func TestRun_LookupFailureCountsAsFailedAttempt(t *testing.T) {
	f := newFixture(t)
	p := f.seed(t, "cs_1", 2)
	f.transfers.lookupErr = errors.New("stripe: 503")

	summary, err := f.job().Run(context.Background(), now)

	require.NoError(t, err)
	assert.Equal(t, 1, summary.Failed)
	assert.Empty(t, f.transfers.calls)
	got, err := f.store.GetByID(context.Background(), p.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, got.TransferRetryCount)
}

func TestRun_AttemptsBoundedByRemainingBudget(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "cs_1", 2)
	f.transfers.err = errors.New("stripe: 500")

	summary, err := f.job().Run(context.Background(), now)

	require.NoError(t, err)
	assert.Equal(t, 1, summary.Failed)
	assert.Len(t, f.transfers.calls, 1)
	assert.Equal(t, []time.Duration{time.Second}, f.sleeps.waits)
}

func TestRun_InactiveAccountIsSkipped(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "cs_1", 0)
	f.transfers.inactive["acct_cs_1"] = true

	summary, err := f.job().Run(context.Background(), now)

	require.NoError(t, err)
	assert.Equal(t, 1, summary.Total)
	assert.Zero(t, summary.Processed)
	assert.Zero(t, summary.Failed)
	assert.Empty(t, f.transfers.calls)
	assert.Empty(t, f.notifier.alerts)
}

func TestRun_PayoutEmailFailureStillCountsTransfer(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "cs_1", 0)
	f.notifier.payoutErr = errors.New("resend down")

	summary, err := f.job().Run(context.Background(), now)

	require.NoError(t, err)
	assert.Equal(t, 1, summary.Processed)
	assert.Zero(t, summary.Failed)
}

func TestRun_AlreadyTransferredRowIsNotTransferredAgain(t *testing.T) {
	f := newFixture(t)
	p := f.seed(t, "cs_1", 0)
	f.transfers.err = errors.New("timeout")

	// A concurrent run records the transfer between selection and the retry.
	job := f.job(WithSleep(func(ctx context.Context, d time.Duration) error {
		_, err := f.store.MarkTransferred(ctx, p.ID, "tr_other")
		return err
	}))

	summary, err := job.Run(context.Background(), now)

	require.NoError(t, err)
	assert.Len(t, f.transfers.calls, 1)
	assert.Zero(t, summary.Failed)
	assert.Empty(t, f.notifier.alerts)
}

func TestRun_ConcurrentPayments(t *testing.T) {
	f := newFixture(t)
	for _, s := range []string{"cs_a", "cs_b", "cs_c", "cs_d", "cs_e"} {
		f.seed(t, s, 0)
	}

	summary, err := f.job(WithConcurrency(3)).Run(context.Background(), now)

	require.NoError(t, err)
	assert.Equal(t, 5, summary.Processed)
	assert.Len(t, f.transfers.calls, 5)
}

func TestRun_DisputeWindowStillOpen(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "cs_1", 0)

	summary, err := f.job().Run(context.Background(), now.Add(-2*time.Hour))

	require.NoError(t, err)
	assert.Zero(t, summary.Total)
	assert.Empty(t, f.transfers.calls)
}
