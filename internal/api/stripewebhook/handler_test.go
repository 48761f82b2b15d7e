package stripewebhooks

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"discuno-payments/internal/checkout"
	"discuno-payments/internal/domain/billing"
	"discuno-payments/internal/testutil"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "whsec_test"

type published struct {
	key string
	v   any
}

type fakePublisher struct {
	msgs []published
	err  error
}

func (f *fakePublisher) PublishJSON(_ context.Context, key string, v any) error {
	if f.err != nil {
		return f.err
	}
	f.msgs = append(f.msgs, published{key, v})
	return nil
}

var fixedNow = time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)

func setup(t *testing.T) (*gin.Engine, *billing.Store, *fakePublisher) {
	t.Helper()
	store := billing.NewStore(testutil.SetupSQLiteDB(t))
	pub := &fakePublisher{}
	h := NewHandler(testSecret, store, pub, 7*24*time.Hour, testutil.Logger())
	h.now = func() time.Time { return fixedNow }

	r := testutil.SetupTestRouter()
	r.POST("/webhook", h.StripeWebhook)
	return r, store, pub
}

func sign(payload []byte, secret string) string {
	ts := time.Now().Unix()
	mac := hmac.New(sha256.New, []byte(secret))
	fmt.Fprintf(mac, "%d.%s", ts, payload)
	return fmt.Sprintf("t=%d,v1=%s", ts, hex.EncodeToString(mac.Sum(nil)))
}

func eventPayload(t *testing.T, typ string, object map[string]any) []byte {
	t.Helper()
	b, err := json.Marshal(map[string]any{
		"id":          "evt_1",
		"object":      "event",
		"type":        typ,
		"api_version": "2020-08-27",
		"data":        map[string]any{"object": object},
	})
	require.NoError(t, err)
	return b
}

func post(r *gin.Engine, payload []byte, sig string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/webhook", bytes.NewReader(payload))
	req.Header.Set("Stripe-Signature", sig)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func paidSession() map[string]any {
	return map[string]any{
		"id":             "cs_1",
		"object":         "checkout.session",
		"payment_status": "paid",
		"payment_intent": "pi_1",
		"amount_total":   6000,
		"currency":       "usd",
		"metadata": map[string]string{
			"mentorUserId":          "m_1",
			"eventTypeId":           "42",
			"startTime":             "2025-03-05T15:00:00Z",
			"attendeeName":          "Ada",
			"attendeeEmail":         "ada@example.com",
			"mentorFee":             "5000",
			"menteeFee":             "1000",
			"mentorAmount":          "4500",
			"mentorStripeAccountId": "acct_1",
		},
	}
}

func TestWebhook_RejectsBadSignature(t *testing.T) {
	r, _, pub := setup(t)
	payload := eventPayload(t, "checkout.session.completed", paidSession())

	w := post(r, payload, sign(payload, "whsec_other"))

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Empty(t, pub.msgs)
}

func TestWebhook_CompletedMarksSucceededAndPublishes(t *testing.T) {
	r, store, pub := setup(t)
	require.NoError(t, store.Create(context.Background(), &billing.Payment{
		StripeSessionID: "cs_1",
		MentorFee:       5000,
		MenteeFee:       1000,
		MentorAmount:    4500,
		Currency:        "usd",
	}))
	payload := eventPayload(t, "checkout.session.completed", paidSession())

	w := post(r, payload, sign(payload, testSecret))

	require.Equal(t, http.StatusOK, w.Code)
	got, err := store.GetBySessionID(context.Background(), "cs_1")
	require.NoError(t, err)
	assert.Equal(t, billing.StatusSucceeded, got.PlatformStatus)
	require.NotNil(t, got.StripePaymentIntentID)
	assert.Equal(t, "pi_1", *got.StripePaymentIntentID)
	require.NotNil(t, got.DisputePeriodEnds)
	assert.True(t, got.DisputePeriodEnds.Equal(fixedNow.Add(7*24*time.Hour)))

	require.Len(t, pub.msgs, 1)
	assert.Equal(t, checkout.EventCompleted, pub.msgs[0].key)
	evt := pub.msgs[0].v.(checkout.CompletedEvent)
	require.NoError(t, evt.Validate())
	assert.Equal(t, got.ID, evt.PaymentID)
	assert.Equal(t, "pi_1", evt.PaymentIntentID)
	assert.Equal(t, int64(42), evt.Metadata.EventTypeID)
	assert.Equal(t, int64(6000), evt.Amount())
	assert.Equal(t, "usd", evt.Currency())
}

func TestWebhook_CompletedWithoutRowCreatesPayment(t *testing.T) {
	r, store, pub := setup(t)
	payload := eventPayload(t, "checkout.session.completed", paidSession())

	w := post(r, payload, sign(payload, testSecret))

	require.Equal(t, http.StatusOK, w.Code)
	got, err := store.GetBySessionID(context.Background(), "cs_1")
	require.NoError(t, err)
	assert.Equal(t, billing.StatusSucceeded, got.PlatformStatus)
	assert.Equal(t, int64(4500), got.MentorAmount)
	assert.Equal(t, "acct_1", got.MentorStripeAccountID)
	assert.Len(t, pub.msgs, 1)
}

func TestWebhook_RedeliveryRepublishes(t *testing.T) {
	r, _, pub := setup(t)
	payload := eventPayload(t, "checkout.session.completed", paidSession())

	require.Equal(t, http.StatusOK, post(r, payload, sign(payload, testSecret)).Code)
	require.Equal(t, http.StatusOK, post(r, payload, sign(payload, testSecret)).Code)

	assert.Len(t, pub.msgs, 2)
}

func TestWebhook_PublishFailureAsksForRedelivery(t *testing.T) {
	r, _, pub := setup(t)
	pub.err = errors.New("broker down")
	payload := eventPayload(t, "checkout.session.completed", paidSession())

	w := post(r, payload, sign(payload, testSecret))

	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

func TestWebhook_UnpaidSessionIgnored(t *testing.T) {
	r, _, pub := setup(t)
	s := paidSession()
	s["payment_status"] = "unpaid"
	payload := eventPayload(t, "checkout.session.completed", s)

	w := post(r, payload, sign(payload, testSecret))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, pub.msgs)
}

func TestWebhook_ExpiredPublishesCancelled(t *testing.T) {
	r, _, pub := setup(t)
	payload := eventPayload(t, "checkout.session.expired", map[string]any{"id": "cs_9", "object": "checkout.session"})

	w := post(r, payload, sign(payload, testSecret))

	require.Equal(t, http.StatusOK, w.Code)
	require.Len(t, pub.msgs, 1)
	assert.Equal(t, checkout.EventCancelled, pub.msgs[0].key)
	assert.Equal(t, checkout.CancelledEvent{SessionID: "cs_9"}, pub.msgs[0].v)
}

func TestWebhook_DisputeBlocksPayout(t *testing.T) {
	r, store, _ := setup(t)
	pi := "pi_7"
	require.NoError(t, store.Create(context.Background(), &billing.Payment{
		StripeSessionID:       "cs_7",
		StripePaymentIntentID: &pi,
		PlatformStatus:        billing.StatusSucceeded,
	}))
	payload := eventPayload(t, "charge.dispute.created", map[string]any{
		"id":             "dp_1",
		"object":         "dispute",
		"payment_intent": "pi_7",
	})

	w := post(r, payload, sign(payload, testSecret))

	require.Equal(t, http.StatusOK, w.Code)
	got, err := store.GetBySessionID(context.Background(), "cs_7")
	require.NoError(t, err)
	assert.True(t, got.DisputeRequested)
	assert.Equal(t, billing.StatusDisputed, got.PlatformStatus)
}

func TestWebhook_UnknownEventAcknowledged(t *testing.T) {
	r, _, _ := setup(t)
	payload := eventPayload(t, "invoice.paid", map[string]any{"id": "in_1", "object": "invoice"})

	w := post(r, payload, sign(payload, testSecret))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "ignored")
}
