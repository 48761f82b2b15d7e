package consumer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"discuno-payments/internal/checkout"
	"discuno-payments/internal/infra/mq"
	"discuno-payments/internal/testutil"
	"discuno-payments/internal/workflow"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeOrchestrator struct {
	completed []checkout.CompletedEvent
	cancelled []checkout.CancelledEvent
	err       error
}

func (f *fakeOrchestrator) HandleCompleted(_ context.Context, evt checkout.CompletedEvent) (checkout.Result, error) {
	f.completed = append(f.completed, evt)
	if f.err != nil {
		return checkout.Result{}, f.err
	}
	return checkout.Result{Success: true, BookingCreated: true, BookingUID: "bk_1"}, nil
}

func (f *fakeOrchestrator) HandleCancelled(_ context.Context, evt checkout.CancelledEvent) (bool, error) {
	f.cancelled = append(f.cancelled, evt)
	return true, f.err
}

func completedBody(t *testing.T) []byte {
	t.Helper()
	b, err := json.Marshal(checkout.CompletedEvent{
		PaymentID:       1,
		PaymentIntentID: "pi_1",
		SessionID:       "cs_1",
		Metadata: checkout.Metadata{
			MentorUserID:  "m_1",
			EventTypeID:   3,
			StartTime:     "2025-04-01T15:00:00Z",
			AttendeeEmail: "ada@example.com",
		},
	})
	require.NoError(t, err)
	return b
}

func TestHandle_CompletedDispositions(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want mq.Disposition
	}{
		{"success", nil, mq.Ack},
		{"compensated", workflow.NonRetriable(checkout.ErrBookingFailedCompensated), mq.Ack},
		{"cancelled", workflow.ErrCancelled, mq.Ack},
		{"locked", workflow.ErrRunLocked, mq.Requeue},
		{"must converge", fmt.Errorf("mark payment failed: %w", errors.New("db down")), mq.Requeue},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			orch := &fakeOrchestrator{err: c.err}
			d := NewDispatcher(orch, testutil.Logger())

			got := d.Handle(context.Background(), checkout.EventCompleted, completedBody(t))

			assert.Equal(t, c.want, got)
			require.Len(t, orch.completed, 1)
			assert.Equal(t, "cs_1", orch.completed[0].SessionID)
		})
	}
}

func TestHandle_MalformedPayloadIsRejected(t *testing.T) {
	orch := &fakeOrchestrator{}
	d := NewDispatcher(orch, testutil.Logger())

	assert.Equal(t, mq.Reject, d.Handle(context.Background(), checkout.EventCompleted, []byte(`{not json`)))
	assert.Equal(t, mq.Reject, d.Handle(context.Background(), checkout.EventCompleted, []byte(`{"sessionId":"cs_1"}`)))
	assert.Equal(t, mq.Reject, d.Handle(context.Background(), checkout.EventCancelled, []byte(`{}`)))
	assert.Empty(t, orch.completed)
	assert.Empty(t, orch.cancelled)
}

func TestHandle_IncompleteBookingMetadataReachesWorkflow(t *testing.T) {
	orch := &fakeOrchestrator{err: workflow.NonRetriable(checkout.ErrBookingFailedCompensated)}
	d := NewDispatcher(orch, testutil.Logger())

	got := d.Handle(context.Background(), checkout.EventCompleted, []byte(`{"sessionId":"cs_2","paymentIntentId":"pi_2","metadata":{}}`))

	assert.Equal(t, mq.Ack, got)
	require.Len(t, orch.completed, 1)
	assert.Equal(t, "pi_2", orch.completed[0].PaymentIntentID)
}

func TestHandle_Cancelled(t *testing.T) {
	orch := &fakeOrchestrator{}
	d := NewDispatcher(orch, testutil.Logger())

	got := d.Handle(context.Background(), checkout.EventCancelled, []byte(`{"sessionId":"cs_9"}`))

	assert.Equal(t, mq.Ack, got)
	require.Len(t, orch.cancelled, 1)
	assert.Equal(t, "cs_9", orch.cancelled[0].SessionID)
}

func TestHandle_UnknownKeyIsAcked(t *testing.T) {
	d := NewDispatcher(&fakeOrchestrator{}, testutil.Logger())
	assert.Equal(t, mq.Ack, d.Handle(context.Background(), "checkout.unknown", []byte(`{}`)))
}
