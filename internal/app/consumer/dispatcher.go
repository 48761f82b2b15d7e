package consumer

import (
	"context"
	"encoding/json"
	"errors"

	"discuno-payments/internal/checkout"
	"discuno-payments/internal/infra/mq"
	"discuno-payments/internal/workflow"

	"github.com/sirupsen/logrus"
)

type Orchestrator interface {
	HandleCompleted(ctx context.Context, evt checkout.CompletedEvent) (checkout.Result, error)
	HandleCancelled(ctx context.Context, evt checkout.CancelledEvent) (bool, error)
}

// Dispatcher routes checkout events to the orchestrator and decides how each delivery is
// settled.
type Dispatcher struct {
	orch Orchestrator
	log  *logrus.Entry
}

func NewDispatcher(orch Orchestrator, log *logrus.Entry) *Dispatcher {
	return &Dispatcher{orch: orch, log: log.WithField("component", "dispatcher")}
}

func (d *Dispatcher) Handle(ctx context.Context, routingKey string, body []byte) mq.Disposition {
	log := d.log.WithField("routing_key", routingKey)

	switch routingKey {
	case checkout.EventCompleted:
		var evt checkout.CompletedEvent
		if err := json.Unmarshal(body, &evt); err != nil {
			log.WithError(err).Error("malformed checkout event")
			return mq.Reject
		}
		if err := evt.Validate(); err != nil {
			log.WithError(err).Error("invalid checkout event")
			return mq.Reject
		}
		log = log.WithField("workflow_id", evt.SessionID)
		res, err := d.orch.HandleCompleted(ctx, evt)
		if err == nil {
			log.WithField("booking_uid", res.BookingUID).Info("checkout workflow completed")
		}
		return settle(log, err)

	case checkout.EventCancelled:
		var evt checkout.CancelledEvent
		if err := json.Unmarshal(body, &evt); err != nil {
			log.WithError(err).Error("malformed cancel event")
			return mq.Reject
		}
		if err := evt.Validate(); err != nil {
			log.WithError(err).Error("invalid cancel event")
			return mq.Reject
		}
		cancelled, err := d.orch.HandleCancelled(ctx, evt)
		if err == nil {
			log.WithFields(logrus.Fields{"workflow_id": evt.SessionID, "cancelled": cancelled}).Info("cancel event handled")
		}
		return settle(log, err)

	default:
		log.Warn("skip unknown routing key")
		return mq.Ack
	}
}

func settle(log *logrus.Entry, err error) mq.Disposition {
	switch {
	case err == nil:
		return mq.Ack
	case errors.Is(err, workflow.ErrCancelled):
		log.Info("workflow was cancelled")
		return mq.Ack
	case errors.Is(err, workflow.ErrRunLocked):
		log.Info("workflow is running elsewhere, requeueing")
		return mq.Requeue
	case workflow.IsNonRetriable(err):
		// Handled failures (compensated booking, stuck run) are visible in the run table.
		log.WithError(err).Warn("workflow finished with a handled failure")
		return mq.Ack
	default:
		log.WithError(err).Error("workflow attempt failed, requeueing")
		return mq.Requeue
	}
}
