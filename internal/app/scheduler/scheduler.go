package scheduler

import (
	"context"
	"fmt"
	"time"

	"discuno-payments/internal/payouts"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

type TransferRunner interface {
	Run(ctx context.Context, now time.Time) (payouts.Summary, error)
}

// cronLogger adapts logrus to cron.Logger.
type cronLogger struct {
	log *logrus.Entry
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.WithFields(fields(keysAndValues)).Debug(msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.WithFields(fields(keysAndValues)).WithError(err).Error(msg)
}

func fields(kv []interface{}) logrus.Fields {
	f := logrus.Fields{}
	for i := 0; i+1 < len(kv); i += 2 {
		f[fmt.Sprint(kv[i])] = kv[i+1]
	}
	return f
}

// New schedules the transfer job. A tick that fires while the previous run is still going
// is skipped.
func New(schedule string, timeout time.Duration, job TransferRunner, log *logrus.Entry) (*cron.Cron, error) {
	log = log.WithField("component", "scheduler")
	cl := cronLogger{log: log}
	c := cron.New(cron.WithLogger(cl), cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)))

	_, err := c.AddFunc(schedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		summary, err := job.Run(ctx, time.Now().UTC())
		if err != nil {
			log.WithError(err).Error("scheduled transfer run failed")
			return
		}
		log.WithFields(logrus.Fields{
			"processed": summary.Processed,
			"failed":    summary.Failed,
			"total":     summary.Total,
		}).Info("scheduled transfer run finished")
	})
	if err != nil {
		return nil, fmt.Errorf("schedule %q: %w", schedule, err)
	}
	return c, nil
}
