package cli

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"discuno-payments/internal/app/consumer"
	"discuno-payments/internal/app/scheduler"
	"discuno-payments/internal/checkout"
	"discuno-payments/internal/infra/mq"
	"discuno-payments/internal/logging"

	"github.com/spf13/cobra"
)

func workerCmd() *cobra.Command {
	var noCron bool
	cmd := &cobra.Command{
		Use:   "worker",
		Short: "Consume checkout events and run the transfer schedule",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			a, err := newApp(ctx, cfg, "discuno-payments-worker")
			if err != nil {
				return err
			}
			defer a.Close(context.Background())

			orch, err := a.orchestrator()
			if err != nil {
				return err
			}

			if !noCron {
				c, err := scheduler.New(cfg.TransferSchedule, cfg.TransferJobTimeout, a.payoutJob(), logging.For("scheduler"))
				if err != nil {
					return err
				}
				c.Start()
				defer func() { <-c.Stop().Done() }()
			}

			cons, err := mq.NewConsumer(mq.ConsumerConfig{
				URL:          cfg.RabbitURL,
				Exchange:     cfg.CheckoutExchange,
				Queue:        cfg.CheckoutQueue,
				Bindings:     []string{checkout.EventCompleted, checkout.EventCancelled},
				Prefetch:     cfg.WorkerPrefetch,
				DLXName:      cfg.CheckoutExchange + ".dlx",
				DLXQueue:     cfg.CheckoutQueue + ".dlq",
				Tag:          "discuno-payments-worker",
				RequeueDelay: 5 * time.Second,
			}, logging.For("consumer"))
			if err != nil {
				return err
			}
			defer cons.Close()

			logging.For("worker").Info("worker started")
			err = cons.Run(ctx, consumer.NewDispatcher(orch, logging.For("worker")))
			if ctx.Err() != nil {
				logging.For("worker").Info("shutting down")
				return nil
			}
			return err
		},
	}
	cmd.Flags().BoolVar(&noCron, "no-cron", false, "do not run the in-process transfer schedule")
	return cmd
}
