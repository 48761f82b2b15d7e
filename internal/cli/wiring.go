package cli

import (
	"context"
	"errors"

	"discuno-payments/config"
	"discuno-payments/database"
	"discuno-payments/internal/checkout"
	"discuno-payments/internal/domain/billing"
	"discuno-payments/internal/infra/analytics"
	"discuno-payments/internal/infra/calcom"
	"discuno-payments/internal/infra/mail"
	stripeinfra "discuno-payments/internal/infra/stripe"
	"discuno-payments/internal/logging"
	"discuno-payments/internal/obs"
	"discuno-payments/internal/payouts"
	"discuno-payments/internal/workflow"

	"gorm.io/gorm"
)

// app holds the components shared by every command.
type app struct {
	cfg      config.Config
	db       *gorm.DB
	payments *billing.Store
	engine   *workflow.Engine
	stripe   *stripeinfra.Client
	notifier *mail.Notifier
	closers  []func(context.Context) error
}

func newApp(ctx context.Context, cfg config.Config, service string) (*app, error) {
	shutdownTracer, err := obs.InitTracer(ctx, service, cfg.AppEnv, cfg.OTLPEndpoint)
	if err != nil {
		return nil, err
	}

	db, err := database.Open(cfg.DBURL)
	if err != nil {
		return nil, err
	}

	a := &app{
		cfg:      cfg,
		db:       db,
		payments: billing.NewStore(db),
		engine: workflow.NewEngine(
			workflow.NewGormStore(db),
			logging.For("workflow"),
			workflow.WithMaxRunAttempts(cfg.WorkflowMaxRunAttempts),
			workflow.WithLease(cfg.WorkflowLease),
		),
		stripe:   stripeinfra.NewClient(cfg.StripeSecretKey, logging.For("stripe")),
		notifier: mail.NewNotifier(newMailSender(cfg), cfg.AdminEmail, cfg.SupportEmail),
	}
	a.closers = append(a.closers,
		func(context.Context) error { return database.Close(db) },
		shutdownTracer,
	)
	return a, nil
}

func newMailSender(cfg config.Config) mail.Sender {
	var senders []mail.Sender
	if cfg.ResendAPIKey != "" {
		senders = append(senders, mail.NewResendSender(cfg.ResendAPIKey, cfg.MailFrom))
	}
	if cfg.SMTPHost != "" {
		senders = append(senders, mail.NewSMTPSender(mail.SMTPConfig{
			Host:     cfg.SMTPHost,
			Port:     cfg.SMTPPort,
			From:     cfg.SMTPUser,
			Password: cfg.SMTPPassword,
		}))
	}
	return mail.NewFallbackSender(logging.For("mail"), senders...)
}

func (a *app) payoutJob() *payouts.Job {
	return payouts.NewJob(
		a.payments,
		a.stripe,
		a.notifier,
		logging.For("payouts"),
		payouts.WithConcurrency(a.cfg.TransferConcurrency),
	)
}

func (a *app) orchestrator() (*checkout.Orchestrator, error) {
	var tracker checkout.Analytics = analytics.Noop{Log: logging.For("analytics")}
	if a.cfg.PosthogAPIKey != "" {
		t, err := analytics.NewPostHog(a.cfg.PosthogAPIKey, a.cfg.PosthogHost, logging.For("analytics"))
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, func(context.Context) error { return t.Close() })
		tracker = t
	}

	return checkout.NewOrchestrator(checkout.Deps{
		Engine:    a.engine,
		Calendar:  calcom.NewClient(a.cfg.CalcomBaseURL, a.cfg.CalcomAPIKey, a.cfg.CalcomAPIVersion),
		Payments:  a.stripe,
		Notifier:  a.notifier,
		Analytics: tracker,
		Store:     a.payments,
		Log:       logging.For("checkout"),
	}), nil
}

// Close releases resources in reverse order of acquisition.
func (a *app) Close(ctx context.Context) error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
