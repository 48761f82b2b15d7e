package cli

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	adminapi "discuno-payments/internal/api/admin"
	cronapi "discuno-payments/internal/api/cron"
	stripewebhooks "discuno-payments/internal/api/stripewebhook"
	routes "discuno-payments/internal/app/http"
	"discuno-payments/internal/app/http/middleware"
	"discuno-payments/internal/infra/mq"
	"discuno-payments/internal/logging"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
)

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP server: Stripe webhook, cron endpoint and admin API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			a, err := newApp(ctx, cfg, "discuno-payments-api")
			if err != nil {
				return err
			}
			defer a.Close(context.Background())

			publisher, err := mq.NewPublisher(cfg.RabbitURL, cfg.CheckoutExchange)
			if err != nil {
				return err
			}
			defer publisher.Close()

			if cfg.AppEnv == "prod" {
				gin.SetMode(gin.ReleaseMode)
			}
			r := gin.New()
			r.Use(gin.Recovery(), middleware.RequestID(), logging.RequestLogger())
			r.Use(cors.New(cors.Config{
				AllowOrigins:     []string{cfg.CORSOrigin},
				AllowMethods:     []string{"GET", "POST", "OPTIONS"},
				AllowHeaders:     []string{"Origin", "Content-Type", "Authorization"},
				ExposeHeaders:    []string{"Content-Length", middleware.RequestIDHeader},
				AllowCredentials: true,
				MaxAge:           12 * time.Hour,
			}))

			routes.RegisterRoutes(r, routes.Deps{
				Webhook: stripewebhooks.NewHandler(
					cfg.StripeWebhookSecret, a.payments, publisher, cfg.DisputePeriod(), logging.For("api"),
				),
				Cron:      cronapi.NewHandler(cfg.CronSecret, a.payoutJob(), logging.For("api")),
				Admin:     adminapi.NewHandler(a.payments, a.engine),
				JWTSecret: cfg.JWTSecret,
			})

			srv := &http.Server{
				Addr:         ":" + cfg.Port,
				Handler:      r,
				ReadTimeout:  15 * time.Second,
				WriteTimeout: cfg.TransferJobTimeout + 30*time.Second,
				IdleTimeout:  90 * time.Second,
			}
			errCh := make(chan error, 1)
			go func() {
				logging.For("server").WithField("port", cfg.Port).Info("listening")
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					errCh <- err
				}
				close(errCh)
			}()

			select {
			case err := <-errCh:
				return err
			case <-ctx.Done():
			}
			logging.For("server").Info("shutting down")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	}
}
