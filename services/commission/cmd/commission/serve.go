package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"github.com/vivian5285/panda-quant/libs/auth"
	"github.com/vivian5285/panda-quant/libs/health"
	"github.com/vivian5285/panda-quant/libs/httpmiddleware"
	"github.com/vivian5285/panda-quant/libs/kafka"
	"github.com/vivian5285/panda-quant/libs/metrics"
	"github.com/vivian5285/panda-quant/libs/trace"
	"github.com/vivian5285/panda-quant/services/commission/internal/consumer"
	"github.com/vivian5285/panda-quant/services/commission/internal/handlers"
	"golang.org/x/sync/errgroup"
)

func newServeCommand(cfgFile *string) *cobra.Command {
	var shutdownTimeout time.Duration

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API, settlement scheduler and commission consumer",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			a, err := newApp(ctx, *cfgFile, appOptions{withKafka: true})
			if err != nil {
				return err
			}
			defer a.Close()
			return a.serve(ctx, shutdownTimeout)
		},
	}
	cmd.Flags().DurationVar(&shutdownTimeout, "shutdown-timeout", 10*time.Second, "maximum time to wait for graceful shutdown")
	return cmd
}

func (a *app) serve(ctx context.Context, shutdownTimeout time.Duration) error {
	if a.cfg.App.Env == "dev" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	ready := health.NewManager(false)
	ready.AddCheck("postgres", a.store.Ping)
	if a.redis != nil {
		ready.AddCheck("redis", func(ctx context.Context) error { return a.redis.Ping(ctx).Err() })
	}

	a.loadRules(ctx)
	a.engine.Cache().StartAutoRefresh(ctx, a.store, a.cfg.Settlement.RuleRefresh, a.metrics, a.logger)

	httpServer := a.buildHTTPServer(ready)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		a.logger.Info("commission http starting", "addr", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	if a.cfg.Settlement.SchedulerEnabled {
		g.Go(func() error {
			return a.scheduler.Run(gctx)
		})
	}

	if a.producer != nil {
		consumerGroup, err := kafka.NewConsumer(a.cfg.Kafka.Brokers, a.cfg.Kafka.ConsumerGroup, a.logger)
		if err != nil {
			return fmt.Errorf("kafka consumer: %w", err)
		}
		consumerGroup.WithDLQ(a.producer, a.cfg.Kafka.Topics.DeadLetter)
		defer consumerGroup.Close()

		commissions := consumer.NewCommissionConsumer(a.ledger, a.logger)
		g.Go(func() error {
			a.logger.Info("commission consumer starting", "topic", a.cfg.Kafka.Topics.CommissionsRecorded)
			if err := consumerGroup.Consume(gctx, []string{a.cfg.Kafka.Topics.CommissionsRecorded}, commissions); err != nil && gctx.Err() == nil {
				return fmt.Errorf("kafka consumer: %w", err)
			}
			return nil
		})
	}

	ready.SetReady(true)

	g.Go(func() error {
		<-gctx.Done()
		a.logger.Info("shutdown started")
		ready.SetReady(false)

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			a.logger.Error("http shutdown error", "error", err)
		}
		return nil
	})

	err := g.Wait()
	a.logger.Info("shutdown complete")
	return err
}

func (a *app) buildHTTPServer(ready *health.Manager) *http.Server {
	router := gin.New()
	router.Use(httpmiddleware.RequestID())
	router.Use(httpmiddleware.Logger(a.logger, metrics.NewHTTPMetrics(a.registry)))
	router.Use(httpmiddleware.Recovery(a.logger))
	router.Use(trace.Middleware(a.cfg.App.ServiceName))

	router.GET("/healthz", health.LivenessHandler)
	router.GET("/readyz", health.ReadinessHandler(ready))
	router.GET(a.cfg.App.MetricsPath, gin.WrapH(metrics.Handler(a.registry)))

	h := &handlers.Handler{
		Settlements: a.processor,
		Runner:      a.scheduler,
		Withdrawals: a.gate,
		Rules:       a.engine,
		Entries:     a.ledger,
		Users:       a.store,
		Earnings:    a.store,
		Logger:      a.logger.With(slog.String("component", "http")),

		WithdrawalLimiter: a.limiter,
	}
	h.RegisterRoutes(router, auth.Middleware([]byte(a.cfg.Auth.JWTSecret)))

	addr := fmt.Sprintf("%s:%d", a.cfg.App.HTTP.Host, a.cfg.App.HTTP.Port)
	return &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  a.cfg.App.HTTP.ReadTimeout,
		WriteTimeout: a.cfg.App.HTTP.WriteTimeout,
		IdleTimeout:  a.cfg.App.HTTP.IdleTimeout,
	}
}
