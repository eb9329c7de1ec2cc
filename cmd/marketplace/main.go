// Package main запускает HTTP-сервер маркетплейса с торгом.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/nishidshajib/tradbazar/internal/config"
	"github.com/nishidshajib/tradbazar/internal/events"
	"github.com/nishidshajib/tradbazar/internal/handler"
	"github.com/nishidshajib/tradbazar/internal/idempotency"
	"github.com/nishidshajib/tradbazar/internal/metrics"
	"github.com/nishidshajib/tradbazar/internal/middleware"
	"github.com/nishidshajib/tradbazar/internal/pricing"
	"github.com/nishidshajib/tradbazar/internal/repository"
	"github.com/nishidshajib/tradbazar/internal/repository/memory"
	"github.com/nishidshajib/tradbazar/internal/service"
)

func main() {
	logger, _ := zap.NewProduction()
	defer logger.Sync()

	sugar := logger.Sugar()

	cfg, err := config.Parse()
	if err != nil {
		sugar.Fatalw("configuration error", "error", err.Error())
	}

	var store service.Repository
	if cfg.DatabaseURI != "" {
		store, err = repository.NewPostgresRepository(cfg.DatabaseURI)
		if err != nil {
			sugar.Fatalw("database initialization error", "error", err.Error())
		}
	} else {
		sugar.Warn("DATABASE_URI is empty, using in-memory storage")
		store = memory.NewStore()
	}

	opts := []service.Option{service.WithMetrics(metrics.New(nil))}

	if len(cfg.KafkaBrokers) > 0 {
		publisher := events.NewKafkaPublisher(cfg.KafkaBrokers, logger)
		defer func() {
			if err := publisher.Close(); err != nil {
				sugar.Warnw("event publisher close error", "error", err)
			}
		}()
		opts = append(opts, service.WithEvents(publisher))
	}

	if cfg.RedisAddr != "" {
		rdb := idempotency.NewRedisClient(cfg.RedisAddr)
		defer rdb.Close()
		opts = append(opts, service.WithIdempotency(idempotency.NewStore(rdb)))
	}

	svc := service.NewService(store, pricing.NewPolicy(cfg.PricingMode), logger, opts...)
	defer svc.Close()

	if cfg.AdminLogin != "" && cfg.AdminPassword != "" {
		if err := svc.BootstrapAdmin(context.Background(), cfg.AdminLogin, cfg.AdminPassword); err != nil {
			sugar.Fatalw("admin bootstrap error", "error", err.Error())
		}
	}

	authMiddleware := middleware.NewAuthMiddleware(cfg.AuthSecret)
	h := handler.NewHandler(svc, logger, authMiddleware)

	server := &http.Server{
		Addr:              cfg.RunAddress,
		Handler:           h.SetupRouter(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		sugar.Infow("starting marketplace server",
			"addr", cfg.RunAddress,
			"pricing_mode", svc.PricingMode(),
			"events", len(cfg.KafkaBrokers) > 0,
			"idempotency", cfg.RedisAddr != "",
		)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	// Остановка сервера по сигналу или ошибке в другой горутине
	g.Go(func() error {
		<-ctx.Done()
		sugar.Info("shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown error: %w", err)
		}
		sugar.Info("server stopped gracefully")
		return nil
	})

	if err := g.Wait(); err != nil {
		sugar.Fatalw("application terminated with error", "error", err)
	}
}
