// Package main запускает HTTP-сервер реселлер-платформы.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/mmeshcher/reseller-platform/internal/config"
	"github.com/mmeshcher/reseller-platform/internal/handler"
	"github.com/mmeshcher/reseller-platform/internal/metrics"
	"github.com/mmeshcher/reseller-platform/internal/notifier"
	"github.com/mmeshcher/reseller-platform/internal/ratelimit"
	"github.com/mmeshcher/reseller-platform/internal/repository"
	"github.com/mmeshcher/reseller-platform/internal/service"
)

func main() {
	logger, _ := zap.NewProduction()
	defer logger.Sync()

	sugar := logger.Sugar()

	cfg, err := config.Parse()
	if err != nil {
		sugar.Fatalw("configuration error", "error", err.Error())
	}

	repo, err := repository.NewPostgresRepository(cfg.DatabaseURI)
	if err != nil {
		sugar.Fatalw("database initialization error", "error", err.Error())
	}
	defer repo.Close()

	var n service.Notifier
	if cfg.NotifierAddress != "" {
		n = notifier.NewClient(cfg.NotifierAddress)
	}

	registry := prometheus.NewRegistry()
	m := metrics.New(registry)

	svc := service.NewService(repo, n, logger, m, cfg.StorefrontTag, cfg.AdminEmail)
	defer svc.Close()

	classifier := ratelimit.NewClassifier(ratelimit.NewMemoryState(), ratelimit.DefaultLimits())

	h := handler.NewHandler(svc, logger, classifier, m, cfg.WebhookSecret)

	r := h.SetupRouter(registry)

	server := &http.Server{
		Addr:    cfg.RunAddress,
		Handler: r,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)

	// Фоновая чистка неактивных клиентов классификатора
	classifier.StartPruning(ctx, time.Minute)

	// Запуск HTTP-сервера
	g.Go(func() error {
		sugar.Infow("starting reseller server", "addr", cfg.RunAddress)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	// Graceful shutdown при отмене контекста (сигнал или ошибка в другой горутине)
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
