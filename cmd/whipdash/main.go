// Package main запускает HTTP-сервер трекера торговых сессий.
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

	"github.com/mmeshcher/whipdash-system/internal/config"
	"github.com/mmeshcher/whipdash-system/internal/handler"
	"github.com/mmeshcher/whipdash-system/internal/session"
	"github.com/mmeshcher/whipdash-system/internal/shopify"
	"github.com/mmeshcher/whipdash-system/internal/store"
)

// newStore выбирает хранилище состояния: PostgreSQL при заданном DSN,
// иначе файл, иначе память процесса.
func newStore(cfg *config.Config, logger *zap.Logger) (store.Store, func(), error) {
	if cfg.DatabaseURI != "" {
		pg, err := store.NewPostgresStore(cfg.DatabaseURI, logger)
		if err != nil {
			return nil, nil, err
		}
		return pg, func() { _ = pg.Close() }, nil
	}

	if cfg.StateFile != "" {
		fs, err := store.NewFileStore(cfg.StateFile, logger)
		if err != nil {
			return nil, nil, err
		}
		return fs, func() {}, nil
	}

	logger.Warn("no database or state file configured, state will not survive restarts")
	return store.NewMemoryStore(logger), func() {}, nil
}

func main() {
	logger, _ := zap.NewProduction()
	defer logger.Sync()

	sugar := logger.Sugar()

	cfg, err := config.Parse()
	if err != nil {
		sugar.Fatalw("configuration error", "error", err.Error())
	}

	st, closeStore, err := newStore(cfg, logger)
	if err != nil {
		sugar.Fatalw("store initialization error", "error", err.Error())
	}
	defer closeStore()

	var gateway session.Gateway
	var commerce handler.Commerce
	if cfg.ShopifyShop != "" {
		client := shopify.NewClient(cfg.ShopifyShop, cfg.ShopifyAccessToken, cfg.ShopifyAPIAddress)
		gateway = client
		commerce = client
	} else {
		sugar.Info("shopify is not configured, running without commerce gateway")
	}

	engine := session.New(st, gateway, logger, session.Options{
		PollInterval: time.Duration(cfg.PollInterval) * time.Second,
		DefaultGoal:  cfg.SalesGoal,
		OnGoalReached: func() {
			sugar.Infow("sales goal reached, time to celebrate")
		},
	})
	defer engine.Close()

	h := handler.NewHandler(engine, commerce, logger, cfg.Environment)

	server := &http.Server{
		Addr:    cfg.RunAddress,
		Handler: h.SetupRouter(),
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		sugar.Infow("starting whipdash server", "addr", cfg.RunAddress)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

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
