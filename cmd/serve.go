package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/azkidenz/intervia-poc/handlers"
	"github.com/azkidenz/intervia-poc/ledger"
	"github.com/azkidenz/intervia-poc/logger"
	"github.com/azkidenz/intervia-poc/network"
	"github.com/azkidenz/intervia-poc/protocol"
	"github.com/azkidenz/intervia-poc/ratelimit"
	"github.com/azkidenz/intervia-poc/routers"
)

var flagSeedOnStart bool

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP operation surface",
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().BoolVar(&flagSeedOnStart, "seed", false, "seed the configured network before serving")
}

func runServe(cmd *cobra.Command, args []string) error {
	logger.Logger.Info("Starting ticket middleware...")

	st, err := openStores(cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	if flagSeedOnStart {
		def, err := network.Load(cfg.Network.File)
		if err != nil {
			return err
		}
		if err := network.Seed(cmd.Context(), def, st.ledger, st.graph); err != nil {
			return fmt.Errorf("seed network: %w", err)
		}
	}

	ledgerGW := protocol.WithLedgerTimeout(ledger.NewGateway(st.ledger, cfg.Ledger.Issuer, cfg.Ledger.Validator), cfg.Gateway.Timeout)
	graphGW := protocol.WithGraphTimeout(st.graph, cfg.Gateway.Timeout)
	lc := protocol.NewLifecycle(ledgerGW, graphGW)

	h := handlers.NewHandler(lc, st.ledger)

	var limiter ratelimit.Limiter = ratelimit.Noop{}
	if cfg.RateLimit.Requests > 0 && cfg.RateLimit.RedisAddr != "" {
		rl, err := ratelimit.NewRedisLimiter(cfg.RateLimit.RedisAddr, cfg.RateLimit.RedisPassword, cfg.RateLimit.RedisDB, nil)
		if err != nil {
			return err
		}
		defer func() {
			if err := rl.Close(); err != nil {
				logger.Logger.Warn("Failed to close rate limiter", zap.Error(err))
			}
		}()
		limiter = rl
		logger.Logger.Info("Rate limiting enabled",
			zap.Int("requests", cfg.RateLimit.Requests), zap.Duration("window", cfg.RateLimit.Window))
	}

	// Setup router
	r := mux.NewRouter()
	r.Use(routers.RequestID(), routers.AccessLog(), routers.RateLimit(limiter, cfg.RateLimit.Requests, cfg.RateLimit.Window))
	routers.RegisterRoutes(r, h)

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	logger.Logger.Info("Server running on port", zap.Int("port", cfg.Server.Port))

	// Graceful shutdown
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return fmt.Errorf("server stopped: %w", err)
	case <-sigCh:
	}
	logger.Logger.Info("Shutdown signal received, exiting...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(ctx)
}
