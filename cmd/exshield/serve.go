package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"log/slog"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/exshield/exshield/pkg/config"
	"github.com/exshield/exshield/pkg/shield"
	"github.com/exshield/exshield/pkg/telemetry"
)

const (
	serviceName              = "exshield"
	telemetryShutdownTimeout = 5 * time.Second
	gracefulShutdownTimeout  = 10 * time.Second
)

// newServeCmd creates the serve command: the standalone admission endpoint
// with configuration hot reload.
func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the standalone admission endpoint",
		RunE:  runServe,
	}

	cmd.Flags().String("listen", "", "HTTP listen address (overrides config)")

	return cmd
}

func runServe(cmd *cobra.Command, _ []string) error {
	configPath, err := cmd.Flags().GetString("config")
	if err != nil {
		return err
	}
	listenAddr, err := cmd.Flags().GetString("listen")
	if err != nil {
		return err
	}

	provider, err := config.NewProvider(configPath, slog.Default())
	if err != nil {
		return fmt.Errorf("configuration load failed: %w", err)
	}
	defer provider.Close()

	cfg := provider.Current()
	if listenAddr == "" {
		listenAddr = cfg.Server.Address
	}

	logger := newLogger(effectiveLogLevel(cmd, cfg.Logging.Level))
	slog.SetDefault(logger)

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	telemetryShutdown, err := telemetry.SetupProvider(ctx, telemetry.Config{
		ServiceName: serviceName,
		Endpoint:    cfg.Telemetry.OTLPEndpoint,
		Insecure:    cfg.Telemetry.Insecure,
	})
	if err != nil {
		return fmt.Errorf("telemetry initialization failed: %w", err)
	}
	defer func() {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), telemetryShutdownTimeout)
		defer shutdownCancel()
		if err := telemetryShutdown(shutdownCtx); err != nil {
			logger.Warn("telemetry shutdown failed", "error", err)
		}
	}()

	// Shield swaps atomically on config reload; in-flight checks keep the
	// shield they started with.
	var current atomic.Pointer[shield.Shield]
	opts, err := cfg.Shield.ShieldOptions()
	if err != nil {
		return err
	}
	current.Store(shield.New(opts, logger))
	defer func() {
		if s := current.Load(); s != nil {
			_ = s.Close()
		}
	}()

	go watchReloads(ctx, provider, &current, logger)

	server := newServer(listenAddr, current.Load, logger)

	errCh := make(chan error, 1)
	go func() {
		logger.Info("admission endpoint listening", "addr", listenAddr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return fmt.Errorf("server failed: %w", err)
	case sig := <-sigCh:
		logger.Info("shutting down", "signal", sig.String())
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown error: %w", err)
	}

	logger.Info("shutdown complete")
	return nil
}

// watchReloads swaps in a new Shield for each successfully reloaded
// configuration. A reload that fails shield construction keeps the previous
// shield serving.
func watchReloads(ctx context.Context, provider *config.Provider, current *atomic.Pointer[shield.Shield], logger *slog.Logger) {
	updates := provider.Subscribe()
	// Drain the immediate snapshot; the initial shield is already built.
	<-updates

	for {
		select {
		case <-ctx.Done():
			return
		case cfg, ok := <-updates:
			if !ok {
				return
			}
			opts, err := cfg.Shield.ShieldOptions()
			if err != nil {
				logger.Error("reloaded configuration rejected", "error", err)
				continue
			}
			if old := current.Swap(shield.New(opts, logger)); old != nil {
				if err := old.Close(); err != nil {
					logger.Warn("failed to release superseded shield", "error", err)
				}
			}
			logger.Info("shield reconfigured", "rules", len(opts.Rules))
		}
	}
}

func newServer(addr string, source shield.Source, logger *slog.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/v1/check", shield.CheckHandler(source, logger))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	handler := requestID(otelhttp.NewHandler(mux, "exshield"))

	return &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}
}

// requestID assigns a correlation id to every request, preserving one the
// caller already supplied.
func requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", id)
		next.ServeHTTP(w, r)
	})
}
