// Command rmkd serves the reflective memory kernel's HTTP surface, grounded
// on the teacher's cmd/orchestrator/main.go wiring shape: config-first
// startup, zerolog init, signal-driven graceful shutdown.
package main

import (
	"context"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"singularity-rmk/internal/config"
	"singularity-rmk/internal/kernel"
	"singularity-rmk/internal/observability"
	"singularity-rmk/internal/rmkerrors"
)

// Exit codes for startup failures, per the kernel's documented CLI contract.
const (
	exitOK               = 0
	exitUsage            = 64
	exitDataErr          = 65
	exitServiceUnavail   = 69
	exitPermissionDenied = 77
)

func main() {
	if err := run(); err != nil {
		log.Error().Err(err).Msg("rmkd")
		os.Exit(exitCodeFor(err))
	}
}

func exitCodeFor(err error) int {
	switch rmkerrors.CodeOf(err) {
	case rmkerrors.InvalidInput:
		return exitUsage
	case rmkerrors.NotFound, rmkerrors.Conflict:
		return exitDataErr
	case rmkerrors.StoreUnavailable, rmkerrors.LLMUnavailable, rmkerrors.Overloaded:
		return exitServiceUnavail
	case rmkerrors.Forbidden, rmkerrors.Unauthorized:
		return exitPermissionDenied
	default:
		return exitUsage
	}
}

func run() error {
	configPath := flag.String("config", "config.yaml", "path to the kernel's YAML config file")
	flag.Parse()

	_ = godotenv.Load()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	observability.InitLogger("", "info")

	baseCtx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	k, err := kernel.New(baseCtx, cfg)
	if err != nil {
		return fmt.Errorf("assemble kernel: %w", err)
	}
	defer k.Close()

	var shutdownOTel func(context.Context) error
	if cfg.Telemetry.Enabled {
		shutdownOTel, err = observability.InitOTel(baseCtx, observability.Config{
			OTLPEndpoint: cfg.Telemetry.Endpoint,
			ServiceName:  cfg.Telemetry.ServiceName,
			Insecure:     cfg.Telemetry.Insecure,
		})
		if err != nil {
			log.Warn().Err(err).Msg("otel init failed, continuing without tracing")
		}
	}
	if shutdownOTel != nil {
		defer func() { _ = shutdownOTel(context.Background()) }()
	}

	go k.Run(baseCtx)

	mux := newRouter(k)
	handler := otelhttp.NewHandler(loggingMiddleware(mux), "rmkd")

	addr := net.JoinHostPort(cfg.Server.Host, fmt.Sprintf("%d", cfg.Server.Port))
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		log.Info().Str("addr", addr).Msg("rmkd listening")
		serverErr <- srv.ListenAndServe()
	}()

	select {
	case err := <-serverErr:
		if err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("serve: %w", err)
		}
	case <-baseCtx.Done():
		log.Info().Msg("rmkd shutting down")
		shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancelShutdown()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("graceful shutdown: %w", err)
		}
	}
	return nil
}
