// Command arbor-kerneld runs the capability security kernel as a
// standalone HTTP service: load config, open persistence, wire the
// kernel, serve its JSON API until interrupted.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/trust-arbor/arbor-sub008/capability"
	"github.com/trust-arbor/arbor-sub008/config"
	"github.com/trust-arbor/arbor-sub008/crypto"
	"github.com/trust-arbor/arbor-sub008/gateway/middleware"
	"github.com/trust-arbor/arbor-sub008/kernel"
	"github.com/trust-arbor/arbor-sub008/kernel/httpapi"
	"github.com/trust-arbor/arbor-sub008/observability/logging"
	"github.com/trust-arbor/arbor-sub008/policy"
)

const sweepInterval = 5 * time.Minute

func main() {
	configFile := flag.String("config", "./arbor-kernel.toml", "Path to the configuration file")
	flag.Parse()

	env := strings.TrimSpace(os.Getenv("ARBOR_ENV"))
	logger := logging.Setup("arbor-kerneld", env)

	cfg, err := config.Load(*configFile)
	if err != nil {
		logger.Error("failed to load config", slog.Any("error", err))
		os.Exit(1)
	}

	if cfg.DataDir != "" {
		if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
			logger.Error("failed to prepare data directory", slog.Any("error", err))
			os.Exit(1)
		}
	}

	// Load the master key file, or bootstrap it on first run as 32 raw
	// random bytes with 0600 permissions. The key is not used further here.
	if cfg.MasterKeyPath != "" {
		keyPath := cfg.MasterKeyPath
		if !filepath.IsAbs(keyPath) && cfg.DataDir != "" {
			keyPath = filepath.Join(cfg.DataDir, filepath.Base(keyPath))
		}
		if err := os.MkdirAll(filepath.Dir(keyPath), 0o700); err != nil {
			logger.Error("failed to prepare master key directory", slog.Any("error", err))
			os.Exit(1)
		}
		if _, err := crypto.LoadOrCreateMasterKey(keyPath); err != nil {
			logger.Error("failed to load or create master key", slog.Any("error", err))
			os.Exit(1)
		}
	}

	persist, closePersist, err := openPersistence(cfg)
	if err != nil {
		logger.Error("failed to open persistence backend", slog.Any("error", err))
		os.Exit(1)
	}
	if closePersist != nil {
		defer closePersist()
	}

	audit := kernel.NewAuditLog(logger)
	metrics := kernel.NewMetrics("arbor_kernel")

	k, err := kernel.New(cfg, persist, policy.NullConsensus{}, nil, audit, metrics)
	if err != nil {
		logger.Error("failed to construct kernel", slog.Any("error", err))
		os.Exit(1)
	}

	obs := middleware.NewObservability(middleware.ObservabilityConfig{
		ServiceName:   "arbor-kerneld",
		MetricsPrefix: "arbor_kernel_http",
		LogRequests:   true,
		Enabled:       true,
	}, nil)

	handler := httpapi.New(k, obs.Middleware)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	stopSweeper := startSweeper(ctx, k, logger)
	defer stopSweeper()

	server := &http.Server{
		Addr:         cfg.ListenAddress,
		Handler:      handler,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	listener, err := net.Listen("tcp", cfg.ListenAddress)
	if err != nil {
		logger.Error("failed to listen", slog.Any("error", err))
		os.Exit(1)
	}

	go func() {
		logger.Info("listening", slog.String("address", listener.Addr().String()))
		if serveErr := server.Serve(listener); serveErr != nil && serveErr != http.ErrServerClosed {
			logger.Error("serve failed", slog.Any("error", serveErr))
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", slog.Any("error", err))
	}
}

// openPersistence selects the capability store's durability backend per
// cfg.StorageBackend. "null", "none" or an empty value disables durability
// entirely; "bbolt" opens capabilities.db under cfg.DataDir; any other
// value is an error.
func openPersistence(cfg *config.Config) (capability.Persistence, func(), error) {
	switch strings.ToLower(strings.TrimSpace(cfg.StorageBackend)) {
	case "", "null", "none":
		return capability.NoopPersistence{}, nil, nil
	case "bbolt":
		path := filepath.Join(cfg.DataDir, "capabilities.db")
		store, err := capability.NewBoltPersistence(path)
		if err != nil {
			return nil, nil, fmt.Errorf("open bbolt persistence: %w", err)
		}
		return store, func() { _ = store.Close() }, nil
	default:
		return nil, nil, fmt.Errorf("unsupported storage backend %q", cfg.StorageBackend)
	}
}

// startSweeper runs SweepExpired on a fixed interval until ctx is
// cancelled, clearing expired capabilities and idle rate-limit buckets.
func startSweeper(ctx context.Context, k *kernel.Kernel, logger *slog.Logger) func() {
	ticker := time.NewTicker(sweepInterval)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			select {
			case <-ctx.Done():
				return
			case now := <-ticker.C:
				expired, buckets := k.SweepExpired(now.UTC())
				if expired > 0 || buckets > 0 {
					logger.Info("swept expired state", slog.Int("capabilities", expired), slog.Int("buckets", buckets))
				}
			}
		}
	}()
	return func() {
		ticker.Stop()
		<-done
	}
}
