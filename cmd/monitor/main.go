// Command monitor continuously verifies whether benchmark metrics have
// reached steady state.
//
// For every configured target the monitor runs a loop that:
//  1. Collects the recent rounds of a metric through an adapter
//     (Prometheus, VictoriaMetrics, a JSON HTTP endpoint or a file)
//  2. Evaluates the trailing measurement window with the range and slope checks
//  3. Stores a report in memory, Redis or SQLite
//  4. Exposes reports and an ad-hoc verification endpoint over HTTP
//
// HTTP API (default :8080):
//   - POST /verify
//   - GET /report/current?target=<name>
//   - GET /report/history?target=<name>&limit=<n>
//   - GET /healthz
//   - GET /metrics
//
// With --grpc-listen the steadystate.v1.Verifier service, gRPC health and
// reflection are served as well.
//
// Usage:
//
//	monitor \
//	  --target=fio-randwrite \
//	  --metric=write_iops \
//	  --adapter=prometheus \
//	  --window-size=5 --step=1m --interval=30s
//
// with ADAPTER_URL and ADAPTER_QUERY in the environment, or
//
//	monitor --config-file=targets.yaml --storage=sqlite
//
// Environment variables mirror the flags: TARGET, METRIC, ADAPTER, ADAPTER_*,
// WINDOW_SIZE, STEP, LOOKBACK_ROUNDS, INTERVAL, THRESHOLD, STORAGE, REDIS_*,
// SQLITE_PATH, LISTEN, GRPC_LISTEN, TLS_*, LOG_LEVEL, LOG_FORMAT.
package main

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/pflag"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/health"
	"google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"github.com/HatiCode/steadystate/cmd/monitor/config"
	"github.com/HatiCode/steadystate/cmd/monitor/metrics"
	"github.com/HatiCode/steadystate/cmd/monitor/router"
	"github.com/HatiCode/steadystate/pkg/adapters"
	"github.com/HatiCode/steadystate/pkg/httpx"
	"github.com/HatiCode/steadystate/pkg/logger"
	"github.com/HatiCode/steadystate/pkg/rpc"
	"github.com/HatiCode/steadystate/pkg/steadystate"
	"github.com/HatiCode/steadystate/pkg/storage"
)

// version is set via ldflags at build time
var version = "dev"

func main() {
	cfg, err := config.Parse(os.Args[1:])
	if err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			os.Exit(0)
		}
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(2)
	}

	log := logger.New(cfg.LogFormat, cfg.LogLevel, os.Stderr)
	slog.SetDefault(log)

	if err := run(cfg, log); err != nil {
		log.Error("monitor failed", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, log *slog.Logger) error {
	targets, err := config.LoadTargets(cfg)
	if err != nil {
		return fmt.Errorf("load targets: %w", err)
	}

	log.Info("starting steadystate monitor",
		"version", version,
		"targets", len(targets),
		"storage", cfg.Storage,
		"tls_enabled", cfg.TLS.Enabled,
	)

	if err := cfg.TLS.Validate(); err != nil {
		return fmt.Errorf("invalid TLS configuration: %w", err)
	}
	serverTLS, err := cfg.TLS.ServerConfig()
	if err != nil {
		return err
	}

	store, checks, err := newStore(cfg)
	if err != nil {
		return fmt.Errorf("create store: %w", err)
	}
	if closer, ok := store.(interface{ Close() error }); ok {
		defer func() {
			if err := closer.Close(); err != nil {
				log.Error("failed to close store", "error", err)
			}
		}()
	}

	client, err := httpx.NewClient(cfg.ClientTLS, 15*time.Second)
	if err != nil {
		return fmt.Errorf("create adapter client: %w", err)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(reg)

	monitors := make([]*Monitor, 0, len(targets))
	staleAfter := make(map[string]time.Duration, len(targets))
	for _, t := range targets {
		adapter, err := adapters.New(t.Adapter, t.AdapterConfig, t.Step, client)
		if err != nil {
			return fmt.Errorf("target %q: %w", t.Name, err)
		}
		monitors = append(monitors, NewMonitor(t, adapter, store, cfg.CollectRetries, log, m))
		// A report is stale if older than 2x the target's interval.
		staleAfter[t.Name] = 2 * t.Interval
	}

	evaluator := steadystate.New(steadystate.WithThreshold(cfg.Threshold))
	handler := router.SetupRoutes(store, evaluator, func(target string) time.Duration {
		return staleAfter[target]
	}, reg, log, checks...)

	httpServer := httpx.NewServer(cfg.Listen, handler, log)
	if serverTLS != nil {
		httpServer.SetTLSConfig(serverTLS)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var wg sync.WaitGroup
	for _, mon := range monitors {
		wg.Add(1)
		go func(mon *Monitor) {
			defer wg.Done()
			if err := mon.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				log.Error("steady state loop failed", "target", mon.Target().Name, "error", err)
			}
		}(mon)
	}

	serverErr := make(chan error, 2)
	go func() {
		serverErr <- httpServer.Start()
	}()

	var grpcServer *grpc.Server
	if cfg.GRPCListen != "" {
		grpcServer, err = startGRPC(cfg.GRPCListen, serverTLS, evaluator, log, serverErr)
		if err != nil {
			if stopErr := shutdown(cancel, &wg, httpServer, nil); stopErr != nil {
				log.Error("failed to stop HTTP server", "error", stopErr)
			}
			return err
		}
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	var runErr error
	select {
	case sig := <-sigCh:
		log.Info("received shutdown signal", "signal", sig)
	case err := <-serverErr:
		if err != nil {
			runErr = err
		}
	}

	log.Info("shutting down")
	if err := shutdown(cancel, &wg, httpServer, grpcServer); err != nil && runErr == nil {
		runErr = err
	}

	log.Info("shutdown complete")
	return runErr
}

// shutdown stops the monitor loops and both servers, then waits for the loops
// to return. grpcServer may be nil.
func shutdown(cancel context.CancelFunc, wg *sync.WaitGroup, httpServer *httpx.Server, grpcServer *grpc.Server) error {
	cancel()
	if grpcServer != nil {
		grpcServer.GracefulStop()
	}
	err := httpServer.Stop(10 * time.Second)
	wg.Wait()
	return err
}

// newStore builds the configured storage backend and the health checks that
// go with it.
func newStore(cfg *config.Config) (storage.Store, []func(context.Context) error, error) {
	switch cfg.Storage {
	case "redis":
		s, err := storage.NewRedisStore(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, cfg.RedisTTL)
		if err != nil {
			return nil, nil, err
		}
		s.SetHistoryLimit(cfg.HistoryLimit)
		return s, []func(context.Context) error{s.Ping}, nil
	case "sqlite":
		s, err := storage.NewSQLiteStore(cfg.SQLitePath)
		if err != nil {
			return nil, nil, err
		}
		return s, []func(context.Context) error{s.Ping}, nil
	default:
		var s *storage.MemoryStore
		if cfg.MemoryTTL > 0 {
			s = storage.NewMemoryStoreWithTTL(cfg.MemoryTTL, time.Minute)
		} else {
			s = storage.NewMemoryStore()
		}
		s.SetHistoryLimit(cfg.HistoryLimit)
		return s, nil, nil
	}
}

func startGRPC(addr string, tlsCfg *tls.Config, evaluator *steadystate.Evaluator, log *slog.Logger, errCh chan<- error) (*grpc.Server, error) {
	var opts []grpc.ServerOption
	if tlsCfg != nil {
		opts = append(opts, grpc.Creds(credentials.NewTLS(tlsCfg)))
	}
	grpcServer := grpc.NewServer(opts...)

	rpc.RegisterVerifierServer(grpcServer, rpc.NewServer(evaluator, log))

	healthServer := health.NewServer()
	grpc_health_v1.RegisterHealthServer(grpcServer, healthServer)
	healthServer.SetServingStatus("", grpc_health_v1.HealthCheckResponse_SERVING)
	healthServer.SetServingStatus(rpc.ServiceName, grpc_health_v1.HealthCheckResponse_SERVING)

	reflection.Register(grpcServer)

	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("grpc listen %s: %w", addr, err)
	}

	go func() {
		log.Info("grpc server listening", "address", addr)
		if err := grpcServer.Serve(lis); err != nil {
			errCh <- fmt.Errorf("grpc server failed: %w", err)
		}
	}()
	return grpcServer, nil
}
