// Command interviewer conducts spoken interviews on a humanoid robot reached
// through its WebSocket bridge.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/interviewer/internal/app"
	"github.com/MrWong99/interviewer/internal/config"
	"github.com/MrWong99/interviewer/internal/health"
	"github.com/MrWong99/interviewer/internal/observe"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	history := flag.Int("history", 0, "print the N most recent interview outcomes and exit")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "interviewer: config file %q not found, copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "interviewer: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	level := new(slog.LevelVar)
	level.Set(slogLevel(cfg.Server.LogLevel))
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if *history > 0 {
		return printHistory(ctx, cfg, *history)
	}

	slog.Info("interviewer starting",
		"version", version,
		"config", *configPath,
		"bridge_url", cfg.Robot.BridgeURL,
		"listen_addr", cfg.Server.ListenAddr,
		"repeat", cfg.Runner.Repeat,
	)

	// ── Telemetry ─────────────────────────────────────────────────────────────
	tel, err := observe.Init(ctx, observe.ProviderConfig{ServiceVersion: version})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tel.Shutdown(shutdownCtx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()

	// ── Config reload (repeat mode only) ──────────────────────────────────────
	opts := []app.Option{app.WithMetrics(tel.Metrics())}
	var watcher *config.Watcher
	if cfg.Runner.Repeat && cfg.Runner.ReloadInterval > 0 {
		watcher, err = config.NewWatcher(*configPath,
			config.WithInterval(cfg.Runner.ReloadInterval),
			config.WithOnChange(func(_, _ *config.Config, d config.ConfigDiff) {
				if d.LogLevelChanged {
					level.Set(slogLevel(d.NewLogLevel))
					slog.Info("log level changed", "level", d.NewLogLevel)
				}
			}),
		)
		if err != nil {
			slog.Error("failed to watch config", "err", err)
			return 1
		}
		opts = append(opts, app.WithConfigSource(watcher))
	}

	// ── Application ───────────────────────────────────────────────────────────
	application, err := app.New(ctx, cfg, opts...)
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		return 1
	}

	runCtx, cancelRun := context.WithCancel(ctx)
	defer cancelRun()
	g, gctx := errgroup.WithContext(runCtx)

	if cfg.Server.ListenAddr != "" {
		srv := newOpsServer(cfg.Server.ListenAddr, application, tel)
		g.Go(func() error {
			slog.Info("ops server listening", "addr", srv.Addr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("ops server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}
	if watcher != nil {
		g.Go(func() error { return watcher.Run(gctx) })
	}
	g.Go(func() error {
		// Once the interviews are over the ops server and watcher stop too.
		defer cancelRun()
		return application.Run(gctx)
	})

	runErr := g.Wait()
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		slog.Error("run error", "err", runErr)
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := application.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		return 1
	}

	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// newOpsServer serves liveness, readiness and Prometheus metrics.
func newOpsServer(addr string, application *app.App, tel *observe.Telemetry) *http.Server {
	mux := http.NewServeMux()
	health.New(application.Checkers()...).Register(mux)
	mux.Handle("GET /metrics", tel.Handler())

	return &http.Server{
		Addr:              addr,
		Handler:           observe.Middleware(tel.Metrics())(mux),
		ReadHeaderTimeout: 5 * time.Second,
	}
}

// printHistory writes the newest stored outcomes to stdout as JSON lines.
func printHistory(ctx context.Context, cfg *config.Config, n int) int {
	store, closeStores, err := app.OpenOutcomes(ctx, cfg.Outcomes)
	if err != nil {
		slog.Error("failed to open outcome store", "err", err)
		return 1
	}
	defer closeStores()
	if store == nil {
		fmt.Fprintln(os.Stderr, "interviewer: no outcome store configured (set outcomes.file or outcomes.postgres_dsn)")
		return 1
	}

	recs, err := store.Recent(ctx, n)
	if err != nil {
		slog.Error("failed to read outcomes", "err", err)
		return 1
	}
	enc := json.NewEncoder(os.Stdout)
	for _, rec := range recs {
		if err := enc.Encode(rec); err != nil {
			slog.Error("failed to write outcome", "err", err)
			return 1
		}
	}
	return 0
}

func slogLevel(level config.LogLevel) slog.Level {
	switch level {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
