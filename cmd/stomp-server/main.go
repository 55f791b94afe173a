// File: cmd/stomp-server/main.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// stomp-server runs the broker: stomp-server <port> <tpc|reactor>.
// Positional arguments override STOMP_LISTEN_ADDR and STOMP_MODE.

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/momentics/hioload-stomp/control"
	"github.com/momentics/hioload-stomp/internal/concurrency"
	"github.com/momentics/hioload-stomp/internal/logger"
	"github.com/momentics/hioload-stomp/internal/session"
	"github.com/momentics/hioload-stomp/server"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	cfg, err := loadConfig(args)
	if err != nil {
		fmt.Fprintf(os.Stderr, "stomp-server: %v\n%s\n", err, usage)
		return 1
	}

	level := new(slog.LevelVar)
	lvl, _ := logger.ParseLevel(cfg.LogLevel)
	level.Set(lvl)
	format, _ := logger.ParseFormat(cfg.LogFormat)
	log := logger.New(logger.WithLevel(level), logger.WithFormat(format), logger.WithService("stomp-server"))
	slog.SetDefault(log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := serve(ctx, cfg, level, log); err != nil {
		log.Error("server stopped", logger.Error(err))
		return 1
	}
	log.Info("server stopped")
	return 0
}

func serve(ctx context.Context, cfg *server.Config, level *slog.LevelVar, log *slog.Logger) error {
	registry := session.NewRegistry(
		session.WithPasswordCost(cfg.PasswordCost),
		session.WithLogger(log),
	)
	metrics := control.NewMetricsRegistry()
	probes := control.NewDebugProbes()
	control.RegisterPlatformProbes(probes)
	probes.RegisterProbe("registry", func() any { return registry.Stats() })

	store := control.NewConfigStore()
	store.SetConfig(cfg.Snapshot())
	store.OnReload(func(changed map[string]any) {
		if v, ok := changed["log.level"].(string); ok {
			if l, err := logger.ParseLevel(v); err == nil {
				level.Set(l)
				log.Info("log level changed", "level", l.String())
			}
		}
	})

	ids := server.NewIDSource()
	opts := []server.Option{
		server.WithLogger(log),
		server.WithMetrics(metrics),
		server.WithIDSource(ids),
	}
	mode := server.Mode(cfg.Mode)
	if mode == server.ModeReactor {
		exec := concurrency.NewExecutor(cfg.Workers, concurrency.WithExecutorLogger(log))
		defer exec.Close()
		probes.RegisterProbe("executor", func() any { return exec.Stats() })
		opts = append(opts, server.WithExecutor(exec))
	}

	engine, err := server.New(mode, cfg, registry, opts...)
	if err != nil {
		return fmt.Errorf("start %s engine: %w", mode, err)
	}

	var ws server.Server
	if cfg.WSAddr != "" {
		if ws, err = server.NewWebSocket(cfg, registry, opts...); err != nil {
			_ = engine.Shutdown()
			return fmt.Errorf("start websocket listener: %w", err)
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return engine.Serve(gctx) })
	if ws != nil {
		g.Go(func() error { return ws.Serve(gctx) })
	}

	if cfg.AdminAddr != "" {
		admin := &http.Server{
			Addr:              cfg.AdminAddr,
			Handler:           control.AdminHandler(metrics, probes, store, log),
			ReadHeaderTimeout: 5 * time.Second,
		}
		g.Go(func() error {
			log.Info("admin listener started", "addr", cfg.AdminAddr)
			if err := admin.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("admin listener: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			sctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
			defer cancel()
			return admin.Shutdown(sctx)
		})
	}

	g.Go(func() error {
		reloadOnHangup(gctx, store, log)
		return nil
	})

	log.Info("broker started", "mode", string(mode), "addr", engine.Addr().String(),
		"host", cfg.Host, "version", cfg.Version)
	return g.Wait()
}

// reloadOnHangup re-reads the environment on SIGHUP and publishes the new
// values to the config store.
func reloadOnHangup(ctx context.Context, store *control.ConfigStore, log *slog.Logger) {
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)
	for {
		select {
		case <-ctx.Done():
			return
		case <-hup:
			var next server.Config
			if err := loadEnv(&next); err != nil {
				log.Warn("config reload failed", logger.Error(err))
				continue
			}
			store.SetConfig(next.Snapshot())
			log.Info("config reloaded")
		}
	}
}
