package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/obsidianstack/sentinel/internal/action"
	"github.com/obsidianstack/sentinel/internal/api"
	"github.com/obsidianstack/sentinel/internal/check"
	"github.com/obsidianstack/sentinel/internal/config"
	"github.com/obsidianstack/sentinel/internal/dispatch"
	"github.com/obsidianstack/sentinel/internal/journal"
	"github.com/obsidianstack/sentinel/internal/logging"
	"github.com/obsidianstack/sentinel/internal/metrics"
	"github.com/obsidianstack/sentinel/internal/monitor"
	"github.com/obsidianstack/sentinel/internal/ws"
)

const shutdownTimeout = 15 * time.Second

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start the monitor daemon and the status API",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer cancel()
		return run(ctx, cfgFile)
	},
}

func init() {
	rootCmd.AddCommand(runCmd)
}

func run(ctx context.Context, path string) error {
	cfg, err := config.Load(path)
	if err != nil {
		return err
	}

	logger, err := logging.New(cfg.Log)
	if err != nil {
		return err
	}
	defer logger.Close() //nolint:errcheck
	slog.SetDefault(logger.Logger)

	slog.Info("sentinel starting",
		"version", version,
		"config", path,
		"interval", cfg.Monitor.Interval,
		"checks", len(cfg.Checks),
		"ledger", cfg.Actions.Ledger.Backend,
	)

	probes := map[string]api.Probe{}

	// Optional NATS connection shared by the nats channel and executor.
	var (
		pub dispatch.Publisher
		req action.Requester
	)
	if cfg.NATS.URL != "" {
		nc, err := connectWithRetry(ctx, logger.Logger, cfg.NATS.URL, cfg.NATS.Name)
		if err != nil {
			return fmt.Errorf("nats: %w", err)
		}
		defer nc.Drain() //nolint:errcheck
		pub, req = nc, nc
		probes["nats"] = func(context.Context) error {
			if nc.Status() != nats.CONNECTED {
				return fmt.Errorf("nats: %s", nc.Status())
			}
			return nil
		}
	}

	var rdb *redis.Client
	if cfg.Redis.Addr != "" {
		rdb = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password(),
			DB:       cfg.Redis.DB,
		})
		defer rdb.Close() //nolint:errcheck
		probes["redis"] = func(ctx context.Context) error { return rdb.Ping(ctx).Err() }
	}

	reg := metrics.NewRegistry()

	dispatcher, err := dispatch.New(cfg.Dispatch, dispatch.WithMetrics(reg))
	if err != nil {
		return err
	}
	for _, s := range dispatch.Senders(cfg.Dispatch, pub, logger.Logger) {
		dispatcher.Register(s)
	}
	slog.Info("dispatch: channels registered", "channels", dispatcher.Channels())

	exec, err := action.BuildExecutor(cfg.Actions, req)
	if err != nil {
		return err
	}

	jrnl := journal.New(cfg.Server.JournalSize)

	engineOpts := []action.Option{
		action.WithListener(jrnl.RecordAction),
		action.WithMetrics(reg),
	}
	if cfg.Actions.Ledger.Backend == "redis" {
		engineOpts = append(engineOpts, action.WithLedger(action.NewRedisLedger(rdb, cfg.Actions.Ledger.KeyPrefix)))
	}
	engine, err := action.NewEngine(cfg.Actions, exec, engineOpts...)
	if err != nil {
		return err
	}

	checks, err := check.NewAll(cfg.Checks)
	if err != nil {
		return err
	}

	daemon := monitor.New(cfg.Monitor, dispatcher, checks, monitor.WithMetrics(reg))
	daemon.RegisterAlertCallback(monitor.LogObserver{Logger: logger.Logger})
	daemon.RegisterAlertCallback(jrnl)
	daemon.RegisterAlertCallback(engine)

	var handler *api.Handler
	hub := ws.New(func() any { return handler.Status() }, cfg.Server.StreamInterval)
	jrnl.Subscribe(hub.Publish)

	handler = api.New(api.Options{
		Daemon:  daemon,
		Journal: jrnl,
		Metrics: reg,
		Stream:  hub,
		Version: version,
		Probes:  probes,
	})

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error { dispatcher.Run(gctx); return nil })
	g.Go(func() error { engine.Run(gctx); return nil })

	g.Go(func() error {
		err := config.Watch(gctx, path, func(next *config.Config) {
			applyReload(logger, dispatcher, engine, cfg, next)
		})
		if err != nil {
			slog.Warn("config: hot reload disabled", "path", path, "err", err)
		}
		return nil
	})

	daemon.Start(gctx)

	var srv *http.Server
	if cfg.Server.HTTPAddr != "" {
		g.Go(func() error { hub.Run(gctx); return nil })

		srv = &http.Server{
			Addr: cfg.Server.HTTPAddr,
			Handler: api.RequireAPIKey(
				cfg.Server.Auth.Mode,
				cfg.Server.Auth.EffectiveHeader(),
				cfg.Server.Auth.Key(),
				handler,
			),
			ReadHeaderTimeout: 5 * time.Second,
		}
		g.Go(func() error {
			slog.Info("HTTP server listening", "addr", cfg.Server.HTTPAddr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("http server: %w", err)
			}
			return nil
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		slog.Info("sentinel shutting down")

		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		var errs []error
		if err := daemon.Stop(sctx); err != nil {
			errs = append(errs, fmt.Errorf("stop monitor: %w", err))
		}
		if srv != nil {
			if err := srv.Shutdown(sctx); err != nil {
				errs = append(errs, fmt.Errorf("http shutdown: %w", err))
			}
		}
		return errors.Join(errs...)
	})

	return g.Wait()
}

// applyReload pushes the parts of a reloaded config that can change at
// runtime. Everything else needs a restart.
func applyReload(logger *logging.Logger, d *dispatch.Dispatcher, e *action.Engine, cur, next *config.Config) {
	if err := logger.SetLevel(next.Log.Level); err != nil {
		slog.Warn("config: log level not applied", "err", err)
	}
	if err := d.SetPolicy(next.Dispatch); err != nil {
		slog.Warn("config: dispatch policy not applied", "err", err)
	}
	if err := e.SetPolicy(next.Actions); err != nil {
		slog.Warn("config: action policy not applied", "err", err)
	}
	var pending []string
	for _, s := range config.ChangedSections(cur, next) {
		switch s {
		case "dispatch", "actions":
		case "log":
			rest := next.Log
			rest.Level = cur.Log.Level
			if rest != cur.Log {
				pending = append(pending, s)
			}
		default:
			pending = append(pending, s)
		}
	}
	if len(pending) > 0 {
		slog.Info("config: changes take effect after restart", "sections", pending)
	}
}
