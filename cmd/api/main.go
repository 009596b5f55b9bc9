package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"stopboard.transitkit.org/internal/app"
	"stopboard.transitkit.org/internal/gtfs"
	"stopboard.transitkit.org/internal/logging"
	"stopboard.transitkit.org/internal/rebuild"
	"stopboard.transitkit.org/internal/restapi"
	"stopboard.transitkit.org/internal/store"
)

// staticCheckPeriod is how often the server compares the source's freshness
// tag against the adopted snapshot.
const staticCheckPeriod = 15 * time.Minute

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	cfg, gtfsCfg, err := app.ParseFlags("api", os.Args[1:])
	if err != nil {
		return err
	}

	logger := logging.NewStructuredLogger(os.Stdout, slog.LevelInfo)

	st, shared, err := openStore(cfg, gtfsCfg)
	if err != nil {
		return err
	}
	defer logging.SafeCloseWithLogging(st, logger, "store")

	manager := gtfs.NewManager(st, gtfsCfg, logger)
	liveFeed := gtfs.NewLiveFeed(manager, st, gtfsCfg, logger)
	orchestrator := rebuild.New(gtfsCfg, st, manager, logger, rebuild.Options{
		WorkerCommand: workerCommand(cfg, gtfsCfg),
		SharedStore:   shared,
	})

	application := &app.Application{
		Config:       cfg,
		GtfsConfig:   gtfsCfg,
		Logger:       logger,
		Store:        st,
		Manager:      manager,
		LiveFeed:     liveFeed,
		Orchestrator: orchestrator,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// First pass before serving; a failure is tolerable if a snapshot from
	// an earlier run could still be adopted.
	outcome, err := orchestrator.EnsureFreshSnapshot(ctx)
	if err != nil {
		// Bad source data with no prior snapshot to fall back to cannot
		// resolve itself by retrying.
		var vErr *gtfs.ValidationError
		if errors.As(err, &vErr) && manager.Version() == "" {
			return err
		}
		logging.LogError(logger, "initial snapshot pass failed", err)
	}
	if manager.Version() == "" {
		logger.Warn("serving without schedule data until a rebuild succeeds")
	}
	logging.LogOperation(logger, "startup_snapshot_pass",
		slog.String("outcome", string(outcome)),
		slog.String("version", manager.Version()))

	var wg sync.WaitGroup
	startTickers(ctx, &wg, application)

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      restapi.NewRestAPI(application).Router(),
		IdleTimeout:  time.Minute,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		ErrorLog:     slog.NewLogLogger(logger.Handler(), slog.LevelError),
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("starting server", "addr", srv.Addr, "env", cfg.Env)
		serveErr <- srv.ListenAndServe()
	}()

	select {
	case err := <-serveErr:
		stop()
		wg.Wait()
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logging.LogError(logger, "server shutdown failed", err)
	}
	wg.Wait()
	return nil
}

// openStore selects the backend: Redis when an address is configured,
// otherwise the in-process store. The second return reports whether other
// processes share the backend.
func openStore(cfg app.Config, gtfsCfg gtfs.Config) (store.Store, bool, error) {
	rules := gtfs.DefaultRules(gtfsCfg)
	if cfg.RedisAddress == "" {
		return store.NewMemoryStore(rules), false, nil
	}

	client := store.NewRedisClient(cfg.RedisAddress, cfg.RedisPassword, cfg.RedisDB)
	st := store.NewRedisStore(client, rules)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := st.Ping(ctx); err != nil {
		st.Close()
		return nil, false, fmt.Errorf("connecting to redis at %s: %w", cfg.RedisAddress, err)
	}
	return st, true, nil
}

// workerCommand builds the rebuild worker argv: the rebuild binary next to
// this executable, passed the same configuration.
func workerCommand(cfg app.Config, gtfsCfg gtfs.Config) []string {
	binary := "rebuild"
	if exe, err := os.Executable(); err == nil {
		candidate := filepath.Join(filepath.Dir(exe), "rebuild")
		if _, err := exec.LookPath(candidate); err == nil {
			binary = candidate
		}
	}

	argv := []string{
		binary,
		"-static-url", gtfsCfg.StaticURL,
		"-data-dir", gtfsCfg.DataDir,
	}
	if len(gtfsCfg.StopFilter) > 0 {
		argv = append(argv, "-filter-stops", strings.Join(gtfsCfg.StopFilter, ","))
	}
	if cfg.RedisAddress != "" {
		argv = append(argv, "-redis-address", cfg.RedisAddress)
		if cfg.RedisPassword != "" {
			argv = append(argv, "-redis-password", cfg.RedisPassword)
		}
		argv = append(argv, "-redis-db", fmt.Sprintf("%d", cfg.RedisDB))
	}
	return argv
}

// startTickers runs the live feed poll and the static freshness check until
// the context is cancelled.
func startTickers(ctx context.Context, wg *sync.WaitGroup, application *app.Application) {
	if application.GtfsConfig.TripUpdatesURL == "" {
		application.Logger.Info("no trip updates feed configured; serving schedule only")
	} else {
		startPollTicker(ctx, wg, application)
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(staticCheckPeriod)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				outcome, err := application.Orchestrator.EnsureFreshSnapshot(ctx)
				if err != nil {
					logging.LogError(application.Logger, "snapshot freshness pass failed", err)
					continue
				}
				logging.LogOperation(application.Logger, "snapshot_freshness_pass",
					slog.String("outcome", string(outcome)))
			}
		}
	}()
}

func startPollTicker(ctx context.Context, wg *sync.WaitGroup, application *app.Application) {
	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(application.GtfsConfig.PollingPeriod)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				result, err := application.LiveFeed.PollOnce(ctx)
				if err != nil {
					if errors.Is(err, gtfs.ErrNoSnapshot) {
						continue
					}
					logging.LogError(application.Logger, "live feed poll failed", err)
					continue
				}
				logging.LogOperation(application.Logger, "live_feed_poll",
					slog.Int("updated", result.Updated),
					slog.Int("dropped", result.Dropped))
			}
		}
	}()
}
