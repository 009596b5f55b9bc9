// The rebuild worker loads the static GTFS archive, builds the filtered
// snapshot, and exits. Running it as a separate process keeps the parse-time
// memory out of the serving process: everything the load allocated is
// returned to the OS when the worker exits.
//
// The snapshot is always written to the bundle file; with a Redis store
// configured it is also published directly, so the server only has to adopt.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"stopboard.transitkit.org/internal/app"
	"stopboard.transitkit.org/internal/gtfs"
	"stopboard.transitkit.org/internal/logging"
	"stopboard.transitkit.org/internal/store"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	cfg, gtfsCfg, err := app.ParseFlags("rebuild", os.Args[1:])
	if err != nil {
		return err
	}

	logger := logging.NewStructuredLogger(os.Stdout, slog.LevelInfo)
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	started := time.Now()
	snap, err := gtfs.Load(ctx, gtfsCfg)
	if err != nil {
		return err
	}
	logging.LogOperation(logger, "snapshot_built",
		slog.String("version", snap.Meta.Version),
		slog.Int("stops", len(snap.Stops)),
		slog.Int("trips", len(snap.Trips)),
		slog.Duration("duration", time.Since(started)))

	if err := gtfs.WriteBundle(snap, gtfsCfg.BundlePath()); err != nil {
		return err
	}
	logging.LogOperation(logger, "bundle_written",
		slog.String("path", gtfsCfg.BundlePath()))

	if cfg.RedisAddress == "" {
		return nil
	}

	client := store.NewRedisClient(cfg.RedisAddress, cfg.RedisPassword, cfg.RedisDB)
	st := store.NewRedisStore(client, gtfs.DefaultRules(gtfsCfg))
	defer logging.SafeCloseWithLogging(st, logger, "store")

	if err := st.Ping(ctx); err != nil {
		return fmt.Errorf("connecting to redis at %s: %w", cfg.RedisAddress, err)
	}
	if err := snap.Publish(ctx, st); err != nil {
		return err
	}
	logging.LogOperation(logger, "snapshot_published",
		slog.String("version", snap.Meta.Version))
	return nil
}
