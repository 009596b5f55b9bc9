// Package rebuild keeps the static snapshot fresh. The expensive load runs
// in a disposable worker process so its parse-time allocations never live in
// the serving process; the orchestrator only checks freshness, spawns the
// worker, and adopts whatever the worker published.
package rebuild

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"time"

	"stopboard.transitkit.org/internal/gtfs"
	"stopboard.transitkit.org/internal/logging"
	"stopboard.transitkit.org/internal/store"
)

// Outcome is the result of one freshness pass.
type Outcome string

const (
	// OutcomeUpToDate means the adopted snapshot already matches the source.
	OutcomeUpToDate Outcome = "up-to-date"
	// OutcomeRebuilding means another pass is already running; this call
	// did nothing.
	OutcomeRebuilding Outcome = "rebuilding"
	// OutcomePublished means a new snapshot version was adopted.
	OutcomePublished Outcome = "published"
	// OutcomeFailed means the pass failed and any previously adopted
	// snapshot stays in service.
	OutcomeFailed Outcome = "failed"
)

// Orchestrator drives the snapshot lifecycle. sharedStore marks a backend
// other processes can write to (Redis), where the worker publishes directly;
// with the in-process backend the worker hands the snapshot over through the
// bundle file and the orchestrator publishes it.
type Orchestrator struct {
	cfg         gtfs.Config
	store       store.Store
	manager     *gtfs.Manager
	logger      *slog.Logger
	maxDuration time.Duration
	sharedStore bool

	// runWorker spawns the rebuild worker; replaced in tests.
	runWorker func(ctx context.Context) error

	mu       sync.Mutex
	inFlight bool
}

// Options configures an Orchestrator beyond its wiring.
type Options struct {
	// WorkerCommand is the rebuild worker argv. Required unless RunWorker
	// is set.
	WorkerCommand []string
	// MaxDuration bounds one worker run; the worker is killed past it.
	MaxDuration time.Duration
	// SharedStore marks a backend the worker process can publish to
	// directly.
	SharedStore bool
	// RunWorker overrides process spawning, for tests.
	RunWorker func(ctx context.Context) error
}

// New wires an orchestrator.
func New(cfg gtfs.Config, st store.Store, manager *gtfs.Manager, logger *slog.Logger, opts Options) *Orchestrator {
	o := &Orchestrator{
		cfg:         cfg,
		store:       st,
		manager:     manager,
		logger:      logger,
		maxDuration: opts.MaxDuration,
		sharedStore: opts.SharedStore,
		runWorker:   opts.RunWorker,
	}
	if o.maxDuration <= 0 {
		o.maxDuration = 15 * time.Minute
	}
	if o.runWorker == nil {
		o.runWorker = func(ctx context.Context) error {
			return spawnWorker(ctx, opts.WorkerCommand)
		}
	}
	return o
}

func spawnWorker(ctx context.Context, argv []string) error {
	if len(argv) == 0 {
		return errors.New("rebuild: no worker command configured")
	}
	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	return cmd.Run()
}

// EnsureFreshSnapshot runs one pass of the snapshot state machine: adopt
// anything already published, compare the source's freshness tag, and rebuild
// through the worker when stale. Concurrent calls coalesce; only one worker
// runs at a time.
func (o *Orchestrator) EnsureFreshSnapshot(ctx context.Context) (Outcome, error) {
	o.mu.Lock()
	if o.inFlight {
		o.mu.Unlock()
		return OutcomeRebuilding, nil
	}
	o.inFlight = true
	o.mu.Unlock()
	defer func() {
		o.mu.Lock()
		o.inFlight = false
		o.mu.Unlock()
	}()

	// Another process (or a previous run) may already have published.
	if err := o.adoptExisting(ctx); err != nil {
		logging.LogError(o.logger, "could not adopt existing snapshot", err)
	}

	if meta, ok := o.manager.CurrentMeta(); ok {
		tag, err := gtfs.RemoteTag(ctx, o.cfg.StaticURL)
		if err != nil {
			return OutcomeFailed, err
		}
		if tag != "" && tag == meta.RemoteTag {
			return OutcomeUpToDate, nil
		}
	}

	workerCtx, cancel := context.WithTimeout(ctx, o.maxDuration)
	defer cancel()
	logging.LogOperation(o.logger, "rebuild_worker_started",
		slog.String("source", o.cfg.StaticURL))
	if err := o.runWorker(workerCtx); err != nil {
		return OutcomeFailed, fmt.Errorf("rebuild worker: %w", err)
	}

	if !o.sharedStore {
		if err := o.publishBundle(ctx); err != nil {
			return OutcomeFailed, err
		}
	}

	changed, err := o.manager.Adopt(ctx)
	if err != nil {
		return OutcomeFailed, err
	}
	if !changed {
		// The worker rebuilt the same content; nothing new to serve.
		return OutcomeUpToDate, nil
	}
	return OutcomePublished, nil
}

// adoptExisting adopts a published snapshot if one exists, falling back to
// the bundle file for the in-process backend after a restart.
func (o *Orchestrator) adoptExisting(ctx context.Context) error {
	_, err := o.manager.Adopt(ctx)
	if err == nil {
		return nil
	}
	if !errors.Is(err, gtfs.ErrNoSnapshot) || o.sharedStore {
		return err
	}
	if _, statErr := os.Stat(o.cfg.BundlePath()); statErr != nil {
		return err
	}
	if pubErr := o.publishBundle(ctx); pubErr != nil {
		return pubErr
	}
	_, err = o.manager.Adopt(ctx)
	return err
}

// publishBundle loads the worker's bundle file and publishes it into the
// store.
func (o *Orchestrator) publishBundle(ctx context.Context) error {
	snap, err := gtfs.ReadBundle(o.cfg.BundlePath())
	if err != nil {
		return fmt.Errorf("reading snapshot bundle: %w", err)
	}
	if err := snap.Validate(o.cfg); err != nil {
		return err
	}
	return snap.Publish(ctx, o.store)
}
