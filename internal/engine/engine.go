// internal/engine/engine.go
//
// Package engine is the adaptive-concurrency, resumable execution core.
// Given an ordered task list it skips work that is already checkpointed or
// cached, dispatches the rest to a bounded worker pool in waves sized by
// the concurrency controller, records every terminal outcome in the WAL
// before acknowledging it, and materializes periodic snapshots of the
// aggregate result set.
package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/fawad-mazhar/syros/internal/models"
	"github.com/fawad-mazhar/syros/internal/ratelimit"
	"github.com/fawad-mazhar/syros/internal/storage/cache"
	"github.com/fawad-mazhar/syros/internal/storage/wal"
	"github.com/fawad-mazhar/syros/internal/tuner"
)

// TranslateFunc performs one external call for one task. The caller
// supplies it; the engine knows nothing about the provider beyond the
// classified errors it returns.
type TranslateFunc func(ctx context.Context, task models.Task) (string, error)

// StatusPublisher pushes run and task status events. Implementations must
// tolerate being called from worker goroutines.
type StatusPublisher interface {
	PublishStatus(ctx context.Context, msg *models.StatusMessage) error
}

// Config locates the engine's three durable sinks and tunes snapshotting.
type Config struct {
	WALPath          string
	CachePath        string
	CacheBackend     string // "jsonl" (default) or "leveldb"
	SnapshotPath     string
	SnapshotEvery    int           // results per snapshot
	SnapshotInterval time.Duration // max time between snapshots
}

// Engine owns the durable sinks and spawns runs. All tuning state lives on
// the run, so one engine can host concurrent runs.
type Engine struct {
	cfg       Config
	translate TranslateFunc
	wal       *wal.WAL
	cache     cache.Store
	publisher StatusPublisher
}

// New opens the WAL and the fingerprint store. Any failure here is fatal
// and happens before a single task can be dispatched.
func New(cfg Config, translate TranslateFunc, publisher StatusPublisher) (*Engine, error) {
	if translate == nil {
		return nil, fmt.Errorf("translate function is required")
	}
	if cfg.WALPath == "" || cfg.CachePath == "" || cfg.SnapshotPath == "" {
		return nil, fmt.Errorf("WAL, cache and snapshot paths are all required")
	}

	w, err := wal.Open(cfg.WALPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open WAL: %w", err)
	}
	c, err := cache.Open(cfg.CacheBackend, cfg.CachePath)
	if err != nil {
		w.Close()
		return nil, fmt.Errorf("failed to open fingerprint store: %w", err)
	}

	return &Engine{
		cfg:       cfg,
		translate: translate,
		wal:       w,
		cache:     c,
		publisher: publisher,
	}, nil
}

// Submit plans a run over the ordered task list and, unless DryRun is set,
// starts executing it. The returned handle exposes Progress, Stop and Wait.
func (e *Engine) Submit(ctx context.Context, tasks []models.Task, opts models.Options) (*Run, error) {
	if err := opts.Normalize(); err != nil {
		return nil, fmt.Errorf("invalid run options: %w", err)
	}
	if len(tasks) == 0 {
		return nil, fmt.Errorf("no tasks submitted")
	}

	state, err := e.wal.Replay()
	if err != nil {
		return nil, fmt.Errorf("failed to replay WAL: %w", err)
	}

	r := &Run{
		ID:      uuid.New().String(),
		engine:  e,
		opts:    opts,
		tuner:   tuner.New(opts.MinWorkers, opts.MaxWorkers, opts.StartWorkers, opts.RateHint),
		aliases: make(map[string][]models.Task),
		done:    make(chan struct{}),
		stop:    make(chan struct{}),
	}
	r.limiter, err = ratelimit.NewBucket(opts.RateHint)
	if err != nil {
		return nil, fmt.Errorf("failed to build rate limiter: %w", err)
	}

	// Plan: pending = all tasks − checkpointed − cached (unless forced).
	restored := make(map[int]models.Result)
	seen := make(map[string]bool)
	for _, t := range tasks {
		fp := Fingerprint(t)
		r.plan.Total++
		switch {
		case state.Completed[t.ID]:
			r.plan.Done++
			restored[t.ID] = state.Results[t.ID]
		case seen[fp]:
			// identical content already pending in this run; resolve it
			// off the primary's result so the provider is called once
			r.aliases[fp] = append(r.aliases[fp], t)
			r.plan.Cached++
		default:
			cached := false
			if !opts.ForceRecompute {
				if _, ok, err := e.cache.Get(fp); err != nil {
					return nil, fmt.Errorf("fingerprint store unreadable: %w", err)
				} else if ok {
					cached = true
				}
			}
			if cached {
				r.cachedPending = append(r.cachedPending, taskAttempt{task: t, fp: fp})
				r.plan.Cached++
			} else {
				r.pending = append(r.pending, taskAttempt{task: t, fp: fp})
				r.plan.ToProcess++
				seen[fp] = true
			}
		}
	}
	r.completed = r.plan.Done

	log.Info().
		Str("runId", r.ID).
		Int("total", r.plan.Total).
		Int("done", r.plan.Done).
		Int("cached", r.plan.Cached).
		Int("toProcess", r.plan.ToProcess).
		Bool("dryRun", opts.DryRun).
		Msg("run planned")

	if opts.DryRun {
		r.state = models.RunStatePlanned
		r.report = models.Report{
			RunID:     r.ID,
			State:     models.RunStatePlanned,
			Total:     r.plan.Total,
			Completed: r.plan.Done,
		}
		close(r.done)
		return r, nil
	}

	r.snap, err = NewSnapshotter(e.cfg.SnapshotPath, e.cfg.SnapshotEvery, e.cfg.SnapshotInterval)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare snapshot sink: %w", err)
	}
	r.snap.Restore(restored)

	r.state = models.RunStateRunning
	go r.loop(ctx)
	return r, nil
}

// publish pushes a status message if a publisher is configured. Push
// failures are logged, never propagated: progress delivery must not be
// able to fail a run.
func (e *Engine) publish(msg *models.StatusMessage) {
	if e.publisher == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := e.publisher.PublishStatus(ctx, msg); err != nil {
		log.Warn().Err(err).Str("runId", msg.RunID).Msg("failed to publish status")
	}
}

// Close releases the durable sinks. Callers must wait for outstanding runs
// first.
func (e *Engine) Close() error {
	cerr := e.cache.Close()
	if err := e.wal.Close(); err != nil {
		return err
	}
	return cerr
}
