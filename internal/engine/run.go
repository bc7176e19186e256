// internal/engine/run.go
package engine

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/fawad-mazhar/syros/internal/llm"
	"github.com/fawad-mazhar/syros/internal/models"
	"github.com/fawad-mazhar/syros/internal/ratelimit"
	"github.com/fawad-mazhar/syros/internal/tuner"
)

// taskAttempt tracks one pending task and how many throttle/timeout
// attempts it has consumed.
type taskAttempt struct {
	task     models.Task
	fp       string
	attempts int
}

// waveOutcome is what a worker reports back to the wave collector.
type waveOutcome struct {
	att     taskAttempt
	output  string
	cached  bool
	err     error
	skipped bool // stop/cancel observed before the call; task stays pending
}

// Run is the handle for one submitted task list. Workers race, so
// completion order is unspecified; every counter and record write happens
// under the run mutex or inside the WAL's own lock.
type Run struct {
	ID     string
	engine *Engine
	opts   models.Options
	plan   models.Plan

	tuner   *tuner.Tuner
	limiter *ratelimit.Bucket
	snap    *Snapshotter

	pending       []taskAttempt
	cachedPending []taskAttempt
	aliases       map[string][]models.Task

	mu        sync.Mutex
	state     models.RunState
	completed int
	failed    int
	cacheHits int
	calls     int
	failures  map[int]string
	runErr    error

	stop     chan struct{}
	stopOnce sync.Once
	done     chan struct{}
	report   models.Report
}

// Plan returns the work breakdown computed at submit time.
func (r *Run) Plan() models.Plan {
	return r.plan
}

// Progress returns a consistent snapshot suitable for polling.
func (r *Run) Progress() models.Progress {
	ts := r.tuner.Snapshot()

	r.mu.Lock()
	defer r.mu.Unlock()

	terminal := r.completed + r.failed
	percent := 0.0
	if r.plan.Total > 0 {
		percent = float64(terminal) / float64(r.plan.Total) * 100
	}
	return models.Progress{
		RunID:             r.ID,
		Total:             r.plan.Total,
		Completed:         r.completed,
		Failed:            r.failed,
		Remaining:         r.plan.Total - terminal,
		Percent:           percent,
		Workers:           ts.Workers,
		ConsecutiveErrors: ts.ConsecutiveErrors,
	}
}

// Stop requests cooperative cancellation. In-flight calls finish so their
// WAL and cache writes stay consistent; no new tasks are admitted.
func (r *Run) Stop() {
	r.stopOnce.Do(func() { close(r.stop) })
}

// Done returns a channel that is closed when the run ends. It lets callers
// bound their wait with a select instead of blocking in Wait.
func (r *Run) Done() <-chan struct{} {
	return r.done
}

// Wait blocks until the run ends and returns the final report.
func (r *Run) Wait() models.Report {
	<-r.done
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.report
}

// Err reports an engine-level failure that ended the run early, if any.
func (r *Run) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.runErr
}

// State returns the current lifecycle state.
func (r *Run) State() models.RunState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

func (r *Run) stopped() bool {
	select {
	case <-r.stop:
		return true
	default:
		return false
	}
}

// loop drives the run: cached resolution first, then wave dispatch until
// the pending set drains or a stop is observed, then the final snapshot.
func (r *Run) loop(ctx context.Context) {
	r.mu.Lock()
	r.failures = make(map[int]string)
	r.mu.Unlock()

	r.snap.Start()
	r.resolveCached()

	for len(r.pending) > 0 && !r.stopped() && ctx.Err() == nil {
		workers := r.tuner.Workers()
		if workers > len(r.pending) {
			workers = len(r.pending)
		}
		wave := r.pending[:workers]
		r.pending = r.pending[workers:]

		requeue, throttled := r.dispatchWave(ctx, wave)
		r.pending = append(r.pending, requeue...)

		if throttled {
			r.tuner.OnErrorBatch()
			r.applyRate()
			delay := r.tuner.BackoffDelay()
			log.Warn().
				Str("runId", r.ID).
				Int("workers", r.tuner.Workers()).
				Dur("backoff", delay).
				Msg("throttled batch, backing off")
			if !r.sleepInterruptible(ctx, delay) {
				break
			}
		} else {
			r.tuner.OnSuccessBatch()
			r.applyRate()
		}
	}

	r.finish()
}

// resolveCached serves planned cache hits without touching the provider.
// Each still gets a WAL record so the checkpoint covers it.
func (r *Run) resolveCached() {
	for _, att := range r.cachedPending {
		if r.stopped() {
			return
		}
		res, ok, err := r.engine.cache.Get(att.fp)
		if err != nil || !ok {
			// cache changed underfoot; demote to a normal pending task
			r.pending = append(r.pending, att)
			continue
		}
		r.recordSuccess(att, res.Output, true)
	}
	r.cachedPending = nil
}

// dispatchWave runs one wave concurrently and processes outcomes as each
// task completes, so progress advances per task rather than per wave.
func (r *Run) dispatchWave(ctx context.Context, wave []taskAttempt) (requeue []taskAttempt, throttled bool) {
	outcomes := make(chan waveOutcome, len(wave))
	var wg sync.WaitGroup
	for _, att := range wave {
		wg.Add(1)
		go func(att taskAttempt) {
			defer wg.Done()
			outcomes <- r.execute(ctx, att)
		}(att)
	}
	go func() {
		wg.Wait()
		close(outcomes)
	}()

	for oc := range outcomes {
		switch {
		case oc.skipped:
			requeue = append(requeue, oc.att)
		case oc.err == nil:
			r.recordSuccess(oc.att, oc.output, oc.cached)
		case isThrottle(oc.err):
			throttled = true
			oc.att.attempts++
			if oc.att.attempts >= r.opts.RetryCeiling {
				r.recordFailure(oc.att, oc.err)
			} else {
				requeue = append(requeue, oc.att)
			}
		default:
			r.recordFailure(oc.att, oc.err)
		}
	}
	return requeue, throttled
}

// execute performs one task: cache double-check, admission, external call.
// A transient (non-throttle) failure gets a single immediate re-attempt
// that never touches the concurrency controller.
func (r *Run) execute(ctx context.Context, att taskAttempt) waveOutcome {
	if r.stopped() {
		return waveOutcome{att: att, skipped: true}
	}

	if !r.opts.ForceRecompute {
		if res, ok, err := r.engine.cache.Get(att.fp); err == nil && ok {
			return waveOutcome{att: att, output: res.Output, cached: true}
		}
	}

	if err := r.limiter.Admit(ctx, 1); err != nil {
		return waveOutcome{att: att, skipped: true}
	}

	out, err := r.callProvider(ctx, att.task)
	if err != nil && llm.KindOf(err) == llm.KindTransient {
		out, err = r.callProvider(ctx, att.task)
	}
	return waveOutcome{att: att, output: out, err: err}
}

func (r *Run) callProvider(ctx context.Context, task models.Task) (string, error) {
	r.mu.Lock()
	r.calls++
	r.mu.Unlock()
	return r.engine.translate(ctx, task)
}

// applyRate couples the controller to admission control. During an error
// spell the rate drops in proportion to the shed workers; once a clean
// batch clears the error streak the configured rate is restored.
func (r *Run) applyRate() {
	ts := r.tuner.Snapshot()
	rpm := r.opts.RateHint
	if ts.ConsecutiveErrors > 0 {
		rpm = rpm * ts.Workers / r.opts.MaxWorkers
		if rpm < 1 {
			rpm = 1
		}
	}
	r.limiter.SetRate(rpm)
}

// recordSuccess durably records one completed task (and any aliased tasks
// sharing its fingerprint) before acknowledging it anywhere else.
func (r *Run) recordSuccess(att taskAttempt, output string, cached bool) {
	res := models.Result{
		TaskID:      att.task.ID,
		Fingerprint: att.fp,
		Output:      output,
		Cached:      cached,
		CompletedAt: time.Now(),
	}

	if !cached {
		if err := r.engine.cache.Put(att.fp, res); err != nil {
			r.abort(err)
			return
		}
	}

	rec := models.NewWALRecord(att.task.ID, att.fp, models.OutcomeOK)
	rec.Output = output
	rec.Cached = cached
	if err := r.engine.wal.Record(rec); err != nil {
		r.abort(err)
		return
	}
	if err := r.snap.Add(res); err != nil {
		log.Error().Err(err).Str("runId", r.ID).Int("taskId", att.task.ID).Msg("snapshot write failed")
	}

	r.mu.Lock()
	r.completed++
	if cached {
		r.cacheHits++
	}
	r.mu.Unlock()

	if r.opts.OnResult != nil {
		r.opts.OnResult(att.task.ID, output, nil)
	}
	r.publishProgress("task_completed")

	// aliased tasks resolve off this result with no further calls
	for _, alias := range r.takeAliases(att.fp) {
		r.recordSuccess(taskAttempt{task: alias, fp: att.fp}, output, true)
	}
}

// recordFailure durably records a terminal per-task failure. Failed tasks
// never enter the checkpoint, so a future run retries them.
func (r *Run) recordFailure(att taskAttempt, taskErr error) {
	rec := models.NewWALRecord(att.task.ID, att.fp, models.OutcomeFailed)
	rec.Error = taskErr.Error()
	if err := r.engine.wal.Record(rec); err != nil {
		r.abort(err)
		return
	}

	r.mu.Lock()
	r.failed++
	r.failures[att.task.ID] = taskErr.Error()
	r.mu.Unlock()

	log.Error().
		Str("runId", r.ID).
		Int("taskId", att.task.ID).
		Str("kind", llm.KindOf(taskErr).String()).
		Err(taskErr).
		Msg("task failed")

	if r.opts.OnResult != nil {
		r.opts.OnResult(att.task.ID, "", taskErr)
	}
	r.publishProgress("task_failed")

	for _, alias := range r.takeAliases(att.fp) {
		r.recordFailure(taskAttempt{task: alias, fp: att.fp}, taskErr)
	}
}

func (r *Run) takeAliases(fp string) []models.Task {
	r.mu.Lock()
	defer r.mu.Unlock()
	aliases := r.aliases[fp]
	delete(r.aliases, fp)
	return aliases
}

// abort flags an engine-level durability failure and stops the run. The
// task whose record failed is not acknowledged.
func (r *Run) abort(err error) {
	r.mu.Lock()
	if r.runErr == nil {
		r.runErr = err
	}
	r.mu.Unlock()
	log.Error().Err(err).Str("runId", r.ID).Msg("durability failure, stopping run")
	r.Stop()
}

func (r *Run) sleepInterruptible(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return true
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-r.stop:
		return false
	case <-ctx.Done():
		return false
	}
}

// finish writes the final snapshot, clears the partial marker when the
// pending set fully drained, and publishes the terminal state.
func (r *Run) finish() {
	if err := r.snap.Stop(); err != nil {
		log.Error().Err(err).Str("runId", r.ID).Msg("final snapshot failed")
	}

	drained := len(r.pending) == 0 && len(r.cachedPending) == 0

	r.mu.Lock()
	if drained && r.runErr == nil {
		r.state = models.RunStateFinished
	} else {
		r.state = models.RunStateStopped
	}
	r.report = models.Report{
		RunID:         r.ID,
		State:         r.state,
		Total:         r.plan.Total,
		Completed:     r.completed,
		Failed:        r.failed,
		CacheHits:     r.cacheHits,
		ExternalCalls: r.calls,
		FinishedAt:    time.Now(),
	}
	report := r.report
	r.mu.Unlock()

	if drained {
		if err := r.snap.ClearPartial(); err != nil {
			log.Error().Err(err).Str("runId", r.ID).Msg("failed to clear partial marker")
		}
	}

	log.Info().
		Str("runId", r.ID).
		Str("state", string(report.State)).
		Int("completed", report.Completed).
		Int("failed", report.Failed).
		Int("cacheHits", report.CacheHits).
		Int("externalCalls", report.ExternalCalls).
		Msg("run finished")

	r.publishProgress("run_" + string(report.State))
	close(r.done)
}

func (r *Run) publishProgress(status string) {
	if r.engine.publisher == nil {
		return
	}
	p := r.Progress()
	r.engine.publish(&models.StatusMessage{
		Type:      "run",
		RunID:     r.ID,
		Status:    status,
		Timestamp: time.Now(),
		Progress:  &p,
	})
}

// Failures returns the error text per terminally failed task id.
func (r *Run) Failures() map[int]string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[int]string, len(r.failures))
	for id, msg := range r.failures {
		out[id] = msg
	}
	return out
}

// Results returns the aggregate result set accumulated so far, sorted by
// task id.
func (r *Run) Results() []models.Result {
	if r.snap == nil {
		return nil
	}
	return r.snap.Results()
}

func isThrottle(err error) bool {
	switch llm.KindOf(err) {
	case llm.KindRateLimited, llm.KindTimeout:
		return true
	default:
		return false
	}
}
