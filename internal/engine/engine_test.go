package engine

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/fawad-mazhar/syros/internal/llm"
	"github.com/fawad-mazhar/syros/internal/models"
	"github.com/fawad-mazhar/syros/internal/storage/wal"
)

type testPaths struct {
	wal      string
	cache    string
	snapshot string
}

func pathsIn(dir string) testPaths {
	return testPaths{
		wal:      filepath.Join(dir, "run.wal.jsonl"),
		cache:    filepath.Join(dir, "cache.jsonl"),
		snapshot: filepath.Join(dir, "out.jsonl"),
	}
}

func newTestEngine(t *testing.T, p testPaths, translate TranslateFunc) *Engine {
	t.Helper()
	e, err := New(Config{
		WALPath:          p.wal,
		CachePath:        p.cache,
		SnapshotPath:     p.snapshot,
		SnapshotEvery:    5,
		SnapshotInterval: time.Minute,
	}, translate, nil)
	if err != nil {
		t.Fatalf("engine.New failed: %v", err)
	}
	t.Cleanup(func() { e.Close() })
	return e
}

func makeTasks(n int) []models.Task {
	tasks := make([]models.Task, n)
	for i := 0; i < n; i++ {
		tasks[i] = models.Task{
			ID:         i,
			Fields:     map[string]string{"en": fmt.Sprintf("line %d", i)},
			TargetLang: "zh-CN",
		}
	}
	return tasks
}

// echoTranslate is the happy-path fake provider.
func echoTranslate(ctx context.Context, task models.Task) (string, error) {
	return "t:" + task.Fields["en"], nil
}

func throttleErr() error {
	return llm.Classify(429, errors.New("too many requests"))
}

func TestRunCompletesAllTasks(t *testing.T) {
	p := pathsIn(t.TempDir())
	e := newTestEngine(t, p, echoTranslate)

	r, err := e.Submit(context.Background(), makeTasks(20), models.Options{})
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	report := r.Wait()

	if report.State != models.RunStateFinished {
		t.Fatalf("expected finished, got %s", report.State)
	}
	if report.Completed != 20 || report.Failed != 0 {
		t.Fatalf("expected 20/0, got %d/%d", report.Completed, report.Failed)
	}
	if report.ExternalCalls != 20 {
		t.Fatalf("expected 20 external calls, got %d", report.ExternalCalls)
	}

	if _, err := os.Stat(p.snapshot); err != nil {
		t.Fatalf("final snapshot missing: %v", err)
	}
	if _, err := os.Stat(p.snapshot + ".partial"); !os.IsNotExist(err) {
		t.Fatal("partial marker should be cleared after a drained run")
	}

	results := r.Results()
	if len(results) != 20 {
		t.Fatalf("expected 20 results, got %d", len(results))
	}
	for i, res := range results {
		if res.TaskID != i {
			t.Fatalf("results not ordered by task id: %d at %d", res.TaskID, i)
		}
	}
}

func TestIdempotentResume(t *testing.T) {
	p := pathsIn(t.TempDir())
	var calls atomic.Int64
	counting := func(ctx context.Context, task models.Task) (string, error) {
		calls.Add(1)
		return echoTranslate(ctx, task)
	}

	e := newTestEngine(t, p, counting)
	r, err := e.Submit(context.Background(), makeTasks(30), models.Options{})
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	r.Wait()
	e.Close()

	if calls.Load() != 30 {
		t.Fatalf("expected 30 calls on first run, got %d", calls.Load())
	}

	// second run over the same files: fully short-circuited
	e2 := newTestEngine(t, p, counting)
	r2, err := e2.Submit(context.Background(), makeTasks(30), models.Options{})
	if err != nil {
		t.Fatalf("second Submit failed: %v", err)
	}
	report := r2.Wait()

	if calls.Load() != 30 {
		t.Fatalf("resume made %d extra external calls", calls.Load()-30)
	}
	if report.Completed != 30 {
		t.Fatalf("expected 30 completed on resume, got %d", report.Completed)
	}
	if len(r2.Results()) != 30 {
		t.Fatalf("resumed result set incomplete: %d", len(r2.Results()))
	}
}

func TestResumeAfterInterruptedRun(t *testing.T) {
	p := pathsIn(t.TempDir())

	// simulate a killed process that durably recorded 40 of 100 tasks
	w, err := wal.Open(p.wal)
	if err != nil {
		t.Fatalf("wal.Open failed: %v", err)
	}
	for i := 0; i < 40; i++ {
		rec := models.NewWALRecord(i, "fp", models.OutcomeOK)
		rec.Output = fmt.Sprintf("prior %d", i)
		if err := w.Record(rec); err != nil {
			t.Fatalf("Record failed: %v", err)
		}
	}
	w.Close()

	var calls atomic.Int64
	counting := func(ctx context.Context, task models.Task) (string, error) {
		calls.Add(1)
		return echoTranslate(ctx, task)
	}

	e := newTestEngine(t, p, counting)
	r, err := e.Submit(context.Background(), makeTasks(100), models.Options{})
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	plan := r.Plan()
	if plan.Done != 40 || plan.ToProcess != 60 {
		t.Fatalf("plan should report 40 done / 60 to process, got %+v", plan)
	}

	report := r.Wait()
	if calls.Load() != 60 {
		t.Fatalf("expected exactly 60 external calls, got %d", calls.Load())
	}
	if report.Completed != 100 {
		t.Fatalf("expected full coverage, got %d completed", report.Completed)
	}
	if len(r.Results()) != 100 {
		t.Fatalf("final result set should cover all 100 ids, got %d", len(r.Results()))
	}
}

func TestThrottleSpellRecoversAndDrains(t *testing.T) {
	p := pathsIn(t.TempDir())

	var calls atomic.Int64
	flaky := func(ctx context.Context, task models.Task) (string, error) {
		n := calls.Add(1)
		if n <= 30 && n%10 == 0 {
			return "", throttleErr()
		}
		return echoTranslate(ctx, task)
	}

	e := newTestEngine(t, p, flaky)
	r, err := e.Submit(context.Background(), makeTasks(100), models.Options{
		MinWorkers:   2,
		MaxWorkers:   8,
		StartWorkers: 4,
		RateHint:     600,
	})
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}

	// watch for the worker dip while the run progresses
	var sawDip atomic.Bool
	stopWatch := make(chan struct{})
	var watchWG sync.WaitGroup
	watchWG.Add(1)
	go func() {
		defer watchWG.Done()
		for {
			select {
			case <-stopWatch:
				return
			default:
				if r.Progress().Workers < 4 {
					sawDip.Store(true)
				}
				time.Sleep(time.Millisecond)
			}
		}
	}()

	report := r.Wait()
	close(stopWatch)
	watchWG.Wait()

	if report.Completed != 100 || report.Failed != 0 {
		t.Fatalf("every task should eventually succeed, got %d/%d", report.Completed, report.Failed)
	}
	if !sawDip.Load() {
		t.Error("worker count should dip below the start level during the error spell")
	}

	// checkpoint contains exactly the done tasks
	w, err := wal.Open(p.wal)
	if err != nil {
		t.Fatalf("wal.Open failed: %v", err)
	}
	defer w.Close()
	state, err := w.Replay()
	if err != nil {
		t.Fatalf("Replay failed: %v", err)
	}
	if len(state.Completed) != 100 {
		t.Fatalf("checkpoint should hold 100 done ids, got %d", len(state.Completed))
	}
}

func TestTransientErrorRetriedOnceWithoutControllerDip(t *testing.T) {
	p := pathsIn(t.TempDir())

	var calls atomic.Int64
	var tripped atomic.Bool
	flaky := func(ctx context.Context, task models.Task) (string, error) {
		calls.Add(1)
		if task.ID == 3 && !tripped.Swap(true) {
			return "", llm.Classify(502, errors.New("bad gateway"))
		}
		return echoTranslate(ctx, task)
	}

	e := newTestEngine(t, p, flaky)
	r, err := e.Submit(context.Background(), makeTasks(10), models.Options{
		MinWorkers:   2,
		MaxWorkers:   4,
		StartWorkers: 4,
		RateHint:     60000,
	})
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}

	var sawDip atomic.Bool
	stopWatch := make(chan struct{})
	var watchWG sync.WaitGroup
	watchWG.Add(1)
	go func() {
		defer watchWG.Done()
		for {
			select {
			case <-stopWatch:
				return
			default:
				if r.Progress().Workers < 4 {
					sawDip.Store(true)
				}
				time.Sleep(time.Millisecond)
			}
		}
	}()

	report := r.Wait()
	close(stopWatch)
	watchWG.Wait()

	if report.Completed != 10 || report.Failed != 0 {
		t.Fatalf("transient failure should recover in-place, got %d/%d", report.Completed, report.Failed)
	}
	if calls.Load() != 11 {
		t.Fatalf("expected one extra call for the immediate re-attempt, got %d", calls.Load())
	}
	if sawDip.Load() {
		t.Error("a transient failure must not step the worker count down")
	}
}

func TestPermanentFailureSurfacesWithoutAbort(t *testing.T) {
	p := pathsIn(t.TempDir())

	failOnce := func(ctx context.Context, task models.Task) (string, error) {
		if task.ID == 5 {
			return "", llm.Classify(400, errors.New("content policy violation"))
		}
		return echoTranslate(ctx, task)
	}

	e := newTestEngine(t, p, failOnce)
	r, err := e.Submit(context.Background(), makeTasks(10), models.Options{})
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	report := r.Wait()

	if report.State != models.RunStateFinished {
		t.Fatalf("a run with failed tasks still finishes, got %s", report.State)
	}
	if report.Completed != 9 || report.Failed != 1 {
		t.Fatalf("expected 9 completed / 1 failed, got %d/%d", report.Completed, report.Failed)
	}
	if _, ok := r.Failures()[5]; !ok {
		t.Fatal("failure for task 5 should be reported")
	}

	e.Close()

	// the failed task is not checkpointed: a later run retries just it
	var calls atomic.Int64
	recovered := func(ctx context.Context, task models.Task) (string, error) {
		calls.Add(1)
		return echoTranslate(ctx, task)
	}
	e2 := newTestEngine(t, p, recovered)
	r2, err := e2.Submit(context.Background(), makeTasks(10), models.Options{})
	if err != nil {
		t.Fatalf("second Submit failed: %v", err)
	}
	report2 := r2.Wait()

	if calls.Load() != 1 {
		t.Fatalf("resume should retry only the failed task, made %d calls", calls.Load())
	}
	if report2.Completed != 10 || report2.Failed != 0 {
		t.Fatalf("expected full recovery, got %d/%d", report2.Completed, report2.Failed)
	}
}

func TestRetryCeilingExhaustsToFailure(t *testing.T) {
	p := pathsIn(t.TempDir())

	always429 := func(ctx context.Context, task models.Task) (string, error) {
		return "", throttleErr()
	}

	e := newTestEngine(t, p, always429)
	r, err := e.Submit(context.Background(), makeTasks(1), models.Options{
		MinWorkers:   1,
		MaxWorkers:   1,
		StartWorkers: 1,
		RateHint:     6000,
		RetryCeiling: 2,
	})
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	report := r.Wait()

	if report.Failed != 1 || report.Completed != 0 {
		t.Fatalf("expected the task to fail after exhausting retries, got %d/%d",
			report.Completed, report.Failed)
	}
	if report.ExternalCalls != 2 {
		t.Fatalf("expected exactly retryCeiling calls, got %d", report.ExternalCalls)
	}
}

func TestConcurrencyNeverExceedsMax(t *testing.T) {
	p := pathsIn(t.TempDir())

	var inflight, peak atomic.Int64
	gauged := func(ctx context.Context, task models.Task) (string, error) {
		n := inflight.Add(1)
		defer inflight.Add(-1)
		for {
			old := peak.Load()
			if n <= old || peak.CompareAndSwap(old, n) {
				break
			}
		}
		time.Sleep(2 * time.Millisecond)
		return echoTranslate(ctx, task)
	}

	e := newTestEngine(t, p, gauged)
	r, err := e.Submit(context.Background(), makeTasks(60), models.Options{
		MinWorkers:   2,
		MaxWorkers:   4,
		StartWorkers: 4,
		RateHint:     60000,
	})
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	r.Wait()

	if peak.Load() > 4 {
		t.Fatalf("in-flight calls exceeded maxWorkers: %d", peak.Load())
	}
}

func TestDuplicateFingerprintsCallProviderOnce(t *testing.T) {
	p := pathsIn(t.TempDir())

	var calls atomic.Int64
	counting := func(ctx context.Context, task models.Task) (string, error) {
		calls.Add(1)
		return "same output", nil
	}

	tasks := []models.Task{
		{ID: 0, Fields: map[string]string{"en": "hello"}, TargetLang: "zh-CN"},
		{ID: 1, Fields: map[string]string{"en": "hello"}, TargetLang: "zh-CN"},
	}

	e := newTestEngine(t, p, counting)
	r, err := e.Submit(context.Background(), tasks, models.Options{})
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	report := r.Wait()

	if calls.Load() != 1 {
		t.Fatalf("identical fingerprints should share one call, made %d", calls.Load())
	}
	if report.Completed != 2 {
		t.Fatalf("both tasks should complete, got %d", report.Completed)
	}
	results := r.Results()
	if len(results) != 2 || results[0].Output != results[1].Output {
		t.Fatalf("duplicate-fingerprint results must be identical: %+v", results)
	}
}

func TestStopIsCooperative(t *testing.T) {
	p := pathsIn(t.TempDir())

	slow := func(ctx context.Context, task models.Task) (string, error) {
		time.Sleep(20 * time.Millisecond)
		return echoTranslate(ctx, task)
	}

	e := newTestEngine(t, p, slow)
	r, err := e.Submit(context.Background(), makeTasks(50), models.Options{
		MinWorkers:   2,
		MaxWorkers:   2,
		StartWorkers: 2,
		RateHint:     60000,
	})
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}

	time.Sleep(30 * time.Millisecond)
	r.Stop()
	report := r.Wait()

	if report.State != models.RunStateStopped {
		t.Fatalf("expected stopped state, got %s", report.State)
	}
	if report.Completed == 0 {
		t.Fatal("in-flight tasks should have finished before exit")
	}
	if report.Completed >= 50 {
		t.Fatal("stop should leave work pending")
	}

	// final snapshot was still written; marker remains because the run
	// did not drain
	if _, err := os.Stat(p.snapshot); err != nil {
		t.Fatalf("final snapshot missing after stop: %v", err)
	}
	if _, err := os.Stat(p.snapshot + ".partial"); err != nil {
		t.Fatal("partial marker should remain after an interrupted run")
	}
}

func TestDryRunMakesNoCalls(t *testing.T) {
	p := pathsIn(t.TempDir())

	var calls atomic.Int64
	counting := func(ctx context.Context, task models.Task) (string, error) {
		calls.Add(1)
		return "", nil
	}

	e := newTestEngine(t, p, counting)
	r, err := e.Submit(context.Background(), makeTasks(10), models.Options{DryRun: true})
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	report := r.Wait()

	if calls.Load() != 0 {
		t.Fatalf("dry run must not call the provider, made %d calls", calls.Load())
	}
	if report.State != models.RunStatePlanned {
		t.Fatalf("expected planned state, got %s", report.State)
	}
	if r.Plan().ToProcess != 10 {
		t.Fatalf("plan should report 10 to process, got %d", r.Plan().ToProcess)
	}
}

func TestSubmitRejectsBadOptions(t *testing.T) {
	p := pathsIn(t.TempDir())
	e := newTestEngine(t, p, echoTranslate)

	_, err := e.Submit(context.Background(), makeTasks(1), models.Options{
		MinWorkers: 8,
		MaxWorkers: 2,
	})
	if err == nil {
		t.Fatal("expected option validation error")
	}
}
