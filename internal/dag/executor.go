package dag

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"runtime"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	oteltrace "go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"checkweaver/internal/core"
	"checkweaver/internal/fileproxy"
	"checkweaver/internal/finding"
	"checkweaver/internal/fingerprint"
	"checkweaver/internal/resultcache"
	"checkweaver/internal/trace"
)

const tracerName = "checkweaver.dag"

// Observer is notified, under the executor lock, each time a task reaches a
// terminal state through its own processing. It must not call back into the
// executor except Cancel.
type Observer interface {
	OnTaskTerminal(taskID string, state TaskState)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(taskID string, state TaskState)

func (f ObserverFunc) OnTaskTerminal(taskID string, state TaskState) { f(taskID, state) }

// Options configures an Executor. Zero values select defaults.
type Options struct {
	// Workers is the pool size; defaults to runtime.NumCPU(), floor 1.
	Workers int
	// TaskTimeout bounds each checker invocation; zero disables it.
	TaskTimeout time.Duration

	// Files is the shared file proxy cache. When nil the executor creates a
	// private utf-8 cache for the run.
	Files *fileproxy.Cache
	// Results is the result cache. When nil a memory-only cache is used.
	Results *resultcache.Cache

	Logger   *slog.Logger
	Trace    trace.Sink
	Metrics  *Metrics
	Observer Observer
}

// Executor runs a Plan on a fixed pool of workers.
//
// All tracker and buffer mutations happen under mu; checker invocations,
// file reads and cache waits happen outside it.
type Executor struct {
	plan    *Plan
	opts    Options
	logger  *slog.Logger
	files   *fileproxy.Cache
	results *resultcache.Cache
	sink    trace.Sink
	metrics *Metrics
	tracer  oteltrace.Tracer

	cancelled atomic.Bool
	cancelMu  sync.Mutex
	cancelRun context.CancelFunc

	prereqs map[string]*prereq

	mu           sync.Mutex
	tracker      *Tracker
	queue        chan string
	queueClosed  bool
	buffers      map[string][]finding.Finding
	order        []string
	fingerprints map[string]fingerprint.Digest
	hits         []string
	timings      map[string]TaskTiming
	fatal        error
}

type prereq struct {
	once sync.Once
	err  error
}

// NewExecutor validates options and prepares an executor for one run.
func NewExecutor(plan *Plan, opts Options) (*Executor, error) {
	if plan == nil {
		return nil, fmt.Errorf("nil plan")
	}
	if opts.Workers <= 0 {
		opts.Workers = runtime.NumCPU()
	}
	if opts.Workers < 1 {
		opts.Workers = 1
	}
	if opts.TaskTimeout < 0 {
		return nil, fmt.Errorf("task timeout must be >= 0, got %s", opts.TaskTimeout)
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	files := opts.Files
	if files == nil {
		var err error
		files, err = fileproxy.NewCache(fileproxy.Options{Logger: logger})
		if err != nil {
			return nil, err
		}
	}
	results := opts.Results
	if results == nil {
		var err error
		results, err = resultcache.Open("", resultcache.Options{Logger: logger})
		if err != nil {
			return nil, err
		}
	}
	sink := opts.Trace
	if sink == nil {
		sink = trace.NopSink{}
	}

	prereqs := make(map[string]*prereq)
	for _, t := range plan.tasks {
		if _, ok := prereqs[t.CheckerID]; !ok {
			prereqs[t.CheckerID] = &prereq{}
		}
	}

	return &Executor{
		plan:    plan,
		opts:    opts,
		logger:  logger,
		files:   files,
		results: results,
		sink:    sink,
		metrics: opts.Metrics,
		tracer:  otel.Tracer(tracerName),
		prereqs: prereqs,
	}, nil
}

// Cancel flips the run's cancellation flag. It is sticky and safe to call
// from any goroutine, including an Observer.
func (e *Executor) Cancel() {
	e.cancelled.Store(true)
	e.cancelMu.Lock()
	cancel := e.cancelRun
	e.cancelMu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// Cancelled reports whether the run has been cancelled.
func (e *Executor) Cancelled() bool { return e.cancelled.Load() }

// observeCancel folds ctx cancellation into the sticky flag and reports it.
func (e *Executor) observeCancel(ctx context.Context) bool {
	if ctx.Err() != nil {
		e.cancelled.Store(true)
	}
	return e.cancelled.Load()
}

// Execute runs every task of the plan and returns the merged result.
//
// A cancelled run returns its partial result together with ErrCancelled.
// Per-task failures are reported as findings and never returned. A non-nil
// error without a result means an internal invariant was violated.
func (e *Executor) Execute(ctx context.Context) (*RunResult, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	e.cancelMu.Lock()
	e.cancelRun = cancel
	e.cancelMu.Unlock()
	stop := context.AfterFunc(runCtx, func() { e.cancelled.Store(true) })
	defer stop()
	if e.opts.Files == nil {
		defer e.files.Close()
	}

	tracker, err := e.plan.NewTracker()
	if err != nil {
		return nil, err
	}
	tracker.Seal()

	start := time.Now()
	e.mu.Lock()
	e.tracker = tracker
	e.queue = make(chan string, len(e.plan.tasks))
	e.queueClosed = false
	e.buffers = make(map[string][]finding.Finding, len(e.plan.tasks))
	e.order = nil
	e.fingerprints = make(map[string]fingerprint.Digest, len(e.plan.tasks))
	e.hits = nil
	e.timings = make(map[string]TaskTiming)
	e.fatal = nil
	ready := tracker.ReadySet()
	e.dispatchLocked(ready)
	e.maybeCloseLocked()
	e.mu.Unlock()

	e.logger.Debug("executing plan", "plan", e.plan.Hash(), "tasks", len(e.plan.tasks), "workers", e.opts.Workers)

	var g errgroup.Group
	for i := 0; i < e.opts.Workers; i++ {
		g.Go(func() error { return e.worker(runCtx, &g) })
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.fatal != nil {
		return nil, e.fatal
	}
	res := e.resultLocked(start)
	if e.observeCancel(ctx) {
		res.Status = RunCancelled
		e.logger.Info("run cancelled", "plan", e.plan.Hash(), "findings", len(res.Findings))
		return res, ErrCancelled
	}
	res.Status = RunCompleted
	return res, nil
}

// worker drains the queue. After a checker panic it starts its replacement
// and exits.
func (e *Executor) worker(ctx context.Context, g *errgroup.Group) error {
	for id := range e.queue {
		if crashed := e.process(ctx, id); crashed {
			g.Go(func() error { return e.worker(ctx, g) })
			return nil
		}
	}
	return nil
}

// process runs one dequeued task to a terminal state. It reports whether the
// checker crashed.
func (e *Executor) process(ctx context.Context, id string) bool {
	if e.observeCancel(ctx) {
		e.mu.Lock()
		e.drainLocked()
		e.maybeCloseLocked()
		e.mu.Unlock()
		return false
	}

	e.mu.Lock()
	if st, _ := e.tracker.State(id); st != TaskReady {
		// Skipped while queued.
		e.mu.Unlock()
		return false
	}
	if err := e.tracker.Start(id); err != nil {
		e.failLocked(err)
		e.mu.Unlock()
		return false
	}
	e.order = append(e.order, id)
	e.timings[id] = TaskTiming{Start: time.Now()}
	deps := e.depResultsLocked(id)
	e.mu.Unlock()

	t, _ := e.plan.Task(id)
	ctx, span := e.tracer.Start(ctx, "task", oteltrace.WithAttributes(
		attribute.String("task.id", id),
		attribute.String("task.checker", t.CheckerID),
	))
	began := time.Now()
	o := e.run(ctx, t, deps)
	e.metrics.observe(t.CheckerID, time.Since(began))
	switch o.state {
	case TaskFailed:
		span.SetStatus(codes.Error, o.reason)
	case TaskDone:
		span.SetAttributes(attribute.Bool("task.cached", o.cached))
	}
	span.End()

	e.complete(id, t, o)
	return o.crashed
}

func (e *Executor) run(ctx context.Context, t *core.Task, deps depResults) outcome {
	if err := e.checkPrerequisites(t); err != nil {
		msg := fmt.Sprintf("checker %s skipped: prerequisites not met: %v", t.CheckerID, err)
		return skipped(trace.ReasonPrerequisiteFailed, finding.Project(t.CheckerID, finding.SeverityInfo, msg))
	}

	resolved, early := e.resolveInputs(ctx, t)
	if early != nil {
		return *early
	}

	fp, err := taskFingerprint(t, resolved, deps)
	if err != nil {
		e.logger.Warn("task is not fingerprintable", "task", t.ID, "error", err)
		return failed(t.CheckerID, trace.ReasonUnfingerprintable, err.Error(), "task "+t.ID)
	}

	in := core.NewInputs(t.Checker.DeclaredInputs(), resolved)
	o := e.serve(ctx, fp, func() outcome { return e.compute(ctx, t, in, deps) })
	o.fp, o.hasFP = fp, true
	return o
}

func (e *Executor) checkPrerequisites(t *core.Task) error {
	p := e.prereqs[t.CheckerID]
	pc, ok := t.Checker.(core.PrerequisiteChecker)
	if p == nil || !ok {
		return nil
	}
	p.once.Do(func() {
		p.err = pc.CheckPrerequisites()
		if p.err != nil {
			e.logger.Warn("checker prerequisites not met", "checker", t.CheckerID, "error", p.err)
		}
	})
	return p.err
}

// depResultsLocked gathers the findings of a task's DONE dependencies,
// grouped by checker in canonical task order.
func (e *Executor) depResultsLocked(id string) depResults {
	d := depResults{byChecker: make(map[string][]finding.Finding)}
	for _, dep := range e.plan.Dependencies(id) {
		if st, _ := e.tracker.State(dep); st != TaskDone {
			continue
		}
		t, _ := e.plan.Task(dep)
		d.byChecker[t.CheckerID] = append(d.byChecker[t.CheckerID], e.buffers[dep]...)
	}
	return d
}

// complete records a task's outcome and advances the tracker.
func (e *Executor) complete(id string, t *core.Task, o outcome) {
	e.mu.Lock()
	defer e.mu.Unlock()

	tm := e.timings[id]
	tm.End = time.Now()
	e.timings[id] = tm

	if e.cancelled.Load() || o.interrupted {
		// Completed after cancellation: the buffer is discarded.
		if _, err := e.tracker.Drop(id, TaskSkipped); err != nil {
			e.failLocked(err)
			return
		}
		trace.SafeRecord(e.sink, trace.Event{Kind: trace.EventTaskDiscarded, TaskID: id, Checker: t.CheckerID, Reason: trace.ReasonCancelled})
		e.drainLocked()
		e.maybeCloseLocked()
		return
	}

	ev := trace.Event{TaskID: id, Checker: t.CheckerID, Reason: o.reason}
	if o.hasFP {
		e.fingerprints[id] = o.fp
		ev.Fingerprint = o.fp.String()
	}
	e.buffers[id] = o.findings
	e.metrics.emitted(o.findings)
	e.metrics.taskTerminal(t.CheckerID, o.state)

	switch o.state {
	case TaskDone:
		ev.Kind = trace.EventTaskExecuted
		if o.cached {
			ev.Kind = trace.EventTaskCached
			e.hits = append(e.hits, id)
		}
		ready, err := e.tracker.Release(id)
		if err != nil {
			e.failLocked(err)
			return
		}
		trace.SafeRecord(e.sink, ev)
		e.dispatchLocked(ready)
	case TaskFailed, TaskSkipped:
		ev.Kind = trace.EventTaskFailed
		if o.state == TaskSkipped {
			ev.Kind = trace.EventTaskSkipped
		}
		dropped, err := e.tracker.Drop(id, o.state)
		if err != nil {
			e.failLocked(err)
			return
		}
		trace.SafeRecord(e.sink, ev)
		for _, d := range dropped {
			dt, _ := e.plan.Task(d)
			e.metrics.taskTerminal(dt.CheckerID, TaskSkipped)
			trace.SafeRecord(e.sink, trace.Event{
				Kind:        trace.EventTaskSkipped,
				TaskID:      d,
				Checker:     dt.CheckerID,
				Reason:      trace.ReasonUpstreamFailed,
				CauseTaskID: id,
			})
		}
	default:
		e.failLocked(fmt.Errorf("task %q completed in non-terminal state %s", id, o.state))
		return
	}

	if e.opts.Observer != nil {
		e.opts.Observer.OnTaskTerminal(id, o.state)
	}
	if e.cancelled.Load() {
		e.drainLocked()
	}
	e.maybeCloseLocked()
}

// dispatchLocked enqueues newly ready tasks. The queue holds every task at
// most once, so sends never block.
func (e *Executor) dispatchLocked(ready []string) {
	if e.queueClosed {
		return
	}
	orderReady(e.plan, ready)
	for _, id := range ready {
		if err := e.tracker.Dispatch(id); err != nil {
			e.failLocked(err)
			return
		}
		e.queue <- id
	}
}

// drainLocked marks every task that has not started as SKIPPED.
func (e *Executor) drainLocked() {
	for _, id := range e.tracker.Unstarted() {
		if st, _ := e.tracker.State(id); IsTerminal(st) {
			continue
		}
		dropped, err := e.tracker.Drop(id, TaskSkipped)
		if err != nil {
			e.failLocked(err)
			return
		}
		for _, d := range append([]string{id}, dropped...) {
			dt, _ := e.plan.Task(d)
			trace.SafeRecord(e.sink, trace.Event{Kind: trace.EventTaskDiscarded, TaskID: d, Checker: dt.CheckerID, Reason: trace.ReasonCancelled})
		}
	}
}

func (e *Executor) maybeCloseLocked() {
	if !e.queueClosed && e.tracker.AllResolved() {
		e.queueClosed = true
		close(e.queue)
	}
}

// failLocked records an invariant violation and stops the run.
func (e *Executor) failLocked(err error) {
	if e.fatal == nil {
		e.fatal = err
		e.logger.Error("executor invariant violated", "error", err)
	}
	e.cancelled.Store(true)
	if !e.queueClosed {
		e.queueClosed = true
		close(e.queue)
	}
}

func (e *Executor) resultLocked(start time.Time) *RunResult {
	res := &RunResult{
		PlanHash:       e.plan.Hash(),
		FinalState:     e.tracker.Snapshot(),
		ExecutionOrder: append([]string(nil), e.order...),
		Fingerprints:   make(map[string]fingerprint.Digest, len(e.fingerprints)),
		CacheHits:      append([]string(nil), e.hits...),
		Timings:        make(map[string]TaskTiming, len(e.timings)),
		Start:          start,
		End:            time.Now(),
	}
	for k, v := range e.fingerprints {
		res.Fingerprints[k] = v
	}
	for k, v := range e.timings {
		res.Timings[k] = v
	}
	sort.Strings(res.CacheHits)

	var all []finding.Finding
	for _, t := range e.plan.tasks {
		all = append(all, e.buffers[t.ID]...)
	}
	finding.Sort(all)
	res.Findings = all
	return res
}

// IsCancelled reports whether err came from a cancelled run.
func IsCancelled(err error) bool { return errors.Is(err, ErrCancelled) }
