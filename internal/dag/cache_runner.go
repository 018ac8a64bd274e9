package dag

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"checkweaver/internal/core"
	"checkweaver/internal/fileproxy"
	"checkweaver/internal/finding"
	"checkweaver/internal/fingerprint"
	"checkweaver/internal/trace"
)

// outcome is what a worker hands to complete for one task.
type outcome struct {
	state    TaskState
	findings []finding.Finding

	reason string
	cached bool
	fp     fingerprint.Digest
	hasFP  bool

	// crashed means the checker panicked and the worker must be replaced.
	crashed bool
	// interrupted means the run was cancelled while the task was waiting.
	interrupted bool
}

func done(fs []finding.Finding) outcome { return outcome{state: TaskDone, findings: fs} }

func failed(origin, reason, msg, debug string) outcome {
	if strings.TrimSpace(msg) == "" {
		msg = "checker failed without a message"
	}
	f := finding.Project(origin, finding.SeverityMajor, msg).WithDebug(debug)
	return outcome{state: TaskFailed, findings: []finding.Finding{f}, reason: reason}
}

func skipped(reason string, fs ...finding.Finding) outcome {
	return outcome{state: TaskSkipped, findings: fs, reason: reason}
}

// resolveInputs replaces file references with proxies from the shared file
// cache. Other values pass through unchanged.
func (e *Executor) resolveInputs(ctx context.Context, t *core.Task) (map[string]any, *outcome) {
	resolved := make(map[string]any, len(t.Inputs))
	for name, v := range t.Inputs {
		ref, ok := v.(core.FileRef)
		if !ok {
			resolved[name] = v
			continue
		}
		p, err := e.files.Get(ctx, ref.Path)
		switch {
		case err == nil:
		case ctx.Err() != nil:
			return nil, &outcome{state: TaskSkipped, reason: trace.ReasonCancelled, interrupted: true}
		case errors.Is(err, fileproxy.ErrFileUnavailable):
			e.logger.Warn("skipping task: file unavailable", "task", t.ID, "path", ref.Path, "error", err)
			o := skipped(trace.ReasonFileUnavailable)
			return nil, &o
		default:
			e.logger.Warn("skipping task: file read failed", "task", t.ID, "path", ref.Path, "error", err)
			o := skipped(trace.ReasonFileUnavailable)
			return nil, &o
		}
		if p.DecodeError() {
			msg := fmt.Sprintf("%s: file could not be decoded as %s", p.Filename(), p.Encoding())
			o := skipped(trace.ReasonDecodeError, finding.Project(t.CheckerID, finding.SeverityInfo, msg))
			return nil, &o
		}
		resolved[name] = p
	}
	return resolved, nil
}

// taskFingerprint computes the cache key: checker identity, resolved inputs
// and the content of the dependency findings. A task without dependencies
// folds in the digest of an empty set.
func taskFingerprint(t *core.Task, resolved map[string]any, deps depResults) (fingerprint.Digest, error) {
	src := core.FingerprintSource(t.CheckerID, resolved)
	d, err := deps.digest()
	if err != nil {
		return fingerprint.Digest{}, err
	}
	src["dependencies"] = d[:]
	return fingerprint.Of(src)
}

// serve runs the cache protocol for one task: lookup, then reserve; a loser
// waits for the winner and retries after an abort. compute runs only for the
// winner.
func (e *Executor) serve(ctx context.Context, fp fingerprint.Digest, compute func() outcome) outcome {
	if fs, ok := e.results.Lookup(fp); ok {
		e.metrics.cacheResult("hit")
		o := done(fs)
		o.cached = true
		return o
	}
	e.metrics.cacheResult("miss")

	for {
		r, won := e.results.Reserve(fp)
		if won {
			o := compute()
			if o.state == TaskDone {
				if err := e.results.Commit(fp, o.findings); err != nil {
					e.logger.Warn("result cache degraded", "fingerprint", fp.String(), "error", err)
				}
			} else {
				e.results.Abort(fp)
			}
			return o
		}

		fs, ok, err := r.Wait(ctx)
		if err != nil {
			return outcome{state: TaskSkipped, reason: trace.ReasonCancelled, interrupted: true}
		}
		if ok {
			e.metrics.cacheResult("shared")
			o := done(fs)
			o.cached = true
			o.reason = trace.ReasonSharedResult
			return o
		}
		// The winner aborted; compete again.
	}
}

type invocation struct {
	findings []finding.Finding
	err      error
	panicked bool
	panicVal any
}

// invoke runs the checker, recovering panics. With a positive timeout the
// call runs on its own goroutine and is abandoned when the timer fires; its
// context is cancelled so a cooperative checker can stop early.
func (e *Executor) invoke(ctx context.Context, t *core.Task, in core.Inputs, deps depResults) (invocation, bool) {
	call := func(ctx context.Context) (res invocation) {
		defer func() {
			if r := recover(); r != nil {
				res = invocation{panicked: true, panicVal: r}
			}
		}()
		fs, err := t.Checker.Run(ctx, in, deps)
		return invocation{findings: fs, err: err}
	}

	if e.opts.TaskTimeout <= 0 {
		return call(ctx), false
	}

	tctx, cancel := context.WithTimeout(ctx, e.opts.TaskTimeout)
	defer cancel()
	ch := make(chan invocation, 1)
	go func() { ch <- call(tctx) }()

	timer := time.NewTimer(e.opts.TaskTimeout)
	defer timer.Stop()
	select {
	case res := <-ch:
		// A cooperative checker may return ctx's error just before the timer.
		if res.err != nil && errors.Is(tctx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			return res, true
		}
		return res, false
	case <-timer.C:
		return invocation{}, true
	}
}

// compute invokes the checker for a task that won its reservation and turns
// the result into an outcome.
func (e *Executor) compute(ctx context.Context, t *core.Task, in core.Inputs, deps depResults) outcome {
	res, timedOut := e.invoke(ctx, t, in, deps)
	debug := "task " + t.ID
	if f := t.File(); f != "" {
		debug += " on " + f
	}

	switch {
	case timedOut:
		e.logger.Warn("task timed out", "task", t.ID, "timeout", e.opts.TaskTimeout)
		return failed(t.CheckerID, trace.ReasonTimeout, fmt.Sprintf("task timed out after %s", e.opts.TaskTimeout), debug)
	case res.panicked:
		e.logger.Error("checker panicked", "task", t.ID, "panic", res.panicVal)
		o := failed(t.CheckerID, trace.ReasonCheckerPanic, fmt.Sprintf("checker panicked: %v", res.panicVal), debug)
		o.crashed = true
		return o
	case res.err != nil:
		if e.cancelled.Load() && errors.Is(res.err, context.Canceled) {
			return outcome{state: TaskSkipped, reason: trace.ReasonCancelled, interrupted: true}
		}
		e.logger.Info("checker failed", "task", t.ID, "error", res.err)
		return failed(t.CheckerID, trace.ReasonCheckerFailed, res.err.Error(), debug)
	}

	out := make([]finding.Finding, 0, len(res.findings))
	for i, f := range res.findings {
		if f.Origin == "" {
			f.Origin = t.CheckerID
		}
		if err := f.Validate(); err != nil {
			msg := fmt.Sprintf("checker returned invalid finding %d: %v", i, err)
			return failed(t.CheckerID, trace.ReasonCheckerFailed, msg, debug)
		}
		out = append(out, f)
	}
	return done(out)
}
