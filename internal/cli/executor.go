package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"runtime/debug"

	"github.com/prometheus/client_golang/prometheus"

	"checkweaver/internal/dag"
	"checkweaver/internal/fileproxy"
	"checkweaver/internal/finding"
	"checkweaver/internal/report"
	"checkweaver/internal/resultcache"
	"checkweaver/internal/runlog"
	"checkweaver/internal/trace"
)

// PlanExecutor is the minimal engine interface the CLI wires into. Tests
// substitute it to prove exit-code mapping, including panics.
type PlanExecutor interface {
	Execute(ctx context.Context, plan *dag.Plan, opts dag.Options) (*dag.RunResult, error)
}

type defaultPlanExecutor struct{}

func (defaultPlanExecutor) Execute(ctx context.Context, plan *dag.Plan, opts dag.Options) (*dag.RunResult, error) {
	exec, err := dag.NewExecutor(plan, opts)
	if err != nil {
		return nil, err
	}
	return exec.Execute(ctx)
}

// Streams are the command's output destinations. Findings go to Out, logs to
// Err.
type Streams struct {
	Out io.Writer
	Err io.Writer
}

type CLIResult struct {
	ExitCode int
	RunID    string
	Result   *dag.RunResult
}

// Execute runs a validated invocation with the default engine.
func Execute(ctx context.Context, inv Invocation, streams Streams) (CLIResult, error) {
	return ExecuteWithExecutor(ctx, inv, streams, defaultPlanExecutor{})
}

// ExecuteWithExecutor maps an invocation to one engine run.
//
// Responsibilities:
//   - Load configuration and expand the plan; failures here exit 2.
//   - Open the file proxy cache and the result cache for the run.
//   - Render findings, then write the trace, metrics and run record even
//     when the run was cancelled.
//   - Translate the outcome to an exit code.
func ExecuteWithExecutor(ctx context.Context, inv Invocation, streams Streams, executor PlanExecutor) (res CLIResult, execErr error) {
	res.ExitCode = ExitInternalError
	if executor == nil {
		return res, errors.New("nil executor")
	}
	if streams.Out == nil {
		streams.Out = io.Discard
	}
	if streams.Err == nil {
		streams.Err = io.Discard
	}
	logger := newLogger(streams.Err, inv)

	cfg, err := loadConfig(inv)
	if err != nil {
		res.ExitCode = ExitInvalidInvocation
		return res, err
	}

	var rec *runlog.Recorder
	if cfg.RunLogDir != "" {
		st, err := runlog.NewStore(cfg.RunLogDir)
		if err != nil {
			res.ExitCode = ExitInvalidInvocation
			return res, &runlog.ConfigFailureError{Code: "RunLogDir", Message: err.Error(), Cause: err}
		}
		rec = runlog.NewRecorder(st, logger)
	}
	run := rec.Begin(cfg.WorkerCount, cfg.CheckerIDs())
	res.RunID = run.RunID
	logger = logger.With("run_id", run.RunID)

	fail := func(code int, err error) (CLIResult, error) {
		res.ExitCode = code
		rec.Fail(run, err, code)
		return res, err
	}

	reg := registryFor(inv)
	plan, project, err := buildPlan(ctx, cfg, reg, logger)
	if err != nil {
		if dag.IsCancelled(err) {
			run.Status = runlog.StatusCancelled
			run.ExitCode = ExitCancelled
			rec.Finish(run)
			res.ExitCode = ExitCancelled
			return res, err
		}
		return fail(ExitInvalidInvocation, err)
	}
	run.PlanHash = plan.Hash().String()
	logger.Info("plan expanded", "plan_hash", run.PlanHash, "tasks", plan.Len(), "workers", cfg.WorkerCount)

	results, err := resultcache.Open(cfg.CachePath, resultcache.Options{ByteBudget: cfg.CacheByteBudget, Logger: logger})
	if err != nil {
		return fail(ExitInvalidInvocation, &runlog.ConfigFailureError{Code: "CacheOpen", Message: err.Error(), Cause: err})
	}
	defer func() {
		if err := results.Close(); err != nil {
			logger.Warn("closing result cache", "error", err)
		}
	}()

	files, err := fileproxy.NewCache(fileproxy.Options{Encoding: cfg.TextEncoding, Logger: logger})
	if err != nil {
		return fail(ExitInvalidInvocation, &runlog.ConfigFailureError{Code: "TextEncoding", Message: err.Error(), Cause: err})
	}
	defer files.Close()

	promReg := prometheus.NewRegistry()
	recorder := trace.NewRecorder()
	opts := dag.Options{
		Workers:     cfg.WorkerCount,
		TaskTimeout: cfg.PerTaskTimeout,
		Files:       files,
		Results:     results,
		Logger:      logger,
		Trace:       recorder,
		Metrics:     dag.NewMetrics(promReg),
	}

	result, err := runProtected(ctx, executor, plan, opts, logger)
	if err != nil && !dag.IsCancelled(err) {
		return fail(ExitInternalError, err)
	}
	if result == nil {
		return fail(ExitInternalError, &runlog.SystemFailureError{Code: "NoResult", Message: "executor returned no result"})
	}
	res.Result = result

	if werr := report.Write(streams.Out, inv.Format, result.Findings, report.Options{Root: project.Root}); werr != nil {
		logger.Warn("writing findings", "error", werr)
	}

	tr := recorder.Trace(run.PlanHash)
	if h, herr := tr.Hash(); herr == nil {
		run.TraceHash = h
	}
	if cfg.TracePath != "" {
		if werr := tr.WriteFile(cfg.TracePath); werr != nil {
			logger.Warn("writing trace", "path", cfg.TracePath, "error", werr)
		}
	}
	if cfg.MetricsPath != "" {
		if werr := prometheus.WriteToTextfile(cfg.MetricsPath, promReg); werr != nil {
			logger.Warn("writing metrics", "path", cfg.MetricsPath, "error", werr)
		}
	}

	run.Tasks = runlog.TaskCount{
		Done:    result.Count(dag.TaskDone),
		Failed:  result.Count(dag.TaskFailed),
		Skipped: result.Count(dag.TaskSkipped),
	}
	run.Findings = len(result.Findings)
	run.MaxSeverity = string(result.MaxSeverity())
	run.CacheHits = len(result.CacheHits)

	switch {
	case result.Status == dag.RunCancelled:
		res.ExitCode = ExitCancelled
		run.Status = runlog.StatusCancelled
	case result.MaxSeverity() == finding.SeverityMajor:
		res.ExitCode = ExitMajorFinding
		run.Status = runlog.StatusCompleted
	default:
		res.ExitCode = ExitSuccess
		run.Status = runlog.StatusCompleted
	}
	run.ExitCode = res.ExitCode
	rec.Finish(run)

	logger.Info("run finished",
		"status", result.Status,
		"summary", report.Summary(result.Findings),
		"done", run.Tasks.Done,
		"failed", run.Tasks.Failed,
		"skipped", run.Tasks.Skipped,
		"cache_hits", run.CacheHits,
		"duration", result.End.Sub(result.Start),
	)
	if result.Status == dag.RunCancelled {
		return res, dag.ErrCancelled
	}
	return res, nil
}

// runProtected converts an engine panic into a SystemFailureError.
func runProtected(ctx context.Context, executor PlanExecutor, plan *dag.Plan, opts dag.Options, logger *slog.Logger) (result *dag.RunResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("engine panic", "panic", fmt.Sprint(r), "stack", string(debug.Stack()))
			result = nil
			err = &runlog.SystemFailureError{Code: "EnginePanic", Message: fmt.Sprintf("engine panicked: %v", r)}
		}
	}()
	return executor.Execute(ctx, plan, opts)
}
