package runlog

import (
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// Recorder writes the run record at start and finish, and the failure
// record when a run aborts. A nil *Recorder records nothing. Persistence
// errors are logged, never returned: the run log must not change the
// outcome of a run.
type Recorder struct {
	store  *Store
	logger *slog.Logger
	now    func() time.Time
}

func NewRecorder(store *Store, logger *slog.Logger) *Recorder {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Recorder{store: store, logger: logger, now: time.Now}
}

// NewRunID returns a fresh run identifier.
func NewRunID() string { return uuid.NewString() }

// Begin creates and persists a running record linked to the latest prior run.
func (r *Recorder) Begin(workers int, checkers []string) Run {
	run := Run{
		RunID:     NewRunID(),
		StartTime: time.Now().UTC(),
		Status:    StatusRunning,
		Workers:   workers,
		Checkers:  append([]string(nil), checkers...),
	}
	if r == nil {
		return run
	}
	run.StartTime = r.now().UTC()
	if prev, ok, err := r.store.Latest(); err == nil && ok {
		id := prev.RunID
		run.PreviousRunID = &id
	}
	r.save(run)
	return run
}

// Finish stamps the end time and persists the final record.
func (r *Recorder) Finish(run Run) Run {
	if r == nil {
		return run
	}
	run.EndTime = r.now().UTC()
	if run.EndTime.Before(run.StartTime) {
		run.EndTime = run.StartTime
	}
	r.save(run)
	return run
}

// Fail classifies err, persists failure.json and marks the run failed.
func (r *Recorder) Fail(run Run, err error, exitCode int) Run {
	if r == nil {
		return run
	}
	f, cerr := Classify(err)
	if cerr != nil {
		return run
	}
	if serr := r.store.SaveFailure(run.RunID, f); serr != nil {
		r.logger.Warn("could not persist failure record", "run_id", run.RunID, "error", serr)
	}
	run.Status = StatusFailed
	run.ExitCode = exitCode
	return r.Finish(run)
}

func (r *Recorder) save(run Run) {
	if err := r.store.SaveRun(run); err != nil {
		r.logger.Warn("could not persist run record", "run_id", run.RunID, "error", fmt.Sprint(err))
	}
}
