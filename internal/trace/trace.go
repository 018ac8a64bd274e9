package trace

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
)

// ExecutionTrace is the canonical record of the logical decisions of one run.
//
// It carries no timestamps, error text or worker identities, so two runs of
// the same plan against the same inputs and cache produce identical bytes
// regardless of scheduling.
type ExecutionTrace struct {
	PlanHash string
	Events   []Event
}

// EventKind is the stable discriminator of an Event. The string values are
// part of the canonical bytes; do not rename.
type EventKind string

const (
	EventTaskCached    EventKind = "TaskCached"
	EventTaskExecuted  EventKind = "TaskExecuted"
	EventTaskFailed    EventKind = "TaskFailed"
	EventTaskSkipped   EventKind = "TaskSkipped"
	EventTaskDiscarded EventKind = "TaskDiscarded"
)

// Stable reason codes.
const (
	ReasonCheckerFailed      = "CheckerFailed"
	ReasonCheckerPanic       = "CheckerPanic"
	ReasonTimeout            = "Timeout"
	ReasonUnfingerprintable  = "Unfingerprintable"
	ReasonUpstreamFailed     = "UpstreamFailed"
	ReasonFileUnavailable    = "FileUnavailable"
	ReasonDecodeError        = "DecodeError"
	ReasonPrerequisiteFailed = "PrerequisiteFailed"
	ReasonCancelled          = "Cancelled"
	ReasonSharedResult       = "SharedResult"
)

// Event is a single logical transition or decision for one task.
type Event struct {
	Kind EventKind

	TaskID  string
	Checker string

	// Reason is one of the Reason* codes, or empty.
	Reason string

	// CauseTaskID names the upstream task behind a skip.
	CauseTaskID string

	// Fingerprint is the hex cache key, when one was computed.
	Fingerprint string
}

// Validate checks basic invariants.
func (t *ExecutionTrace) Validate() error {
	if t == nil {
		return errors.New("trace is nil")
	}
	if t.PlanHash == "" {
		return errors.New("planHash is required")
	}
	for i, e := range t.Events {
		if e.Kind == "" {
			return fmt.Errorf("events[%d].kind is required", i)
		}
		if e.TaskID == "" {
			return fmt.Errorf("events[%d].taskId is required for kind %q", i, e.Kind)
		}
	}
	return nil
}

// Canonicalize sorts events by (taskId, kind, reason, causeTaskId,
// fingerprint). The order is independent of execution timing.
func (t *ExecutionTrace) Canonicalize() {
	if t == nil {
		return
	}
	sort.SliceStable(t.Events, func(i, j int) bool {
		a, b := t.Events[i], t.Events[j]
		if a.TaskID != b.TaskID {
			return a.TaskID < b.TaskID
		}
		if kindOrder(a.Kind) != kindOrder(b.Kind) {
			return kindOrder(a.Kind) < kindOrder(b.Kind)
		}
		if a.Reason != b.Reason {
			return a.Reason < b.Reason
		}
		if a.CauseTaskID != b.CauseTaskID {
			return a.CauseTaskID < b.CauseTaskID
		}
		return a.Fingerprint < b.Fingerprint
	})
}

func kindOrder(k EventKind) int {
	switch k {
	case EventTaskCached:
		return 10
	case EventTaskExecuted:
		return 20
	case EventTaskFailed:
		return 30
	case EventTaskSkipped:
		return 40
	case EventTaskDiscarded:
		return 50
	default:
		return 1000
	}
}

// Count returns the number of events of the given kind.
func (t ExecutionTrace) Count(kind EventKind) int {
	n := 0
	for _, e := range t.Events {
		if e.Kind == kind {
			n++
		}
	}
	return n
}

// CanonicalJSON returns the canonical JSON encoding of a canonicalized copy.
func (t ExecutionTrace) CanonicalJSON() ([]byte, error) {
	cp := ExecutionTrace{PlanHash: t.PlanHash, Events: make([]Event, len(t.Events))}
	copy(cp.Events, t.Events)
	cp.Canonicalize()
	if err := cp.Validate(); err != nil {
		return nil, err
	}
	return json.Marshal(&cp)
}

// Hash returns the sha256 hex of the canonical JSON bytes.
func (t ExecutionTrace) Hash() (string, error) {
	b, err := t.CanonicalJSON()
	if err != nil {
		return "", err
	}
	return ComputeTraceHash(b), nil
}

// WriteFile writes the canonical JSON encoding followed by a newline.
func (t ExecutionTrace) WriteFile(path string) error {
	b, err := t.CanonicalJSON()
	if err != nil {
		return err
	}
	b = append(b, '\n')
	if err := os.WriteFile(path, b, 0o644); err != nil {
		return fmt.Errorf("writing trace: %w", err)
	}
	return nil
}

// MarshalJSON fixes field order. Sorting is left to CanonicalJSON.
func (t ExecutionTrace) MarshalJSON() ([]byte, error) {
	if t.PlanHash == "" {
		return nil, errors.New("planHash is required")
	}
	var buf bytes.Buffer
	buf.WriteString(`{"planHash":`)
	writeString(&buf, t.PlanHash)
	buf.WriteString(`,"events":[`)
	for i := range t.Events {
		if i > 0 {
			buf.WriteByte(',')
		}
		eb, err := json.Marshal(t.Events[i])
		if err != nil {
			return nil, err
		}
		buf.Write(eb)
	}
	buf.WriteString("]}")
	return buf.Bytes(), nil
}

// MarshalJSON fixes field order and omits empty optional fields.
func (e Event) MarshalJSON() ([]byte, error) {
	if e.Kind == "" {
		return nil, errors.New("kind is required")
	}
	var buf bytes.Buffer
	buf.WriteString(`{"kind":`)
	writeString(&buf, string(e.Kind))
	optional := []struct{ key, val string }{
		{"taskId", e.TaskID},
		{"checker", e.Checker},
		{"reason", e.Reason},
		{"causeTaskId", e.CauseTaskID},
		{"fingerprint", e.Fingerprint},
	}
	for _, f := range optional {
		if f.val == "" {
			continue
		}
		buf.WriteString(`,"` + f.key + `":`)
		writeString(&buf, f.val)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

func writeString(buf *bytes.Buffer, s string) {
	b, _ := json.Marshal(s)
	buf.Write(b)
}
