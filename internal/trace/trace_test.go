package trace

import (
	"bytes"
	"os"
	"path/filepath"
	"sync"
	"testing"
)

func TestCanonicalTraceStability_ByteForByte(t *testing.T) {
	trace1 := ExecutionTrace{
		PlanHash: "plan-abc",
		Events: []Event{
			{Kind: EventTaskExecuted, TaskID: "b#0", Checker: "b"},
			{Kind: EventTaskCached, TaskID: "a#0", Checker: "a"},
			{Kind: EventTaskSkipped, TaskID: "c#0", Reason: ReasonUpstreamFailed, CauseTaskID: "b#0"},
		},
	}
	trace2 := ExecutionTrace{
		PlanHash: "plan-abc",
		Events: []Event{
			{Kind: EventTaskSkipped, TaskID: "c#0", CauseTaskID: "b#0", Reason: ReasonUpstreamFailed},
			{Kind: EventTaskCached, TaskID: "a#0", Checker: "a"},
			{Kind: EventTaskExecuted, TaskID: "b#0", Checker: "b"},
		},
	}

	b1, err := trace1.CanonicalJSON()
	if err != nil {
		t.Fatalf("canonical json (1): %v", err)
	}
	b2, err := trace2.CanonicalJSON()
	if err != nil {
		t.Fatalf("canonical json (2): %v", err)
	}
	if !bytes.Equal(b1, b2) {
		t.Fatalf("expected identical bytes\n1=%s\n2=%s", b1, b2)
	}
}

func TestCanonicalJSON_FieldOrderAndOmission(t *testing.T) {
	tr := ExecutionTrace{
		PlanHash: "p",
		Events: []Event{
			{Kind: EventTaskExecuted, TaskID: "b#0", Fingerprint: "ff"},
			{Kind: EventTaskFailed, TaskID: "a#0", Checker: "a", Reason: ReasonTimeout},
		},
	}
	b, err := tr.CanonicalJSON()
	if err != nil {
		t.Fatalf("canonical json: %v", err)
	}
	expected := `{"planHash":"p","events":[{"kind":"TaskFailed","taskId":"a#0","checker":"a","reason":"Timeout"},{"kind":"TaskExecuted","taskId":"b#0","fingerprint":"ff"}]}`
	if string(b) != expected {
		t.Fatalf("unexpected canonical bytes\nexpected=%s\nactual  =%s", expected, b)
	}
}

func TestCanonicalJSON_DoesNotMutateCaller(t *testing.T) {
	tr := ExecutionTrace{
		PlanHash: "p",
		Events: []Event{
			{Kind: EventTaskExecuted, TaskID: "b"},
			{Kind: EventTaskExecuted, TaskID: "a"},
		},
	}
	if _, err := tr.CanonicalJSON(); err != nil {
		t.Fatalf("canonical json: %v", err)
	}
	if tr.Events[0].TaskID != "b" {
		t.Fatalf("caller events reordered: %+v", tr.Events)
	}
}

func TestValidate_RejectsMissingFields(t *testing.T) {
	cases := []ExecutionTrace{
		{},
		{PlanHash: "p", Events: []Event{{TaskID: "a"}}},
		{PlanHash: "p", Events: []Event{{Kind: EventTaskCached}}},
	}
	for i, tr := range cases {
		if _, err := tr.CanonicalJSON(); err == nil {
			t.Fatalf("case %d: expected error", i)
		}
	}
}

func TestHash_IgnoresInsertionOrder(t *testing.T) {
	tr1 := ExecutionTrace{PlanHash: "g", Events: []Event{
		{Kind: EventTaskCached, TaskID: "a"},
		{Kind: EventTaskExecuted, TaskID: "b"},
	}}
	tr2 := ExecutionTrace{PlanHash: "g", Events: []Event{
		{Kind: EventTaskExecuted, TaskID: "b"},
		{Kind: EventTaskCached, TaskID: "a"},
	}}
	h1, err := tr1.Hash()
	if err != nil {
		t.Fatalf("hash (1): %v", err)
	}
	h2, err := tr2.Hash()
	if err != nil {
		t.Fatalf("hash (2): %v", err)
	}
	if h1 != h2 || len(h1) != 64 {
		t.Fatalf("expected identical 64-char hashes, got %q and %q", h1, h2)
	}
}

func TestRecorder_ConcurrentRecordAndTrace(t *testing.T) {
	r := NewRecorder()
	var wg sync.WaitGroup
	for _, id := range []string{"c", "a", "b"} {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			SafeRecord(r, Event{Kind: EventTaskExecuted, TaskID: id})
		}(id)
	}
	wg.Wait()

	tr := r.Trace("p")
	if len(tr.Events) != 3 {
		t.Fatalf("expected 3 events, got %d", len(tr.Events))
	}
	for i, want := range []string{"a", "b", "c"} {
		if tr.Events[i].TaskID != want {
			t.Fatalf("events[%d]=%q, want %q", i, tr.Events[i].TaskID, want)
		}
	}
	if tr.Count(EventTaskExecuted) != 3 {
		t.Fatalf("expected 3 executed events")
	}
}

type panickySink struct{}

func (panickySink) Record(Event) { panic("boom") }

func TestSafeRecord_SwallowsPanics(t *testing.T) {
	SafeRecord(panickySink{}, Event{Kind: EventTaskCached, TaskID: "a"})
	SafeRecord(nil, Event{Kind: EventTaskCached, TaskID: "a"})
}

func TestWriteFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "trace.json")
	tr := ExecutionTrace{PlanHash: "p", Events: []Event{{Kind: EventTaskCached, TaskID: "a"}}}
	if err := tr.WriteFile(path); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	got, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want, _ := tr.CanonicalJSON()
	if !bytes.Equal(got, append(want, '\n')) {
		t.Fatalf("unexpected file content: %s", got)
	}
}
