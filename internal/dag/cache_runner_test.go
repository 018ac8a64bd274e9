package dag

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"checkweaver/internal/core"
	"checkweaver/internal/finding"
	"checkweaver/internal/fingerprint"
)

type regionKey struct{ name string }

func (k *regionKey) EncodeCanonical(enc *fingerprint.Encoder) error {
	return enc.EncodeField("name", k.name)
}

func TestExecutor_NilCanonicalInputRuns(t *testing.T) {
	p := newProject(t, nil)
	c := &fakeChecker{Base: core.Base{Name: "region", Inputs: []core.InputSpec{{Name: "key", Kind: core.KindAny}}}}
	c.expand = func(*core.Project) ([]core.TaskDescriptor, error) {
		return core.Once("region", map[string]any{"key": (*regionKey)(nil)}), nil
	}

	res, err := execute(t, expandPlan(t, p, c), Options{})
	require.NoError(t, err)
	assert.Equal(t, TaskDone, res.FinalState["region#0"])
	assert.Equal(t, 1, c.Calls())
	assert.Empty(t, res.Findings)
}

func TestExecutor_EmptyErrorMessageStillReported(t *testing.T) {
	p := newProject(t, nil)
	c := projectLevel("mute", nil, func(context.Context, core.Inputs, core.DependencyResults) ([]finding.Finding, error) {
		return nil, errors.New("")
	})

	res, err := execute(t, expandPlan(t, p, c), Options{})
	require.NoError(t, err)
	assert.Equal(t, TaskFailed, res.FinalState["mute#0"])
	require.Len(t, res.Findings, 1)
	f := res.Findings[0]
	assert.Equal(t, finding.SeverityMajor, f.Severity)
	assert.NotEmpty(t, f.Message)
	assert.NoError(t, f.Validate())
}

func TestFailed_BlankMessageFallsBack(t *testing.T) {
	o := failed("x", "checker_failed", "  \n", "task x#0")
	require.Len(t, o.findings, 1)
	assert.NoError(t, o.findings[0].Validate())
	assert.Equal(t, "checker failed without a message", o.findings[0].Message)
}

func TestTaskFingerprint_AlwaysFoldsDependencies(t *testing.T) {
	task := &core.Task{ID: "c#0", CheckerID: "c", Inputs: map[string]any{"n": 1}}
	in := map[string]any{"n": 1}

	none, err := taskFingerprint(task, in, depResults{})
	require.NoError(t, err)
	empty, err := taskFingerprint(task, in, depResults{byChecker: map[string][]finding.Finding{}})
	require.NoError(t, err)
	assert.Equal(t, none, empty)

	src := core.FingerprintSource("c", in)
	emptyDeps := fingerprint.MustOf(map[string]any{})
	src["dependencies"] = emptyDeps[:]
	assert.Equal(t, fingerprint.MustOf(src), none)

	upstream := depResults{byChecker: map[string][]finding.Finding{
		"up": {finding.Project("up", finding.SeverityNormal, "note")},
	}}
	with, err := taskFingerprint(task, in, upstream)
	require.NoError(t, err)
	assert.NotEqual(t, none, with)
}
