package core

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"checkweaver/internal/finding"
)

type stubChecker struct {
	Base
}

func (stubChecker) Expand(p *Project) ([]TaskDescriptor, error) { return Once("stub", nil), nil }

func (stubChecker) Run(context.Context, Inputs, DependencyResults) ([]finding.Finding, error) {
	return nil, nil
}

func TestValidateInputs(t *testing.T) {
	specs := []InputSpec{
		{Name: "file", Kind: KindFile},
		{Name: "max", Kind: KindInt},
		{Name: "ignore", Kind: KindStrings, Optional: true},
	}

	require.NoError(t, ValidateInputs(specs, map[string]any{"file": FileRef{Path: "/a"}, "max": 10}))
	require.NoError(t, ValidateInputs(specs, map[string]any{"file": FileRef{Path: "/a"}, "max": int64(10), "ignore": []string{"x"}}))

	assert.ErrorContains(t, ValidateInputs(specs, map[string]any{"file": FileRef{Path: "/a"}}), `missing required input "max"`)
	assert.ErrorContains(t, ValidateInputs(specs, map[string]any{"file": "/a", "max": 1}), `input "file"`)
	assert.ErrorContains(t, ValidateInputs(specs, map[string]any{"file": FileRef{}, "max": 1, "extra": true}), `undeclared input "extra"`)
}

func TestInputs_DeclaredOrderThenLexical(t *testing.T) {
	specs := []InputSpec{{Name: "z", Kind: KindAny}, {Name: "a", Kind: KindAny}}
	in := NewInputs(specs, map[string]any{"a": 1, "z": "s", "m": true, "b": 2.5})

	assert.Equal(t, []string{"z", "a", "b", "m"}, in.Names())
	assert.Equal(t, "s", in.String("z", ""))
	assert.Equal(t, 1, in.Int("a", 0))
	assert.Equal(t, true, in.Bool("m", false))
	assert.Equal(t, 7, in.Int("missing", 7))
	assert.Nil(t, in.File("a"))
}

func TestRegistry(t *testing.T) {
	r := NewRegistry()
	factory := func(Settings) (Checker, error) {
		return stubChecker{Base{Name: "stub"}}, nil
	}
	require.NoError(t, r.Register("stub", factory))
	require.Error(t, r.Register("stub", factory))
	require.Error(t, r.Register("", factory))

	c, err := r.New("stub", nil)
	require.NoError(t, err)
	assert.Equal(t, "stub", c.ID())

	_, err = r.New("missing", nil)
	assert.True(t, errors.Is(err, ErrUnknownChecker))

	require.NoError(t, r.Register("liar", factory))
	_, err = r.New("liar", nil)
	assert.ErrorContains(t, err, `factory returned checker with id "stub"`)

	assert.Equal(t, []string{"liar", "stub"}, r.IDs())
}

func TestSettings(t *testing.T) {
	s := Settings{"n": 3, "f": 4.0, "b": true, "list": []any{"a", 1, "b"}, "csv": "x, y,,z"}
	assert.Equal(t, 3, s.Int("n", 0))
	assert.Equal(t, 4, s.Int("f", 0))
	assert.Equal(t, 9, s.Int("missing", 9))
	assert.True(t, s.Bool("b", false))
	assert.Equal(t, []string{"a", "b"}, s.Strings("list"))
	assert.Equal(t, []string{"x", "y", "z"}, s.Strings("csv"))
}

func TestTask_FileAndID(t *testing.T) {
	c := stubChecker{Base{Name: "stub"}}
	task := NewTask(c, 3, TaskDescriptor{CheckerID: "stub", Inputs: map[string]any{"max": 1, "src": FileRef{Path: "/p/a.go"}}})
	assert.Equal(t, "stub#3", task.ID)
	assert.Equal(t, "/p/a.go", task.File())

	project := NewTask(c, 0, TaskDescriptor{CheckerID: "stub"})
	assert.Equal(t, "", project.File())
}
