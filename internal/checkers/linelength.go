package checkers

import (
	"context"
	"fmt"
	"regexp"

	"checkweaver/internal/core"
	"checkweaver/internal/finding"
)

const (
	DefaultMaxLineLength = 80
	DefaultTabWidth      = 4
)

// LineLength reports lines wider than a maximum. Lines matching any ignore
// pattern are exempt.
type LineLength struct {
	core.Base
	max    int
	tab    int
	ignore []string
}

// NewLineLength reads max_line_length, tab_width and ignore from settings.
func NewLineLength(settings core.Settings) (core.Checker, error) {
	c := &LineLength{
		Base: core.Base{
			Name: LineLengthID,
			Inputs: []core.InputSpec{
				{Name: "file", Kind: core.KindFile},
				{Name: "max_line_length", Kind: core.KindInt},
				{Name: "tab_width", Kind: core.KindInt},
				{Name: "ignore", Kind: core.KindStrings, Optional: true},
			},
		},
		max:    settings.Int("max_line_length", DefaultMaxLineLength),
		tab:    settings.Int("tab_width", DefaultTabWidth),
		ignore: settings.Strings("ignore"),
	}
	if c.max < 1 {
		return nil, fmt.Errorf("max_line_length must be >= 1 (got %d)", c.max)
	}
	if c.tab < 1 {
		return nil, fmt.Errorf("tab_width must be >= 1 (got %d)", c.tab)
	}
	if _, err := compileAll(c.ignore); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *LineLength) Expand(project *core.Project) ([]core.TaskDescriptor, error) {
	shared := map[string]any{
		"max_line_length": c.max,
		"tab_width":       c.tab,
	}
	if len(c.ignore) > 0 {
		shared["ignore"] = append([]string(nil), c.ignore...)
	}
	return core.PerFile(c.ID(), project, "file", shared)
}

func (c *LineLength) Run(ctx context.Context, in core.Inputs, _ core.DependencyResults) ([]finding.Finding, error) {
	p := in.File("file")
	if p == nil {
		return nil, fmt.Errorf("input %q is not bound to a file", "file")
	}
	limit := in.Int("max_line_length", DefaultMaxLineLength)
	tab := in.Int("tab_width", DefaultTabWidth)
	ignore, err := compileAll(in.Strings("ignore"))
	if err != nil {
		return nil, err
	}

	var out []finding.Finding
	for n := 1; n <= p.LineCount(); n++ {
		if n%1024 == 0 && core.Cancelled(ctx) {
			return nil, ctx.Err()
		}
		line, _ := p.Line(n)
		w := visualWidth(line, tab)
		if w <= limit || matchesAny(ignore, line) {
			continue
		}
		f := finding.AtLine(c.ID(), p.Filename(), n, finding.SeverityNormal,
			fmt.Sprintf("line too long (%d > %d characters)", w, limit))
		f.Column = limit + 1
		out = append(out, f)
	}
	return out, nil
}

func compileAll(patterns []string) ([]*regexp.Regexp, error) {
	out := make([]*regexp.Regexp, 0, len(patterns))
	for _, p := range patterns {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("ignore pattern %q: %w", p, err)
		}
		out = append(out, re)
	}
	return out, nil
}

func matchesAny(res []*regexp.Regexp, s string) bool {
	for _, re := range res {
		if re.MatchString(s) {
			return true
		}
	}
	return false
}
