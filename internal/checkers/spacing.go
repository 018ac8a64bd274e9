package checkers

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"checkweaver/internal/core"
	"checkweaver/internal/finding"
)

// Indentation styles accepted by the spacing checker.
const (
	IndentSpaces = "spaces"
	IndentTabs   = "tabs"
	IndentAny    = "any"
)

// Spacing reports trailing whitespace and indentation that does not use the
// configured character.
type Spacing struct {
	core.Base
	indent   string
	trailing bool
}

func NewSpacing(settings core.Settings) (core.Checker, error) {
	c := &Spacing{
		Base: core.Base{
			Name: SpacingID,
			Inputs: []core.InputSpec{
				{Name: "file", Kind: core.KindFile},
				{Name: "indent", Kind: core.KindString},
				{Name: "trailing", Kind: core.KindBool},
			},
		},
		indent:   strings.ToLower(settings.String("indent", IndentSpaces)),
		trailing: settings.Bool("trailing", true),
	}
	switch c.indent {
	case IndentSpaces, IndentTabs, IndentAny:
	default:
		return nil, fmt.Errorf("indent must be %q, %q or %q (got %q)", IndentSpaces, IndentTabs, IndentAny, c.indent)
	}
	return c, nil
}

func (c *Spacing) Expand(project *core.Project) ([]core.TaskDescriptor, error) {
	return core.PerFile(c.ID(), project, "file", map[string]any{
		"indent":   c.indent,
		"trailing": c.trailing,
	})
}

func (c *Spacing) Run(ctx context.Context, in core.Inputs, _ core.DependencyResults) ([]finding.Finding, error) {
	p := in.File("file")
	if p == nil {
		return nil, fmt.Errorf("input %q is not bound to a file", "file")
	}
	indent := in.String("indent", IndentSpaces)
	trailing := in.Bool("trailing", true)

	var out []finding.Finding
	add := func(line, col int, msg string) {
		f := finding.AtLine(c.ID(), p.Filename(), line, finding.SeverityNormal, msg)
		f.Column = col
		out = append(out, f)
	}

	for n := 1; n <= p.LineCount(); n++ {
		if n%1024 == 0 && core.Cancelled(ctx) {
			return nil, ctx.Err()
		}
		line, _ := p.Line(n)

		if trailing {
			trimmed := strings.TrimRight(line, " \t")
			if len(trimmed) != len(line) && trimmed != "" {
				add(n, utf8.RuneCountInString(trimmed)+1, "trailing whitespace")
			} else if len(trimmed) != len(line) {
				add(n, 1, "whitespace-only line")
			}
		}

		lead := line[:len(line)-len(strings.TrimLeft(line, " \t"))]
		if lead == "" || lead == line {
			continue
		}
		hasTab := strings.Contains(lead, "\t")
		hasSpace := strings.Contains(lead, " ")
		switch {
		case hasTab && hasSpace:
			add(n, 1, "mixed tabs and spaces in indentation")
		case indent == IndentSpaces && hasTab:
			add(n, 1, "indentation uses tabs")
		case indent == IndentTabs && hasSpace:
			add(n, 1, "indentation uses spaces")
		}
	}
	return out, nil
}
