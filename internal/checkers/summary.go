package checkers

import (
	"context"
	"fmt"

	"checkweaver/internal/core"
	"checkweaver/internal/finding"
)

// Summary is a project-level checker that counts the findings of the
// per-file checkers it depends on. With max_findings > 0 it escalates to a
// MAJOR finding once the total exceeds the limit.
type Summary struct {
	core.Base
	maxFindings int
}

func NewSummary(settings core.Settings) (core.Checker, error) {
	c := &Summary{
		Base: core.Base{
			Name:   SummaryID,
			Inputs: []core.InputSpec{{Name: "max_findings", Kind: core.KindInt}},
			Deps:   []string{LineLengthID, SpacingID},
		},
		maxFindings: settings.Int("max_findings", 0),
	}
	if c.maxFindings < 0 {
		return nil, fmt.Errorf("max_findings must be >= 0 (got %d)", c.maxFindings)
	}
	return c, nil
}

func (c *Summary) Expand(*core.Project) ([]core.TaskDescriptor, error) {
	return core.Once(c.ID(), map[string]any{"max_findings": c.maxFindings}), nil
}

func (c *Summary) Run(_ context.Context, in core.Inputs, deps core.DependencyResults) ([]finding.Finding, error) {
	var out []finding.Finding
	total := 0
	for _, id := range deps.Checkers() {
		n := len(deps.Of(id))
		total += n
		if n > 0 {
			out = append(out, finding.Project(c.ID(), finding.SeverityInfo,
				fmt.Sprintf("%s: %d %s", id, n, plural(n, "finding", "findings"))))
		}
	}
	out = append(out, finding.Project(c.ID(), finding.SeverityInfo,
		fmt.Sprintf("total: %d %s", total, plural(total, "finding", "findings"))))

	if limit := in.Int("max_findings", 0); limit > 0 && total > limit {
		out = append(out, finding.Project(c.ID(), finding.SeverityMajor,
			fmt.Sprintf("%d findings exceed the limit of %d", total, limit)))
	}
	return out, nil
}

func plural(n int, one, many string) string {
	if n == 1 {
		return one
	}
	return many
}
