package cli

import (
	"context"
	"errors"
	"log/slog"

	"checkweaver/internal/checkers"
	"checkweaver/internal/config"
	"checkweaver/internal/core"
	"checkweaver/internal/dag"
	"checkweaver/internal/runlog"
)

func registryFor(inv Invocation) *core.Registry {
	if inv.Registry != nil {
		return inv.Registry
	}
	return checkers.Default()
}

// enabledCheckers instantiates the configured checkers. An empty list enables
// every registered checker with default settings.
func enabledCheckers(cfg *config.Config, reg *core.Registry) ([]core.Checker, error) {
	list := cfg.Checkers
	if len(list) == 0 {
		for _, id := range reg.IDs() {
			list = append(list, config.CheckerConfig{ID: id})
		}
	}
	out := make([]core.Checker, 0, len(list))
	for _, cc := range list {
		c, err := reg.New(cc.ID, cc.Settings)
		if err != nil {
			code := "CheckerSettings"
			if errors.Is(err, core.ErrUnknownChecker) {
				code = "UnknownChecker"
			}
			return nil, &runlog.ConfigFailureError{Code: code, Message: err.Error(), Cause: err}
		}
		out = append(out, c)
	}
	return out, nil
}

// buildPlan expands the configured checkers over the project. Context
// cancellation is returned as is; everything else is classified.
func buildPlan(ctx context.Context, cfg *config.Config, reg *core.Registry, logger *slog.Logger) (*dag.Plan, *core.Project, error) {
	project, err := core.NewProject(cfg.ProjectRoot, cfg.Selector())
	if err != nil {
		return nil, nil, &runlog.ConfigFailureError{Code: "ProjectRoot", Message: err.Error(), Cause: err}
	}
	list, err := enabledCheckers(cfg, reg)
	if err != nil {
		return nil, nil, err
	}
	plan, err := dag.Expand(ctx, list, project, dag.ExpandOptions{Registry: reg, Logger: logger})
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil && errors.Is(err, ctxErr) {
			return nil, nil, dag.ErrCancelled
		}
		return nil, nil, &runlog.ExpansionFailureError{Code: expansionCode(err), Message: err.Error(), Cause: err}
	}
	return plan, project, nil
}

func expansionCode(err error) string {
	switch {
	case errors.Is(err, dag.ErrCycleFound):
		return "CycleFound"
	case errors.Is(err, dag.ErrUnresolvedDependency):
		return "UnresolvedDependency"
	case errors.Is(err, dag.ErrInvalidTask):
		return "InvalidTask"
	case errors.Is(err, dag.ErrInvalidGraph):
		return "InvalidGraph"
	default:
		return "ExpansionFailed"
	}
}
