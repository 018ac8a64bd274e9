// Package checkers holds the built-in checkers and their registry wiring.
//
// linelength and spacing are per-file checkers working on decoded lines.
// summary is project-level: it depends on both and reports counts.
package checkers

import (
	"fmt"

	"checkweaver/internal/core"
)

const (
	LineLengthID = "linelength"
	SpacingID    = "spacing"
	SummaryID    = "summary"
)

// Register adds every built-in checker to reg.
func Register(reg *core.Registry) error {
	for _, e := range []struct {
		id string
		f  core.Factory
	}{
		{LineLengthID, NewLineLength},
		{SpacingID, NewSpacing},
		{SummaryID, NewSummary},
	} {
		if err := reg.Register(e.id, e.f); err != nil {
			return err
		}
	}
	return nil
}

// Default returns a registry holding the built-in checkers.
func Default() *core.Registry {
	reg := core.NewRegistry()
	if err := Register(reg); err != nil {
		panic(fmt.Sprintf("checkers: %v", err))
	}
	return reg
}

// visualWidth returns the display width of s with tabs expanded to the next
// multiple of tabWidth. Every other rune counts as one column.
func visualWidth(s string, tabWidth int) int {
	w := 0
	for _, r := range s {
		if r == '\t' && tabWidth > 0 {
			w += tabWidth - w%tabWidth
			continue
		}
		w++
	}
	return w
}
