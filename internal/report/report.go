// Package report renders the finding stream.
package report

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"checkweaver/internal/finding"
)

// Format selects the rendering.
type Format string

const (
	FormatText  Format = "text"
	FormatJSONL Format = "jsonl"
)

// ParseFormat accepts "text", "jsonl" and the alias "json".
func ParseFormat(raw string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", string(FormatText):
		return FormatText, nil
	case string(FormatJSONL), "json":
		return FormatJSONL, nil
	default:
		return "", fmt.Errorf("unknown output format %q (want text or jsonl)", raw)
	}
}

// Options tune rendering. With Root set, file paths under it are printed
// relative to it in text output.
type Options struct {
	Root string
}

// Write renders fs in the given order.
func Write(w io.Writer, format Format, fs []finding.Finding, opts Options) error {
	bw := bufio.NewWriter(w)
	switch format {
	case FormatJSONL:
		enc := json.NewEncoder(bw)
		enc.SetEscapeHTML(false)
		for _, f := range fs {
			if err := enc.Encode(f); err != nil {
				return err
			}
		}
	case FormatText:
		for _, f := range fs {
			if _, err := fmt.Fprintln(bw, textLine(f, opts)); err != nil {
				return err
			}
		}
	default:
		return fmt.Errorf("unknown output format %q", format)
	}
	return bw.Flush()
}

func textLine(f finding.Finding, opts Options) string {
	var loc string
	switch {
	case f.File == "":
		loc = "<project>"
	case f.Column > 0:
		loc = fmt.Sprintf("%s:%d:%d", displayPath(f.File, opts.Root), f.Line, f.Column)
	default:
		loc = fmt.Sprintf("%s:%d", displayPath(f.File, opts.Root), f.Line)
	}
	line := fmt.Sprintf("%s: %s [%s] %s", loc, f.Severity, f.Origin, f.Message)
	if f.DebugMessage != "" {
		line += " (" + f.DebugMessage + ")"
	}
	return line
}

func displayPath(path, root string) string {
	if root == "" {
		return path
	}
	rel, err := filepath.Rel(root, path)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return path
	}
	return filepath.ToSlash(rel)
}

// Summary renders a one-line tally by severity.
func Summary(fs []finding.Finding) string {
	counts := map[finding.Severity]int{}
	for _, f := range fs {
		counts[f.Severity]++
	}
	return fmt.Sprintf("%d findings (%d major, %d normal, %d info)",
		len(fs), counts[finding.SeverityMajor], counts[finding.SeverityNormal], counts[finding.SeverityInfo])
}
