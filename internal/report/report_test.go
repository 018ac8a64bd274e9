package report

import (
	"bytes"
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"checkweaver/internal/finding"
)

func sample(root string) []finding.Finding {
	f := finding.AtLine("linelength", filepath.Join(root, "src", "a.go"), 3, finding.SeverityNormal, "line too long")
	f.Column = 81
	return []finding.Finding{
		finding.Project("summary", finding.SeverityInfo, "total: 2 findings"),
		f,
		finding.AtLine("spacing", filepath.Join(root, "b.go"), 7, finding.SeverityMajor, "tabs").WithDebug("dbg"),
	}
}

func TestParseFormat(t *testing.T) {
	for in, want := range map[string]Format{"": FormatText, "TEXT": FormatText, "jsonl": FormatJSONL, "json": FormatJSONL} {
		got, err := ParseFormat(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got)
	}
	_, err := ParseFormat("xml")
	assert.Error(t, err)
}

func TestWrite_Text(t *testing.T) {
	root := filepath.Join(t.TempDir(), "proj")
	var buf bytes.Buffer
	require.NoError(t, Write(&buf, FormatText, sample(root), Options{Root: root}))

	assert.Equal(t, strings.Join([]string{
		"<project>: INFO [summary] total: 2 findings",
		"src/a.go:3:81: NORMAL [linelength] line too long",
		"b.go:7: MAJOR [spacing] tabs (dbg)",
		"",
	}, "\n"), buf.String())
}

func TestWrite_TextOutsideRootKeepsAbsolutePath(t *testing.T) {
	other := filepath.Join(t.TempDir(), "x.go")
	var buf bytes.Buffer
	fs := []finding.Finding{finding.AtLine("o", other, 1, finding.SeverityInfo, "m")}
	require.NoError(t, Write(&buf, FormatText, fs, Options{Root: filepath.Join(t.TempDir(), "root")}))
	assert.True(t, strings.HasPrefix(buf.String(), other+":1: INFO [o] m"), buf.String())
}

func TestWrite_JSONL(t *testing.T) {
	root := t.TempDir()
	fs := sample(root)
	var buf bytes.Buffer
	require.NoError(t, Write(&buf, FormatJSONL, fs, Options{}))

	lines := strings.Split(strings.TrimSuffix(buf.String(), "\n"), "\n")
	require.Len(t, lines, len(fs))
	for i, l := range lines {
		var got finding.Finding
		require.NoError(t, json.Unmarshal([]byte(l), &got))
		assert.True(t, got.Equal(fs[i]))
	}
	assert.NotContains(t, lines[0], `"file"`)
}

func TestSummary(t *testing.T) {
	assert.Equal(t, "3 findings (1 major, 1 normal, 1 info)", Summary(sample(t.TempDir())))
	assert.Equal(t, "0 findings (0 major, 0 normal, 0 info)", Summary(nil))
}
