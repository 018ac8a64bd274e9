package core

import (
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
)

func mkfile(t *testing.T, root, rel, content string) string {
	t.Helper()
	p := filepath.Join(root, filepath.FromSlash(rel))
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(p, []byte(content), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	return p
}

func TestProject_FilesSortedAndFiltered(t *testing.T) {
	root := t.TempDir()
	mkfile(t, root, "b.go", "b")
	mkfile(t, root, "a.go", "a")
	mkfile(t, root, "sub/c.go", "c")
	mkfile(t, root, "sub/readme.md", "r")
	mkfile(t, root, ".git/config", "x")

	p, err := NewProject(root, func(rel string) bool { return strings.HasSuffix(rel, ".go") || rel == ".git/config" })
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	files, err := p.Files()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var rels []string
	for _, f := range files {
		if !filepath.IsAbs(f) {
			t.Fatalf("file must be absolute: %q", f)
		}
		rels = append(rels, p.Rel(f))
	}
	want := []string{"a.go", "b.go", "sub/c.go"}
	if !reflect.DeepEqual(rels, want) {
		t.Fatalf("files mismatch: got %v want %v", rels, want)
	}
}

func TestProject_RootMustBeDirectory(t *testing.T) {
	root := t.TempDir()
	f := mkfile(t, root, "x", "x")
	if _, err := NewProject(f, nil); err == nil {
		t.Fatalf("expected error for file root")
	}
	if _, err := NewProject(filepath.Join(root, "missing"), nil); err == nil {
		t.Fatalf("expected error for missing root")
	}
}

func TestPerFile_OneDescriptorPerFile(t *testing.T) {
	root := t.TempDir()
	mkfile(t, root, "a.txt", "a")
	mkfile(t, root, "b.txt", "b")
	p, err := NewProject(root, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	ds, err := PerFile("lines", p, "file", map[string]any{"max": 80})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(ds) != 2 {
		t.Fatalf("expected 2 descriptors, got %d", len(ds))
	}
	for _, d := range ds {
		if d.CheckerID != "lines" {
			t.Fatalf("checker id mismatch: %q", d.CheckerID)
		}
		if _, ok := d.Inputs["file"].(FileRef); !ok {
			t.Fatalf("file input missing: %#v", d.Inputs)
		}
		if d.Inputs["max"] != 80 {
			t.Fatalf("shared input missing: %#v", d.Inputs)
		}
	}
	ds[0].Inputs["max"] = 1
	if ds[1].Inputs["max"] != 80 {
		t.Fatalf("descriptors must not share input maps")
	}
}
