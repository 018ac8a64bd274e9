package core

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"sync"
)

// skipDirs are never descended into when listing project files.
var skipDirs = map[string]struct{}{
	".git": {},
	".hg":  {},
	".svn": {},
}

// Project is the target view checkers expand against: a root directory and a
// predicate over slash-separated paths relative to it.
type Project struct {
	Root   string
	Select func(rel string) bool

	once  sync.Once
	files []string
	err   error
}

// NewProject validates root and returns a project view. A nil selector
// selects every regular file.
func NewProject(root string, selector func(rel string) bool) (*Project, error) {
	if root == "" {
		return nil, errors.New("project root is required")
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}
	if resolved, err := filepath.EvalSymlinks(abs); err == nil {
		abs = resolved
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("project root: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("project root %q is not a directory", abs)
	}
	if selector == nil {
		selector = func(string) bool { return true }
	}
	return &Project{Root: abs, Select: selector}, nil
}

// Files returns the absolute paths of selected regular files, sorted. The
// directory walk happens once per project.
//
// Ordering is explicit: filesystem enumeration order is never relied upon.
func (p *Project) Files() ([]string, error) {
	p.once.Do(func() {
		p.files, p.err = p.walk()
	})
	if p.err != nil {
		return nil, p.err
	}
	out := make([]string, len(p.files))
	copy(out, p.files)
	return out, nil
}

func (p *Project) walk() ([]string, error) {
	var out []string
	err := filepath.WalkDir(p.Root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if _, skip := skipDirs[d.Name()]; skip && path != p.Root {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}
		rel, err := filepath.Rel(p.Root, path)
		if err != nil {
			return err
		}
		if p.Select(filepath.ToSlash(rel)) {
			out = append(out, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("listing project files: %w", err)
	}
	sort.Strings(out)
	return out, nil
}

// Rel returns path relative to the project root using forward slashes, or
// path unchanged when it is outside the root.
func (p *Project) Rel(path string) string {
	rel, err := filepath.Rel(p.Root, path)
	if err != nil || rel == ".." || len(rel) > 2 && rel[:3] == ".."+string(filepath.Separator) {
		return path
	}
	return filepath.ToSlash(rel)
}
