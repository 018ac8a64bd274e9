package runlog

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Store persists run records under <dir>/runs/<run-id>/. Every write is
// atomic and durable: temp file, fsync, rename, fsync directory.
type Store struct {
	dir string
}

func NewStore(dir string) (*Store, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, errors.New("run log directory is required")
	}
	return &Store{dir: dir}, nil
}

func (s *Store) runsRoot() string { return filepath.Join(s.dir, "runs") }

func (s *Store) runDir(id string) string { return filepath.Join(s.runsRoot(), id) }

func (s *Store) runPath(id string) string { return filepath.Join(s.runDir(id), "run.json") }

func (s *Store) failurePath(id string) string { return filepath.Join(s.runDir(id), "failure.json") }

// ListRunIDs returns the run ids on disk, sorted.
func (s *Store) ListRunIDs() ([]string, error) {
	entries, err := os.ReadDir(s.runsRoot())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	ids := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() && strings.TrimSpace(e.Name()) != "" {
			ids = append(ids, e.Name())
		}
	}
	sort.Strings(ids)
	return ids, nil
}

// Latest returns the run with the newest start time, or ok=false when no
// readable run exists.
func (s *Store) Latest() (run Run, ok bool, err error) {
	ids, err := s.ListRunIDs()
	if err != nil {
		return Run{}, false, err
	}
	for _, id := range ids {
		r, err := s.LoadRun(id)
		if err != nil {
			continue
		}
		if !ok || r.StartTime.After(run.StartTime) {
			run, ok = r, true
		}
	}
	return run, ok, nil
}

func (s *Store) SaveRun(run Run) error {
	if err := run.Validate(); err != nil {
		return fmt.Errorf("invalid run: %w", err)
	}
	if run.Checkers == nil {
		run.Checkers = []string{}
	}
	return s.write(s.runPath(run.RunID), run)
}

func (s *Store) LoadRun(id string) (Run, error) {
	if strings.TrimSpace(id) == "" {
		return Run{}, errors.New("run id is required")
	}
	var run Run
	if err := readJSONStrict(s.runPath(id), &run); err != nil {
		return Run{}, err
	}
	if err := run.Validate(); err != nil {
		return Run{}, fmt.Errorf("invalid run on disk: %w", err)
	}
	return run, nil
}

func (s *Store) SaveFailure(id string, f Failure) error {
	if strings.TrimSpace(id) == "" {
		return errors.New("run id is required")
	}
	if err := f.Validate(); err != nil {
		return fmt.Errorf("invalid failure: %w", err)
	}
	return s.write(s.failurePath(id), f)
}

func (s *Store) LoadFailure(id string) (Failure, error) {
	var f Failure
	if err := readJSONStrict(s.failurePath(id), &f); err != nil {
		return Failure{}, err
	}
	if err := f.Validate(); err != nil {
		return Failure{}, fmt.Errorf("invalid failure on disk: %w", err)
	}
	return f, nil
}

func (s *Store) write(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	data = append(data, '\n')
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return writeFileAtomicDurable(path, data, 0o644)
}

func readJSONStrict(path string, dst any) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	dec := json.NewDecoder(f)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return err
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		return errors.New("invalid JSON: trailing content")
	}
	return nil
}

func writeFileAtomicDurable(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp.*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	committed := false
	defer func() {
		_ = tmp.Close()
		if !committed {
			_ = os.Remove(tmpName)
		}
	}()

	if _, err := io.Copy(tmp, bytes.NewReader(data)); err != nil {
		return err
	}
	if err := tmp.Chmod(perm); err != nil {
		return err
	}
	if err := tmp.Sync(); err != nil {
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		return err
	}
	committed = true
	return fsyncDir(dir)
}

func fsyncDir(dir string) error {
	f, err := os.Open(dir)
	if err != nil {
		return err
	}
	defer f.Close()
	return f.Sync()
}
