package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func noEnv(string) (string, bool) { return "", false }

func envMap(m map[string]string) func(string) (string, bool) {
	return func(k string) (string, bool) {
		v, ok := m[k]
		return v, ok
	}
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestLoad_YAMLWithRelativePaths(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.Mkdir(filepath.Join(dir, "src"), 0o755))
	path := filepath.Join(dir, "checkweaver.yaml")
	writeFile(t, path, `
project_root: src
include: ["**/*.py"]
exclude: ["vendor/**"]
worker_count: 3
cache_path: .cache/results
per_task_timeout: 1500ms
text_encoding: latin1
checkers:
  - id: linelength
    settings:
      max_line_length: 100
  - id: spacing
`)

	cfg, err := Load(Options{Path: path, LookupEnv: noEnv})
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(dir, "src"), cfg.ProjectRoot)
	assert.Equal(t, filepath.Join(dir, ".cache/results"), cfg.CachePath)
	assert.Equal(t, 3, cfg.WorkerCount)
	assert.Equal(t, 1500*time.Millisecond, cfg.PerTaskTimeout)
	assert.Equal(t, "latin1", cfg.TextEncoding)
	assert.Equal(t, []string{"linelength", "spacing"}, cfg.CheckerIDs())
	assert.Equal(t, 100, cfg.Checkers[0].Settings.Int("max_line_length", 80))
	assert.EqualValues(t, 64<<20, cfg.CacheByteBudget)
}

func TestLoad_UnknownFieldRejected(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "c.yaml")
	writeFile(t, path, "project_root: .\nworkers: 2\n")

	_, err := Load(Options{Path: path, LookupEnv: noEnv})
	require.ErrorIs(t, err, ErrInvalidConfig)
}

func TestLoad_ExplicitMissingFileFails(t *testing.T) {
	_, err := Load(Options{Path: filepath.Join(t.TempDir(), "nope.yaml"), LookupEnv: noEnv})
	require.ErrorIs(t, err, ErrInvalidConfig)
}

func TestLoad_EnvOverridesAndDotEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "c.yaml")
	writeFile(t, path, "project_root: .\nworker_count: 2\ncheckers:\n  - id: a\n    settings: {x: 1}\n")
	writeFile(t, filepath.Join(dir, ".env"), "CHECKWEAVER_WORKERS=5\nCHECKWEAVER_PER_TASK_TIMEOUT=2s\n")

	cfg, err := Load(Options{Path: path, LookupEnv: envMap(map[string]string{
		"CHECKWEAVER_PER_TASK_TIMEOUT": "3s",
		"CHECKWEAVER_CHECKERS":         "a, b",
	})})
	require.NoError(t, err)

	assert.Equal(t, 5, cfg.WorkerCount, ".env applies when the process env is silent")
	assert.Equal(t, 3*time.Second, cfg.PerTaskTimeout, "process env beats .env")
	assert.Equal(t, []string{"a", "b"}, cfg.CheckerIDs())
	assert.Equal(t, 1, cfg.Checkers[0].Settings.Int("x", 0))
}

func TestLoad_SkipDotEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "c.yaml")
	writeFile(t, path, "project_root: .\nworker_count: 2\n")
	writeFile(t, filepath.Join(dir, ".env"), "CHECKWEAVER_WORKERS=9\n")

	cfg, err := Load(Options{Path: path, LookupEnv: noEnv, SkipDotEnv: true})
	require.NoError(t, err)
	assert.Equal(t, 2, cfg.WorkerCount)
}

func TestLoad_BadEnvValue(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "c.yaml")
	writeFile(t, path, "project_root: .\n")
	_, err := Load(Options{Path: path, SkipDotEnv: true, LookupEnv: envMap(map[string]string{"CHECKWEAVER_WORKERS": "many"})})
	require.ErrorIs(t, err, ErrInvalidConfig)
}

func TestValidate(t *testing.T) {
	root := t.TempDir()
	cases := map[string]func(c *Config){
		"zero workers":     func(c *Config) { c.WorkerCount = 0 },
		"unknown encoding": func(c *Config) { c.TextEncoding = "klingon" },
		"bad glob":         func(c *Config) { c.Include = []string{"[a-"} },
		"negative timeout": func(c *Config) { c.PerTaskTimeout = -time.Second },
		"negative budget":  func(c *Config) { c.CacheByteBudget = -1 },
		"duplicate checker": func(c *Config) {
			c.Checkers = []CheckerConfig{{ID: "a"}, {ID: "a"}}
		},
		"empty checker id": func(c *Config) { c.Checkers = []CheckerConfig{{}} },
		"missing root":     func(c *Config) { c.ProjectRoot = filepath.Join(root, "missing") },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := Default()
			cfg.ProjectRoot = root
			mutate(&cfg)
			require.ErrorIs(t, cfg.Validate(), ErrInvalidConfig)
		})
	}

	cfg := Default()
	cfg.ProjectRoot = root
	require.NoError(t, cfg.Validate())
}

func TestCustomValidationsRegistered(t *testing.T) {
	require.NotPanics(t, func() {
		assert.NoError(t, validate.Var("**/*.py", "glob"))
		assert.Error(t, validate.Var("[a-", "glob"))
		assert.NoError(t, validate.Var(Default().TextEncoding, "encoding"))
		assert.Error(t, validate.Var("klingon", "encoding"))
	})
}

func TestSelector(t *testing.T) {
	cfg := Config{Include: []string{"**/*.py", "*.md"}, Exclude: []string{"vendor/**"}}
	sel := cfg.Selector()

	assert.True(t, sel("main.py"))
	assert.True(t, sel("pkg/sub/mod.py"))
	assert.True(t, sel("README.md"))
	assert.False(t, sel("docs/guide.md"))
	assert.False(t, sel("vendor/lib/x.py"))
	assert.False(t, sel("main.go"))

	all := (&Config{}).Selector()
	assert.True(t, all("anything/at/all"))
}
