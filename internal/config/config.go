// Package config materializes the run configuration: a YAML file, an optional
// .env file in the project root, CHECKWEAVER_* environment overrides, and
// finally command-line flags applied by the caller.
package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/bmatcuk/doublestar"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"checkweaver/internal/core"
	"checkweaver/internal/fileproxy"
	"checkweaver/internal/resultcache"
)

// DefaultFile is looked up in the working directory when no path is given.
const DefaultFile = "checkweaver.yaml"

// EnvPrefix prefixes every environment override.
const EnvPrefix = "CHECKWEAVER_"

var ErrInvalidConfig = errors.New("invalid configuration")

// CheckerConfig enables one checker with its settings.
type CheckerConfig struct {
	ID       string        `yaml:"id" validate:"required"`
	Settings core.Settings `yaml:"settings"`
}

// Config is the materialized configuration consumed by the engine.
type Config struct {
	ProjectRoot string   `yaml:"project_root" validate:"required"`
	Include     []string `yaml:"include" validate:"dive,glob"`
	Exclude     []string `yaml:"exclude" validate:"dive,glob"`

	WorkerCount     int           `yaml:"worker_count" validate:"gte=1"`
	CachePath       string        `yaml:"cache_path"`
	CacheByteBudget int64         `yaml:"cache_byte_budget" validate:"gte=0"`
	TextEncoding    string        `yaml:"text_encoding" validate:"encoding"`
	PerTaskTimeout  time.Duration `yaml:"per_task_timeout" validate:"gte=0"`

	Checkers []CheckerConfig `yaml:"checkers" validate:"dive"`

	TracePath   string `yaml:"trace_path"`
	MetricsPath string `yaml:"metrics_path"`
	RunLogDir   string `yaml:"run_log_dir"`
}

// Default returns the configuration used for absent fields.
func Default() Config {
	return Config{
		ProjectRoot:     ".",
		WorkerCount:     runtime.NumCPU(),
		CacheByteBudget: resultcache.DefaultByteBudget,
		TextEncoding:    fileproxy.DefaultEncoding,
	}
}

var validate *validator.Validate

func init() {
	validate = validator.New()
	for tag, fn := range map[string]validator.Func{
		"glob":     validateGlob,
		"encoding": validateEncoding,
	} {
		if err := validate.RegisterValidation(tag, fn); err != nil {
			panic(fmt.Sprintf("config: registering %q validation: %v", tag, err))
		}
	}
}

// validateGlob rejects malformed patterns. doublestar only reports a bad
// pattern when matching reaches it, so path.Match checks the brackets too.
func validateGlob(fl validator.FieldLevel) bool {
	p := fl.Field().String()
	if _, err := doublestar.Match(p, "x"); err != nil {
		return false
	}
	_, err := path.Match(p, "x")
	return err == nil
}

func validateEncoding(fl validator.FieldLevel) bool {
	_, _, err := fileproxy.ResolveEncoding(fl.Field().String())
	return err == nil
}

// Options controls Load.
type Options struct {
	// Path is the YAML file. Empty means DefaultFile if it exists, otherwise
	// defaults only.
	Path string
	// LookupEnv reads the process environment; nil uses os.LookupEnv.
	LookupEnv func(string) (string, bool)
	// SkipDotEnv disables reading <project_root>/.env.
	SkipDotEnv bool
}

// Load reads, overlays and validates the configuration.
func Load(opts Options) (*Config, error) {
	cfg := Default()
	lookup := opts.LookupEnv
	if lookup == nil {
		lookup = os.LookupEnv
	}

	file := opts.Path
	explicit := file != ""
	if !explicit {
		file = DefaultFile
	}
	baseDir, err := os.Getwd()
	if err != nil {
		return nil, err
	}
	switch err := decodeFile(file, &cfg); {
	case err == nil:
		abs, aerr := filepath.Abs(file)
		if aerr == nil {
			baseDir = filepath.Dir(abs)
		}
	case errors.Is(err, os.ErrNotExist) && !explicit:
	case errors.Is(err, ErrInvalidConfig):
		return nil, err
	default:
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}

	// Relative paths in the file are relative to the file.
	cfg.ProjectRoot = resolve(baseDir, cfg.ProjectRoot)
	cfg.CachePath = resolve(baseDir, cfg.CachePath)
	cfg.TracePath = resolve(baseDir, cfg.TracePath)
	cfg.MetricsPath = resolve(baseDir, cfg.MetricsPath)
	cfg.RunLogDir = resolve(baseDir, cfg.RunLogDir)

	env := map[string]string{}
	if !opts.SkipDotEnv {
		dot, err := godotenv.Read(filepath.Join(cfg.ProjectRoot, ".env"))
		switch {
		case err == nil:
			for k, v := range dot {
				env[k] = v
			}
		case errors.Is(err, os.ErrNotExist):
		default:
			return nil, fmt.Errorf("%w: reading .env: %v", ErrInvalidConfig, err)
		}
	}
	envLookup := func(key string) (string, bool) {
		if v, ok := lookup(key); ok {
			return v, true
		}
		v, ok := env[key]
		return v, ok
	}
	if err := applyEnv(&cfg, envLookup); err != nil {
		return nil, err
	}
	if abs, err := filepath.Abs(cfg.ProjectRoot); err == nil {
		cfg.ProjectRoot = abs
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func decodeFile(file string, cfg *Config) error {
	f, err := os.Open(file)
	if err != nil {
		return err
	}
	defer f.Close()
	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return fmt.Errorf("%w: %s: %v", ErrInvalidConfig, file, err)
	}
	return nil
}

func resolve(base, p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(base, p)
}

// applyEnv overlays CHECKWEAVER_* variables.
func applyEnv(cfg *Config, lookup func(string) (string, bool)) error {
	str := func(name string, dst *string) {
		if v, ok := lookup(EnvPrefix + name); ok {
			*dst = strings.TrimSpace(v)
		}
	}
	str("PROJECT_ROOT", &cfg.ProjectRoot)
	str("CACHE_PATH", &cfg.CachePath)
	str("TEXT_ENCODING", &cfg.TextEncoding)
	str("TRACE_PATH", &cfg.TracePath)
	str("METRICS_PATH", &cfg.MetricsPath)
	str("RUN_LOG_DIR", &cfg.RunLogDir)

	if v, ok := lookup(EnvPrefix + "WORKERS"); ok {
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("%w: %sWORKERS: %v", ErrInvalidConfig, EnvPrefix, err)
		}
		cfg.WorkerCount = n
	}
	if v, ok := lookup(EnvPrefix + "CACHE_BYTE_BUDGET"); ok {
		n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
		if err != nil {
			return fmt.Errorf("%w: %sCACHE_BYTE_BUDGET: %v", ErrInvalidConfig, EnvPrefix, err)
		}
		cfg.CacheByteBudget = n
	}
	if v, ok := lookup(EnvPrefix + "PER_TASK_TIMEOUT"); ok {
		d, err := time.ParseDuration(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("%w: %sPER_TASK_TIMEOUT: %v", ErrInvalidConfig, EnvPrefix, err)
		}
		cfg.PerTaskTimeout = d
	}
	if v, ok := lookup(EnvPrefix + "CHECKERS"); ok {
		var list []CheckerConfig
		for _, id := range strings.Split(v, ",") {
			if id = strings.TrimSpace(id); id != "" {
				list = append(list, CheckerConfig{ID: id, Settings: settingsFor(cfg.Checkers, id)})
			}
		}
		cfg.Checkers = list
	}
	return nil
}

func settingsFor(list []CheckerConfig, id string) core.Settings {
	for _, c := range list {
		if c.ID == id {
			return c.Settings
		}
	}
	return nil
}

// Validate checks struct constraints and cross-field rules.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s: failed %q", fe.Namespace(), fe.Tag()))
			}
			return fmt.Errorf("%w: %s", ErrInvalidConfig, strings.Join(msgs, "; "))
		}
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	seen := make(map[string]bool, len(c.Checkers))
	for _, ch := range c.Checkers {
		if seen[ch.ID] {
			return fmt.Errorf("%w: checker %q enabled twice", ErrInvalidConfig, ch.ID)
		}
		seen[ch.ID] = true
	}
	info, err := os.Stat(c.ProjectRoot)
	if err != nil {
		return fmt.Errorf("%w: project_root: %v", ErrInvalidConfig, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("%w: project_root %q is not a directory", ErrInvalidConfig, c.ProjectRoot)
	}
	return nil
}

// Selector compiles Include/Exclude into the project's file predicate over
// slash-separated relative paths. No include patterns selects everything.
func (c *Config) Selector() func(rel string) bool {
	include := append([]string(nil), c.Include...)
	exclude := append([]string(nil), c.Exclude...)
	return func(rel string) bool {
		if len(include) > 0 && !matchAny(include, rel) {
			return false
		}
		return !matchAny(exclude, rel)
	}
}

func matchAny(patterns []string, rel string) bool {
	for _, p := range patterns {
		if ok, _ := doublestar.Match(p, rel); ok {
			return true
		}
	}
	return false
}

// CheckerIDs returns the enabled checker ids in configuration order.
func (c *Config) CheckerIDs() []string {
	out := make([]string, 0, len(c.Checkers))
	for _, ch := range c.Checkers {
		out = append(out, ch.ID)
	}
	return out
}
