package cli

import (
	"io"
	"log/slog"
	"strings"
	"time"

	"checkweaver/internal/config"
	"checkweaver/internal/core"
	"checkweaver/internal/report"
	"checkweaver/internal/runlog"
)

// Invocation is the parsed, validated description of one command.
type Invocation struct {
	// ConfigPath is the YAML file; empty selects config.DefaultFile when
	// present.
	ConfigPath string
	SkipDotEnv bool
	LookupEnv  func(string) (string, bool)

	LogLevel  slog.Level
	LogFormat string
	Format    report.Format

	// Overrides applied on top of the loaded configuration. Zero values
	// leave the configuration untouched.
	Workers  int
	Checkers []string
	Timeout  *time.Duration
	NoCache  bool

	// Registry supplies checkers; nil selects the built-ins.
	Registry *core.Registry
}

// flags is the raw cobra flag state before validation.
type flags struct {
	configPath string
	noDotEnv   bool
	logLevel   string
	logFormat  string

	format   string
	workers  int
	checkers []string
	timeout  time.Duration
	noCache  bool
}

func (f *flags) invocation(timeoutSet bool) (Invocation, error) {
	inv := Invocation{
		ConfigPath: strings.TrimSpace(f.configPath),
		SkipDotEnv: f.noDotEnv,
		Workers:    f.workers,
		NoCache:    f.noCache,
	}
	if err := inv.LogLevel.UnmarshalText([]byte(f.logLevel)); err != nil {
		return Invocation{}, invalidInvocationf("invalid --log-level %q", f.logLevel)
	}
	switch lf := strings.ToLower(strings.TrimSpace(f.logFormat)); lf {
	case "", "text":
		inv.LogFormat = "text"
	case "json":
		inv.LogFormat = "json"
	default:
		return Invocation{}, invalidInvocationf("invalid --log-format %q (expected text|json)", f.logFormat)
	}
	format, err := report.ParseFormat(f.format)
	if err != nil {
		return Invocation{}, invalidInvocationf("%v", err)
	}
	inv.Format = format

	if f.workers < 0 {
		return Invocation{}, invalidInvocationf("--workers must be >= 0 (got %d)", f.workers)
	}
	if timeoutSet {
		if f.timeout < 0 {
			return Invocation{}, invalidInvocationf("--timeout must be >= 0 (got %s)", f.timeout)
		}
		d := f.timeout
		inv.Timeout = &d
	}
	for _, c := range f.checkers {
		if c = strings.TrimSpace(c); c != "" {
			inv.Checkers = append(inv.Checkers, c)
		}
	}
	return inv, nil
}

func newLogger(w io.Writer, inv Invocation) *slog.Logger {
	opts := &slog.HandlerOptions{Level: inv.LogLevel}
	if inv.LogFormat == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// loadConfig reads the configuration and applies flag overrides. Every error
// is a ConfigFailureError.
func loadConfig(inv Invocation) (*config.Config, error) {
	cfg, err := config.Load(config.Options{
		Path:       inv.ConfigPath,
		LookupEnv:  inv.LookupEnv,
		SkipDotEnv: inv.SkipDotEnv,
	})
	if err != nil {
		return nil, &runlog.ConfigFailureError{Code: "InvalidConfig", Message: err.Error(), Cause: err}
	}

	if inv.Workers > 0 {
		cfg.WorkerCount = inv.Workers
	}
	if inv.Timeout != nil {
		cfg.PerTaskTimeout = *inv.Timeout
	}
	if inv.NoCache {
		cfg.CachePath = ""
	}
	if len(inv.Checkers) > 0 {
		prev := make(map[string]core.Settings, len(cfg.Checkers))
		for _, c := range cfg.Checkers {
			prev[c.ID] = c.Settings
		}
		cfg.Checkers = cfg.Checkers[:0]
		for _, id := range inv.Checkers {
			cfg.Checkers = append(cfg.Checkers, config.CheckerConfig{ID: id, Settings: prev[id]})
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, &runlog.ConfigFailureError{Code: "InvalidConfig", Message: err.Error(), Cause: err}
	}
	return cfg, nil
}
