package cli

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"checkweaver/internal/config"
	"checkweaver/internal/core"
	"checkweaver/internal/dag"
	"checkweaver/internal/resultcache"
	"checkweaver/internal/runlog"
)

// Run is the high-level CLI entrypoint suitable for black-box tests. It
// accepts the argument slice (excluding argv[0]) and returns the semantic
// exit code plus any error.
func Run(ctx context.Context, args []string, streams Streams) (CLIResult, error) {
	return RunWithRegistry(ctx, args, streams, nil)
}

// RunWithRegistry is Run with an explicit checker registry.
func RunWithRegistry(ctx context.Context, args []string, streams Streams, reg *core.Registry) (CLIResult, error) {
	a := &app{streams: streams, registry: reg}
	root := a.rootCommand()
	root.SetArgs(args)
	if streams.Out != nil {
		root.SetOut(streams.Out)
	}
	if streams.Err != nil {
		root.SetErr(streams.Err)
	}

	err := root.ExecuteContext(ctx)
	if err == nil {
		return a.result, nil
	}
	if !a.started {
		// cobra reports unknown commands and flags with plain errors.
		var invErr *InvocationError
		if !errors.As(err, &invErr) {
			err = &InvocationError{ExitCode: ExitInvalidInvocation, Message: err.Error(), Cause: err}
		}
	}
	if a.result.ExitCode == ExitSuccess {
		a.result.ExitCode = ExitCode(err)
	}
	return a.result, err
}

type app struct {
	streams  Streams
	registry *core.Registry
	flags    flags
	started  bool
	result   CLIResult
}

func (a *app) rootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:           "checkweaver",
		Short:         "Schedule static-analysis checkers over a project with caching",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	pf := root.PersistentFlags()
	pf.StringVarP(&a.flags.configPath, "config", "c", "", "configuration file (default "+config.DefaultFile+" when present)")
	pf.BoolVar(&a.flags.noDotEnv, "no-dotenv", false, "do not read .env from the project root")
	pf.StringVar(&a.flags.logLevel, "log-level", "info", "log level: debug|info|warn|error")
	pf.StringVar(&a.flags.logFormat, "log-format", "text", "log format: text|json")

	root.AddCommand(a.runCommand(), a.planCommand(), a.cacheCommand(), a.checkersCommand())
	return root
}

// invocation validates flags; it marks the command as started so later
// errors keep their own classification.
func (a *app) invocation(cmd *cobra.Command) (Invocation, error) {
	timeoutSet := cmd.Flags().Lookup("timeout") != nil && cmd.Flags().Changed("timeout")
	inv, err := a.flags.invocation(timeoutSet)
	if err != nil {
		return Invocation{}, err
	}
	a.started = true
	inv.Registry = a.registry
	return inv, nil
}

func (a *app) runCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the configured checkers and print findings",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			inv, err := a.invocation(cmd)
			if err != nil {
				return err
			}
			res, err := Execute(cmd.Context(), inv, a.streamsFor(cmd))
			a.result = res
			return err
		},
	}
	f := cmd.Flags()
	f.StringVarP(&a.flags.format, "format", "f", "text", "finding output format: text|jsonl")
	f.IntVarP(&a.flags.workers, "workers", "j", 0, "worker count (default from configuration)")
	f.StringSliceVar(&a.flags.checkers, "checkers", nil, "comma-separated checker ids to enable")
	f.DurationVar(&a.flags.timeout, "timeout", 0, "per-task timeout (0 disables)")
	f.BoolVar(&a.flags.noCache, "no-cache", false, "use a memory-only result cache")
	return cmd
}

func (a *app) planCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "plan",
		Short: "Expand the configured checkers and print the task graph",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			inv, err := a.invocation(cmd)
			if err != nil {
				return err
			}
			streams := a.streamsFor(cmd)
			logger := newLogger(streams.Err, inv)
			cfg, err := loadConfig(inv)
			if err != nil {
				return err
			}
			plan, _, err := buildPlan(cmd.Context(), cfg, registryFor(inv), logger)
			if err != nil {
				return err
			}
			fmt.Fprintf(streams.Out, "plan %s (%d tasks)\n", plan.Hash(), plan.Len())
			return dag.Describe(plan, streams.Out)
		},
	}
	cmd.Flags().StringSliceVar(&a.flags.checkers, "checkers", nil, "comma-separated checker ids to enable")
	return cmd
}

func (a *app) cacheCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Inspect or maintain the result cache",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "stats",
			Short: "Print result cache statistics",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return a.withCache(cmd, func(c *resultcache.Cache, path string) error {
					return writeCacheStats(a.streamsFor(cmd), path, c.Stats())
				})
			},
		},
		&cobra.Command{
			Use:   "compact",
			Short: "Rewrite the cache file keeping only live entries",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return a.withCache(cmd, func(c *resultcache.Cache, path string) error {
					if err := c.Compact(); err != nil {
						return &runlog.SystemFailureError{Code: "CacheCompact", Message: err.Error(), Cause: err}
					}
					return writeCacheStats(a.streamsFor(cmd), path, c.Stats())
				})
			},
		},
	)
	return cmd
}

func (a *app) withCache(cmd *cobra.Command, fn func(c *resultcache.Cache, path string) error) error {
	inv, err := a.invocation(cmd)
	if err != nil {
		return err
	}
	streams := a.streamsFor(cmd)
	logger := newLogger(streams.Err, inv)
	cfg, err := loadConfig(inv)
	if err != nil {
		return err
	}
	if cfg.CachePath == "" {
		return invalidInvocationf("cache_path is not configured")
	}
	c, err := resultcache.Open(cfg.CachePath, resultcache.Options{ByteBudget: cfg.CacheByteBudget, Logger: logger})
	if err != nil {
		return &runlog.ConfigFailureError{Code: "CacheOpen", Message: err.Error(), Cause: err}
	}
	ferr := fn(c, cfg.CachePath)
	if cerr := c.Close(); cerr != nil && ferr == nil {
		ferr = &runlog.SystemFailureError{Code: "CacheClose", Message: cerr.Error(), Cause: cerr}
	}
	return ferr
}

func writeCacheStats(streams Streams, path string, s resultcache.Stats) error {
	_, err := fmt.Fprintf(streams.Out,
		"path:        %s\nentries:     %d\nfile bytes:  %d\nlive bytes:  %d\ndead bytes:  %d\ncompactions: %d\n",
		path, s.Entries, s.FileBytes, s.LiveBytes, s.DeadBytes, s.Compactions)
	return err
}

func (a *app) checkersCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "checkers",
		Short: "List the available checkers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			inv, err := a.invocation(cmd)
			if err != nil {
				return err
			}
			reg := registryFor(inv)
			out := a.streamsFor(cmd).Out
			for _, id := range reg.IDs() {
				c, err := reg.New(id, nil)
				if err != nil {
					fmt.Fprintf(out, "%s\t(unavailable: %v)\n", id, err)
					continue
				}
				var inputs []string
				for _, in := range c.DeclaredInputs() {
					inputs = append(inputs, in.Name)
				}
				sort.Strings(inputs)
				line := fmt.Sprintf("%s\tinputs=[%s]", id, strings.Join(inputs, ","))
				if deps := c.DeclaredDependencies(); len(deps) > 0 {
					line += fmt.Sprintf("\tdepends=[%s]", strings.Join(deps, ","))
				}
				fmt.Fprintln(out, line)
			}
			return nil
		},
	}
}

func (a *app) streamsFor(cmd *cobra.Command) Streams {
	return Streams{Out: cmd.OutOrStdout(), Err: cmd.ErrOrStderr()}
}
