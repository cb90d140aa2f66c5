// Package cli implements the psicare command line.
package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/spf13/pflag"

	"github.com/psicare/psicare/internal/app"
	"github.com/psicare/psicare/jobs"
)

// Exit codes returned by Run.
const (
	ExitOK    = 0
	ExitError = 1
	ExitUsage = 2
)

// Env carries process-level dependencies so commands stay testable.
type Env struct {
	Stdout io.Writer
	Stderr io.Writer
	// LoadConfig defaults to app.LoadConfig.
	LoadConfig func() (*app.Config, error)
}

const usage = `usage: psicare <command> [flags]

commands:
  serve                 run the HTTP API
  migrate               apply database migrations
  policy dump           print the default policy table
  jobs trigger <name>   enqueue a background job
  jobs stats            show default queue statistics
`

// Run dispatches args (without the program name) and returns an exit code.
func Run(ctx context.Context, args []string, env Env) int {
	if env.LoadConfig == nil {
		env.LoadConfig = func() (*app.Config, error) { return app.LoadConfig() }
	}
	if len(args) == 0 {
		fmt.Fprint(env.Stderr, usage)
		return ExitUsage
	}
	var err error
	switch args[0] {
	case "serve":
		err = withRuntime(env, args[1:], "serve", func(cfg *app.Config, logger *slog.Logger) error {
			return Serve(ctx, cfg, logger)
		})
	case "migrate":
		err = withRuntime(env, args[1:], "migrate", func(cfg *app.Config, logger *slog.Logger) error {
			return Migrate(ctx, cfg, logger)
		})
	case "policy":
		err = runPolicy(env, args[1:])
	case "jobs":
		err = runJobs(ctx, env, args[1:])
	case "help", "-h", "--help":
		fmt.Fprint(env.Stdout, usage)
		return ExitOK
	default:
		err = usageError{fmt.Sprintf("unknown command %q", args[0])}
	}
	if err == nil {
		return ExitOK
	}
	fmt.Fprintf(env.Stderr, "psicare: %v\n", err)
	var ue usageError
	if errors.As(err, &ue) || errors.Is(err, pflag.ErrHelp) {
		fmt.Fprint(env.Stderr, usage)
		return ExitUsage
	}
	return ExitError
}

type usageError struct{ msg string }

func (e usageError) Error() string { return e.msg }

func withRuntime(env Env, args []string, name string, fn func(*app.Config, *slog.Logger) error) error {
	fs := pflag.NewFlagSet(name, pflag.ContinueOnError)
	fs.SetOutput(env.Stderr)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() > 0 {
		return usageError{fmt.Sprintf("%s takes no arguments", name)}
	}
	cfg, err := env.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	return fn(cfg, app.NewLogger(cfg))
}

func runPolicy(env Env, args []string) error {
	if len(args) == 0 || args[0] != "dump" {
		return usageError{"policy: expected subcommand dump"}
	}
	fs := pflag.NewFlagSet("policy dump", pflag.ContinueOnError)
	fs.SetOutput(env.Stderr)
	format := fs.StringP("output", "o", "yaml", "output format: yaml or json")
	if err := fs.Parse(args[1:]); err != nil {
		return err
	}
	return DumpPolicy(env.Stdout, strings.ToLower(*format))
}

func runJobs(ctx context.Context, env Env, args []string) error {
	if len(args) == 0 {
		return usageError{"jobs: expected subcommand trigger or stats"}
	}
	sub := args[0]
	fs := pflag.NewFlagSet("jobs "+sub, pflag.ContinueOnError)
	fs.SetOutput(env.Stderr)
	reason := fs.String("reason", "manual", "reason recorded in the job payload")
	if err := fs.Parse(args[1:]); err != nil {
		return err
	}

	var name string
	switch sub {
	case "trigger":
		if fs.NArg() != 1 {
			return usageError{"jobs trigger: expected exactly one job name (" + jobs.TaskRoleSnapshotRefresh + ")"}
		}
		name = fs.Arg(0)
	case "stats":
	default:
		return usageError{fmt.Sprintf("jobs: unknown subcommand %q", sub)}
	}

	cfg, err := env.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	c, err := NewJobsCLI(cfg.RedisAddr)
	if err != nil {
		return err
	}
	defer func() { _ = c.Close() }()

	if sub == "trigger" {
		info, err := c.Trigger(ctx, name, *reason)
		if err != nil {
			return err
		}
		fmt.Fprintf(env.Stdout, "enqueued %s id=%s queue=%s\n", info.Type, info.ID, info.Queue)
		return nil
	}
	stats, err := c.InspectQueue(ctx)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(env.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(stats)
}
