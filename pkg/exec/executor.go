// Package exec runs shell commands for command actions, health checks and
// final checks.
package exec

import (
	"context"
	"time"
)

// Executor runs commands. Implementations must honor ctx cancellation.
type Executor interface {
	// Run executes cmd (argv form). A non-zero exit code is reported in
	// Result.ExitCode, not as an error; err means the command could not run.
	Run(ctx context.Context, cmd []string, opts *Opts) (Result, error)

	// Name returns the executor type name.
	Name() string
}

// Opts contains per-call options.
type Opts struct {
	// Env contains environment variables (KEY=VALUE format) added to the process environment.
	Env []string

	// Timeout is the maximum duration for command execution.
	Timeout time.Duration

	// WorkDir is the working directory for the command.
	WorkDir string
}

// Result is the outcome of one command.
type Result struct {
	Stdout       string
	Stderr       string
	ExecutorUsed string
	Duration     time.Duration
	ExitCode     int
	TimedOut     bool
}

// Combined returns stdout and stderr joined for reports and prompts.
func (r Result) Combined() string {
	switch {
	case r.Stdout == "":
		return r.Stderr
	case r.Stderr == "":
		return r.Stdout
	default:
		return r.Stdout + "\n" + r.Stderr
	}
}

// Shell wraps a command line for sh -c.
func Shell(commandLine string) []string {
	return []string{"sh", "-c", commandLine}
}
