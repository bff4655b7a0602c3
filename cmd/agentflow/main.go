// Package main provides the agentflow binary entry point.
package main

import (
	"fmt"
	"os"
	"runtime"

	"github.com/spf13/cobra"

	"agentflow/pkg/logx"
)

// Version information (set by goreleaser via ldflags).
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

const appName = "agentflow"

func main() {
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 4096)
			n := runtime.Stack(buf, false)
			_, _ = fmt.Fprintf(os.Stderr, "PANIC: %v\nStack trace:\n%s\n", r, string(buf[:n]))
			os.Exit(2)
		}
	}()

	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	var (
		projectDir   string
		debug        bool
		debugDomains []string
		logFile      string
	)

	cmd := &cobra.Command{
		Use:   appName,
		Short: "Multi-agent coding orchestrator",
		Long: `agentflow turns a natural-language request into a plan of agent steps
(planner, implementer, verifier, reviewer), applies the resulting edits and
commands to a project, and health-checks every change.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if debug || len(debugDomains) > 0 {
				logx.SetDebugConfig(true)
				logx.SetDebugDomains(debugDomains)
			}
			if logFile == "" {
				return nil
			}
			f, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
			if err != nil {
				return fmt.Errorf("open log file: %w", err)
			}
			// Left open until exit.
			logx.SetOutput(f)
			return nil
		},
	}
	flags := cmd.PersistentFlags()
	flags.StringVarP(&projectDir, "projectdir", "p", ".", "Project directory to operate on")
	flags.BoolVar(&debug, "debug", false, "Enable debug logging")
	flags.StringSliceVar(&debugDomains, "debug-domains", nil, "Limit debug logging to these domains (implies --debug)")
	flags.StringVar(&logFile, "log-file", "", "Append logs to this file instead of stderr")

	cmd.AddCommand(
		runCmd(&projectDir),
		secretsCmd(&projectDir),
		&cobra.Command{
			Use:   "version",
			Short: "Print version information",
			Run: func(cmd *cobra.Command, _ []string) {
				fmt.Fprintf(cmd.OutOrStdout(), "%s %s (commit %s, built %s)\n", appName, version, commit, date)
			},
		},
	)
	return cmd
}
