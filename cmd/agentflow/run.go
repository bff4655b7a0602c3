package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"agentflow/pkg/agent"
	"agentflow/pkg/config"
	"agentflow/pkg/eventlog"
	"agentflow/pkg/gate"
	"agentflow/pkg/orchestrator"
	"agentflow/pkg/persistence"
	"agentflow/pkg/telemetry"
	"agentflow/pkg/workspace"
)

// errRunFailed makes the process exit non-zero after the report is printed.
var errRunFailed = errors.New("run did not complete successfully")

type runOptions struct {
	projectDir  string
	autoApprove bool
	jsonOut     bool
}

func runCmd(projectDir *string) *cobra.Command {
	opts := &runOptions{}
	cmd := &cobra.Command{
		Use:   "run [request]",
		Short: "Run a request against the project",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.projectDir = *projectDir
			return runRequest(cmd, opts, strings.Join(args, " "))
		},
	}
	cmd.Flags().BoolVarP(&opts.autoApprove, "yes", "y", false, "Approve every edit and command without prompting")
	cmd.Flags().BoolVar(&opts.jsonOut, "json", false, "Print the report as JSON")
	return cmd
}

func runRequest(cmd *cobra.Command, opts *runOptions, request string) error {
	projectDir, err := filepath.Abs(opts.projectDir)
	if err != nil {
		return fmt.Errorf("resolve project dir: %w", err)
	}

	cfg, err := config.Load(projectDir)
	if err != nil {
		return err
	}
	if opts.autoApprove {
		cfg.Gate.AutoApprove = true
	}
	if err := unlockSecrets(projectDir); err != nil {
		return err
	}

	ws, err := workspace.New(projectDir, cfg.Context.Ignore)
	if err != nil {
		return err
	}

	collector := telemetry.NewCollector()
	recorder := telemetry.NewPrometheusRecorder()
	factory := agent.NewLLMClientFactory(cfg, agent.WithSink(collector), agent.WithRecorder(recorder))

	var store *persistence.Store
	if path := cfg.Persistence.DatabasePath; path != "" {
		if !filepath.IsAbs(path) {
			path = filepath.Join(projectDir, path)
		}
		store, err = persistence.Open(path)
		if err != nil {
			return err
		}
		defer func() { _ = store.Close() }()
	}

	events, err := eventlog.NewWriter(filepath.Join(projectDir, config.ProjectConfigDir, "logs"))
	if err != nil {
		return err
	}
	defer func() { _ = events.Close() }()

	var g gate.Gate
	if !cfg.Gate.AutoApprove {
		g, err = policyGate(cfg.Gate, gate.NewPromptGate(os.Stdin, cmd.ErrOrStderr()))
		if err != nil {
			return err
		}
	}

	orch, err := orchestrator.New(orchestrator.Options{
		Config:    cfg,
		Client:    agent.NewClient(factory),
		Workspace: ws,
		Gate:      g,
		Sink:      eventlog.Multi(eventlog.NewLogSink(appName), events),
		Recorder:  recorder,
		Collector: collector,
		Store:     store,
	})
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	report, runErr := orch.Run(ctx, request)
	if report == nil {
		return runErr
	}
	if err := printReport(cmd, report, opts.jsonOut); err != nil {
		return err
	}
	if !report.OK() {
		return errRunFailed
	}
	return nil
}

// policyGate wraps next with the configured deny rules, if any.
func policyGate(gc config.GateConfig, next gate.Gate) (gate.Gate, error) {
	if len(gc.DenyFiles) == 0 && len(gc.DenyCommands) == 0 {
		return next, nil
	}
	return gate.NewPolicyGate(gc.DenyFiles, gc.DenyCommands, next)
}

func printReport(cmd *cobra.Command, report *orchestrator.Report, asJSON bool) error {
	out := cmd.OutOrStdout()
	if !asJSON {
		_, err := fmt.Fprint(out, report.String())
		return err
	}
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(report)
}
