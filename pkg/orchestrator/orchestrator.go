// Package orchestrator drives one request end to end: plan creation, step
// execution with health checks and self-healing, recovery, final checks and
// the telemetry summary.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"agentflow/pkg/agent"
	"agentflow/pkg/config"
	"agentflow/pkg/contextmgr"
	"agentflow/pkg/eventlog"
	"agentflow/pkg/exec"
	"agentflow/pkg/gate"
	"agentflow/pkg/git"
	"agentflow/pkg/logx"
	"agentflow/pkg/persistence"
	"agentflow/pkg/roles"
	"agentflow/pkg/session"
	"agentflow/pkg/telemetry"
	"agentflow/pkg/templates"
	"agentflow/pkg/workflow"
	"agentflow/pkg/workspace"
)

// ErrBusy is returned when Run is called while another run is in progress.
var ErrBusy = errors.New("orchestrator is already running a request")

// Workspace is the project tree edits are applied to.
type Workspace interface {
	workspace.FS
	Diff() (string, error)
}

// Options wires an Orchestrator. Client and Workspace are required.
type Options struct {
	Config    *config.Config
	Client    agent.CompletionClient
	Workspace Workspace
	Executor  exec.Executor
	// Gate defaults to a policy gate built from Config.Gate.
	Gate     gate.Gate
	Registry *roles.Registry
	Sink     eventlog.Sink
	Recorder telemetry.Recorder
	// Collector must be the sink the completion client appends to.
	Collector *telemetry.Collector
	// Store is optional; it caches file summaries and archives telemetry.
	Store *persistence.Store
}

// Orchestrator runs requests one at a time.
type Orchestrator struct {
	cfg       *config.Config
	client    agent.CompletionClient
	ws        Workspace
	exec      exec.Executor
	gate      gate.Gate
	registry  *roles.Registry
	renderer  *templates.Renderer
	builder   *contextmgr.Builder
	checker   *HealthChecker
	inspector *git.Inspector
	sink      eventlog.Sink
	recorder  telemetry.Recorder
	collector *telemetry.Collector
	store     *persistence.Store
	logger    *logx.Logger
	running   atomic.Bool
}

// New validates opts and fills defaults.
func New(opts Options) (*Orchestrator, error) {
	if opts.Client == nil {
		return nil, errors.New("orchestrator: completion client is required")
	}
	if opts.Workspace == nil {
		return nil, errors.New("orchestrator: workspace is required")
	}
	cfg := opts.Config
	if cfg == nil {
		cfg = config.Default()
	}
	if opts.Executor == nil {
		opts.Executor = exec.NewLocalExec()
	}
	if opts.Gate == nil {
		g, err := gateFromConfig(cfg.Gate)
		if err != nil {
			return nil, err
		}
		opts.Gate = g
	}
	if opts.Registry == nil {
		opts.Registry = roles.DefaultRegistry()
	}
	if opts.Sink == nil {
		opts.Sink = eventlog.Discard
	}
	if opts.Recorder == nil {
		opts.Recorder = telemetry.Nop()
	}
	if opts.Collector == nil {
		opts.Collector = telemetry.NewCollector()
	}

	renderer, err := templates.NewRenderer()
	if err != nil {
		return nil, fmt.Errorf("failed to load prompt templates: %w", err)
	}
	checker, err := NewHealthChecker(opts.Executor, opts.Workspace.Root(), cfg.Checks)
	if err != nil {
		return nil, err
	}

	cache := contextmgr.NewFileCache(opts.Workspace, cfg.Context.CacheEntries)
	var summaries contextmgr.SummaryStore
	if opts.Store != nil {
		summaries = opts.Store
	}
	builder := contextmgr.NewBuilder(cache, contextmgr.NewSummarizer(cache, summaries), contextmgr.OptionsFromConfig(cfg.Context))

	return &Orchestrator{
		cfg:       cfg,
		client:    opts.Client,
		ws:        opts.Workspace,
		exec:      opts.Executor,
		gate:      opts.Gate,
		registry:  opts.Registry,
		renderer:  renderer,
		builder:   builder,
		checker:   checker,
		inspector: git.NewInspector(opts.Executor),
		sink:      opts.Sink,
		recorder:  opts.Recorder,
		collector: opts.Collector,
		store:     opts.Store,
		logger:    logx.NewLogger("orchestrator"),
	}, nil
}

func gateFromConfig(gc config.GateConfig) (gate.Gate, error) {
	var next gate.Gate = gate.NewTerminalGate()
	if gc.AutoApprove {
		next = gate.AutoApprove{}
	}
	if len(gc.DenyFiles) == 0 && len(gc.DenyCommands) == 0 {
		return next, nil
	}
	return gate.NewPolicyGate(gc.DenyFiles, gc.DenyCommands, next)
}

// Run executes request. The report is returned whenever the run got as far
// as taking a repository snapshot; the error is non-nil when the plan did
// not complete. Already-applied edits are never rolled back.
func (o *Orchestrator) Run(ctx context.Context, request string) (*Report, error) {
	if !o.running.CompareAndSwap(false, true) {
		return nil, ErrBusy
	}
	defer o.running.Store(false)

	start := time.Now()
	r := &run{o: o, id: uuid.NewString(), sink: o.sink}
	o.collector.Begin(r.id)

	snap, err := o.inspector.Snapshot(ctx, o.ws)
	if err != nil {
		return nil, fmt.Errorf("failed to snapshot repository: %w", err)
	}
	r.ac = session.New(request, snap)
	_ = r.ac.SetStatus(session.TaskRunning)
	r.emit(eventlog.KindRunStarted, nil, "%s", request)
	o.logger.Info("🚀 Run %s started in %s (%d files)", r.id, snap.Root, len(snap.Files))

	engine, err := workflow.NewEngine(workflow.Config{
		Registry: o.registry,
		Deps: roles.Deps{
			Client:   o.client,
			Renderer: o.renderer,
			Executor: o.exec,
			Config:   o.cfg,
			WorkDir:  o.ws.Root(),
		},
		Builder:       o.builder,
		Context:       r.ac,
		Sink:          o.sink,
		Recorder:      o.recorder,
		AfterStep:     r.afterStep,
		RunID:         r.id,
		MaxSteps:      o.cfg.Workflow.MaxSteps,
		MaxRecoveries: o.cfg.Workflow.MaxRecoveries,
		Timeout:       o.cfg.Workflow.Timeout(),
	})
	if err != nil {
		return nil, err
	}

	p, runErr := engine.CreatePlan(ctx, request)
	if runErr == nil {
		runErr = engine.Execute(ctx, p)
	}

	canceled := errors.Is(runErr, workflow.ErrCanceled) || ctx.Err() != nil
	report := newReport(r.id, request, p, runErr)
	report.Canceled = canceled

	switch {
	case canceled:
		_ = r.ac.SetStatus(session.TaskCanceled)
	case report.Status == workflow.StatusCompleted:
		_ = r.ac.SetStatus(session.TaskCompleted)
	default:
		_ = r.ac.SetStatus(session.TaskFailed)
	}

	if canceled {
		// Partial results stay readable; later writes are rejected.
		r.ac.Freeze()
		o.logger.Warn("⏹️  Run %s canceled; skipping final checks", r.id)
	} else {
		report.Checks = r.finalChecks(ctx)
	}
	report.FilesTouched = r.ac.Task().FilesTouched
	report.Telemetry = o.closeTelemetry(ctx, r)
	report.Duration = time.Since(start)

	r.emit(eventlog.KindRunFinished, nil, "%s", report.Status)
	o.logger.Info("🏁 Run %s %s", r.id, report.Status)
	return report, runErr
}

// finalChecks runs the configured plan-independent checks in order. A
// check that cannot run is reported as failed.
func (r *run) finalChecks(ctx context.Context) []CheckResult {
	commands := r.o.cfg.Checks.Final
	if len(commands) == 0 {
		return nil
	}
	out := make([]CheckResult, 0, len(commands))
	for _, command := range commands {
		res, err := r.o.checker.Final(ctx, command)
		if err != nil {
			r.o.logger.Error("❌ Final check %q could not run: %v", command, err)
			res = &CheckResult{Name: "final", Command: command, ExitCode: -1, Output: err.Error()}
		}
		r.recordResult(res)
		r.emit(eventlog.KindFinalCheck, nil, "`%s` %s (exit %d)", command, verdict(res.Passed), res.ExitCode)
		out = append(out, *res)
	}
	return out
}

// closeTelemetry summarizes and flushes the run's collector. Flushing uses a
// context detached from cancellation so a canceled run still archives.
func (o *Orchestrator) closeTelemetry(ctx context.Context, r *run) telemetry.Summary {
	summary := o.collector.Summary(o.cfg.Workflow.BaselineModel, o.cfg.CostFor)
	r.emit(eventlog.KindTelemetry, nil, "%s", summary)

	flushCtx := context.WithoutCancel(ctx)
	var archive telemetry.Archiver
	if o.store != nil {
		archive = o.store
	}
	if err := o.collector.Flush(flushCtx, archive); err != nil {
		o.logger.Warn("⚠️  %v", err)
	}

	if path := o.cfg.Metrics.TextfilePath; path != "" {
		if g, ok := o.recorder.(interface{ Gatherer() prometheus.Gatherer }); ok {
			if err := telemetry.WriteTextfile(path, g.Gatherer()); err != nil {
				o.logger.Warn("⚠️  Failed to write metrics textfile: %v", err)
			}
		}
	}
	return summary
}
