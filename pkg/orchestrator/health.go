package orchestrator

import (
	"context"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"

	"agentflow/pkg/config"
	"agentflow/pkg/exec"
	"agentflow/pkg/plan"
)

// Health predicates are expr programs evaluated against a check result.
// Variables: exit_code, output, command, expect, file, timed_out.
const (
	DefaultExitPredicate    = `exit_code == 0 && !timed_out`
	DefaultCommandPredicate = `expect == "pass" ? exit_code == 0 : (expect == "fail" ? exit_code != 0 : true)`
)

// failureTailLines bounds the command output carried in failure text.
const failureTailLines = 30

// CheckResult is one executed health or final check.
type CheckResult struct {
	Name     string        `json:"name"`
	Command  string        `json:"command"`
	File     string        `json:"file,omitempty"`
	Expect   plan.Expect   `json:"expect,omitempty"`
	Output   string        `json:"output,omitempty"`
	Duration time.Duration `json:"duration"`
	ExitCode int           `json:"exit_code"`
	Passed   bool          `json:"passed"`
	TimedOut bool          `json:"timed_out,omitempty"`
}

// Failure describes a failed check for hints and reports.
func (c *CheckResult) Failure() string {
	var b strings.Builder
	switch {
	case c.TimedOut:
		fmt.Fprintf(&b, "`%s` timed out", c.Command)
	case c.Expect == plan.ExpectFail:
		fmt.Fprintf(&b, "`%s` exited %d, expected a failure", c.Command, c.ExitCode)
	default:
		fmt.Fprintf(&b, "`%s` exited %d", c.Command, c.ExitCode)
	}
	if out := tail(c.Output, failureTailLines); out != "" {
		b.WriteString(":\n")
		b.WriteString(out)
	}
	return b.String()
}

func (c *CheckResult) env() map[string]any {
	return map[string]any{
		"exit_code": c.ExitCode,
		"output":    c.Output,
		"command":   c.Command,
		"expect":    string(c.Expect),
		"file":      c.File,
		"timed_out": c.TimedOut,
	}
}

// HealthError is a step failure caused by a failing health check.
type HealthError struct {
	StepID string
	Check  *CheckResult
	// Healed is set when the self-heal attempt already ran.
	Healed bool
}

func (e *HealthError) Error() string {
	msg := fmt.Sprintf("health check failed: %s", e.Check.Failure())
	if e.Healed {
		msg += " (after self-heal)"
	}
	return msg
}

// HealthChecker runs post-step checks and judges them with expr predicates.
type HealthChecker struct {
	exec    exec.Executor
	workDir string
	timeout time.Duration
	edit    map[string]string

	exitPredicate    *vm.Program
	commandPredicate *vm.Program
}

// NewHealthChecker compiles the predicates for checks. Commands run in workDir.
func NewHealthChecker(e exec.Executor, workDir string, checks config.ChecksConfig) (*HealthChecker, error) {
	exitProgram, err := compilePredicate(DefaultExitPredicate)
	if err != nil {
		return nil, err
	}
	src := checks.CommandPredicate
	if strings.TrimSpace(src) == "" {
		src = DefaultCommandPredicate
	}
	commandProgram, err := compilePredicate(src)
	if err != nil {
		return nil, err
	}

	edit := make(map[string]string, len(checks.Edit))
	for ext, command := range checks.Edit {
		if !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		edit[strings.ToLower(ext)] = command
	}
	return &HealthChecker{
		exec:             e,
		workDir:          workDir,
		timeout:          checks.Timeout(),
		edit:             edit,
		exitPredicate:    exitProgram,
		commandPredicate: commandProgram,
	}, nil
}

func compilePredicate(src string) (*vm.Program, error) {
	program, err := expr.Compile(src, expr.Env((&CheckResult{}).env()), expr.AsBool())
	if err != nil {
		return nil, fmt.Errorf("invalid health predicate %q: %w", src, err)
	}
	return program, nil
}

// EditCheck returns the check command configured for file's extension.
func (h *HealthChecker) EditCheck(file string) (string, bool) {
	command, ok := h.edit[strings.ToLower(path.Ext(file))]
	if !ok || strings.TrimSpace(command) == "" {
		return "", false
	}
	return command, true
}

// CheckEdit runs the build/type check for an edited file. ok is false when
// no check is configured for its extension.
func (h *HealthChecker) CheckEdit(ctx context.Context, file string) (res *CheckResult, ok bool, err error) {
	command, ok := h.EditCheck(file)
	if !ok {
		return nil, false, nil
	}
	res, err = h.run(ctx, "edit "+file, command)
	if err != nil {
		return nil, true, err
	}
	res.File = file
	return res, true, h.judge(h.exitPredicate, res)
}

// CheckCommand runs an implementer command and judges its exit code
// against the action's expectation.
func (h *HealthChecker) CheckCommand(ctx context.Context, command string, expect plan.Expect) (*CheckResult, error) {
	if expect == "" {
		expect = plan.ExpectUnknown
	}
	res, err := h.run(ctx, "command", command)
	if err != nil {
		return nil, err
	}
	res.Expect = expect
	return res, h.judge(h.commandPredicate, res)
}

// Final runs a plan-independent check. It passes on a clean exit.
func (h *HealthChecker) Final(ctx context.Context, command string) (*CheckResult, error) {
	res, err := h.run(ctx, "final", command)
	if err != nil {
		return nil, err
	}
	return res, h.judge(h.exitPredicate, res)
}

func (h *HealthChecker) run(ctx context.Context, name, command string) (*CheckResult, error) {
	start := time.Now()
	out, err := h.exec.Run(ctx, exec.Shell(command), &exec.Opts{WorkDir: h.workDir, Timeout: h.timeout})
	if err != nil {
		return nil, fmt.Errorf("failed to run %q: %w", command, err)
	}
	return &CheckResult{
		Name:     name,
		Command:  command,
		Output:   out.Combined(),
		Duration: time.Since(start),
		ExitCode: out.ExitCode,
		TimedOut: out.TimedOut,
	}, nil
}

func (h *HealthChecker) judge(program *vm.Program, res *CheckResult) error {
	out, err := expr.Run(program, res.env())
	if err != nil {
		return fmt.Errorf("health predicate for %q: %w", res.Command, err)
	}
	passed, ok := out.(bool)
	if !ok {
		return fmt.Errorf("health predicate for %q returned %T", res.Command, out)
	}
	res.Passed = passed
	return nil
}

func tail(s string, n int) string {
	s = strings.TrimRight(s, "\n")
	if s == "" {
		return ""
	}
	lines := strings.Split(s, "\n")
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return strings.Join(lines, "\n")
}
