package roles

import (
	"context"
	"fmt"
	"strings"
	"time"

	"agentflow/pkg/contextmgr"
	"agentflow/pkg/exec"
	"agentflow/pkg/proto"
	"agentflow/pkg/templates"
	"agentflow/pkg/utils"
)

// testOutputTokens caps the test output shown to the model.
const testOutputTokens = 4000

// Verifier runs the project's test command and evaluates recent changes.
type Verifier struct {
	base
}

// NewVerifier creates the verifier agent.
func NewVerifier(deps Deps) (*Verifier, error) {
	b, err := newBase(proto.RoleVerifier, deps)
	if err != nil {
		return nil, err
	}
	return &Verifier{base: b}, nil
}

type verdictResponse struct {
	Passed *bool         `json:"passed"`
	Issues []proto.Issue `json:"issues"`
}

// Process implements Agent. A failing test command rejects without a model
// call; otherwise the model judges the changes.
func (v *Verifier) Process(ctx context.Context, _ proto.StepInput, slice *contextmgr.Slice) (*proto.AgentResponse, error) {
	resp := &proto.AgentResponse{}
	data := &templates.TemplateData{Extra: map[string]any{}}

	if testCmd := v.deps.Config.Checks.Test; testCmd != "" && v.deps.Executor != nil {
		run, err := v.runTests(ctx, testCmd)
		if err != nil {
			return nil, err
		}
		resp.Set(proto.MetaTestRun, run)
		if run.ExitCode != 0 {
			issue := proto.Issue{Message: fmt.Sprintf("`%s` exited %d: %s", testCmd, run.ExitCode, lastLines(run.Output, 20))}
			resp.Set(proto.MetaIssues, []proto.Issue{issue})
			resp.Output = issue.Message
			resp.Next = proto.Reject(issue.Message, proto.RoleImplementer)
			v.logger.Warn("❌ Tests failed: %s exited %d", testCmd, run.ExitCode)
			return resp, nil
		}
		data.TestCommand = testCmd
		data.Extra["ExitCode"] = run.ExitCode
		data.Extra["TestOutput"], _ = utils.TruncateToTokenLimit(run.Output, testOutputTokens)
	}

	raw, err := v.ask(ctx, templates.VerifierTemplate, data, slice)
	if err != nil {
		return nil, err
	}
	var verdict verdictResponse
	if err := decodeObject(raw, &verdict); err != nil {
		return nil, err
	}
	if verdict.Passed == nil {
		return nil, invalid("verifier returned no pass/fail verdict")
	}
	resp.Set(proto.MetaIssues, verdict.Issues)

	if *verdict.Passed {
		resp.Output = "verification passed"
		resp.Next = proto.Continue("")
		return resp, nil
	}
	reason := formatIssues(verdict.Issues)
	resp.Output = reason
	resp.Next = proto.Reject(reason, proto.RoleImplementer)
	return resp, nil
}

func (v *Verifier) runTests(ctx context.Context, testCmd string) (*proto.TestRun, error) {
	start := time.Now()
	res, err := v.deps.Executor.Run(ctx, exec.Shell(testCmd), &exec.Opts{
		Timeout: v.deps.Config.Checks.Timeout(),
		WorkDir: v.deps.WorkDir,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to run test command %q: %w", testCmd, err)
	}
	return &proto.TestRun{
		Command:  testCmd,
		Output:   res.Combined(),
		ExitCode: res.ExitCode,
		Duration: time.Since(start),
	}, nil
}

func formatIssues(issues []proto.Issue) string {
	if len(issues) == 0 {
		return "verification failed without specific issues"
	}
	parts := make([]string, 0, len(issues))
	for _, is := range issues {
		if is.File != "" {
			parts = append(parts, is.File+": "+is.Message)
		} else {
			parts = append(parts, is.Message)
		}
	}
	return strings.Join(parts, "; ")
}

func lastLines(s string, n int) string {
	lines := strings.Split(strings.TrimRight(s, "\n"), "\n")
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return strings.Join(lines, "\n")
}
