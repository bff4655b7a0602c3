// Package git reads branch and cleanliness information and builds the
// repository snapshot given to agents.
package git

import (
	"context"
	"fmt"
	"strings"
	"time"

	"agentflow/pkg/exec"
	"agentflow/pkg/logx"
	"agentflow/pkg/session"
	"agentflow/pkg/workspace"
)

const gitTimeout = 10 * time.Second

// Status is the VCS state of a directory.
type Status struct {
	IsRepo bool
	Branch string
	Clean  bool
}

// Inspector runs git through an executor.
type Inspector struct {
	exec   exec.Executor
	logger *logx.Logger
}

// NewInspector creates an inspector using executor e.
func NewInspector(e exec.Executor) *Inspector {
	return &Inspector{exec: e, logger: logx.NewLogger("git")}
}

func (i *Inspector) git(ctx context.Context, dir string, args ...string) (exec.Result, error) {
	cmd := append([]string{"git"}, args...)
	return i.exec.Run(ctx, cmd, &exec.Opts{WorkDir: dir, Timeout: gitTimeout})
}

// Status reports branch and clean flag. A directory outside git is not an
// error; IsRepo is false.
func (i *Inspector) Status(ctx context.Context, dir string) (Status, error) {
	res, err := i.git(ctx, dir, "rev-parse", "--is-inside-work-tree")
	if err != nil {
		return Status{}, fmt.Errorf("git unavailable: %w", err)
	}
	if res.ExitCode != 0 || strings.TrimSpace(res.Stdout) != "true" {
		return Status{}, nil
	}

	st := Status{IsRepo: true}
	res, err = i.git(ctx, dir, "rev-parse", "--abbrev-ref", "HEAD")
	if err != nil {
		return st, fmt.Errorf("failed to read branch: %w", err)
	}
	if res.ExitCode == 0 {
		st.Branch = strings.TrimSpace(res.Stdout)
	}

	res, err = i.git(ctx, dir, "status", "--porcelain")
	if err != nil {
		return st, fmt.Errorf("failed to read status: %w", err)
	}
	st.Clean = res.ExitCode == 0 && strings.TrimSpace(res.Stdout) == ""
	return st, nil
}

// Snapshot builds the repository snapshot for a run. Git failures degrade to
// a non-git snapshot with a warning.
func (i *Inspector) Snapshot(ctx context.Context, ws workspace.FS) (session.RepoSnapshot, error) {
	files, err := ws.ListFiles()
	if err != nil {
		return session.RepoSnapshot{}, err
	}
	snap := session.RepoSnapshot{Root: ws.Root(), Files: files}

	st, err := i.Status(ctx, ws.Root())
	if err != nil {
		i.logger.Warn("⚠️  Could not read git status for %s: %v", ws.Root(), err)
		return snap, nil
	}
	snap.IsGit = st.IsRepo
	snap.Branch = st.Branch
	snap.Clean = st.Clean
	return snap, nil
}
