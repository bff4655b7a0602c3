package contextmgr

import (
	"fmt"
	"sort"
	"strings"

	"agentflow/pkg/proto"
	"agentflow/pkg/session"
)

// FileSummary is one line of a project overview.
type FileSummary struct {
	Path    string
	Summary string
}

// Slice is the context an agent receives. Every field is a copy; nil or
// empty fields were excluded for the role.
type Slice struct {
	Role          proto.Role
	Request       string
	History       []session.HistoryEntry
	Overview      []FileSummary
	Files         []string
	Task          *session.TaskState
	Repo          *session.RepoSnapshot
	Contents      []FileView
	RecentOutputs []session.HistoryEntry
	Diff          string
	Notes         map[string]any // the role's bag
}

// Content returns the view of path, if the slice carries it.
func (s *Slice) Content(path string) (FileView, bool) {
	for _, v := range s.Contents {
		if v.Path == path {
			return v, true
		}
	}
	return FileView{}, false
}

// Render formats the slice as the text payload of a prompt. Output depends
// only on the slice, so equal slices render identically.
func (s *Slice) Render() string {
	var b strings.Builder
	section := func(title string) {
		if b.Len() > 0 {
			b.WriteString("\n")
		}
		fmt.Fprintf(&b, "## %s\n", title)
	}

	section("Request")
	b.WriteString(s.Request)
	b.WriteString("\n")

	if s.Repo != nil {
		section("Repository")
		fmt.Fprintf(&b, "root: %s\n", s.Repo.Root)
		if s.Repo.IsGit {
			fmt.Fprintf(&b, "branch: %s\nclean: %t\n", s.Repo.Branch, s.Repo.Clean)
		}
	}

	if len(s.Overview) > 0 {
		section("Project overview")
		for _, f := range s.Overview {
			fmt.Fprintf(&b, "- %s: %s\n", f.Path, f.Summary)
		}
	} else if len(s.Files) > 0 {
		section("Files")
		for _, f := range s.Files {
			fmt.Fprintf(&b, "- %s\n", f)
		}
	}

	if s.Task != nil {
		section("Task state")
		fmt.Fprintf(&b, "status: %s\n", s.Task.Status)
		if len(s.Task.FilesTouched) > 0 {
			fmt.Fprintf(&b, "files touched: %s\n", strings.Join(s.Task.FilesTouched, ", "))
		}
		for _, e := range s.Task.Errors {
			fmt.Fprintf(&b, "error: %s\n", e)
		}
		for _, r := range s.Task.TestResults {
			verdict := "pass"
			if !r.Passed {
				verdict = "fail"
			}
			fmt.Fprintf(&b, "check %q: %s (exit %d)\n", r.Command, verdict, r.ExitCode)
		}
	}

	if len(s.History) > 0 {
		section("History")
		for _, h := range s.History {
			fmt.Fprintf(&b, "[%s] %s\n", h.Author, h.Content)
		}
	}

	if len(s.RecentOutputs) > 0 {
		section("Recent implementer outputs")
		for _, h := range s.RecentOutputs {
			fmt.Fprintf(&b, "- %s\n", h.Content)
		}
	}

	for _, v := range s.Contents {
		section("File " + v.Path)
		if !v.Exists {
			b.WriteString("(file does not exist yet)\n")
			continue
		}
		b.WriteString("```\n")
		b.WriteString(v.Content)
		if !strings.HasSuffix(v.Content, "\n") {
			b.WriteString("\n")
		}
		b.WriteString("```\n")
	}

	if len(s.Notes) > 0 {
		section("Notes")
		keys := make([]string, 0, len(s.Notes))
		for k := range s.Notes {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(&b, "%s: %v\n", k, s.Notes[k])
		}
	}

	if s.Diff != "" {
		section("Diff")
		b.WriteString("```diff\n")
		b.WriteString(s.Diff)
		if !strings.HasSuffix(s.Diff, "\n") {
			b.WriteString("\n")
		}
		b.WriteString("```\n")
	}
	return b.String()
}
