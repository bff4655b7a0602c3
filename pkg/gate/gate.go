// Package gate asks for confirmation before an edit or command is applied.
package gate

import (
	"context"
	"fmt"
	"regexp"

	"github.com/bmatcuk/doublestar/v4"
)

// ChangeKind distinguishes file edits from command executions.
type ChangeKind string

const (
	ChangeEdit    ChangeKind = "edit"
	ChangeCommand ChangeKind = "command"
)

// Change is a proposed side effect awaiting confirmation.
type Change struct {
	Kind    ChangeKind
	StepID  string
	File    string // edit: root-relative path
	Cmd     string // command: shell line
	Summary string
	Diff    string // edit: unified diff preview
}

func (c Change) String() string {
	if c.Kind == ChangeCommand {
		return fmt.Sprintf("run %q", c.Cmd)
	}
	return fmt.Sprintf("edit %s", c.File)
}

// Decision is the gate's answer.
type Decision struct {
	Approved bool
	Reason   string
}

// Approve returns an approving decision.
func Approve() Decision { return Decision{Approved: true} }

// Deny returns a denying decision with reason.
func Deny(reason string) Decision { return Decision{Reason: reason} }

// Gate confirms proposed changes.
type Gate interface {
	Confirm(ctx context.Context, change Change) (Decision, error)
}

// DeniedError reports a denied change as a step failure.
type DeniedError struct {
	Change Change
	Reason string
}

func (e *DeniedError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("confirmation denied: %s", e.Change)
	}
	return fmt.Sprintf("confirmation denied: %s: %s", e.Change, e.Reason)
}

// AutoApprove approves everything.
type AutoApprove struct{}

// Confirm implements Gate.
func (AutoApprove) Confirm(context.Context, Change) (Decision, error) {
	return Approve(), nil
}

// PolicyGate denies changes matching configured patterns and delegates the
// rest to Next.
type PolicyGate struct {
	denyFiles    []string
	denyCommands []*regexp.Regexp
	next         Gate
}

// NewPolicyGate builds a policy gate. denyFiles are doublestar globs,
// denyCommands are regular expressions. A nil next approves.
func NewPolicyGate(denyFiles, denyCommands []string, next Gate) (*PolicyGate, error) {
	for _, pattern := range denyFiles {
		if !doublestar.ValidatePattern(pattern) {
			return nil, fmt.Errorf("invalid file deny pattern %q", pattern)
		}
	}
	compiled := make([]*regexp.Regexp, 0, len(denyCommands))
	for _, pattern := range denyCommands {
		re, err := regexp.Compile(pattern)
		if err != nil {
			return nil, fmt.Errorf("invalid command deny pattern %q: %w", pattern, err)
		}
		compiled = append(compiled, re)
	}
	if next == nil {
		next = AutoApprove{}
	}
	return &PolicyGate{denyFiles: denyFiles, denyCommands: compiled, next: next}, nil
}

// Confirm implements Gate.
func (g *PolicyGate) Confirm(ctx context.Context, change Change) (Decision, error) {
	switch change.Kind {
	case ChangeEdit:
		for _, pattern := range g.denyFiles {
			if ok, _ := doublestar.Match(pattern, change.File); ok {
				return Deny(fmt.Sprintf("%s matches protected pattern %q", change.File, pattern)), nil
			}
		}
	case ChangeCommand:
		for _, re := range g.denyCommands {
			if re.MatchString(change.Cmd) {
				return Deny(fmt.Sprintf("command matches denied pattern %q", re.String())), nil
			}
		}
	}
	return g.next.Confirm(ctx, change)
}
