// Package plan defines actions and change plans, and decodes them strictly
// from untrusted model output.
package plan

import (
	"fmt"
	"strings"

	"agentflow/pkg/utils"
)

// Kind discriminates the Action union.
type Kind string

const (
	KindEdit    Kind = "edit"
	KindCommand Kind = "command"
	KindMessage Kind = "message"
)

// Expect is the anticipated outcome of a command.
type Expect string

const (
	ExpectPass    Expect = "pass"
	ExpectFail    Expect = "fail"
	ExpectUnknown Expect = "unknown"
)

// Valid reports whether e is one of the fixed values.
func (e Expect) Valid() bool {
	switch e {
	case ExpectPass, ExpectFail, ExpectUnknown:
		return true
	}
	return false
}

// Action is one unit of work. Exactly the fields belonging to Kind are set:
// edit uses File, Description and Hints; command uses Cmd and Expect;
// message uses Content.
type Action struct {
	Kind        Kind     `json:"kind"`
	File        string   `json:"file,omitempty"`
	Description string   `json:"description,omitempty"`
	Hints       []string `json:"hints,omitempty"`
	Cmd         string   `json:"cmd,omitempty"`
	Expect      Expect   `json:"expect,omitempty"`
	Content     string   `json:"content,omitempty"`
}

// NewEdit returns an edit action for one file.
func NewEdit(file, description string, hints ...string) Action {
	return Action{Kind: KindEdit, File: file, Description: description, Hints: hints}
}

// NewCommand returns a command action.
func NewCommand(cmd string, expect Expect) Action {
	return Action{Kind: KindCommand, Cmd: cmd, Expect: expect}
}

// NewMessage returns a message action.
func NewMessage(content string) Action {
	return Action{Kind: KindMessage, Content: content}
}

// WithHint returns a copy of the action with hint appended. Self-healing uses
// it to feed failure output back to the implementer.
func (a Action) WithHint(hint string) Action {
	out := a
	out.Hints = append(append([]string(nil), a.Hints...), hint)
	return out
}

// Validate checks the action in isolation. path prefixes field names in errors.
func (a *Action) Validate(path string) error {
	field := func(name string) string { return path + "/" + name }

	switch a.Kind {
	case KindEdit:
		if strings.TrimSpace(a.File) == "" {
			return &ValidationError{Field: field("file"), Reason: "required for edit actions"}
		}
		if strings.TrimSpace(a.Description) == "" {
			return &ValidationError{Field: field("description"), Reason: "required for edit actions"}
		}
		if a.Cmd != "" || a.Expect != "" || a.Content != "" {
			return &ValidationError{Field: path, Reason: "edit actions accept only file, description and hints"}
		}
	case KindCommand:
		if strings.TrimSpace(a.Cmd) == "" {
			return &ValidationError{Field: field("cmd"), Reason: "required for command actions"}
		}
		if a.Expect == "" {
			return &ValidationError{Field: field("expect"), Reason: "required for command actions"}
		}
		if !a.Expect.Valid() {
			return &ValidationError{Field: field("expect"), Reason: fmt.Sprintf("must be one of pass, fail, unknown; got %q", a.Expect)}
		}
		if a.File != "" || a.Description != "" || len(a.Hints) > 0 || a.Content != "" {
			return &ValidationError{Field: path, Reason: "command actions accept only cmd and expect"}
		}
	case KindMessage:
		if a.Content == "" {
			return &ValidationError{Field: field("content"), Reason: "required for message actions"}
		}
		if a.File != "" || a.Description != "" || len(a.Hints) > 0 || a.Cmd != "" || a.Expect != "" {
			return &ValidationError{Field: path, Reason: "message actions accept only content"}
		}
	case "":
		return &ValidationError{Field: field("kind"), Reason: "required"}
	default:
		return &ValidationError{Field: field("kind"), Reason: fmt.Sprintf("unknown kind %q", a.Kind)}
	}
	return nil
}

// String renders a one-line label for reports.
func (a Action) String() string {
	switch a.Kind {
	case KindEdit:
		return fmt.Sprintf("Edit(%s)", a.File)
	case KindCommand:
		return fmt.Sprintf("Command(%q, expect=%s)", a.Cmd, a.Expect)
	case KindMessage:
		content := a.Content
		if len(content) > 40 {
			content = utils.TruncateBytes(content, 40) + "..."
		}
		return fmt.Sprintf("Message(%q)", content)
	default:
		return fmt.Sprintf("Action(%s)", a.Kind)
	}
}
