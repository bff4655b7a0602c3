package gate

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"golang.org/x/term"
)

// TerminalGate prompts on a terminal. Without an interactive input it denies.
type TerminalGate struct {
	in          *bufio.Reader
	out         io.Writer
	interactive bool
	mu          sync.Mutex

	readOnce sync.Once
	answers  chan answer
}

type answer struct {
	line string
	err  error
}

// NewTerminalGate prompts on stdin/stdout when stdin is a terminal.
func NewTerminalGate() *TerminalGate {
	return &TerminalGate{
		in:          bufio.NewReader(os.Stdin),
		out:         os.Stdout,
		interactive: term.IsTerminal(int(os.Stdin.Fd())),
	}
}

// NewPromptGate prompts on arbitrary streams, treating them as interactive.
func NewPromptGate(in io.Reader, out io.Writer) *TerminalGate {
	return &TerminalGate{in: bufio.NewReader(in), out: out, interactive: true}
}

// Confirm implements Gate.
func (g *TerminalGate) Confirm(ctx context.Context, change Change) (Decision, error) {
	if !g.interactive {
		return Deny("no interactive terminal to confirm changes (use --yes to auto-approve)"), nil
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if change.Diff != "" {
		fmt.Fprintln(g.out, change.Diff)
	}
	if change.Summary != "" {
		fmt.Fprintf(g.out, "%s\n", change.Summary)
	}
	fmt.Fprintf(g.out, "Apply: %s? [y/N]: ", change)

	select {
	case <-ctx.Done():
		return Decision{}, ctx.Err()
	case a, ok := <-g.lines():
		if !ok {
			return Deny("no answer (end of input)"), nil
		}
		if a.err != nil && a.line == "" {
			if a.err == io.EOF {
				return Deny("no answer (end of input)"), nil
			}
			return Decision{}, fmt.Errorf("failed to read confirmation: %w", a.err)
		}
		switch strings.ToLower(strings.TrimSpace(a.line)) {
		case "y", "yes":
			return Approve(), nil
		default:
			return Deny("declined by user"), nil
		}
	}
}

// lines starts the single reader of g.in. A line typed after a canceled
// prompt answers the next one.
func (g *TerminalGate) lines() <-chan answer {
	g.readOnce.Do(func() {
		g.answers = make(chan answer)
		go func() {
			defer close(g.answers)
			for {
				line, err := g.in.ReadString('\n')
				g.answers <- answer{line: line, err: err}
				if err != nil {
					return
				}
			}
		}()
	})
	return g.answers
}
