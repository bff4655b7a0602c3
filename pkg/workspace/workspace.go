// Package workspace gives agents rooted, journaled access to the project tree.
package workspace

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/pmezard/go-difflib/difflib"
)

// ErrOutsideRoot is returned for paths that escape the workspace root.
var ErrOutsideRoot = errors.New("path escapes workspace root")

// FS is the file-system collaborator used by the implementer, the context
// builder and the repo snapshot.
type FS interface {
	Root() string
	ReadFile(path string) ([]byte, error)
	WriteFile(path string, data []byte) error
	ListFiles() ([]string, error)
}

// Workspace is an FS rooted at one directory. Every write is journaled so the
// accumulated change can be rendered as a unified diff.
type Workspace struct {
	root   string
	ignore []string

	mu        sync.Mutex
	originals map[string]*string // nil value: file did not exist
	order     []string
}

// New creates a workspace rooted at root. ignore holds doublestar patterns
// relative to root that ListFiles skips.
func New(root string, ignore []string) (*Workspace, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve workspace root: %w", err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("workspace root: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("workspace root %s is not a directory", abs)
	}
	for _, pattern := range ignore {
		if !doublestar.ValidatePattern(pattern) {
			return nil, fmt.Errorf("invalid ignore pattern %q", pattern)
		}
	}
	return &Workspace{
		root:      abs,
		ignore:    ignore,
		originals: make(map[string]*string),
	}, nil
}

// Root returns the absolute root directory.
func (w *Workspace) Root() string {
	return w.root
}

// Resolve returns the absolute path for a root-relative path, rejecting
// anything that escapes the root.
func (w *Workspace) Resolve(path string) (string, error) {
	if path == "" {
		return "", fmt.Errorf("empty path")
	}
	var abs string
	if filepath.IsAbs(path) {
		abs = filepath.Clean(path)
	} else {
		abs = filepath.Join(w.root, path)
	}
	rel, err := filepath.Rel(w.root, abs)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %s", ErrOutsideRoot, path)
	}
	return abs, nil
}

// Rel returns the slash-separated root-relative form of path.
func (w *Workspace) Rel(path string) (string, error) {
	abs, err := w.Resolve(path)
	if err != nil {
		return "", err
	}
	rel, err := filepath.Rel(w.root, abs)
	if err != nil {
		return "", err
	}
	return filepath.ToSlash(rel), nil
}

// ReadFile reads a root-relative file.
func (w *Workspace) ReadFile(path string) ([]byte, error) {
	abs, err := w.Resolve(path)
	if err != nil {
		return nil, err
	}
	return os.ReadFile(abs)
}

// WriteFile writes a root-relative file, creating parent directories and
// recording the original content on first touch.
func (w *Workspace) WriteFile(path string, data []byte) error {
	abs, err := w.Resolve(path)
	if err != nil {
		return err
	}
	rel, err := w.Rel(path)
	if err != nil {
		return err
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if _, seen := w.originals[rel]; !seen {
		prev, readErr := os.ReadFile(abs)
		switch {
		case readErr == nil:
			s := string(prev)
			w.originals[rel] = &s
		case errors.Is(readErr, fs.ErrNotExist):
			w.originals[rel] = nil
		default:
			return fmt.Errorf("failed to snapshot %s: %w", rel, readErr)
		}
		w.order = append(w.order, rel)
	}

	if err := os.MkdirAll(filepath.Dir(abs), 0755); err != nil {
		return fmt.Errorf("failed to create directory for %s: %w", rel, err)
	}
	mode := os.FileMode(0644)
	if info, statErr := os.Stat(abs); statErr == nil {
		mode = info.Mode().Perm()
	}
	if err := os.WriteFile(abs, data, mode); err != nil {
		return fmt.Errorf("failed to write %s: %w", rel, err)
	}
	return nil
}

// ChangedFiles returns written files in first-write order.
func (w *Workspace) ChangedFiles() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]string(nil), w.order...)
}

// Diff renders the unified diff of every journaled file against its
// original content.
func (w *Workspace) Diff() (string, error) {
	w.mu.Lock()
	files := append([]string(nil), w.order...)
	originals := make(map[string]*string, len(w.originals))
	for k, v := range w.originals {
		originals[k] = v
	}
	w.mu.Unlock()

	var b strings.Builder
	for _, rel := range files {
		current, err := os.ReadFile(filepath.Join(w.root, filepath.FromSlash(rel)))
		if err != nil && !errors.Is(err, fs.ErrNotExist) {
			return "", fmt.Errorf("failed to read %s: %w", rel, err)
		}
		from := "a/" + rel
		before := ""
		if orig := originals[rel]; orig != nil {
			before = *orig
		} else {
			from = "/dev/null"
		}
		text, err := difflib.GetUnifiedDiffString(difflib.UnifiedDiff{
			A:        difflib.SplitLines(before),
			B:        difflib.SplitLines(string(current)),
			FromFile: from,
			ToFile:   "b/" + rel,
			Context:  3,
		})
		if err != nil {
			return "", fmt.Errorf("failed to diff %s: %w", rel, err)
		}
		b.WriteString(text)
	}
	return b.String(), nil
}

// ListFiles returns root-relative, slash-separated regular files not
// matched by an ignore pattern, sorted.
func (w *Workspace) ListFiles() ([]string, error) {
	var files []string
	err := filepath.WalkDir(w.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if path == w.root {
			return nil
		}
		rel, relErr := filepath.Rel(w.root, path)
		if relErr != nil {
			return relErr
		}
		rel = filepath.ToSlash(rel)
		if d.IsDir() {
			if w.ignored(rel) || w.ignored(rel+"/") {
				return filepath.SkipDir
			}
			return nil
		}
		if d.Type().IsRegular() && !w.ignored(rel) {
			files = append(files, rel)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list workspace files: %w", err)
	}
	sort.Strings(files)
	return files, nil
}

func (w *Workspace) ignored(rel string) bool {
	for _, pattern := range w.ignore {
		if ok, _ := doublestar.Match(pattern, rel); ok {
			return true
		}
	}
	return false
}
