package workspace

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestWorkspace(t *testing.T, ignore ...string) (*Workspace, string) {
	t.Helper()
	dir := t.TempDir()
	ws, err := New(dir, ignore)
	require.NoError(t, err)
	return ws, ws.Root()
}

func TestResolveRejectsEscapes(t *testing.T) {
	ws, root := newTestWorkspace(t)

	abs, err := ws.Resolve("src/a.go")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(root, "src", "a.go"), abs)

	for _, p := range []string{"../x", "src/../../x", "/etc/passwd"} {
		_, err := ws.Resolve(p)
		assert.ErrorIs(t, err, ErrOutsideRoot, p)
	}
}

func TestWriteFileJournalsAndDiffs(t *testing.T) {
	ws, root := newTestWorkspace(t)
	require.NoError(t, os.WriteFile(filepath.Join(root, "a.txt"), []byte("one\ntwo\n"), 0600))

	require.NoError(t, ws.WriteFile("a.txt", []byte("one\nTWO\n")))
	require.NoError(t, ws.WriteFile("a.txt", []byte("one\nTHREE\n")))
	require.NoError(t, ws.WriteFile("dir/new.txt", []byte("fresh\n")))

	assert.Equal(t, []string{"a.txt", "dir/new.txt"}, ws.ChangedFiles())

	info, err := os.Stat(filepath.Join(root, "a.txt"))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())

	diff, err := ws.Diff()
	require.NoError(t, err)
	assert.Contains(t, diff, "--- a/a.txt")
	assert.Contains(t, diff, "-two")
	assert.Contains(t, diff, "+THREE")
	assert.NotContains(t, diff, "+TWO")
	assert.Contains(t, diff, "--- /dev/null")
	assert.Contains(t, diff, "+fresh")
}

func TestListFilesHonorsIgnore(t *testing.T) {
	ws, root := newTestWorkspace(t, ".git/**", "node_modules/**", "**/*.min.js")
	for _, f := range []string{"main.go", "pkg/x.go", ".git/HEAD", "node_modules/m/index.js", "web/app.min.js", "web/app.js"} {
		full := filepath.Join(root, filepath.FromSlash(f))
		require.NoError(t, os.MkdirAll(filepath.Dir(full), 0755))
		require.NoError(t, os.WriteFile(full, []byte("x"), 0644))
	}

	files, err := ws.ListFiles()
	require.NoError(t, err)
	assert.Equal(t, []string{"main.go", "pkg/x.go", "web/app.js"}, files)
}

func TestNewValidatesInput(t *testing.T) {
	_, err := New(filepath.Join(t.TempDir(), "missing"), nil)
	assert.Error(t, err)

	_, err = New(t.TempDir(), []string{"[unclosed"})
	assert.Error(t, err)
}
