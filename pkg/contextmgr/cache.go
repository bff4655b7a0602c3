package contextmgr

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"sync"

	"agentflow/pkg/utils"
	"agentflow/pkg/workspace"
)

// FileView is a processed, token-bounded view of one file.
type FileView struct {
	Path      string
	Hash      string
	Content   string
	Tokens    int
	Exists    bool
	Truncated bool
}

type viewKey struct {
	hash   string
	budget int
}

// FileCache memoizes processed file views by content hash. A file whose
// content changes gets a new key, so stale entries are never served; they
// simply age out. Eviction is oldest-first once Max entries are held.
type FileCache struct {
	fs      workspace.FS
	entries map[viewKey]FileView
	order   []viewKey
	max     int
	hits    int
	misses  int
	mu      sync.Mutex
}

// NewFileCache returns a cache over fsys holding at most maxEntries views.
func NewFileCache(fsys workspace.FS, maxEntries int) *FileCache {
	if maxEntries <= 0 {
		maxEntries = 256
	}
	return &FileCache{
		fs:      fsys,
		entries: make(map[viewKey]FileView),
		max:     maxEntries,
	}
}

// Hash returns the hex SHA-256 of content.
func Hash(content []byte) string {
	sum := sha256.Sum256(content)
	return hex.EncodeToString(sum[:])
}

// Get returns the view of path truncated to budget tokens (0 means no limit).
// A file that does not exist yields a view with Exists=false and no error.
func (c *FileCache) Get(path string, budget int) (FileView, error) {
	data, err := c.fs.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return FileView{Path: path}, nil
	}
	if err != nil {
		return FileView{}, fmt.Errorf("failed to read %s: %w", path, err)
	}

	key := viewKey{hash: Hash(data), budget: budget}
	c.mu.Lock()
	if view, ok := c.entries[key]; ok {
		c.hits++
		c.mu.Unlock()
		view.Path = path
		return view, nil
	}
	c.misses++
	c.mu.Unlock()

	view := FileView{Path: path, Hash: key.hash, Content: string(data), Exists: true}
	if budget > 0 {
		view.Content, view.Truncated = utils.TruncateToTokenLimit(view.Content, budget)
	}
	view.Tokens = utils.CountTokens(view.Content)

	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.entries[key]; !ok {
		c.entries[key] = view
		c.order = append(c.order, key)
		for len(c.order) > c.max {
			delete(c.entries, c.order[0])
			c.order = c.order[1:]
		}
	}
	return view, nil
}

// Stats returns hit and miss counts.
func (c *FileCache) Stats() (hits, misses int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hits, c.misses
}

// Len returns the number of cached views.
func (c *FileCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
