package contextmgr

import (
	"bufio"
	"context"
	"fmt"
	"strings"

	"agentflow/pkg/logx"
	"agentflow/pkg/persistence"
)

// SummaryStore persists summaries by content hash. *persistence.Store implements it.
type SummaryStore interface {
	GetSummary(ctx context.Context, hash string) (persistence.Summary, bool, error)
	PutSummary(ctx context.Context, sum persistence.Summary) error
}

// Summarizer produces deterministic one-line file summaries for project
// overviews. Store is optional; when set, summaries are looked up and
// saved by content hash.
type Summarizer struct {
	cache *FileCache
	store SummaryStore
}

// NewSummarizer returns a summarizer reading through cache. store may be nil.
func NewSummarizer(cache *FileCache, store SummaryStore) *Summarizer {
	return &Summarizer{cache: cache, store: store}
}

// Summarize returns the summary of path. Missing files summarize as "(missing)".
func (s *Summarizer) Summarize(ctx context.Context, path string) (string, error) {
	view, err := s.cache.Get(path, 0)
	if err != nil {
		return "", err
	}
	if !view.Exists {
		return "(missing)", nil
	}

	if s.store != nil {
		sum, ok, err := s.store.GetSummary(ctx, view.Hash)
		if err != nil {
			logx.Debug(ctx, "context", "summary lookup for %s failed: %v", path, err)
		} else if ok {
			return sum.Summary, nil
		}
	}

	text := summarize(view)
	if s.store != nil {
		err := s.store.PutSummary(ctx, persistence.Summary{
			ContentHash: view.Hash,
			Path:        path,
			Summary:     text,
			Tokens:      view.Tokens,
		})
		if err != nil {
			logx.Debug(ctx, "context", "summary store for %s failed: %v", path, err)
		}
	}
	return text, nil
}

func summarize(view FileView) string {
	lines := strings.Count(view.Content, "\n")
	if view.Content != "" && !strings.HasSuffix(view.Content, "\n") {
		lines++
	}
	out := fmt.Sprintf("%d lines, %d tokens", lines, view.Tokens)
	if lead := leadingComment(view.Content); lead != "" {
		out += "; " + lead
	}
	return out
}

// leadingComment returns the first comment line of content, stripped of its marker.
func leadingComment(content string) string {
	scanner := bufio.NewScanner(strings.NewReader(content))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#!") {
			continue
		}
		for _, marker := range []string{"//", "#", "--", "/*", "*"} {
			if strings.HasPrefix(line, marker) {
				text := strings.TrimSpace(strings.TrimSuffix(strings.TrimPrefix(line, marker), "*/"))
				if len(text) > 100 {
					text = text[:100]
				}
				return text
			}
		}
		return ""
	}
	return ""
}
