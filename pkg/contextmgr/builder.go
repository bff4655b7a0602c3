package contextmgr

import (
	"context"
	"fmt"
	"sort"

	"agentflow/pkg/config"
	"agentflow/pkg/plan"
	"agentflow/pkg/proto"
	"agentflow/pkg/session"
)

// maxOverviewFiles bounds the coordinator's project overview.
const maxOverviewFiles = 200

// Options sizes the projections.
type Options struct {
	HistoryWindow   int // planner history entries
	RecentOutputs   int // implementer outputs shown to the verifier
	FileTokenBudget int // per-file token cap
}

// OptionsFromConfig reads the context section of cfg.
func OptionsFromConfig(cfg config.ContextConfig) Options {
	return Options{
		HistoryWindow:   cfg.HistoryWindow,
		RecentOutputs:   cfg.RecentOutputs,
		FileTokenBudget: cfg.FileTokenBudget,
	}
}

// Builder projects slices. It only reads the AgentContext.
type Builder struct {
	cache      *FileCache
	summarizer *Summarizer
	opts       Options
}

// NewBuilder returns a builder reading files through cache.
func NewBuilder(cache *FileCache, summarizer *Summarizer, opts Options) *Builder {
	if opts.HistoryWindow <= 0 {
		opts.HistoryWindow = 10
	}
	if opts.RecentOutputs <= 0 {
		opts.RecentOutputs = 5
	}
	if summarizer == nil {
		summarizer = NewSummarizer(cache, nil)
	}
	return &Builder{cache: cache, summarizer: summarizer, opts: opts}
}

// Build returns the slice for role.
func (b *Builder) Build(ctx context.Context, role proto.Role, ac *session.AgentContext, in proto.StepInput) (*Slice, error) {
	s := &Slice{Role: role, Request: ac.Request()}

	switch role {
	case proto.RoleCoordinator:
		s.History = ac.History()
		overview, err := b.overview(ctx, ac.Repo().Files)
		if err != nil {
			return nil, err
		}
		s.Overview = overview

	case proto.RolePlanner:
		history := ac.History()
		if len(history) > b.opts.HistoryWindow {
			history = history[len(history)-b.opts.HistoryWindow:]
		}
		s.History = history
		s.Files = ac.Repo().Files
		task := ac.Task()
		s.Task = &task

	case proto.RoleImplementer, proto.RoleVerifier:
		s.History = authoredBy(ac.History(), proto.RolePlanner, proto.RoleSystem)
		files := actionFiles(in)
		if role == proto.RoleVerifier {
			outputs := authoredBy(ac.History(), proto.RoleImplementer)
			if len(outputs) > b.opts.RecentOutputs {
				outputs = outputs[len(outputs)-b.opts.RecentOutputs:]
			}
			s.RecentOutputs = outputs
			if len(files) == 0 {
				files = ac.Task().FilesTouched
			}
		}
		contents, err := b.contents(files)
		if err != nil {
			return nil, err
		}
		s.Contents = contents

	case proto.RoleReviewer:
		s.History = ac.History()
		repo := ac.Repo()
		s.Repo = &repo
		s.Files = repo.Files
		task := ac.Task()
		s.Task = &task
		s.Diff = task.Diff
		contents, err := b.contents(task.FilesTouched)
		if err != nil {
			return nil, err
		}
		s.Contents = contents

	default:
		return nil, fmt.Errorf("no context rule for role %q", role)
	}
	if bag := ac.Bag(role); len(bag) > 0 {
		s.Notes = bag
	}
	return s, nil
}

func (b *Builder) overview(ctx context.Context, files []string) ([]FileSummary, error) {
	if len(files) > maxOverviewFiles {
		files = files[:maxOverviewFiles]
	}
	out := make([]FileSummary, 0, len(files))
	for _, f := range files {
		sum, err := b.summarizer.Summarize(ctx, f)
		if err != nil {
			return nil, err
		}
		out = append(out, FileSummary{Path: f, Summary: sum})
	}
	return out, nil
}

func (b *Builder) contents(files []string) ([]FileView, error) {
	sorted := append([]string(nil), files...)
	sort.Strings(sorted)
	out := make([]FileView, 0, len(sorted))
	for _, f := range sorted {
		view, err := b.cache.Get(f, b.opts.FileTokenBudget)
		if err != nil {
			return nil, err
		}
		out = append(out, view)
	}
	return out, nil
}

func authoredBy(history []session.HistoryEntry, authors ...proto.Role) []session.HistoryEntry {
	var out []session.HistoryEntry
	for _, h := range history {
		for _, a := range authors {
			if h.Author == a {
				out = append(out, h)
				break
			}
		}
	}
	return out
}

// actionFiles returns the file the step's edit action touches, if any.
func actionFiles(in proto.StepInput) []string {
	if a := in.EffectiveAction(); a != nil && a.Kind == plan.KindEdit {
		return []string{a.File}
	}
	return nil
}
