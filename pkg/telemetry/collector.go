// Package telemetry accumulates per-run completion usage and cost, and
// exports it to Prometheus, a node-exporter textfile and the sqlite archive.
package telemetry

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"agentflow/pkg/persistence"
)

// Record is one successful completion call. Records are never mutated
// after they are appended.
type Record struct {
	Timestamp  time.Time `json:"timestamp"`
	Role       string    `json:"role"`
	Model      string    `json:"model"`
	TokensIn   int       `json:"tokens_in"`
	TokensOut  int       `json:"tokens_out"`
	CostUSD    float64   `json:"cost_usd"`
	DurationMS int64     `json:"duration_ms"`
	Estimated  bool      `json:"estimated"` // token counts were derived locally
}

// Sink receives records as calls complete.
type Sink interface {
	Append(r Record)
}

// Pricer prices a call for a role and model. (*config.Config).CostFor satisfies it.
type Pricer func(role, model string, promptTokens, completionTokens int) float64

// Archiver persists records at flush time.
type Archiver interface {
	AppendTelemetry(ctx context.Context, rows []persistence.TelemetryRow) error
}

// Collector owns the telemetry of exactly one run.
type Collector struct {
	started time.Time
	runID   string
	records []Record
	mu      sync.Mutex
	flushed bool
}

// NewCollector returns an idle collector. Call Begin before the run starts.
func NewCollector() *Collector {
	return &Collector{}
}

// Begin resets the collector for a new run.
func (c *Collector) Begin(runID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.runID = runID
	c.started = time.Now()
	c.records = nil
	c.flushed = false
}

// RunID returns the run the collector is tracking.
func (c *Collector) RunID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.runID
}

// Append adds a record. Appends after Flush are dropped.
func (c *Collector) Append(r Record) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.flushed {
		return
	}
	if r.Timestamp.IsZero() {
		r.Timestamp = time.Now()
	}
	c.records = append(c.records, r)
}

// Records returns a copy of the records in append order.
func (c *Collector) Records() []Record {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Record, len(c.records))
	copy(out, c.records)
	return out
}

// RoleSummary aggregates the calls made by one role.
type RoleSummary struct {
	Role      string  `json:"role"`
	Calls     int     `json:"calls"`
	TokensIn  int     `json:"tokens_in"`
	TokensOut int     `json:"tokens_out"`
	CostUSD   float64 `json:"cost_usd"`
}

// Summary compares the run's actual spend to a single-model baseline.
type Summary struct {
	RunID           string        `json:"run_id"`
	BaselineModel   string        `json:"baseline_model"`
	ByRole          []RoleSummary `json:"by_role"`
	Calls           int           `json:"calls"`
	TokensIn        int           `json:"tokens_in"`
	TokensOut       int           `json:"tokens_out"`
	CostUSD         float64       `json:"cost_usd"`
	BaselineCostUSD float64       `json:"baseline_cost_usd"`
	DurationMS      int64         `json:"duration_ms"`
}

// SavingsUSD is the baseline cost minus the actual cost. Negative when
// routing roles to different models cost more than the baseline would have.
func (s Summary) SavingsUSD() float64 {
	return s.BaselineCostUSD - s.CostUSD
}

// String renders the summary for the final report.
func (s Summary) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "telemetry: %d calls, %d tokens in, %d tokens out, $%.4f",
		s.Calls, s.TokensIn, s.TokensOut, s.CostUSD)
	if s.BaselineModel != "" {
		fmt.Fprintf(&b, " (baseline %s: $%.4f, saved $%.4f)", s.BaselineModel, s.BaselineCostUSD, s.SavingsUSD())
	}
	for _, r := range s.ByRole {
		fmt.Fprintf(&b, "\n  %-12s %3d calls %8d in %8d out  $%.4f", r.Role, r.Calls, r.TokensIn, r.TokensOut, r.CostUSD)
	}
	return b.String()
}

// Summary aggregates the records. The baseline prices every call as if
// baselineModel had served it; price may be nil to skip the comparison.
func (c *Collector) Summary(baselineModel string, price Pricer) Summary {
	records := c.Records()
	s := Summary{RunID: c.RunID(), BaselineModel: baselineModel}
	byRole := map[string]*RoleSummary{}
	for i := range records {
		r := &records[i]
		s.Calls++
		s.TokensIn += r.TokensIn
		s.TokensOut += r.TokensOut
		s.CostUSD += r.CostUSD
		s.DurationMS += r.DurationMS
		if price != nil && baselineModel != "" {
			s.BaselineCostUSD += price(r.Role, baselineModel, r.TokensIn, r.TokensOut)
		}
		rs, ok := byRole[r.Role]
		if !ok {
			rs = &RoleSummary{Role: r.Role}
			byRole[r.Role] = rs
		}
		rs.Calls++
		rs.TokensIn += r.TokensIn
		rs.TokensOut += r.TokensOut
		rs.CostUSD += r.CostUSD
	}
	if price == nil {
		s.BaselineModel = ""
	}
	for _, rs := range byRole {
		s.ByRole = append(s.ByRole, *rs)
	}
	sort.Slice(s.ByRole, func(i, j int) bool { return s.ByRole[i].Role < s.ByRole[j].Role })
	return s
}

// Flush closes the run: further appends are dropped and, when archive is
// non-nil, the records are written to it. Flushing twice is a no-op.
func (c *Collector) Flush(ctx context.Context, archive Archiver) error {
	c.mu.Lock()
	if c.flushed {
		c.mu.Unlock()
		return nil
	}
	c.flushed = true
	runID := c.runID
	rows := make([]persistence.TelemetryRow, 0, len(c.records))
	for i := range c.records {
		r := &c.records[i]
		rows = append(rows, persistence.TelemetryRow{
			RunID:      runID,
			RecordedAt: r.Timestamp,
			Role:       r.Role,
			Model:      r.Model,
			TokensIn:   r.TokensIn,
			TokensOut:  r.TokensOut,
			CostUSD:    r.CostUSD,
			DurationMS: r.DurationMS,
		})
	}
	c.mu.Unlock()

	if archive == nil {
		return nil
	}
	if err := archive.AppendTelemetry(ctx, rows); err != nil {
		return fmt.Errorf("archive telemetry for run %s: %w", runID, err)
	}
	return nil
}
