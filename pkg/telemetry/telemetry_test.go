package telemetry

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"agentflow/pkg/persistence"
)

type memArchive struct {
	rows []persistence.TelemetryRow
	err  error
}

func (m *memArchive) AppendTelemetry(_ context.Context, rows []persistence.TelemetryRow) error {
	if m.err != nil {
		return m.err
	}
	m.rows = append(m.rows, rows...)
	return nil
}

func flatPrice(_, model string, in, out int) float64 {
	if model == "big" {
		return float64(in+out) * 0.01
	}
	return float64(in+out) * 0.001
}

func TestCollectorSummary(t *testing.T) {
	c := NewCollector()
	c.Begin("run-1")
	c.Append(Record{Role: "planner", Model: "small", TokensIn: 100, TokensOut: 50, CostUSD: 0.15, DurationMS: 10})
	c.Append(Record{Role: "reviewer", Model: "big", TokensIn: 200, TokensOut: 100, CostUSD: 3, DurationMS: 20})
	c.Append(Record{Role: "planner", Model: "small", TokensIn: 10, TokensOut: 5, CostUSD: 0.015, DurationMS: 5})

	s := c.Summary("big", flatPrice)
	assert.Equal(t, "run-1", s.RunID)
	assert.Equal(t, 3, s.Calls)
	assert.Equal(t, 310, s.TokensIn)
	assert.Equal(t, 155, s.TokensOut)
	assert.InDelta(t, 3.165, s.CostUSD, 1e-9)
	assert.InDelta(t, 4.65, s.BaselineCostUSD, 1e-9)
	assert.InDelta(t, 1.485, s.SavingsUSD(), 1e-9)
	assert.Equal(t, int64(35), s.DurationMS)
	require.Len(t, s.ByRole, 2)
	assert.Equal(t, "planner", s.ByRole[0].Role)
	assert.Equal(t, 2, s.ByRole[0].Calls)
	assert.Contains(t, s.String(), "baseline big")
}

func TestCollectorRecordsAreCopies(t *testing.T) {
	c := NewCollector()
	c.Begin("r")
	c.Append(Record{Role: "planner"})
	recs := c.Records()
	recs[0].Role = "mutated"
	assert.Equal(t, "planner", c.Records()[0].Role)
	assert.False(t, c.Records()[0].Timestamp.IsZero())
}

func TestCollectorFlush(t *testing.T) {
	c := NewCollector()
	c.Begin("run-2")
	c.Append(Record{Role: "implementer", Model: "m", TokensIn: 1, TokensOut: 2, Timestamp: time.Unix(100, 0)})

	archive := &memArchive{}
	require.NoError(t, c.Flush(context.Background(), archive))
	require.Len(t, archive.rows, 1)
	assert.Equal(t, "run-2", archive.rows[0].RunID)

	c.Append(Record{Role: "late"})
	assert.Len(t, c.Records(), 1, "appends after flush are dropped")
	require.NoError(t, c.Flush(context.Background(), archive))
	assert.Len(t, archive.rows, 1, "second flush is a no-op")
}

func TestCollectorFlushError(t *testing.T) {
	c := NewCollector()
	c.Begin("run-3")
	err := c.Flush(context.Background(), &memArchive{err: errors.New("disk full")})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "run-3")
}

func TestPrometheusRecorder(t *testing.T) {
	p := NewPrometheusRecorder()
	p.ObserveRequest("planner", "m", 10, 5, 0.5, true, "", time.Second)
	p.ObserveRequest("planner", "m", 0, 0, 0, false, "transient", time.Second)
	p.ObserveStep("planner", "completed", time.Second)

	assert.InDelta(t, 1, testutil.ToFloat64(p.requestsTotal.WithLabelValues("planner", "m", "success", "")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(p.requestsTotal.WithLabelValues("planner", "m", "error", "transient")), 0)
	assert.InDelta(t, 10, testutil.ToFloat64(p.tokensTotal.WithLabelValues("planner", "m", "prompt")), 0)
	assert.InDelta(t, 0.5, testutil.ToFloat64(p.costsTotal.WithLabelValues("planner", "m")), 1e-9)

	// Two recorders never share state.
	other := NewPrometheusRecorder()
	assert.InDelta(t, 0, testutil.ToFloat64(other.costsTotal.WithLabelValues("planner", "m")), 0)
}

func TestWriteTextfile(t *testing.T) {
	p := NewPrometheusRecorder()
	p.ObserveStep("reviewer", "completed", time.Second)

	path := filepath.Join(t.TempDir(), "metrics", "agentflow.prom")
	require.NoError(t, WriteTextfile(path, p.Gatherer()))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	text := string(data)
	assert.True(t, strings.Contains(text, `agentflow_workflow_steps_total{role="reviewer",status="completed"} 1`))
	assert.Contains(t, text, "# TYPE agentflow_workflow_step_duration_seconds histogram")
}
