package eventlog

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriterRoundTripAndRotation(t *testing.T) {
	dir := t.TempDir()
	w, err := NewWriter(dir)
	require.NoError(t, err)
	defer w.Close()

	day1 := time.Date(2026, 3, 1, 23, 59, 0, 0, time.UTC)
	w.now = func() time.Time { return day1 }
	require.NoError(t, w.rotateIfNeeded())
	first := w.CurrentFile()

	w.Emit(Event{Time: day1, Kind: KindStepStarted, StepID: "step-1", Role: "planner", Message: "planning"})
	w.Emit(Event{Time: day1, Kind: KindStepCompleted, StepID: "step-1", Role: "planner", Message: "ok"})

	w.now = func() time.Time { return day1.Add(2 * time.Minute) }
	w.Emit(Event{Kind: KindRunFinished, Message: "completed"})
	second := w.CurrentFile()
	assert.NotEqual(t, first, second)

	events, err := ReadEvents(first)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, KindStepStarted, events[0].Kind)
	assert.Equal(t, "planner", events[1].Role)

	events, err = ReadEvents(second)
	require.NoError(t, err)
	require.Len(t, events, 1)
}

func TestMultiAndRecorder(t *testing.T) {
	a, b := &Recorder{}, &Recorder{}
	sink := Multi(a, nil, b)
	sink.Emit(Event{Kind: KindWarning, Message: "x"})
	assert.Equal(t, []Kind{KindWarning}, a.Kinds())
	assert.Len(t, b.Events(), 1)
}

func TestChanSinkDropsWhenFull(t *testing.T) {
	s := NewChanSink(1)
	s.Emit(Event{Kind: KindRunStarted})
	s.Emit(Event{Kind: KindRunFinished})
	assert.Equal(t, 1, s.Dropped())
	e := <-s.Events()
	assert.Equal(t, KindRunStarted, e.Kind)
}

func TestEventString(t *testing.T) {
	assert.Equal(t, "[step_failed] step-2 (implementer): boom",
		Event{Kind: KindStepFailed, StepID: "step-2", Role: "implementer", Message: "boom"}.String())
	assert.Equal(t, "[run_finished] done", Event{Kind: KindRunFinished, Message: "done"}.String())
}
