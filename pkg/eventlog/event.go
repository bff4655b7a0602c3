// Package eventlog carries human-readable progress events from the
// orchestrator to its consumers. Sinks never push back into the engine.
package eventlog

import (
	"fmt"
	"sync"
	"time"

	"agentflow/pkg/logx"
)

// Kind classifies an event.
type Kind string

const (
	KindRunStarted    Kind = "run_started"
	KindPlanCreated   Kind = "plan_created"
	KindStepStarted   Kind = "step_started"
	KindStepCompleted Kind = "step_completed"
	KindStepFailed    Kind = "step_failed"
	KindStepsInserted Kind = "steps_inserted"
	KindHealthCheck   Kind = "health_check"
	KindSelfHeal      Kind = "self_heal"
	KindRecovery      Kind = "recovery"
	KindWarning       Kind = "warning"
	KindFinalCheck    Kind = "final_check"
	KindTelemetry     Kind = "telemetry"
	KindRunFinished   Kind = "run_finished"
)

// Event is one progress line.
type Event struct {
	Time    time.Time `json:"time"`
	RunID   string    `json:"run_id,omitempty"`
	Kind    Kind      `json:"kind"`
	StepID  string    `json:"step_id,omitempty"`
	Role    string    `json:"role,omitempty"`
	Message string    `json:"message"`
}

func (e Event) String() string {
	if e.StepID != "" {
		return fmt.Sprintf("[%s] %s (%s): %s", e.Kind, e.StepID, e.Role, e.Message)
	}
	return fmt.Sprintf("[%s] %s", e.Kind, e.Message)
}

// Sink receives events. Emit must not block the caller for long and must
// not fail the run; sinks swallow their own errors.
type Sink interface {
	Emit(e Event)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(Event)

// Emit implements Sink.
func (f SinkFunc) Emit(e Event) { f(e) }

// Discard drops every event.
var Discard Sink = SinkFunc(func(Event) {})

// Multi fans an event out to several sinks in order.
func Multi(sinks ...Sink) Sink {
	return SinkFunc(func(e Event) {
		for _, s := range sinks {
			if s != nil {
				s.Emit(e)
			}
		}
	})
}

// LogSink writes events through a logx logger.
type LogSink struct {
	logger *logx.Logger
}

// NewLogSink creates a sink logging as agentID.
func NewLogSink(agentID string) *LogSink {
	return &LogSink{logger: logx.NewLogger(agentID)}
}

// Emit implements Sink.
func (s *LogSink) Emit(e Event) {
	switch e.Kind {
	case KindStepFailed, KindWarning:
		s.logger.Warn("%s", e)
	default:
		s.logger.Info("%s", e)
	}
}

// Recorder keeps every event in memory, for tests and reports.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

// Emit implements Sink.
func (r *Recorder) Emit(e Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

// Events returns a copy of recorded events.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

// Kinds returns recorded kinds in order.
func (r *Recorder) Kinds() []Kind {
	r.mu.Lock()
	defer r.mu.Unlock()
	kinds := make([]Kind, len(r.events))
	for i, e := range r.events {
		kinds[i] = e.Kind
	}
	return kinds
}

// ChanSink forwards events to a buffered channel, dropping when full.
type ChanSink struct {
	ch      chan Event
	dropped int
	mu      sync.Mutex
}

// NewChanSink creates a channel sink with the given buffer size.
func NewChanSink(buffer int) *ChanSink {
	return &ChanSink{ch: make(chan Event, buffer)}
}

// Events returns the receive side.
func (s *ChanSink) Events() <-chan Event { return s.ch }

// Emit implements Sink without blocking.
func (s *ChanSink) Emit(e Event) {
	select {
	case s.ch <- e:
	default:
		s.mu.Lock()
		s.dropped++
		s.mu.Unlock()
	}
}

// Dropped returns the number of events dropped because the buffer was full.
func (s *ChanSink) Dropped() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dropped
}

// Close closes the channel. Emit must not be called afterwards.
func (s *ChanSink) Close() { close(s.ch) }
