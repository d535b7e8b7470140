// Package progress carries pipeline progress to the terminal or the browser.
package progress

import (
	"github.com/kamilpajak/guardian/pkg/models"
)

// EventType names a kind of progress event.
type EventType string

const (
	EventStageStart EventType = "stage_start"
	EventLine       EventType = "line"
	EventStageEnd   EventType = "stage_end"
	EventInfo       EventType = "info"
	EventWarn       EventType = "warn"
	EventDiagnosis  EventType = "diagnosis"
	EventPatch      EventType = "patch"
	EventDone       EventType = "done"
	EventError      EventType = "error"
)

// Event is a single progress update.
type Event struct {
	Type      EventType              `json:"type"`
	RunID     string                 `json:"run_id,omitempty"`
	Stage     models.Stage           `json:"stage,omitempty"`
	Command   string                 `json:"command,omitempty"`
	Attempt   int                    `json:"attempt,omitempty"`
	Message   string                 `json:"message,omitempty"`
	Line      string                 `json:"line,omitempty"`
	ExitCode  *int                   `json:"exit_code,omitempty"`
	Diagnosis *models.Diagnosis      `json:"diagnosis,omitempty"`
	Patch     *models.PatchOutcome   `json:"patch,omitempty"`
	Report    *models.PipelineReport `json:"report,omitempty"`
}

// Emitter receives progress events.
type Emitter interface {
	Emit(event Event)
}

// EmitterFunc adapts a function to Emitter.
type EmitterFunc func(Event)

// Emit calls f(ev).
func (f EmitterFunc) Emit(ev Event) { f(ev) }

// Discard drops every event.
var Discard Emitter = EmitterFunc(func(Event) {})

// Recorder keeps every event it sees. Not safe for concurrent use.
type Recorder struct {
	Events []Event
}

// Emit appends ev.
func (r *Recorder) Emit(ev Event) { r.Events = append(r.Events, ev) }

// Types returns the recorded event types in order.
func (r *Recorder) Types() []EventType {
	types := make([]EventType, len(r.Events))
	for i, ev := range r.Events {
		types[i] = ev.Type
	}
	return types
}

// ExitCode returns a pointer to code for use in Event.ExitCode.
func ExitCode(code int) *int { return &code }
