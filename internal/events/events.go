// Package events publishes run state transitions.
//
// Each transition goes to the subject
//
//	{prefix}.{run_id}.{status}
//
// as a JSON encoded Event, so subscribers can follow one run with
// "blueprint.runs.<run_id>.>" or every parked run with
// "blueprint.runs.*.PENDING_APPROVAL".
package events

import (
	"context"
	"sync"
	"time"
)

// DefaultPrefix is the subject prefix when none is configured.
const DefaultPrefix = "blueprint.runs"

// Event is one state transition of a run.
type Event struct {
	RunID         string    `json:"run_id"`
	Status        string    `json:"status"`
	Stage         string    `json:"stage,omitempty"`
	Trigger       string    `json:"trigger"`
	ApprovalToken string    `json:"approval_token,omitempty"`
	Error         string    `json:"error,omitempty"`
	Timestamp     time.Time `json:"timestamp"`
}

// Sink receives events. Publish must not block on slow consumers.
type Sink interface {
	Publish(ctx context.Context, e Event) error
	Close() error
}

// NopSink drops every event.
type NopSink struct{}

func (NopSink) Publish(context.Context, Event) error { return nil }
func (NopSink) Close() error                         { return nil }

// Recorder keeps events in memory. Tests use it to assert transitions.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *Recorder) Publish(_ context.Context, e Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return nil
}

func (r *Recorder) Close() error { return nil }

// Events returns a copy of everything published so far.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

// Statuses returns the status of each event in order.
func (r *Recorder) Statuses() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.events))
	for i, e := range r.events {
		out[i] = e.Status
	}
	return out
}
