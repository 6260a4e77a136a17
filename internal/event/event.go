// Package event carries document lifecycle events to observers.
//
// The repository emits events through an injected Sink. There are no
// process-wide listeners: tests install a Recorder, deployments a LogSink
// or their own implementation, and Multi fans out to several.
package event

import (
	"context"
	"log/slog"
	"slices"
	"sync"
	"time"
)

// Kind names an event.
type Kind string

const (
	DocumentCreated    Kind = "documentCreated"
	DocumentModified   Kind = "documentModified"
	DocumentCheckedIn  Kind = "documentCheckedIn"
	DocumentCheckedOut Kind = "documentCheckedOut"
	DocumentRestored   Kind = "documentRestored"
	DocumentPublished  Kind = "documentPublished"
	ProxyCreated       Kind = "proxyCreated"
	DocumentRemoved    Kind = "documentRemoved"
	DocumentMoved      Kind = "documentMoved"
	DocumentCopied     Kind = "documentCopied"
	DocumentLocked     Kind = "documentLocked"
	DocumentUnlocked   Kind = "documentUnlocked"
	ACPUpdated         Kind = "acpUpdated"
	TransitionFollowed Kind = "lifecycleTransitionFollowed"
	FacetAdded         Kind = "facetAdded"
	FacetRemoved       Kind = "facetRemoved"

	// BinaryTextUpdated follows the attachment of a blob once its text
	// has been extracted. Fulltext matches on that text lag until then.
	BinaryTextUpdated Kind = "binaryTextUpdated"

	// OrphanVersionRemoved is emitted by the asynchronous cleanup.
	OrphanVersionRemoved Kind = "orphanVersionRemoved"
)

// Event is one lifecycle occurrence.
type Event struct {
	Kind      Kind
	DocID     string
	Principal string
	Time      time.Time

	// Details holds kind-specific values (version id, target folder...).
	Details map[string]string
}

// Sink receives events. Emit must not block for long: it runs on the
// caller's goroutine after the triggering operation succeeded.
type Sink interface {
	Emit(ctx context.Context, e Event)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, e Event)

// Emit calls f.
func (f SinkFunc) Emit(ctx context.Context, e Event) { f(ctx, e) }

// Discard drops every event.
var Discard Sink = SinkFunc(func(context.Context, Event) {})

// Multi fans events out to several sinks, in order.
type Multi []Sink

// Emit implements Sink.
func (m Multi) Emit(ctx context.Context, e Event) {
	for _, s := range m {
		s.Emit(ctx, e)
	}
}

// LogSink logs events at Info level.
type LogSink struct {
	Logger *slog.Logger
}

// Emit implements Sink.
func (s LogSink) Emit(ctx context.Context, e Event) {
	logger := s.Logger
	if logger == nil {
		logger = slog.Default()
	}
	attrs := []any{"kind", string(e.Kind), "id", e.DocID}
	if e.Principal != "" {
		attrs = append(attrs, "principal", e.Principal)
	}
	keys := make([]string, 0, len(e.Details))
	for k := range e.Details {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	for _, k := range keys {
		attrs = append(attrs, k, e.Details[k])
	}
	logger.InfoContext(ctx, "document event", attrs...)
}

// Recorder keeps every event in memory. It is safe for concurrent use.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

// Emit implements Sink.
func (r *Recorder) Emit(_ context.Context, e Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

// Events returns a copy of the recorded events.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.events)
}

// Kinds returns the recorded kinds, in order.
func (r *Recorder) Kinds() []Kind {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Kind, len(r.events))
	for i, e := range r.events {
		out[i] = e.Kind
	}
	return out
}

// Find returns the recorded events of one kind.
func (r *Recorder) Find(kind Kind) []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Event
	for _, e := range r.events {
		if e.Kind == kind {
			out = append(out, e)
		}
	}
	return out
}

// Reset forgets every event.
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = nil
}
