package bus

import (
	"reflect"
	"sync"

	"github.com/drblury/evbus/ids"
	"github.com/drblury/evbus/internal/txstore"
)

// Handler is a subscriber callback. It returns true on success, false to
// request a retry (in the transact path), or an error for an exceptional
// failure.
type Handler func(b *Bus, env Envelope) (bool, error)

// ListenerEntry is one subscription: a handler plus optional subscriber-side
// schema and opaque metadata.
type ListenerEntry struct {
	HandlerID string
	Handler   Handler
	Schema    Validator
	Meta      any
}

// SubscribeOptions configures a subscription.
type SubscribeOptions struct {
	Schema Validator
	Meta   any
}

// ListenerTable is the concurrent, insertion-ordered registry of handlers
// per event type.
type ListenerTable struct {
	mu     sync.RWMutex
	byType map[string][]ListenerEntry
}

// NewListenerTable constructs an empty ListenerTable.
func NewListenerTable() *ListenerTable {
	return &ListenerTable{byType: make(map[string][]ListenerEntry)}
}

// Subscribe appends a new listener entry, returning its freshly assigned
// handler-id.
func (t *ListenerTable) Subscribe(eventType string, handler Handler, opts SubscribeOptions) string {
	t.mu.Lock()
	defer t.mu.Unlock()

	handlerID := ids.CreateULID()
	t.byType[eventType] = append(t.byType[eventType], ListenerEntry{
		HandlerID: handlerID,
		Handler:   handler,
		Schema:    opts.Schema,
		Meta:      opts.Meta,
	})
	return handlerID
}

// Unsubscribe removes entries under eventType whose handler is identity-equal
// to matcher, or whose meta equals matcher.
func (t *ListenerTable) Unsubscribe(eventType string, matcher any) {
	t.mu.Lock()
	defer t.mu.Unlock()

	entries := t.byType[eventType]
	if len(entries) == 0 {
		return
	}
	kept := entries[:0:0]
	for _, e := range entries {
		if matchesHandler(e.Handler, matcher) || reflect.DeepEqual(e.Meta, matcher) {
			continue
		}
		kept = append(kept, e)
	}
	t.byType[eventType] = kept
}

func matchesHandler(h Handler, matcher any) bool {
	candidate, ok := matcher.(Handler)
	if !ok {
		return false
	}
	return reflect.ValueOf(h).Pointer() == reflect.ValueOf(candidate).Pointer()
}

// ClearListeners purges the given event types, or every event type when none
// are given.
func (t *ListenerTable) ClearListeners(eventTypes ...string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if len(eventTypes) == 0 {
		t.byType = make(map[string][]ListenerEntry)
		return
	}
	for _, et := range eventTypes {
		delete(t.byType, et)
	}
}

// ListenerCount reports the number of listeners for the given event types,
// or the total across all event types when none are given.
func (t *ListenerTable) ListenerCount(eventTypes ...string) int {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if len(eventTypes) == 0 {
		total := 0
		for _, entries := range t.byType {
			total += len(entries)
		}
		return total
	}
	total := 0
	for _, et := range eventTypes {
		total += len(t.byType[et])
	}
	return total
}

// Snapshot returns a copy of the listeners registered for eventType, in
// subscription order.
func (t *ListenerTable) Snapshot(eventType string) []ListenerEntry {
	t.mu.RLock()
	defer t.mu.RUnlock()

	entries := t.byType[eventType]
	out := make([]ListenerEntry, len(entries))
	copy(out, entries)
	return out
}

// LookupByID finds the listener registered under eventType with the given
// handler-id. It always reads the live table, not a cached snapshot, so an
// unsubscribe between transact retries is observed.
func (t *ListenerTable) LookupByID(eventType, handlerID string) (ListenerEntry, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	for _, e := range t.byType[eventType] {
		if e.HandlerID == handlerID {
			return e, true
		}
	}
	return ListenerEntry{}, false
}

// SnapshotFor builds a txstore.ListenerSnapshot covering exactly the given
// event types, resolving listeners once for a transact call.
func (t *ListenerTable) SnapshotFor(eventTypes []string) txstore.ListenerSnapshot {
	t.mu.RLock()
	defer t.mu.RUnlock()

	snapshot := make(txstore.ListenerSnapshot, len(eventTypes))
	for _, et := range eventTypes {
		entries := t.byType[et]
		if len(entries) == 0 {
			continue
		}
		refs := make([]txstore.ListenerRef, len(entries))
		for i, e := range entries {
			refs[i] = txstore.ListenerRef{HandlerID: e.HandlerID}
		}
		snapshot[et] = refs
	}
	return snapshot
}
