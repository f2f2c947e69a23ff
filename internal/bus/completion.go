package bus

import "sync"

// Result is the outcome delivered through a completion handle when a
// transact call's tx reaches a terminal status.
type Result struct {
	OK    bool
	TxID  string
	Error error
}

// Completion is the one-shot handle returned by transact: a promise for
// blocking waiters and a broadcast channel for subscriber-style consumers,
// both fulfilled by a single atomic act.
type Completion struct {
	TxID string

	once   sync.Once
	done   chan struct{}
	result Result

	mu   sync.Mutex
	subs []chan Result
}

// NewCompletion constructs an unfulfilled completion handle for txID.
func NewCompletion(txID string) *Completion {
	return &Completion{TxID: txID, done: make(chan struct{})}
}

// Wait blocks until the completion is fulfilled and returns its result. This
// is the promise view.
func (c *Completion) Wait() Result {
	<-c.done
	return c.result
}

// Done returns a channel closed once the completion is fulfilled, for
// callers that want to select on it alongside other events.
func (c *Completion) Done() <-chan struct{} {
	return c.done
}

// Subscribe returns a fresh single-copy channel that receives the result
// exactly once, whether Subscribe is called before or after Fulfill. This is
// the multiplexer view: many subscribers, each gets its own copy.
func (c *Completion) Subscribe() <-chan Result {
	ch := make(chan Result, 1)

	c.mu.Lock()
	select {
	case <-c.done:
		c.mu.Unlock()
		ch <- c.result
		return ch
	default:
	}
	c.subs = append(c.subs, ch)
	c.mu.Unlock()
	return ch
}

// Fulfill delivers result to the promise and every subscriber, exactly once.
// Later calls are no-ops.
func (c *Completion) Fulfill(result Result) {
	c.once.Do(func() {
		c.result = result

		c.mu.Lock()
		subs := c.subs
		c.subs = nil
		close(c.done)
		c.mu.Unlock()

		for _, ch := range subs {
			ch <- result
		}
	})
}

// CompletionTable is the lock-protected mapping from tx-id to its in-flight
// completion handle. Entries are removed only when they are completed.
type CompletionTable struct {
	mu      sync.Mutex
	entries map[string]*Completion
}

// NewCompletionTable constructs an empty CompletionTable.
func NewCompletionTable() *CompletionTable {
	return &CompletionTable{entries: make(map[string]*Completion)}
}

// Register creates and stores a fresh completion handle for txID.
func (t *CompletionTable) Register(txID string) *Completion {
	c := NewCompletion(txID)
	t.mu.Lock()
	t.entries[txID] = c
	t.mu.Unlock()
	return c
}

// Complete fulfills the handle for txID, if one is registered, and removes
// it from the table.
func (t *CompletionTable) Complete(txID string, result Result) {
	t.mu.Lock()
	c, ok := t.entries[txID]
	if ok {
		delete(t.entries, txID)
	}
	t.mu.Unlock()

	if ok {
		c.Fulfill(result)
	}
}

// Get returns the handle registered for txID, if any, without removing it.
func (t *CompletionTable) Get(txID string) (*Completion, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	c, ok := t.entries[txID]
	return c, ok
}

// Count reports the number of in-flight completion handles.
func (t *CompletionTable) Count() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}
