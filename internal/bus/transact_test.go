package bus

import (
	"errors"
	"testing"
	"time"

	"github.com/drblury/evbus/config"
	"github.com/drblury/evbus/errs"
	"github.com/drblury/evbus/internal/txstore"
)

func newTestBusWithStore(t *testing.T, cfg config.Config, reg *Registry) *Bus {
	t.Helper()
	store := txstore.NewMemoryStore()
	if err := store.Init(); err != nil {
		t.Fatalf("unexpected error initializing store: %v", err)
	}
	b, err := New(Options{Config: cfg, Registry: reg, Store: store})
	if err != nil {
		t.Fatalf("unexpected error constructing bus: %v", err)
	}
	t.Cleanup(func() { b.Close(time.Second) })
	return b
}

func TestTransactRequiresStore(t *testing.T) {
	reg := acceptAnyRegistry("tx/event")
	b := newTestBus(t, config.Config{}, reg)

	_, err := b.Transact([]TransactEvent{{EventType: "tx/event", Module: "m"}})
	if !errors.Is(err, errs.ErrNoTxStore) {
		t.Fatalf("expected ErrNoTxStore, got %v", err)
	}
}

func TestTransactRequiresNonEmptyEvents(t *testing.T) {
	reg := acceptAnyRegistry("tx/event")
	b := newTestBusWithStore(t, config.Config{}, reg)

	_, err := b.Transact(nil)
	if !errors.Is(err, errs.ErrEmptyEvents) {
		t.Fatalf("expected ErrEmptyEvents, got %v", err)
	}
}

func TestTransactNoListenersCompletesImmediately(t *testing.T) {
	reg := acceptAnyRegistry("tx/event")
	b := newTestBusWithStore(t, config.Config{}, reg)

	handle, err := b.Transact([]TransactEvent{{EventType: "tx/event", Payload: map[string]any{"ok": true}, Module: "m"}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	select {
	case <-handle.Completion.Done():
	case <-time.After(time.Second):
		t.Fatal("expected immediate completion when there are no listeners")
	}
	result := handle.Wait()
	if !result.OK {
		t.Fatalf("expected ok result, got %+v", result)
	}
}

func TestTransactSuccess(t *testing.T) {
	reg := acceptAnyRegistry("tx/T")
	b := newTestBusWithStore(t, config.Config{}, reg)

	invocations := 0
	invoked := make(chan struct{}, 1)
	b.Subscribe("tx/T", func(bus *Bus, env Envelope) (bool, error) {
		invocations++
		invoked <- struct{}{}
		return true, nil
	}, SubscribeOptions{})

	handle, err := b.Transact([]TransactEvent{{EventType: "tx/T", Payload: map[string]any{"ok": true}, Module: "m"}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	sub := handle.Subscribe()

	select {
	case <-invoked:
	case <-time.After(2 * time.Second):
		t.Fatal("expected the handler to be invoked")
	}

	select {
	case result := <-sub:
		if !result.OK {
			t.Fatalf("expected ok result from channel, got %+v", result)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("expected result-chan to deliver within 2s")
	}

	result := handle.Wait()
	if !result.OK {
		t.Fatalf("expected ok result from promise, got %+v", result)
	}
	if invocations != 1 {
		t.Fatalf("invocations = %d, want 1", invocations)
	}
}

func TestTransactSchemaValidationFailsBeforeStore(t *testing.T) {
	reg := NewRegistry()
	reg.Register("tx/T", DefaultSchemaVersion, ValidatorFunc(func(any) error {
		return errors.New("nope")
	}))
	b := newTestBusWithStore(t, config.Config{}, reg)

	_, err := b.Transact([]TransactEvent{{EventType: "tx/T", Module: "m"}})
	if !errors.Is(err, errs.ErrSchemaValidationFailed) {
		t.Fatalf("expected ErrSchemaValidationFailed, got %v", err)
	}
}
