package bus

import "testing"

func noopHandler(b *Bus, env Envelope) (bool, error) { return true, nil }

func TestListenerTableSubscribeAssignsID(t *testing.T) {
	lt := NewListenerTable()
	id := lt.Subscribe("event/a", noopHandler, SubscribeOptions{})
	if id == "" {
		t.Fatal("expected a non-empty handler id")
	}
	if lt.ListenerCount("event/a") != 1 {
		t.Fatalf("ListenerCount = %d, want 1", lt.ListenerCount("event/a"))
	}
}

func TestListenerTableSnapshotPreservesOrder(t *testing.T) {
	lt := NewListenerTable()
	id1 := lt.Subscribe("event/a", noopHandler, SubscribeOptions{})
	id2 := lt.Subscribe("event/a", noopHandler, SubscribeOptions{})

	snap := lt.Snapshot("event/a")
	if len(snap) != 2 {
		t.Fatalf("expected 2 listeners, got %d", len(snap))
	}
	if snap[0].HandlerID != id1 || snap[1].HandlerID != id2 {
		t.Fatalf("expected insertion order [%s %s], got [%s %s]", id1, id2, snap[0].HandlerID, snap[1].HandlerID)
	}
}

func TestListenerTableUnsubscribeByHandler(t *testing.T) {
	lt := NewListenerTable()
	var h Handler = noopHandler
	lt.Subscribe("event/a", h, SubscribeOptions{})
	other := lt.Subscribe("event/a", func(b *Bus, env Envelope) (bool, error) { return true, nil }, SubscribeOptions{})

	lt.Unsubscribe("event/a", h)

	snap := lt.Snapshot("event/a")
	if len(snap) != 1 || snap[0].HandlerID != other {
		t.Fatalf("expected only the other handler to remain, got %v", snap)
	}
}

func TestListenerTableUnsubscribeByMeta(t *testing.T) {
	lt := NewListenerTable()
	meta := "tag-a"
	lt.Subscribe("event/a", noopHandler, SubscribeOptions{Meta: meta})
	kept := lt.Subscribe("event/a", noopHandler, SubscribeOptions{Meta: "tag-b"})

	lt.Unsubscribe("event/a", meta)

	snap := lt.Snapshot("event/a")
	if len(snap) != 1 || snap[0].HandlerID != kept {
		t.Fatalf("expected only tag-b listener to remain, got %v", snap)
	}
}

func TestListenerTableClearListenersOne(t *testing.T) {
	lt := NewListenerTable()
	lt.Subscribe("event/a", noopHandler, SubscribeOptions{})
	lt.Subscribe("event/b", noopHandler, SubscribeOptions{})

	lt.ClearListeners("event/a")

	if lt.ListenerCount("event/a") != 0 {
		t.Error("expected event/a listeners cleared")
	}
	if lt.ListenerCount("event/b") != 1 {
		t.Error("expected event/b listeners untouched")
	}
}

func TestListenerTableClearListenersAll(t *testing.T) {
	lt := NewListenerTable()
	lt.Subscribe("event/a", noopHandler, SubscribeOptions{})
	lt.Subscribe("event/b", noopHandler, SubscribeOptions{})

	lt.ClearListeners()

	if lt.ListenerCount() != 0 {
		t.Fatalf("expected all listeners cleared, got %d", lt.ListenerCount())
	}
}

func TestListenerTableLookupByIDReflectsLiveState(t *testing.T) {
	lt := NewListenerTable()
	id := lt.Subscribe("event/a", noopHandler, SubscribeOptions{})

	if _, ok := lt.LookupByID("event/a", id); !ok {
		t.Fatal("expected to find the freshly subscribed handler")
	}

	lt.ClearListeners("event/a")

	if _, ok := lt.LookupByID("event/a", id); ok {
		t.Fatal("expected lookup to miss after unsubscription, since it reads the live table")
	}
}

func TestListenerTableSnapshotForBuildsTxstoreSnapshot(t *testing.T) {
	lt := NewListenerTable()
	id := lt.Subscribe("event/a", noopHandler, SubscribeOptions{})
	lt.Subscribe("event/b", noopHandler, SubscribeOptions{})

	snap := lt.SnapshotFor([]string{"event/a", "event/c"})
	if len(snap["event/a"]) != 1 || snap["event/a"][0].HandlerID != id {
		t.Fatalf("expected event/a snapshot to contain %s, got %v", id, snap["event/a"])
	}
	if _, ok := snap["event/c"]; ok {
		t.Error("expected no entry for an event type with no listeners")
	}
	if _, ok := snap["event/b"]; ok {
		t.Error("expected snapshot to only cover requested event types")
	}
}
