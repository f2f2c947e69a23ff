package bus

import (
	"errors"
	"testing"
	"time"
)

func TestCompletionWaitBlocksUntilFulfilled(t *testing.T) {
	c := NewCompletion("tx1")
	go func() {
		time.Sleep(10 * time.Millisecond)
		c.Fulfill(Result{OK: true, TxID: "tx1"})
	}()

	result := c.Wait()
	if !result.OK || result.TxID != "tx1" {
		t.Fatalf("unexpected result: %+v", result)
	}
}

func TestCompletionFulfilledExactlyOnce(t *testing.T) {
	c := NewCompletion("tx1")
	c.Fulfill(Result{OK: true, TxID: "tx1"})
	c.Fulfill(Result{OK: false, TxID: "tx1", Error: errors.New("late")})

	if result := c.Wait(); !result.OK {
		t.Fatalf("expected the first fulfillment to win, got %+v", result)
	}
}

func TestCompletionSubscribeBeforeFulfill(t *testing.T) {
	c := NewCompletion("tx1")
	sub := c.Subscribe()

	c.Fulfill(Result{OK: true, TxID: "tx1"})

	select {
	case result := <-sub:
		if !result.OK {
			t.Fatalf("unexpected result: %+v", result)
		}
	case <-time.After(time.Second):
		t.Fatal("expected subscriber to receive the result")
	}
}

func TestCompletionSubscribeAfterFulfill(t *testing.T) {
	c := NewCompletion("tx1")
	c.Fulfill(Result{OK: true, TxID: "tx1"})

	sub := c.Subscribe()
	select {
	case result := <-sub:
		if !result.OK {
			t.Fatalf("unexpected result: %+v", result)
		}
	case <-time.After(time.Second):
		t.Fatal("expected a late subscriber to still receive a copy")
	}
}

func TestCompletionMultipleSubscribersEachGetACopy(t *testing.T) {
	c := NewCompletion("tx1")
	sub1 := c.Subscribe()
	sub2 := c.Subscribe()

	c.Fulfill(Result{OK: true, TxID: "tx1"})

	for _, sub := range []<-chan Result{sub1, sub2} {
		select {
		case result := <-sub:
			if !result.OK {
				t.Fatalf("unexpected result: %+v", result)
			}
		case <-time.After(time.Second):
			t.Fatal("expected every subscriber to receive its own copy")
		}
	}
}

func TestCompletionTableRegisterAndComplete(t *testing.T) {
	table := NewCompletionTable()
	c := table.Register("tx1")

	if _, ok := table.Get("tx1"); !ok {
		t.Fatal("expected the handle to be registered")
	}

	table.Complete("tx1", Result{OK: true, TxID: "tx1"})

	if _, ok := table.Get("tx1"); ok {
		t.Fatal("expected the handle to be removed once completed")
	}
	if result := c.Wait(); !result.OK {
		t.Fatalf("unexpected result: %+v", result)
	}
}

func TestCompletionTableCompleteUnknownIsNoop(t *testing.T) {
	table := NewCompletionTable()
	table.Complete("missing", Result{OK: true, TxID: "missing"})
}
