package async

import (
	"context"
	"testing"
	"time"
)

func TestCurrentFiberOutsideAnyFiber(t *testing.T) {
	if _, ok := currentFiber(); ok {
		t.Fatal("currentFiber reported a fiber on a goroutine that never ran one")
	}
}

func TestFiberRegistersWhileRunning(t *testing.T) {
	fb := newFiber(context.Background())

	seen := make(chan bool, 1)

	fb.start(func() any {
		_, ok := currentFiber()
		seen <- ok
		return nil
	})

	if !<-seen {
		t.Fatal("currentFiber did not find the fiber from inside its own goroutine")
	}

	msg := fb.receiveYield()
	if !msg.done {
		t.Fatal("expected the fiber to have finished")
	}

	<-fb.doneCh

	// The deferred unregisterFiber call runs on fb's own goroutine right
	// after doneCh closes; give it a moment to actually run before checking.
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		fiberRegistryMu.Lock()
		_, stillRegistered := fiberRegistry[fb.goid]
		fiberRegistryMu.Unlock()
		if !stillRegistered {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("fiber goroutine id should be unregistered once it exits")
}

func TestFiberNestedParent(t *testing.T) {
	outer := newFiber(context.Background())

	var innerHasParent bool

	done := make(chan struct{})

	outer.start(func() any {
		inner := newFiber(context.Background())
		innerHasParent = inner.parent == outer
		close(done)
		return nil
	})

	<-done
	<-outer.yieldCh // drain the outer fiber's final "done" message

	if !innerHasParent {
		t.Fatal("a fiber created from inside another fiber should record it as its parent")
	}
}
