package shutdown

import (
	"sync"
	"testing"
	"time"
)

func TestTrackerStartDone(t *testing.T) {
	tracker := NewOperationTracker()

	if !tracker.Start() {
		t.Fatal("Start() on open tracker should succeed")
	}
	if got := tracker.ActiveCount(); got != 1 {
		t.Errorf("ActiveCount() = %d, want 1", got)
	}
	tracker.Done()
	if got := tracker.ActiveCount(); got != 0 {
		t.Errorf("ActiveCount() after Done = %d, want 0", got)
	}
}

func TestTrackerRejectsAfterClose(t *testing.T) {
	tracker := NewOperationTracker()
	tracker.Close()

	if tracker.Start() {
		t.Error("Start() on closed tracker should fail")
	}
	if !tracker.IsClosed() {
		t.Error("IsClosed() = false after Close")
	}
}

func TestTrackerWaitDrains(t *testing.T) {
	tracker := NewOperationTracker()

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		if !tracker.Start() {
			t.Fatal("Start() failed")
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			time.Sleep(10 * time.Millisecond)
			tracker.Done()
		}()
	}
	tracker.Close()

	if err := tracker.Wait(time.Second); err != nil {
		t.Errorf("Wait() error = %v", err)
	}
	wg.Wait()
	if got := tracker.ActiveCount(); got != 0 {
		t.Errorf("ActiveCount() = %d, want 0", got)
	}
}

func TestTrackerWaitTimeout(t *testing.T) {
	tracker := NewOperationTracker()
	if !tracker.Start() {
		t.Fatal("Start() failed")
	}
	defer tracker.Done()

	if err := tracker.Wait(20 * time.Millisecond); err != ErrWaitTimeout {
		t.Errorf("Wait() error = %v, want ErrWaitTimeout", err)
	}
}
