package shutdown

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"
)

func TestManagerShutdownRunsCleanup(t *testing.T) {
	m := NewManager(zap.NewNop(), WithTimeout(time.Second))

	cleaned := false
	m.Register("store", 30, func(context.Context) error {
		cleaned = true
		return nil
	})

	if err := m.Shutdown(); err != nil {
		t.Fatalf("Shutdown() error = %v", err)
	}
	if !cleaned {
		t.Error("cleanup handler did not run")
	}

	// Idempotent.
	if err := m.Shutdown(); err != nil {
		t.Errorf("second Shutdown() error = %v", err)
	}
}

func TestManagerShutdownReportsCleanupErrors(t *testing.T) {
	m := NewManager(zap.NewNop(), WithTimeout(time.Second))
	m.Register("broken", 10, func(context.Context) error {
		return errors.New("close failed")
	})

	if err := m.Shutdown(); err == nil {
		t.Error("Shutdown() should report cleanup failure")
	}
}

func TestManagerTriggerCancelsContext(t *testing.T) {
	m := NewManager(zap.NewNop())

	select {
	case <-m.Context().Done():
		t.Fatal("context cancelled before Trigger")
	default:
	}

	m.Trigger()
	select {
	case <-m.Context().Done():
	case <-time.After(time.Second):
		t.Fatal("context not cancelled after Trigger")
	}
}

func TestManagerWrapOperation(t *testing.T) {
	m := NewManager(zap.NewNop(), WithTimeout(time.Second))

	ran := false
	err := m.WrapOperation(context.Background(), "export", func(context.Context) error {
		if m.ActiveOperations() != 1 {
			t.Errorf("ActiveOperations() = %d during operation, want 1", m.ActiveOperations())
		}
		ran = true
		return nil
	})
	if err != nil {
		t.Fatalf("WrapOperation() error = %v", err)
	}
	if !ran {
		t.Error("operation did not run")
	}

	if err := m.Shutdown(); err != nil {
		t.Fatal(err)
	}
	err = m.WrapOperation(context.Background(), "export", func(context.Context) error { return nil })
	if !errors.Is(err, ErrTrackerClosed) {
		t.Errorf("WrapOperation() after shutdown error = %v, want ErrTrackerClosed", err)
	}
	if !m.IsShuttingDown() {
		t.Error("IsShuttingDown() = false after Shutdown")
	}
}

func TestManagerShutdownWaitsForOperations(t *testing.T) {
	m := NewManager(zap.NewNop(), WithTimeout(2*time.Second))

	opDone := make(chan struct{})
	started := make(chan struct{})
	go func() {
		m.WrapOperation(context.Background(), "job", func(context.Context) error {
			close(started)
			time.Sleep(50 * time.Millisecond)
			close(opDone)
			return nil
		})
	}()

	<-started
	if err := m.Shutdown(); err != nil {
		t.Fatalf("Shutdown() error = %v", err)
	}
	select {
	case <-opDone:
	default:
		t.Error("Shutdown() returned before in-flight operation finished")
	}
}
