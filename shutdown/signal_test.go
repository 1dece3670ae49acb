package shutdown

import "testing"

func TestSignalCounterForceThreshold(t *testing.T) {
	forced := false
	counter := NewSignalCounter(2, func() { forced = true })

	if got := counter.Increment(); got != 1 {
		t.Errorf("first Increment() = %d, want 1", got)
	}
	if forced {
		t.Error("force callback fired on first signal")
	}

	if got := counter.Increment(); got != 2 {
		t.Errorf("second Increment() = %d, want 2", got)
	}
	if !forced {
		t.Error("force callback did not fire on second signal")
	}
	if counter.Count() != 2 {
		t.Errorf("Count() = %d, want 2", counter.Count())
	}
}

func TestSignalCounterNilCallback(t *testing.T) {
	counter := NewSignalCounter(1, nil)
	// Must not panic.
	counter.Increment()
}
