package shutdown

import (
	"context"
	"errors"
	"strings"
	"testing"
)

func TestRegistryRunsInPriorityOrder(t *testing.T) {
	registry := NewRegistry()

	var order []string
	record := func(name string) func(context.Context) error {
		return func(context.Context) error {
			order = append(order, name)
			return nil
		}
	}

	registry.Register("database", 30, record("database"))
	registry.Register("logger", 5, record("logger"))
	registry.Register("workers", 20, record("workers"))

	if errs := registry.Shutdown(context.Background()); errs != nil {
		t.Fatalf("Shutdown() errors = %v", errs)
	}

	want := []string{"logger", "workers", "database"}
	if len(order) != len(want) {
		t.Fatalf("ran %d handlers, want %d", len(order), len(want))
	}
	for i := range want {
		if order[i] != want[i] {
			t.Errorf("order[%d] = %q, want %q", i, order[i], want[i])
		}
	}
}

func TestRegistryContinuesPastFailures(t *testing.T) {
	registry := NewRegistry()

	ran := false
	registry.Register("broken", 10, func(context.Context) error {
		return errors.New("close failed")
	})
	registry.Register("after", 20, func(context.Context) error {
		ran = true
		return nil
	})

	errs := registry.Shutdown(context.Background())
	if len(errs) != 1 {
		t.Fatalf("len(errs) = %d, want 1", len(errs))
	}
	if !strings.Contains(errs[0].Error(), "broken") {
		t.Errorf("error %q does not name the failed handler", errs[0])
	}
	if !ran {
		t.Error("handler after the failure did not run")
	}
}

func TestRegistryShutdownOnce(t *testing.T) {
	registry := NewRegistry()

	calls := 0
	registry.Register("counter", 10, func(context.Context) error {
		calls++
		return nil
	})

	registry.Shutdown(context.Background())
	registry.Shutdown(context.Background())
	if calls != 1 {
		t.Errorf("handler ran %d times, want 1", calls)
	}

	// Late registration is a no-op.
	registry.Register("late", 10, func(context.Context) error { return nil })
	if registry.Count() != 1 {
		t.Errorf("Count() = %d after late registration, want 1", registry.Count())
	}
}

func TestRegistryNames(t *testing.T) {
	registry := NewRegistry()
	registry.Register("b", 20, func(context.Context) error { return nil })
	registry.Register("a", 10, func(context.Context) error { return nil })

	names := registry.Names()
	if len(names) != 2 || names[0] != "a" || names[1] != "b" {
		t.Errorf("Names() = %v, want [a b]", names)
	}
}
