package tool

import (
	"context"
	"fmt"
	"testing"

	"github.com/seatutor/mariner-backend/internal/platform/apierr"
)

func okHandler(context.Context, map[string]any, CallContext) (any, error) {
	return "ok", nil
}

func mustRegister(t *testing.T, r *Registry, name, category, access string, h Handler) {
	t.Helper()
	if err := r.Register(&Tool{Name: name, Category: category, Access: access, Handler: h}); err != nil {
		t.Fatalf("Register %s: %v", name, err)
	}
}

func TestRegisterValidation(t *testing.T) {
	r := NewRegistry()
	if err := r.Register(&Tool{Name: "", Category: CategoryRAG, Access: AccessRead, Handler: okHandler}); err == nil {
		t.Fatalf("empty name must be rejected")
	}
	if err := r.Register(&Tool{Name: "x", Category: "WEATHER", Access: AccessRead, Handler: okHandler}); err == nil {
		t.Fatalf("unknown category must be rejected")
	}
	if err := r.Register(&Tool{Name: "x", Category: CategoryRAG, Access: "ROOT", Handler: okHandler}); err == nil {
		t.Fatalf("unknown access must be rejected")
	}

	mustRegister(t, r, "search", CategoryRAG, AccessRead, okHandler)
	if err := r.Register(&Tool{Name: "search", Category: CategoryRAG, Access: AccessRead, Handler: okHandler}); err == nil {
		t.Fatalf("duplicate name must be rejected")
	}
}

func TestSubsetsSorted(t *testing.T) {
	r := NewRegistry()
	mustRegister(t, r, "remember_fact", CategoryMemory, AccessWrite, okHandler)
	mustRegister(t, r, "get_memory", CategoryMemory, AccessRead, okHandler)
	mustRegister(t, r, "search", CategoryRAG, AccessRead, okHandler)

	all := r.All()
	if len(all) != 3 || all[0].Name != "get_memory" || all[2].Name != "search" {
		t.Fatalf("All not sorted by name: %v", names(all))
	}

	mem := r.ByCategory(CategoryMemory)
	if len(mem) != 2 {
		t.Fatalf("ByCategory(MEMORY) = %v", names(mem))
	}

	ro := r.ReadOnlySubset()
	if len(ro) != 2 {
		t.Fatalf("ReadOnlySubset = %v", names(ro))
	}
	for _, tl := range ro {
		if tl.Access != AccessRead {
			t.Fatalf("write tool %s leaked into the read-only subset", tl.Name)
		}
	}
}

func TestInvokeUnknownTool(t *testing.T) {
	r := NewRegistry()
	_, err := r.Invoke(context.Background(), "no_such_tool", nil, CallContext{})
	if err == nil || !apierr.IsPermanent(err) {
		t.Fatalf("unknown tool should be a permanent error, got %v", err)
	}
}

func TestInvokeRetriesTransient(t *testing.T) {
	r := NewRegistry()
	calls := 0
	mustRegister(t, r, "flaky", CategoryRAG, AccessRead, func(context.Context, map[string]any, CallContext) (any, error) {
		calls++
		if calls == 1 {
			return nil, apierr.Transient(fmt.Errorf("upstream blip"))
		}
		return "recovered", nil
	})

	out, err := r.Invoke(context.Background(), "flaky", nil, CallContext{})
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	if out != "recovered" || calls != 2 {
		t.Fatalf("out=%v calls=%d, want one retry", out, calls)
	}
}

func TestInvokeNoRetryOnPermanent(t *testing.T) {
	r := NewRegistry()
	calls := 0
	mustRegister(t, r, "broken", CategoryRAG, AccessRead, func(context.Context, map[string]any, CallContext) (any, error) {
		calls++
		return nil, apierr.Permanent(fmt.Errorf("bad arguments"))
	})

	if _, err := r.Invoke(context.Background(), "broken", nil, CallContext{}); err == nil {
		t.Fatalf("expected error")
	}
	if calls != 1 {
		t.Fatalf("calls = %d, permanent errors must not retry", calls)
	}
}

func names(ts []*Tool) []string {
	out := make([]string, len(ts))
	for i, t := range ts {
		out[i] = t.Name
	}
	return out
}
