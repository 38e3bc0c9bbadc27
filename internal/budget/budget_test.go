package budget

import (
	"context"
	"errors"
	"testing"
)

func TestBudget_ToolCallCeiling(t *testing.T) {
	limits := DefaultLimits()
	limits.MaxToolCalls = 3
	limits.CapabilityCaps = nil
	b := New(limits)

	for i := 0; i < 3; i++ {
		if err := b.ReserveToolCall("flights", 10); err != nil {
			t.Fatalf("call %d refused: %v", i+1, err)
		}
	}

	err := b.ReserveToolCall("flights", 10)
	if !errors.Is(err, ErrBudgetExceeded) {
		t.Fatalf("expected ErrBudgetExceeded, got %v", err)
	}

	// Counters are not advanced by a refused reservation.
	if got := b.Snapshot().ToolCalls; got != 3 {
		t.Errorf("tool calls after refusal: got %d, want 3", got)
	}
}

func TestBudget_CostCeiling(t *testing.T) {
	limits := DefaultLimits()
	limits.MaxCostUnits = 100
	limits.CapabilityCaps = nil
	b := New(limits)

	if err := b.ReserveToolCall("hotels", 60); err != nil {
		t.Fatalf("reserve: %v", err)
	}
	if err := b.ReserveToolCall("hotels", 50); !errors.Is(err, ErrBudgetExceeded) {
		t.Fatalf("expected ErrBudgetExceeded, got %v", err)
	}
	if got := b.Snapshot().CostUnits; got != 60 {
		t.Errorf("cost units: got %d, want 60", got)
	}
}

func TestBudget_CapabilityCap(t *testing.T) {
	limits := DefaultLimits()
	limits.CapabilityCaps = map[string]int{"flights": 2}
	b := New(limits)

	for i := 0; i < 2; i++ {
		if err := b.ReserveToolCall("flights", 1); err != nil {
			t.Fatalf("reserve %d: %v", i+1, err)
		}
	}
	if err := b.ReserveToolCall("flights", 1); !errors.Is(err, ErrToolCapExceeded) {
		t.Fatalf("expected ErrToolCapExceeded, got %v", err)
	}

	// Uncapped capabilities are unaffected.
	if err := b.ReserveToolCall("hotels", 1); err != nil {
		t.Errorf("uncapped capability refused: %v", err)
	}
}

func TestBudget_ChargeNotReverted(t *testing.T) {
	b := New(DefaultLimits())

	if err := b.ReserveToolCall("flights", 25); err != nil {
		t.Fatalf("reserve: %v", err)
	}
	// The caller's invocation fails downstream; the charge stays.
	u := b.Snapshot()
	if u.ToolCalls != 1 || u.CostUnits != 25 {
		t.Errorf("snapshot after failed call: %+v", u)
	}
}

func TestBudget_CountersNonDecreasing(t *testing.T) {
	b := New(DefaultLimits())

	var prev Usage
	for i := 0; i < 10; i++ {
		_ = b.ReserveToolCall("activities", 5)
		_ = b.ReserveModelCall(100)
		u := b.Snapshot()
		if u.ToolCalls < prev.ToolCalls || u.ModelCalls < prev.ModelCalls || u.CostUnits < prev.CostUnits {
			t.Fatalf("counters decreased: %+v after %+v", u, prev)
		}
		prev = u
	}
}

func TestBudget_RestoreSeedsCounters(t *testing.T) {
	b := New(DefaultLimits())
	b.Restore(Usage{ToolCalls: 48, CostUnits: 99990, PerCap: map[string]int{"flights": 5}})

	if err := b.ReserveToolCall("hotels", 5); !errors.Is(err, ErrBudgetExceeded) {
		t.Errorf("expected restored cost to count toward ceiling, got %v", err)
	}
	if err := b.ReserveToolCall("flights", 1); !errors.Is(err, ErrToolCapExceeded) {
		t.Errorf("expected restored per-capability count to hold, got %v", err)
	}
}

func TestBudget_Wait(t *testing.T) {
	b := New(DefaultLimits())
	b.SetCapabilityRate("flights", 1000, 10)

	ctx := context.Background()
	if err := b.Wait(ctx, "flights"); err != nil {
		t.Fatalf("wait: %v", err)
	}
	// No limiter configured: pass-through.
	if err := b.Wait(ctx, "hotels"); err != nil {
		t.Fatalf("wait passthrough: %v", err)
	}
}
