package tool

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/vacaplan-dev/vacaplan/internal/budget"
)

// fakeProvider returns scripted responses per call.
type fakeProvider struct {
	capability string
	calls      int
	fn         func(call int, op Operation, payload map[string]any) (map[string]any, error)
}

func (f *fakeProvider) Capability() string { return f.capability }

func (f *fakeProvider) Call(ctx context.Context, op Operation, payload map[string]any) (map[string]any, error) {
	f.calls++
	return f.fn(f.calls, op, payload)
}

func newTestInvoker(t *testing.T, limits budget.Limits, providers ...Provider) (*Invoker, *budget.Budget) {
	t.Helper()
	b := budget.New(limits)
	inv := NewInvoker(DefaultConfig(), b, nil, providers...)
	inv.sleep = func(ctx context.Context, d time.Duration) error { return nil }
	return inv, b
}

func permissiveLimits() budget.Limits {
	l := budget.DefaultLimits()
	l.CapabilityCaps = nil
	return l
}

func TestInvoker_Success(t *testing.T) {
	p := &fakeProvider{capability: "flights", fn: func(call int, op Operation, payload map[string]any) (map[string]any, error) {
		return map[string]any{"options": "data"}, nil
	}}
	inv, b := newTestInvoker(t, permissiveLimits(), p)

	res, err := inv.Search(context.Background(), "flights", nil, 10)
	if err != nil {
		t.Fatalf("invoke: %v", err)
	}
	if res.Attempts != 1 {
		t.Errorf("attempts: got %d, want 1", res.Attempts)
	}
	u := b.Snapshot()
	if u.ToolCalls != 1 || u.CostUnits != 10 {
		t.Errorf("budget not charged: %+v", u)
	}
}

func TestInvoker_RetriesTransientThenSucceeds(t *testing.T) {
	p := &fakeProvider{capability: "hotels", fn: func(call int, op Operation, payload map[string]any) (map[string]any, error) {
		if call < 3 {
			return nil, Transient("hotels", op, errors.New("upstream 503"))
		}
		return map[string]any{"ok": true}, nil
	}}
	inv, _ := newTestInvoker(t, permissiveLimits(), p)

	res, err := inv.Search(context.Background(), "hotels", nil, 1)
	if err != nil {
		t.Fatalf("invoke: %v", err)
	}
	if res.Attempts != 3 {
		t.Errorf("attempts: got %d, want 3", res.Attempts)
	}
}

func TestInvoker_PermanentErrorNotRetried(t *testing.T) {
	p := &fakeProvider{capability: "flights", fn: func(call int, op Operation, payload map[string]any) (map[string]any, error) {
		return nil, Permanent("flights", op, errors.New("invalid cabin class"))
	}}
	inv, _ := newTestInvoker(t, permissiveLimits(), p)

	_, err := inv.Search(context.Background(), "flights", nil, 1)
	if err == nil {
		t.Fatal("expected error")
	}
	if p.calls != 1 {
		t.Errorf("permanent error retried: %d calls", p.calls)
	}
}

func TestInvoker_RetriesExhausted(t *testing.T) {
	p := &fakeProvider{capability: "flights", fn: func(call int, op Operation, payload map[string]any) (map[string]any, error) {
		return nil, Transient("flights", op, errors.New("timeout"))
	}}
	inv, b := newTestInvoker(t, permissiveLimits(), p)

	_, err := inv.Search(context.Background(), "flights", nil, 7)
	if err == nil {
		t.Fatal("expected error after exhausting retries")
	}
	if p.calls != 4 { // initial attempt + 3 retries
		t.Errorf("calls: got %d, want 4", p.calls)
	}
	// The charge stands even though the invocation failed.
	if got := b.Snapshot().CostUnits; got != 7 {
		t.Errorf("cost units reverted: got %d, want 7", got)
	}
}

func TestInvoker_StatusErrorClassification(t *testing.T) {
	if IsTransient(StatusError("flights", OpSearch, 429, errors.New("rate limited"))) != true {
		t.Error("429 must be transient")
	}
	if IsTransient(StatusError("flights", OpSearch, 503, errors.New("unavailable"))) != true {
		t.Error("5xx must be transient")
	}
	if IsTransient(StatusError("flights", OpSearch, 400, errors.New("bad request"))) != false {
		t.Error("400 must be permanent")
	}
	if IsTransient(context.DeadlineExceeded) != true {
		t.Error("deadline expiry must be transient")
	}
}

func TestInvoker_CircuitOpensAfterConsecutiveFailures(t *testing.T) {
	p := &fakeProvider{capability: "hotels", fn: func(call int, op Operation, payload map[string]any) (map[string]any, error) {
		return nil, Transient("hotels", op, errors.New("down"))
	}}
	inv, _ := newTestInvoker(t, permissiveLimits(), p)

	// Two invocations of 4 attempts each: 8 consecutive failures, breaker
	// opens at 5 so the second invocation stops early.
	_, _ = inv.Search(context.Background(), "hotels", nil, 1)
	_, err := inv.Search(context.Background(), "hotels", nil, 1)
	if !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("expected ErrCircuitOpen, got %v", err)
	}
	if inv.BreakerState("hotels") != BreakerOpen {
		t.Error("breaker not open")
	}

	// Calls to the broken capability short-circuit without provider contact.
	before := p.calls
	_, err = inv.Search(context.Background(), "hotels", nil, 1)
	if !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("expected ErrCircuitOpen, got %v", err)
	}
	if p.calls != before {
		t.Error("open breaker still contacted the provider")
	}
}

func TestInvoker_CapBlocksBeforeDispatch(t *testing.T) {
	p := &fakeProvider{capability: "flights", fn: func(call int, op Operation, payload map[string]any) (map[string]any, error) {
		return map[string]any{}, nil
	}}
	limits := permissiveLimits()
	limits.CapabilityCaps = map[string]int{"flights": 2}
	inv, _ := newTestInvoker(t, limits, p)

	ctx := context.Background()
	for i := 0; i < 2; i++ {
		if _, err := inv.Search(ctx, "flights", nil, 1); err != nil {
			t.Fatalf("search %d: %v", i+1, err)
		}
	}
	_, err := inv.Search(ctx, "flights", nil, 1)
	if !errors.Is(err, budget.ErrToolCapExceeded) {
		t.Fatalf("expected ErrToolCapExceeded, got %v", err)
	}
	if p.calls != 2 {
		t.Errorf("capped call reached provider: %d calls", p.calls)
	}
}

func TestInvoker_BudgetBlocksBeforeDispatch(t *testing.T) {
	p := &fakeProvider{capability: "flights", fn: func(call int, op Operation, payload map[string]any) (map[string]any, error) {
		return map[string]any{}, nil
	}}
	limits := permissiveLimits()
	limits.MaxToolCalls = 1
	inv, _ := newTestInvoker(t, limits, p)

	ctx := context.Background()
	if _, err := inv.Search(ctx, "flights", nil, 1); err != nil {
		t.Fatalf("first search: %v", err)
	}
	_, err := inv.Search(ctx, "flights", nil, 1)
	if !errors.Is(err, budget.ErrBudgetExceeded) {
		t.Fatalf("expected ErrBudgetExceeded, got %v", err)
	}
	if p.calls != 1 {
		t.Errorf("blocked call reached provider: %d calls", p.calls)
	}
}

func TestInvoker_RegisterSwapsProvider(t *testing.T) {
	cfg := DefaultConfig()
	cfg.BreakerFailures = 1000
	b := budget.New(permissiveLimits())
	inv := NewInvoker(cfg, b, nil, &fakeProvider{capability: "flights", fn: func(call int, op Operation, payload map[string]any) (map[string]any, error) {
		return nil, Permanent("flights", op, errors.New("decommissioned"))
	}})
	inv.sleep = func(ctx context.Context, d time.Duration) error { return nil }

	if _, err := inv.Search(context.Background(), "flights", nil, 1); err == nil {
		t.Fatal("broken provider should fail")
	}

	// Concurrent invokes race the registration.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 50; i++ {
			inv.Search(context.Background(), "flights", nil, 1)
		}
	}()
	inv.Register(&fakeProvider{capability: "flights", fn: func(call int, op Operation, payload map[string]any) (map[string]any, error) {
		return map[string]any{"ok": true}, nil
	}})
	<-done

	res, err := inv.Search(context.Background(), "flights", nil, 1)
	if err != nil {
		t.Fatalf("invoke after Register: %v", err)
	}
	if res.Payload["ok"] != true {
		t.Errorf("payload = %+v, want the replacement provider's", res.Payload)
	}
}

func TestInvoker_UnknownCapability(t *testing.T) {
	inv, _ := newTestInvoker(t, permissiveLimits())
	_, err := inv.Search(context.Background(), "submarines", nil, 1)
	if !errors.Is(err, ErrUnknownCapability) {
		t.Fatalf("expected ErrUnknownCapability, got %v", err)
	}
}
