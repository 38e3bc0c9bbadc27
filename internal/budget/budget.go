// Package budget tracks per-session spend against hard ceilings: tool calls,
// model calls, cumulative cost units, and per-capability call caps. Counters
// only ever increase; a reservation that would cross a ceiling is refused
// before the call is made.
package budget

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"golang.org/x/time/rate"
)

var (
	// ErrBudgetExceeded is returned when a session's tool-call or cost
	// ceiling would be crossed. The session must terminate.
	ErrBudgetExceeded = errors.New("session budget exceeded")

	// ErrToolCapExceeded is returned when a capability's per-session call
	// cap would be crossed. The provider is not contacted.
	ErrToolCapExceeded = errors.New("tool call cap exceeded")
)

// Limits configures the ceilings for one session.
type Limits struct {
	// MaxToolCalls caps external tool invocations per session.
	MaxToolCalls int
	// MaxModelCalls caps reasoning-step invocations per session.
	MaxModelCalls int
	// MaxCostUnits caps cumulative cost units per session.
	MaxCostUnits int64
	// CapabilityCaps caps calls per capability (0 = uncapped).
	CapabilityCaps map[string]int
}

// DefaultLimits returns the stock ceilings.
func DefaultLimits() Limits {
	return Limits{
		MaxToolCalls:  50,
		MaxModelCalls: 25,
		MaxCostUnits:  100000,
		CapabilityCaps: map[string]int{
			"flights":    5,
			"hotels":     5,
			"activities": 5,
			"calendar":   3,
		},
	}
}

// Usage is a point-in-time snapshot of a session's counters.
type Usage struct {
	ToolCalls  int            `json:"toolCalls"`
	ModelCalls int            `json:"modelCalls"`
	CostUnits  int64          `json:"costUnits"`
	PerCap     map[string]int `json:"perCapability,omitempty"`
}

// Budget tracks one session's counters. Safe for concurrent use.
type Budget struct {
	limits Limits

	mu         sync.Mutex
	toolCalls  int
	modelCalls int
	costUnits  int64
	perCap     map[string]int

	limiters  map[string]*rate.Limiter
	limiterMu sync.RWMutex
}

// New creates a budget with the given limits.
func New(limits Limits) *Budget {
	return &Budget{
		limits:   limits,
		perCap:   make(map[string]int),
		limiters: make(map[string]*rate.Limiter),
	}
}

// Restore seeds the counters from persisted session state so a resumed
// session keeps its spend.
func (b *Budget) Restore(u Usage) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.toolCalls = u.ToolCalls
	b.modelCalls = u.ModelCalls
	b.costUnits = u.CostUnits
	for cap, n := range u.PerCap {
		b.perCap[cap] = n
	}
}

// ReserveToolCall charges one tool call against the ceilings before
// dispatch. The charge is never reverted: cost is incurred even when the
// call later fails.
func (b *Budget) ReserveToolCall(capability string, cost int64) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.toolCalls+1 > b.limits.MaxToolCalls {
		return fmt.Errorf("%w: tool calls %d at ceiling %d", ErrBudgetExceeded, b.toolCalls, b.limits.MaxToolCalls)
	}
	if b.costUnits+cost > b.limits.MaxCostUnits {
		return fmt.Errorf("%w: cost units %d + %d over ceiling %d", ErrBudgetExceeded, b.costUnits, cost, b.limits.MaxCostUnits)
	}
	if cap, ok := b.limits.CapabilityCaps[capability]; ok && cap > 0 {
		if b.perCap[capability]+1 > cap {
			return fmt.Errorf("%w: capability %q at cap %d", ErrToolCapExceeded, capability, cap)
		}
	}

	b.toolCalls++
	b.costUnits += cost
	b.perCap[capability]++
	return nil
}

// ReserveModelCall charges one reasoning invocation.
func (b *Budget) ReserveModelCall(cost int64) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.modelCalls+1 > b.limits.MaxModelCalls {
		return fmt.Errorf("%w: model calls %d at ceiling %d", ErrBudgetExceeded, b.modelCalls, b.limits.MaxModelCalls)
	}
	if b.costUnits+cost > b.limits.MaxCostUnits {
		return fmt.Errorf("%w: cost units %d + %d over ceiling %d", ErrBudgetExceeded, b.costUnits, cost, b.limits.MaxCostUnits)
	}

	b.modelCalls++
	b.costUnits += cost
	return nil
}

// Snapshot returns the current counters.
func (b *Budget) Snapshot() Usage {
	b.mu.Lock()
	defer b.mu.Unlock()

	perCap := make(map[string]int, len(b.perCap))
	for cap, n := range b.perCap {
		perCap[cap] = n
	}
	return Usage{
		ToolCalls:  b.toolCalls,
		ModelCalls: b.modelCalls,
		CostUnits:  b.costUnits,
		PerCap:     perCap,
	}
}

// SetCapabilityRate configures a QPS limiter for a capability. Calls through
// Wait will pace themselves against it.
func (b *Budget) SetCapabilityRate(capability string, perSecond float64, burst int) {
	b.limiterMu.Lock()
	defer b.limiterMu.Unlock()
	b.limiters[capability] = rate.NewLimiter(rate.Limit(perSecond), burst)
}

// Wait blocks until the capability's rate limiter admits a call. Capabilities
// without a configured limiter pass through.
func (b *Budget) Wait(ctx context.Context, capability string) error {
	b.limiterMu.RLock()
	limiter, ok := b.limiters[capability]
	b.limiterMu.RUnlock()

	if !ok {
		return nil
	}
	if err := limiter.Wait(ctx); err != nil {
		return fmt.Errorf("capability rate limit: %w", err)
	}
	return nil
}
