// Package tool executes single external capability calls with timeout,
// retry, rate limiting and circuit breaking. It is the only path through
// which the pipeline contacts a provider.
package tool

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/vacaplan-dev/vacaplan/internal/budget"
	"github.com/vacaplan-dev/vacaplan/pkg/observability"
)

// Operation names a provider call.
type Operation string

const (
	OpSearch  Operation = "search"
	OpReserve Operation = "reserve"
	OpCancel  Operation = "cancel"
)

// Provider is one external capability (flights, hotels, calendar, ...).
// Implementations live behind this interface; the pipeline never sees the
// underlying transport.
type Provider interface {
	// Capability returns the capability name the provider serves.
	Capability() string

	// Call executes one operation. Implementations should respect ctx
	// cancellation and return *Error for classifiable failures.
	Call(ctx context.Context, op Operation, payload map[string]any) (map[string]any, error)
}

// CallSpec names a capability call and its constraints.
type CallSpec struct {
	Capability string
	Op         Operation
	Payload    map[string]any
	// Timeout bounds a single attempt (default 30s).
	Timeout time.Duration
	// Cost is the cost-unit charge for this invocation.
	Cost int64
}

// Result is a successful invocation outcome.
type Result struct {
	Payload  map[string]any
	Attempts int
	Duration time.Duration
}

// RetryPolicy configures the transient-error retry loop.
type RetryPolicy struct {
	// MaxRetries is the number of retries after the first attempt.
	MaxRetries int
	// BackoffBase is the first retry delay; subsequent delays double.
	BackoffBase time.Duration
	// Full jitter: each delay is uniform in [0, base*2^attempt].
}

// Config configures an Invoker.
type Config struct {
	DefaultTimeout  time.Duration
	Retry           RetryPolicy
	BreakerFailures int
	BreakerCooldown time.Duration
}

// DefaultConfig returns the stock invoker configuration.
func DefaultConfig() Config {
	return Config{
		DefaultTimeout: 30 * time.Second,
		Retry: RetryPolicy{
			MaxRetries:  3,
			BackoffBase: 500 * time.Millisecond,
		},
		BreakerFailures: 5,
		BreakerCooldown: 60 * time.Second,
	}
}

// Invoker dispatches capability calls for one session. Every invocation is
// charged to the session budget before dispatch; the charge stands even
// when retries exhaust.
type Invoker struct {
	cfg    Config
	budget *budget.Budget
	logger *zap.Logger

	mu        sync.Mutex
	providers map[string]Provider
	breakers  map[string]*Breaker

	// sleep is swappable for tests.
	sleep func(ctx context.Context, d time.Duration) error
}

// NewInvoker creates an invoker charging the given session budget.
func NewInvoker(cfg Config, b *budget.Budget, logger *zap.Logger, providers ...Provider) *Invoker {
	if logger == nil {
		logger = zap.NewNop()
	}
	inv := &Invoker{
		cfg:       cfg,
		budget:    b,
		logger:    logger,
		providers: make(map[string]Provider, len(providers)),
		breakers:  make(map[string]*Breaker),
		sleep:     sleepCtx,
	}
	for _, p := range providers {
		inv.providers[p.Capability()] = p
	}
	return inv
}

// Register adds or replaces a provider.
func (i *Invoker) Register(p Provider) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.providers[p.Capability()] = p
}

// Invoke executes one capability call with the full policy stack.
func (i *Invoker) Invoke(ctx context.Context, spec CallSpec) (*Result, error) {
	i.mu.Lock()
	provider, ok := i.providers[spec.Capability]
	i.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownCapability, spec.Capability)
	}

	timeout := spec.Timeout
	if timeout <= 0 {
		timeout = i.cfg.DefaultTimeout
	}

	// Charge the budget before any dispatch. A refusal means no provider
	// contact at all.
	if err := i.budget.ReserveToolCall(spec.Capability, spec.Cost); err != nil {
		return nil, err
	}

	breaker := i.breaker(spec.Capability)
	start := time.Now()

	var lastErr error
	attempts := 0
	for attempt := 0; attempt <= i.cfg.Retry.MaxRetries; attempt++ {
		if err := breaker.Allow(); err != nil {
			observability.RecordToolCall(spec.Capability, "circuit_open", time.Since(start))
			return nil, fmt.Errorf("%s %s: %w", spec.Capability, spec.Op, ErrCircuitOpen)
		}
		if err := i.budget.Wait(ctx, spec.Capability); err != nil {
			return nil, err
		}

		attempts++
		attemptCtx, cancel := context.WithTimeout(ctx, timeout)
		payload, err := provider.Call(attemptCtx, spec.Op, spec.Payload)
		cancel()

		if err == nil {
			breaker.RecordSuccess()
			elapsed := time.Since(start)
			observability.RecordToolCall(spec.Capability, "ok", elapsed)
			return &Result{Payload: payload, Attempts: attempts, Duration: elapsed}, nil
		}

		breaker.RecordFailure()
		lastErr = err
		i.logger.Warn("tool call failed",
			zap.String("capability", spec.Capability),
			zap.String("op", string(spec.Op)),
			zap.Int("attempt", attempts),
			zap.Error(err),
		)

		if !IsTransient(err) {
			observability.RecordToolCall(spec.Capability, "permanent_error", time.Since(start))
			return nil, fmt.Errorf("%s %s: %w", spec.Capability, spec.Op, err)
		}
		if attempt == i.cfg.Retry.MaxRetries {
			break
		}
		if err := i.sleep(ctx, i.backoff(attempt)); err != nil {
			return nil, err
		}
	}

	observability.RecordToolCall(spec.Capability, "retries_exhausted", time.Since(start))
	return nil, fmt.Errorf("%s %s: retries exhausted after %d attempts: %w",
		spec.Capability, spec.Op, attempts, lastErr)
}

// Search runs a capability search call.
func (i *Invoker) Search(ctx context.Context, capability string, params map[string]any, cost int64) (*Result, error) {
	return i.Invoke(ctx, CallSpec{Capability: capability, Op: OpSearch, Payload: params, Cost: cost})
}

// Reserve books an option and returns the provider payload, which must carry
// "confirmationId" and "cancelRef".
func (i *Invoker) Reserve(ctx context.Context, capability, optionRef string, cost int64) (*Result, error) {
	return i.Invoke(ctx, CallSpec{
		Capability: capability,
		Op:         OpReserve,
		Payload:    map[string]any{"optionRef": optionRef},
		Cost:       cost,
	})
}

// Cancel compensates a prior reservation.
func (i *Invoker) Cancel(ctx context.Context, capability, confirmationID string, cost int64) (*Result, error) {
	return i.Invoke(ctx, CallSpec{
		Capability: capability,
		Op:         OpCancel,
		Payload:    map[string]any{"confirmationId": confirmationID},
		Cost:       cost,
	})
}

// BreakerState exposes the breaker state for a capability.
func (i *Invoker) BreakerState(capability string) BreakerState {
	return i.breaker(capability).State()
}

func (i *Invoker) breaker(capability string) *Breaker {
	i.mu.Lock()
	defer i.mu.Unlock()
	b, ok := i.breakers[capability]
	if !ok {
		b = NewBreaker(i.cfg.BreakerFailures, i.cfg.BreakerCooldown)
		i.breakers[capability] = b
	}
	return b
}

// backoff computes the delay before retry `attempt` with full jitter.
func (i *Invoker) backoff(attempt int) time.Duration {
	max := i.cfg.Retry.BackoffBase << uint(attempt)
	if max <= 0 {
		max = i.cfg.Retry.BackoffBase
	}
	return time.Duration(rand.Int63n(int64(max) + 1))
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}
