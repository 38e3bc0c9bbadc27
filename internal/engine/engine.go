// Package engine drives a planning session through its step pipeline:
// availability, concurrent flight and hotel search, curation, budget
// reconciliation, review, then a confirmation-gated booking. Sessions are
// durable; a restarted process resumes from the last persisted step.
package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/vacaplan-dev/vacaplan/internal/booking"
	"github.com/vacaplan-dev/vacaplan/internal/budget"
	"github.com/vacaplan-dev/vacaplan/internal/confirm"
	"github.com/vacaplan-dev/vacaplan/internal/event"
	"github.com/vacaplan-dev/vacaplan/internal/plan"
	"github.com/vacaplan-dev/vacaplan/internal/store"
	"github.com/vacaplan-dev/vacaplan/internal/tool"
	"github.com/vacaplan-dev/vacaplan/internal/trip"
	"github.com/vacaplan-dev/vacaplan/pkg/observability"
)

// Config holds the engine's tunables.
type Config struct {
	// Limits are the per-session spend ceilings.
	Limits budget.Limits
	// Invoker configures retries, timeouts and circuit breakers.
	Invoker tool.Config
	// ConfirmTTL is the confirmation window (default 10m).
	ConfirmTTL time.Duration
	// SearchConcurrency bounds in-flight search calls within one step.
	SearchConcurrency int
	// CallCost is the cost-unit charge per tool call.
	CallCost int64
	// ModelCost is the cost-unit charge per reasoning pass.
	ModelCost int64
}

// DefaultConfig returns the stock engine configuration.
func DefaultConfig() Config {
	return Config{
		Limits:            budget.DefaultLimits(),
		Invoker:           tool.DefaultConfig(),
		ConfirmTTL:        confirm.DefaultTTL,
		SearchConcurrency: 5,
		CallCost:          10,
		ModelCost:         100,
	}
}

// sessionRuntime is the in-process state for one live session: its budget,
// its invoker (with circuit breakers), and the booking coordinator.
type sessionRuntime struct {
	budget      *budget.Budget
	invoker     *tool.Invoker
	coordinator *booking.Coordinator
}

// Engine orchestrates planning sessions.
type Engine struct {
	cfg       Config
	store     store.Store
	bus       *event.Bus
	gate      *confirm.Gate
	curator   plan.Curator
	reviewer  plan.Reviewer
	providers []tool.Provider
	logger    *zap.Logger
	now       func() time.Time

	mu       sync.Mutex
	running  map[string]bool
	runtimes map[string]*sessionRuntime
}

// New creates an engine over the given store, event bus and confirmation
// gate. Providers are the capabilities the pipeline may call.
func New(cfg Config, st store.Store, bus *event.Bus, gate *confirm.Gate,
	curator plan.Curator, reviewer plan.Reviewer, logger *zap.Logger, providers ...tool.Provider) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.ConfirmTTL <= 0 {
		cfg.ConfirmTTL = confirm.DefaultTTL
	}
	if cfg.SearchConcurrency <= 0 {
		cfg.SearchConcurrency = 5
	}
	return &Engine{
		cfg:       cfg,
		store:     st,
		bus:       bus,
		gate:      gate,
		curator:   curator,
		reviewer:  reviewer,
		providers: providers,
		logger:    logger,
		now:       time.Now,
		running:   make(map[string]bool),
		runtimes:  make(map[string]*sessionRuntime),
	}
}

// acquire takes the per-session execution lock. Exactly one engine execution
// mutates a session at a time; concurrent requests get ErrSessionBusy.
func (e *Engine) acquire(sessionID string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.running[sessionID] {
		return fmt.Errorf("%w: %s", ErrSessionBusy, sessionID)
	}
	e.running[sessionID] = true
	return nil
}

func (e *Engine) release(sessionID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.running, sessionID)
}

// runtime returns the session's live budget and invoker, creating and
// seeding them from persisted usage on first access.
func (e *Engine) runtime(sess *store.Session) *sessionRuntime {
	e.mu.Lock()
	defer e.mu.Unlock()
	rt, ok := e.runtimes[sess.ID]
	if !ok {
		b := budget.New(e.cfg.Limits)
		b.Restore(sess.Usage)
		inv := tool.NewInvoker(e.cfg.Invoker, b, e.logger.With(zap.String("session_id", sess.ID)), e.providers...)
		rt = &sessionRuntime{
			budget:  b,
			invoker: inv,
			coordinator: booking.NewCoordinator(inv,
				booking.WithCallCost(e.cfg.CallCost),
				booking.WithLogger(e.logger.With(zap.String("session_id", sess.ID)))),
		}
		e.runtimes[sess.ID] = rt
	}
	return rt
}

func (e *Engine) dropRuntime(sessionID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.runtimes, sessionID)
}

// emit publishes an event to the session stream and the durable audit trail.
func (e *Engine) emit(ctx context.Context, sessionID string, ev event.Event) {
	published := e.bus.Publish(sessionID, ev)
	if err := e.store.AppendAudit(ctx, sessionID, published); err != nil {
		e.logger.Warn("audit append failed",
			zap.String("session_id", sessionID),
			zap.String("event_type", string(ev.Type)),
			zap.Error(err))
	}
}

// save persists the session with refreshed usage counters.
func (e *Engine) save(ctx context.Context, sess *store.Session, rt *sessionRuntime) error {
	sess.Usage = rt.budget.Snapshot()
	sess.UpdatedAt = e.now()
	if err := e.store.SaveSession(ctx, sess); err != nil {
		return fmt.Errorf("save session %s: %w", sess.ID, err)
	}
	return nil
}

// finish moves the session to a terminal status and releases its runtime.
func (e *Engine) finish(ctx context.Context, sess *store.Session, rt *sessionRuntime, status store.Status, reason string, evType event.Type, evErr string) error {
	sess.Status = status
	sess.FailureReason = reason
	err := e.save(ctx, sess, rt)
	e.emit(ctx, sess.ID, event.Event{Type: evType, Error: evErr})
	observability.RecordSession(string(status))
	observability.SessionEnded()
	e.bus.CloseSession(sess.ID)
	e.dropRuntime(sess.ID)
	e.logger.Info("session finished",
		zap.String("session_id", sess.ID),
		zap.String("status", string(status)),
		zap.String("reason", reason))
	return err
}

// Start creates a session for the request and persists it in the active
// state. The caller drives it with Run.
func (e *Engine) Start(ctx context.Context, req trip.Request) (*store.Session, error) {
	if err := req.Validate(); err != nil {
		return nil, fmt.Errorf("invalid trip request: %w", err)
	}
	now := e.now()
	sess := &store.Session{
		ID:        uuid.NewString(),
		Status:    store.StatusActive,
		Request:   req,
		CreatedAt: now,
		UpdatedAt: now,
	}
	rt := e.runtime(sess)
	if err := e.save(ctx, sess, rt); err != nil {
		e.dropRuntime(sess.ID)
		return nil, err
	}
	e.emit(ctx, sess.ID, event.Event{
		Type:    event.TypeSessionStarted,
		Message: fmt.Sprintf("planning %s, %d nights", req.Destination, req.Nights),
	})
	observability.SessionStarted()
	e.logger.Info("session started",
		zap.String("session_id", sess.ID),
		zap.String("destination", req.Destination),
		zap.Int64("budget_cents", req.BudgetCents))
	return sess, nil
}

// Status returns the current session snapshot.
func (e *Engine) Status(ctx context.Context, sessionID string) (*store.Session, error) {
	return e.store.LoadSession(ctx, sessionID)
}

// Events returns a live subscription to the session's event stream,
// replaying history after the given sequence number. When the in-process
// stream has no history, as after a restart, the replay is rebuilt from the
// persisted audit trail; for a session already terminal the stream then
// ends right after the replay.
func (e *Engine) Events(ctx context.Context, sessionID string, afterSeq int64) (<-chan event.Event, func(), error) {
	if len(e.bus.History(sessionID, 0)) == 0 {
		trail, err := e.store.LoadAudit(ctx, sessionID)
		if err != nil {
			return nil, nil, err
		}
		if len(trail) > 0 {
			sess, err := e.store.LoadSession(ctx, sessionID)
			if err != nil {
				return nil, nil, err
			}
			e.bus.Restore(sessionID, trail, sess.Status.Terminal())
		}
	}
	ch, cancel := e.bus.Subscribe(sessionID, afterSeq)
	return ch, cancel, nil
}
