package booking

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/vacaplan-dev/vacaplan/internal/tool"
	"github.com/vacaplan-dev/vacaplan/internal/trip"
	"github.com/vacaplan-dev/vacaplan/pkg/observability"
)

var (
	// ErrNoConfirmation means a provider accepted a reservation but did not
	// return a confirmation id.
	ErrNoConfirmation = errors.New("booking: provider returned no confirmation id")
	// ErrNoCancelRef means a provider confirmed a reservation without a
	// cancellation reference, so rollback cannot be guaranteed.
	ErrNoCancelRef = errors.New("booking: provider returned no cancellation reference")
)

// Invoker is the slice of the tool layer the coordinator uses.
type Invoker interface {
	Reserve(ctx context.Context, capability, optionRef string, cost int64) (*tool.Result, error)
	Cancel(ctx context.Context, capability, confirmationID string, cost int64) (*tool.Result, error)
}

// Coordinator executes a confirmed booking intent as an ordered sequence of
// reservations with compensating rollback on failure.
type Coordinator struct {
	invoker  Invoker
	logger   *zap.Logger
	callCost int64
	now      func() time.Time
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithCallCost sets the cost units charged per reserve or cancel call.
func WithCallCost(cost int64) Option {
	return func(c *Coordinator) { c.callCost = cost }
}

// WithLogger sets the coordinator's logger.
func WithLogger(logger *zap.Logger) Option {
	return func(c *Coordinator) { c.logger = logger }
}

// NewCoordinator builds a Coordinator over the given tool invoker.
func NewCoordinator(invoker Invoker, opts ...Option) *Coordinator {
	c := &Coordinator{
		invoker:  invoker,
		logger:   zap.NewNop(),
		callCost: 10,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Execute books every item of the intent in order. Each reservation must
// yield both a confirmation id and a cancellation reference before the next
// item is attempted. On failure, already-completed reservations are
// compensated in reverse order.
//
// The returned transaction is always non-nil and records what happened,
// including on error paths.
func (c *Coordinator) Execute(ctx context.Context, intent *trip.BookingIntent) (*Transaction, error) {
	tx := &Transaction{
		ID:        uuid.NewString(),
		SessionID: intent.SessionID,
		Status:    TxPending,
		CreatedAt: c.now(),
	}

	for idx, item := range intent.Items {
		res, err := c.reserve(ctx, item)
		if err != nil {
			c.logger.Warn("reservation failed, rolling back",
				zap.String("session_id", intent.SessionID),
				zap.String("capability", item.Capability),
				zap.Int("step", idx+1),
				zap.Error(err))
			return c.rollback(ctx, tx, idx+1, item.Kind, err)
		}
		tx.Reservations = append(tx.Reservations, *res)
		tx.TotalCents += res.PriceCents
	}

	tx.Status = TxCommitted
	done := c.now()
	tx.CompletedAt = &done
	observability.RecordBooking(string(TxCommitted))
	c.logger.Info("booking committed",
		zap.String("session_id", intent.SessionID),
		zap.String("transaction_id", tx.ID),
		zap.Int("reservations", len(tx.Reservations)),
		zap.Int64("total_cents", tx.TotalCents))
	return tx, nil
}

func (c *Coordinator) reserve(ctx context.Context, item trip.PlannedReservation) (*Reservation, error) {
	res, err := c.invoker.Reserve(ctx, item.Capability, item.OptionRef, c.callCost)
	if err != nil {
		return nil, err
	}
	confirmationID, _ := res.Payload["confirmationId"].(string)
	if confirmationID == "" {
		return nil, ErrNoConfirmation
	}
	cancelRef, _ := res.Payload["cancelRef"].(string)
	if cancelRef == "" {
		return nil, fmt.Errorf("%w (confirmation %s)", ErrNoCancelRef, confirmationID)
	}
	return &Reservation{
		Kind:           item.Kind,
		Capability:     item.Capability,
		OptionRef:      item.OptionRef,
		PriceCents:     item.PriceCents,
		ConfirmationID: confirmationID,
		CancelRef:      cancelRef,
		ReservedAt:     c.now(),
	}, nil
}

// rollback compensates completed reservations newest-first and finalizes the
// transaction as rolled_back or partially_failed.
func (c *Coordinator) rollback(ctx context.Context, tx *Transaction, step int, kind trip.ReservationKind, cause error) (*Transaction, error) {
	unreconciled := c.compensate(ctx, tx)

	done := c.now()
	tx.CompletedAt = &done
	if len(unreconciled) > 0 {
		tx.Status = TxPartiallyFailed
		observability.RecordBooking(string(TxPartiallyFailed))
		return tx, &PartialFailureError{Step: step, Unreconciled: unreconciled, Err: cause}
	}
	tx.Status = TxRolledBack
	observability.RecordBooking(string(TxRolledBack))
	return tx, &FailedError{Step: step, Kind: kind, Err: cause}
}

// Compensate cancels every reservation of a committed transaction in reverse
// order. Used when a cancellation request arrives after booking completed.
func (c *Coordinator) Compensate(ctx context.Context, tx *Transaction) error {
	unreconciled := c.compensate(ctx, tx)
	done := c.now()
	tx.CompletedAt = &done
	if len(unreconciled) > 0 {
		tx.Status = TxPartiallyFailed
		observability.RecordBooking(string(TxPartiallyFailed))
		return &PartialFailureError{Step: len(tx.Reservations), Unreconciled: unreconciled,
			Err: errors.New("post-booking cancellation")}
	}
	tx.Status = TxRolledBack
	observability.RecordBooking(string(TxRolledBack))
	return nil
}

func (c *Coordinator) compensate(ctx context.Context, tx *Transaction) []string {
	var unreconciled []string
	for i := len(tx.Reservations) - 1; i >= 0; i-- {
		r := tx.Reservations[i]
		comp := Compensation{
			Kind:           r.Kind,
			Capability:     r.Capability,
			ConfirmationID: r.ConfirmationID,
			At:             c.now(),
		}
		if _, err := c.invoker.Cancel(ctx, r.Capability, r.CancelRef, c.callCost); err != nil {
			comp.Error = err.Error()
			unreconciled = append(unreconciled, r.ConfirmationID)
			observability.RecordCompensation("failed")
			c.logger.Error("compensation failed",
				zap.String("transaction_id", tx.ID),
				zap.String("capability", r.Capability),
				zap.String("confirmation_id", r.ConfirmationID),
				zap.Error(err))
		} else {
			comp.Succeeded = true
			observability.RecordCompensation("ok")
		}
		tx.Compensations = append(tx.Compensations, comp)
	}
	return unreconciled
}
