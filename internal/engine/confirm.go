package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/vacaplan-dev/vacaplan/internal/booking"
	"github.com/vacaplan-dev/vacaplan/internal/confirm"
	"github.com/vacaplan-dev/vacaplan/internal/event"
	"github.com/vacaplan-dev/vacaplan/internal/store"
	"github.com/vacaplan-dev/vacaplan/internal/trip"
)

// ConfirmResult reports the outcome of presenting a confirmation token.
type ConfirmResult struct {
	Outcome confirm.Outcome
	Session *store.Session
	// NewToken is set when the presented intent no longer matches the
	// pending one and a fresh token was issued for re-confirmation.
	NewToken string
}

// Confirm presents a confirmation token for a suspended session. A valid
// token triggers the booking; every other outcome leaves the session
// suspended (or expires it) and no reservation is attempted.
func (e *Engine) Confirm(ctx context.Context, sessionID, token, presentedHash string) (*ConfirmResult, error) {
	if err := e.acquire(sessionID); err != nil {
		return nil, err
	}
	defer e.release(sessionID)

	sess, err := e.store.LoadSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if sess.Status.Terminal() {
		return nil, fmt.Errorf("%w: %s", ErrTerminal, sess.Status)
	}
	if sess.Status != store.StatusAwaiting {
		return nil, fmt.Errorf("%w: status %s", ErrNotAwaiting, sess.Status)
	}
	rt := e.runtime(sess)

	if sess.ConfirmDeadline != nil && e.now().After(*sess.ConfirmDeadline) {
		e.expire(ctx, sess, rt)
		return &ConfirmResult{Outcome: confirm.OutcomeExpired, Session: sess}, nil
	}

	outcome, verifyErr := e.gate.Verify(ctx, token, sessionID, presentedHash)
	switch outcome {
	case confirm.OutcomeValid:
		e.emit(ctx, sess.ID, event.Event{Type: event.TypeConfirmAccepted})
		return e.executeBooking(ctx, sess, rt)

	case confirm.OutcomeExpired:
		e.emit(ctx, sess.ID, event.Event{Type: event.TypeConfirmRejected, Error: verifyErr.Error()})
		e.expire(ctx, sess, rt)
		return &ConfirmResult{Outcome: outcome, Session: sess}, nil

	case confirm.OutcomeMismatch:
		e.emit(ctx, sess.ID, event.Event{Type: event.TypeConfirmRejected, Error: verifyErr.Error()})
		// The priced intent drifted. Re-present it under a fresh token
		// instead of booking something the user did not approve.
		newToken, reissueErr := e.reissue(ctx, sess, rt)
		if reissueErr != nil {
			return nil, reissueErr
		}
		return &ConfirmResult{Outcome: outcome, Session: sess, NewToken: newToken}, nil

	default: // AlreadyUsed, Invalid
		e.emit(ctx, sess.ID, event.Event{Type: event.TypeConfirmRejected, Error: verifyErr.Error()})
		return &ConfirmResult{Outcome: outcome, Session: sess}, nil
	}
}

// reissue binds a fresh token and deadline to the session's current intent.
func (e *Engine) reissue(ctx context.Context, sess *store.Session, rt *sessionRuntime) (string, error) {
	intent := trip.IntentFromItinerary(sess.ID, sess.Itinerary)
	token, err := e.gate.Issue(sess.ID, intent)
	if err != nil {
		return "", fmt.Errorf("reissue confirmation token: %w", err)
	}
	deadline := e.now().Add(e.cfg.ConfirmTTL)
	sess.IntentHash = intent.Hash()
	sess.ConfirmToken = token
	sess.ConfirmDeadline = &deadline
	if err := e.save(ctx, sess, rt); err != nil {
		return "", err
	}
	e.emit(ctx, sess.ID, event.Event{
		Type: event.TypeAwaitingConfirm,
		Data: map[string]any{
			"intentHash": sess.IntentHash,
			"totalCents": intent.TotalCents(),
			"expiresAt":  deadline.Format(time.RFC3339),
		},
	})
	return token, nil
}

// executeBooking runs the coordinator for the confirmed intent and
// finalizes the session from the transaction outcome.
func (e *Engine) executeBooking(ctx context.Context, sess *store.Session, rt *sessionRuntime) (*ConfirmResult, error) {
	intent := trip.IntentFromItinerary(sess.ID, sess.Itinerary)
	e.emit(ctx, sess.ID, event.Event{
		Type: event.TypeBookingStarted,
		Data: map[string]any{"totalCents": intent.TotalCents(), "items": len(intent.Items)},
	})

	tx, execErr := rt.coordinator.Execute(ctx, intent)
	if tx != nil {
		sess.TransactionID = tx.ID
		if err := e.store.SaveTransaction(ctx, tx); err != nil {
			e.logger.Error("transaction persist failed",
				zap.String("session_id", sess.ID),
				zap.String("transaction_id", tx.ID),
				zap.Error(err))
		}
	}

	if execErr == nil {
		e.emit(ctx, sess.ID, event.Event{
			Type: event.TypeBookingCommitted,
			Data: map[string]any{"transactionId": tx.ID, "totalCents": tx.TotalCents},
		})
		if err := e.finish(ctx, sess, rt, store.StatusCompleted, "", event.TypeSessionCompleted, ""); err != nil {
			return nil, err
		}
		return &ConfirmResult{Outcome: confirm.OutcomeValid, Session: sess}, nil
	}

	var pe *booking.PartialFailureError
	if errors.As(execErr, &pe) {
		e.emit(ctx, sess.ID, event.Event{
			Type:  event.TypeBookingPartial,
			Error: execErr.Error(),
			Data:  map[string]any{"unreconciled": pe.Unreconciled},
		})
		if err := e.finish(ctx, sess, rt, store.StatusFailed, ReasonBookingPartial, event.TypeSessionFailed, execErr.Error()); err != nil {
			return nil, err
		}
		return &ConfirmResult{Outcome: confirm.OutcomeValid, Session: sess}, execErr
	}

	e.emit(ctx, sess.ID, event.Event{Type: event.TypeBookingRolledBack, Error: execErr.Error()})
	if err := e.finish(ctx, sess, rt, store.StatusFailed, ReasonBookingFailed, event.TypeSessionFailed, execErr.Error()); err != nil {
		return nil, err
	}
	return &ConfirmResult{Outcome: confirm.OutcomeValid, Session: sess}, execErr
}

func (e *Engine) expire(ctx context.Context, sess *store.Session, rt *sessionRuntime) {
	if err := e.finish(ctx, sess, rt, store.StatusExpired, "", event.TypeSessionExpired, "confirmation window elapsed"); err != nil {
		e.logger.Warn("expire persist failed", zap.String("session_id", sess.ID), zap.Error(err))
	}
}

// Cancel stops a session. Before booking starts it simply ends the session;
// after a committed booking it converts into a rollback of the transaction.
func (e *Engine) Cancel(ctx context.Context, sessionID string) (*store.Session, error) {
	if err := e.acquire(sessionID); err != nil {
		return nil, err
	}
	defer e.release(sessionID)

	sess, err := e.store.LoadSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	rt := e.runtime(sess)

	switch {
	case sess.Status == store.StatusActive || sess.Status == store.StatusAwaiting:
		if err := e.finish(ctx, sess, rt, store.StatusCancelled, "", event.TypeSessionCancelled, ""); err != nil {
			return nil, err
		}
		return sess, nil

	case sess.Status == store.StatusCompleted && sess.TransactionID != "":
		return e.rollbackBooking(ctx, sess, rt)

	default:
		return nil, fmt.Errorf("%w: %s", ErrTerminal, sess.Status)
	}
}

func (e *Engine) rollbackBooking(ctx context.Context, sess *store.Session, rt *sessionRuntime) (*store.Session, error) {
	tx, err := e.store.LoadTransaction(ctx, sess.TransactionID)
	if err != nil {
		return nil, err
	}
	compErr := rt.coordinator.Compensate(ctx, tx)
	if saveErr := e.store.SaveTransaction(ctx, tx); saveErr != nil {
		e.logger.Error("transaction persist failed",
			zap.String("session_id", sess.ID),
			zap.String("transaction_id", tx.ID),
			zap.Error(saveErr))
	}
	if compErr != nil {
		e.emit(ctx, sess.ID, event.Event{Type: event.TypeBookingPartial, Error: compErr.Error()})
		if err := e.finish(ctx, sess, rt, store.StatusFailed, ReasonBookingPartial, event.TypeSessionFailed, compErr.Error()); err != nil {
			return nil, err
		}
		return sess, compErr
	}
	e.emit(ctx, sess.ID, event.Event{Type: event.TypeBookingRolledBack})
	if err := e.finish(ctx, sess, rt, store.StatusCancelled, "", event.TypeSessionCancelled, ""); err != nil {
		return nil, err
	}
	return sess, nil
}

// ExpireStale sweeps suspended sessions whose confirmation window elapsed.
// Sessions busy in another execution are skipped and caught next sweep.
func (e *Engine) ExpireStale(ctx context.Context) (int, error) {
	ids, err := e.store.ListSessions(ctx, store.StatusAwaiting)
	if err != nil {
		return 0, err
	}
	var expired int
	for _, id := range ids {
		if e.acquire(id) != nil {
			continue
		}
		sess, err := e.store.LoadSession(ctx, id)
		if err != nil {
			e.release(id)
			continue
		}
		if sess.Status == store.StatusAwaiting && sess.ConfirmDeadline != nil && e.now().After(*sess.ConfirmDeadline) {
			e.expire(ctx, sess, e.runtime(sess))
			expired++
		}
		e.release(id)
	}
	return expired, nil
}
