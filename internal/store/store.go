package store

import (
	"context"
	"errors"
	"time"

	"github.com/vacaplan-dev/vacaplan/internal/booking"
	"github.com/vacaplan-dev/vacaplan/internal/event"
)

var (
	// ErrNotFound is returned when a session or transaction does not exist.
	ErrNotFound = errors.New("store: not found")
	// ErrClosed is returned after Close.
	ErrClosed = errors.New("store: closed")
)

// Store persists session state, booking transactions and the audit trail.
//
// SaveSession replaces the whole session record atomically: either the new
// snapshot is fully visible to a subsequent load or the previous one is.
type Store interface {
	SaveSession(ctx context.Context, sess *Session) error
	LoadSession(ctx context.Context, id string) (*Session, error)
	DeleteSession(ctx context.Context, id string) error
	// ListSessions returns ids of sessions in the given status; empty
	// status matches all.
	ListSessions(ctx context.Context, status Status) ([]string, error)

	SaveTransaction(ctx context.Context, tx *booking.Transaction) error
	LoadTransaction(ctx context.Context, id string) (*booking.Transaction, error)

	AppendAudit(ctx context.Context, sessionID string, ev event.Event) error
	LoadAudit(ctx context.Context, sessionID string) ([]event.Event, error)

	// PurgeBefore removes sessions (with their audit trails and
	// transactions) whose last update is older than cutoff, returning how
	// many were removed.
	PurgeBefore(ctx context.Context, cutoff time.Time) (int, error)

	Close() error
}
