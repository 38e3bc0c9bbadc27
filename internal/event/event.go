package event

import (
	"time"
)

// Type identifies the kind of pipeline event.
type Type string

const (
	TypeSessionStarted    Type = "session.started"
	TypeStepStarted       Type = "step.started"
	TypeStepCompleted     Type = "step.completed"
	TypeStepFailed        Type = "step.failed"
	TypeAwaitingConfirm   Type = "confirmation.awaiting"
	TypeConfirmAccepted   Type = "confirmation.accepted"
	TypeConfirmRejected   Type = "confirmation.rejected"
	TypeBookingStarted    Type = "booking.started"
	TypeBookingCommitted  Type = "booking.committed"
	TypeBookingRolledBack Type = "booking.rolled_back"
	TypeBookingPartial    Type = "booking.partially_failed"
	TypeSessionCompleted  Type = "session.completed"
	TypeSessionFailed     Type = "session.failed"
	TypeSessionExpired    Type = "session.expired"
	TypeSessionCancelled  Type = "session.cancelled"
)

// Event is one entry in a session's ordered event stream.
type Event struct {
	// Seq is the 1-based position within the session's stream.
	Seq       int64          `json:"seq"`
	SessionID string         `json:"sessionId"`
	Type      Type           `json:"type"`
	Step      string         `json:"step,omitempty"`
	Message   string         `json:"message,omitempty"`
	Error     string         `json:"error,omitempty"`
	Data      map[string]any `json:"data,omitempty"`
	At        time.Time      `json:"at"`
}
