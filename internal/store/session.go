package store

import (
	"time"

	"github.com/vacaplan-dev/vacaplan/internal/budget"
	"github.com/vacaplan-dev/vacaplan/internal/trip"
)

// Status is the lifecycle state of a planning session.
type Status string

const (
	StatusActive    Status = "active"
	StatusAwaiting  Status = "awaiting_confirmation"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusExpired   Status = "expired"
	StatusCancelled Status = "cancelled"
)

// Terminal reports whether the status admits no further transitions.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusExpired, StatusCancelled:
		return true
	}
	return false
}

// StepResult records one completed pipeline step. Steps are appended in
// execution order and never rewritten, so a resumed session can skip work
// that already finished.
type StepResult struct {
	Step       string         `json:"step"`
	Succeeded  bool           `json:"succeeded"`
	Error      string         `json:"error,omitempty"`
	Attempts   int            `json:"attempts"`
	StartedAt  time.Time      `json:"startedAt"`
	FinishedAt time.Time      `json:"finishedAt"`
	Output     map[string]any `json:"output,omitempty"`
}

// Session is the full durable state of one trip-planning run.
type Session struct {
	ID        string       `json:"id"`
	Status    Status       `json:"status"`
	Request   trip.Request `json:"request"`
	Steps     []StepResult `json:"steps,omitempty"`

	Flight    *trip.FlightOption `json:"flight,omitempty"`
	Hotel     *trip.HotelOption  `json:"hotel,omitempty"`
	Itinerary *trip.Itinerary    `json:"itinerary,omitempty"`
	Review    *trip.Review       `json:"review,omitempty"`

	// IntentHash is the canonical hash the confirmation token is bound to.
	IntentHash string `json:"intentHash,omitempty"`
	// ConfirmToken is the signed token pending presentation.
	ConfirmToken string `json:"confirmToken,omitempty"`
	// ConfirmDeadline is when a pending confirmation token expires.
	ConfirmDeadline *time.Time `json:"confirmDeadline,omitempty"`
	// Revisions counts plan re-curation passes after a failed review.
	Revisions int `json:"revisions"`

	TransactionID string `json:"transactionId,omitempty"`
	FailureReason string `json:"failureReason,omitempty"`

	Usage budget.Usage `json:"usage"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// StepDone reports whether a step already finished successfully.
func (s *Session) StepDone(step string) bool {
	for _, r := range s.Steps {
		if r.Step == step && r.Succeeded {
			return true
		}
	}
	return false
}

// StepOutput returns the persisted output of the most recent successful run
// of a step, or nil.
func (s *Session) StepOutput(step string) map[string]any {
	for i := len(s.Steps) - 1; i >= 0; i-- {
		if s.Steps[i].Step == step && s.Steps[i].Succeeded {
			return s.Steps[i].Output
		}
	}
	return nil
}
