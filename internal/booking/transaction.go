package booking

import (
	"fmt"
	"time"

	"github.com/vacaplan-dev/vacaplan/internal/trip"
)

// TxStatus is the overall state of a booking transaction.
type TxStatus string

const (
	TxPending TxStatus = "pending"
	// TxCommitted means every sub-reservation succeeded.
	TxCommitted TxStatus = "committed"
	// TxRolledBack means a reservation failed and every compensation
	// succeeded; no charge stands.
	TxRolledBack TxStatus = "rolled_back"
	// TxPartiallyFailed means at least one compensation itself failed.
	// Terminal; requires manual operator reconciliation, never retried.
	TxPartiallyFailed TxStatus = "partially_failed"
)

// Reservation is one completed provider reservation inside a transaction.
type Reservation struct {
	Kind           trip.ReservationKind `json:"kind"`
	Capability     string               `json:"capability"`
	OptionRef      string               `json:"optionRef"`
	PriceCents     int64                `json:"priceCents"`
	ConfirmationID string               `json:"confirmationId"`
	// CancelRef is the compensating-action reference recorded before the
	// coordinator proceeds to the next reservation.
	CancelRef  string    `json:"cancelRef"`
	ReservedAt time.Time `json:"reservedAt"`
}

// Compensation records one compensating (cancellation) call and its outcome.
type Compensation struct {
	Kind           trip.ReservationKind `json:"kind"`
	Capability     string               `json:"capability"`
	ConfirmationID string               `json:"confirmationId"`
	Succeeded      bool                 `json:"succeeded"`
	Error          string               `json:"error,omitempty"`
	At             time.Time            `json:"at"`
}

// Transaction is the durable record of one booking attempt.
type Transaction struct {
	ID            string         `json:"id"`
	SessionID     string         `json:"sessionId"`
	Status        TxStatus       `json:"status"`
	Reservations  []Reservation  `json:"reservations"`
	Compensations []Compensation `json:"compensations,omitempty"`
	TotalCents    int64          `json:"totalCents"`
	CreatedAt     time.Time      `json:"createdAt"`
	CompletedAt   *time.Time     `json:"completedAt,omitempty"`
}

// CommittedTotal sums the prices of completed reservations.
func (tx *Transaction) CommittedTotal() int64 {
	var total int64
	for _, r := range tx.Reservations {
		total += r.PriceCents
	}
	return total
}

// FailedError reports a reservation failure that was fully rolled back.
type FailedError struct {
	// Step is the 1-based index of the failed reservation.
	Step int
	Kind trip.ReservationKind
	Err  error
}

func (e *FailedError) Error() string {
	return fmt.Sprintf("booking failed at step %d (%s): %v", e.Step, e.Kind, e.Err)
}

func (e *FailedError) Unwrap() error { return e.Err }

// PartialFailureError reports the higher-severity outcome: a reservation
// failed and at least one compensation also failed. Manual reconciliation
// is required.
type PartialFailureError struct {
	Step int
	// Unreconciled lists provider confirmation ids whose cancellation failed.
	Unreconciled []string
	Err          error
}

func (e *PartialFailureError) Error() string {
	return fmt.Sprintf("booking failed at step %d and %d compensation(s) failed, manual reconciliation required: %v",
		e.Step, len(e.Unreconciled), e.Err)
}

func (e *PartialFailureError) Unwrap() error { return e.Err }
