// Package plan holds the reasoning strategies of the pipeline: activity
// curation, budget reconciliation and itinerary review. Each strategy is a
// pure function from structured inputs to structured outputs, so generative
// implementations can be swapped in behind the same contracts.
package plan

import (
	"errors"

	"github.com/vacaplan-dev/vacaplan/internal/trip"
)

// ErrInfeasible means no combination of available options fits the budget.
var ErrInfeasible = errors.New("plan: no option combination fits the budget")

// DefaultConfidenceThreshold is the minimum review confidence for a plan to
// proceed to booking.
const DefaultConfidenceThreshold = 0.7

// Curator builds a day-by-day activity plan. revision is 0 on the first
// pass and increments each time the reviewer sends the plan back.
type Curator interface {
	Curate(req trip.Request, hotel trip.HotelOption, pool []trip.ActivitySuggestion, revision int) ([]trip.DayPlan, error)
}

// Reviewer scores an assembled itinerary for logical coherence.
type Reviewer interface {
	Review(req trip.Request, it *trip.Itinerary) trip.Review
}
