package plan

import (
	"fmt"
	"time"

	"github.com/vacaplan-dev/vacaplan/internal/trip"
)

// RuleReviewer computes a confidence score from logical-conflict checks.
// It starts at full confidence and deducts per issue found; the itinerary
// is approved when the score clears the threshold.
type RuleReviewer struct {
	Threshold float64
}

// NewRuleReviewer returns a reviewer with the given approval threshold
// (0 falls back to the default).
func NewRuleReviewer(threshold float64) *RuleReviewer {
	if threshold <= 0 {
		threshold = DefaultConfidenceThreshold
	}
	return &RuleReviewer{Threshold: threshold}
}

func (r *RuleReviewer) Review(req trip.Request, it *trip.Itinerary) trip.Review {
	confidence := 1.0
	var issues []string

	deduct := func(amount float64, format string, args ...any) {
		confidence -= amount
		issues = append(issues, fmt.Sprintf(format, args...))
	}

	if remaining := req.BudgetCents - it.Total(); remaining < 0 {
		deduct(0.4, "plan exceeds budget by %d cents", -remaining)
	}

	if len(it.DayPlans) != req.Nights {
		deduct(0.3, "itinerary covers %d days, trip spans %d nights", len(it.DayPlans), req.Nights)
	}
	seen := make(map[int]bool)
	for _, d := range it.DayPlans {
		if seen[d.Day] {
			deduct(0.2, "day %d appears more than once", d.Day)
		}
		seen[d.Day] = true
		if len(d.Activities) == 0 {
			deduct(0.1, "day %d has no activities", d.Day)
		}
		if d.CostCents < 0 {
			deduct(0.2, "day %d has negative cost", d.Day)
		}
	}

	// A late arrival conflicts with a packed first day.
	if arr, err := time.Parse(time.RFC3339, it.Flight.Arrival); err == nil {
		if arr.Hour() >= 18 && len(it.DayPlans) > 0 && len(it.DayPlans[0].Activities) >= activitiesPerDay {
			deduct(0.15, "flight arrives %02d:00, day 1 is fully booked", arr.Hour())
		}
	}

	if confidence < 0 {
		confidence = 0
	}
	return trip.Review{
		Confidence: confidence,
		Issues:     issues,
		Approved:   confidence >= r.Threshold,
	}
}
