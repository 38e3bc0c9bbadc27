package plan

import (
	"fmt"
	"sort"

	"github.com/vacaplan-dev/vacaplan/internal/trip"
)

// Reconcile fits the itinerary under the budget ceiling by swapping the
// selected flight or hotel for cheaper alternatives. Candidate swaps are
// tried in descending order of savings, preferring the swap that gives up
// the least value score per cent saved. When no combination fits it returns
// ErrInfeasible and leaves the itinerary unchanged.
//
// It returns a description of each applied swap.
func Reconcile(budgetCents int64, it *trip.Itinerary, flightAlts []trip.FlightOption, hotelAlts []trip.HotelOption) ([]string, error) {
	if it.Total() <= budgetCents {
		it.TotalCents = it.Total()
		it.RemainingCents = budgetCents - it.TotalCents
		return nil, nil
	}

	work := *it
	var changes []string

	for work.Total() > budgetCents {
		swap, ok := bestSwap(&work, flightAlts, hotelAlts)
		if !ok {
			return nil, ErrInfeasible
		}
		changes = append(changes, swap.apply(&work))
	}

	work.TotalCents = work.Total()
	work.RemainingCents = budgetCents - work.TotalCents
	*it = work
	return changes, nil
}

type candidateSwap struct {
	flight  *trip.FlightOption
	hotel   *trip.HotelOption
	savings int64
	// deficit is the value score given up by taking the alternative.
	deficit float64
}

func (s *candidateSwap) apply(it *trip.Itinerary) string {
	if s.flight != nil {
		desc := fmt.Sprintf("flight %s (%d) -> %s (%d)",
			it.Flight.Ref, it.Flight.PriceCents, s.flight.Ref, s.flight.PriceCents)
		it.Flight = *s.flight
		return desc
	}
	desc := fmt.Sprintf("hotel %s (%d) -> %s (%d)",
		it.Hotel.Ref, it.Hotel.TotalCents, s.hotel.Ref, s.hotel.TotalCents)
	it.Hotel = *s.hotel
	return desc
}

// bestSwap picks the cheaper alternative with the largest savings, breaking
// ties toward the smaller value-score deficit.
func bestSwap(it *trip.Itinerary, flightAlts []trip.FlightOption, hotelAlts []trip.HotelOption) (candidateSwap, bool) {
	var candidates []candidateSwap
	for i := range flightAlts {
		alt := &flightAlts[i]
		if alt.Ref == it.Flight.Ref || alt.PriceCents >= it.Flight.PriceCents {
			continue
		}
		candidates = append(candidates, candidateSwap{
			flight:  alt,
			savings: it.Flight.PriceCents - alt.PriceCents,
			deficit: it.Flight.ValueScore - alt.ValueScore,
		})
	}
	for i := range hotelAlts {
		alt := &hotelAlts[i]
		if alt.Ref == it.Hotel.Ref || alt.TotalCents >= it.Hotel.TotalCents {
			continue
		}
		candidates = append(candidates, candidateSwap{
			hotel:   alt,
			savings: it.Hotel.TotalCents - alt.TotalCents,
			deficit: it.Hotel.ValueScore - alt.ValueScore,
		})
	}
	if len(candidates) == 0 {
		return candidateSwap{}, false
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].savings != candidates[j].savings {
			return candidates[i].savings > candidates[j].savings
		}
		return candidates[i].deficit < candidates[j].deficit
	})
	return candidates[0], true
}
