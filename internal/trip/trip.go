// Package trip defines the domain model for a planned trip: the immutable
// request, searched options, the assembled itinerary, and the priced
// booking intent presented for confirmation.
package trip

import (
	"fmt"
	"time"
)

// Request holds the structured trip parameters. It is immutable once a
// session starts; the preference-parsing collaborator produces it.
type Request struct {
	// Origin is the departure airport or city code.
	Origin string `json:"origin"`
	// Destination is the destination city.
	Destination string `json:"destination"`
	// StartDate and EndDate bound the trip (inclusive), ISO dates.
	StartDate string `json:"startDate"`
	EndDate   string `json:"endDate"`
	// Nights is the stay duration.
	Nights int `json:"nights"`
	// BudgetCents is the total budget ceiling in USD cents.
	BudgetCents int64 `json:"budgetCents"`
	// Travelers is the traveler count.
	Travelers int `json:"travelers"`
	// StyleTags describe trip style (beach, culture, food, ...).
	StyleTags []string `json:"styleTags,omitempty"`
}

// Validate checks the request for fields the pipeline cannot proceed without.
func (r *Request) Validate() error {
	if r.Destination == "" {
		return fmt.Errorf("destination is required")
	}
	if r.StartDate == "" || r.EndDate == "" {
		return fmt.Errorf("date range is required")
	}
	if _, err := time.Parse("2006-01-02", r.StartDate); err != nil {
		return fmt.Errorf("invalid start date %q: %w", r.StartDate, err)
	}
	end, err := time.Parse("2006-01-02", r.EndDate)
	if err != nil {
		return fmt.Errorf("invalid end date %q: %w", r.EndDate, err)
	}
	start, _ := time.Parse("2006-01-02", r.StartDate)
	if end.Before(start) {
		return fmt.Errorf("end date precedes start date")
	}
	if r.BudgetCents <= 0 {
		return fmt.Errorf("budget must be positive")
	}
	if r.Travelers <= 0 {
		return fmt.Errorf("traveler count must be positive")
	}
	if r.Nights <= 0 {
		r.Nights = int(end.Sub(start).Hours() / 24)
		if r.Nights <= 0 {
			return fmt.Errorf("trip must span at least one night")
		}
	}
	return nil
}

// FlightOption is a single searched flight offer.
type FlightOption struct {
	Ref        string  `json:"ref"`
	Airline    string  `json:"airline"`
	Origin     string  `json:"origin"`
	Dest       string  `json:"dest"`
	Departure  string  `json:"departure"`
	Arrival    string  `json:"arrival"`
	Cabin      string  `json:"cabin"`
	PriceCents int64   `json:"priceCents"`
	ValueScore float64 `json:"valueScore"`
}

// HotelOption is a single searched hotel offer for the whole stay.
type HotelOption struct {
	Ref           string   `json:"ref"`
	Name          string   `json:"name"`
	Location      string   `json:"location"`
	Stars         int      `json:"stars"`
	NightlyCents  int64    `json:"nightlyCents"`
	TotalCents    int64    `json:"totalCents"`
	Features      []string `json:"features,omitempty"`
	ValueScore    float64  `json:"valueScore"`
}

// ActivitySuggestion is one candidate activity from the activity provider.
type ActivitySuggestion struct {
	Name      string   `json:"name"`
	StyleTags []string `json:"styleTags,omitempty"`
	// CostCents is the estimated cost per person.
	CostCents int64 `json:"costCents"`
}

// DayPlan is one curated day of the itinerary.
type DayPlan struct {
	Day        int      `json:"day"`
	Title      string   `json:"title"`
	Activities []string `json:"activities"`
	CostCents  int64    `json:"costCents"`
}

// Review holds the reviewer's verdict on an assembled itinerary.
type Review struct {
	Confidence float64  `json:"confidence"`
	Issues     []string `json:"issues,omitempty"`
	Approved   bool     `json:"approved"`
}

// Itinerary is the assembled plan: selected options plus day plans and the
// running budget arithmetic.
type Itinerary struct {
	Destination    string       `json:"destination"`
	StartDate      string       `json:"startDate"`
	EndDate        string       `json:"endDate"`
	Flight         FlightOption `json:"flight"`
	Hotel          HotelOption  `json:"hotel"`
	DayPlans       []DayPlan    `json:"dayPlans"`
	TotalCents     int64        `json:"totalCents"`
	RemainingCents int64        `json:"remainingCents"`
	Review         *Review      `json:"review,omitempty"`
}

// Total recomputes the itinerary total from its parts.
func (it *Itinerary) Total() int64 {
	total := it.Flight.PriceCents + it.Hotel.TotalCents
	for _, d := range it.DayPlans {
		total += d.CostCents
	}
	return total
}

// ActivityCents sums the day plan costs.
func (it *Itinerary) ActivityCents() int64 {
	var total int64
	for _, d := range it.DayPlans {
		total += d.CostCents
	}
	return total
}
