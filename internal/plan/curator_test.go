package plan

import (
	"testing"

	"github.com/vacaplan-dev/vacaplan/internal/trip"
)

func curateRequest() trip.Request {
	return trip.Request{
		Origin:      "CGK",
		Destination: "Bali",
		StartDate:   "2026-09-10",
		EndDate:     "2026-09-14",
		Nights:      4,
		BudgetCents: 300000,
		Travelers:   2,
		StyleTags:   []string{"beach", "food"},
	}
}

func suggestionPool() []trip.ActivitySuggestion {
	return []trip.ActivitySuggestion{
		{Name: "Surf lesson", StyleTags: []string{"beach", "adventure"}, CostCents: 4500},
		{Name: "Temple tour", StyleTags: []string{"culture"}, CostCents: 2500},
		{Name: "Night market crawl", StyleTags: []string{"food"}, CostCents: 1500},
		{Name: "Snorkeling trip", StyleTags: []string{"beach"}, CostCents: 6000},
		{Name: "Cooking class", StyleTags: []string{"food"}, CostCents: 5000},
		{Name: "Volcano sunrise hike", StyleTags: []string{"adventure"}, CostCents: 8000},
		{Name: "Spa afternoon", StyleTags: []string{"wellness"}, CostCents: 7000},
		{Name: "Rice terrace walk", StyleTags: []string{"culture"}, CostCents: 1000},
	}
}

func TestCurateCoversEveryNight(t *testing.T) {
	c := NewRuleCurator()
	days, err := c.Curate(curateRequest(), trip.HotelOption{Location: "Seminyak"}, suggestionPool(), 0)
	if err != nil {
		t.Fatalf("Curate: %v", err)
	}
	if len(days) != 4 {
		t.Fatalf("days = %d, want 4", len(days))
	}
	for i, d := range days {
		if d.Day != i+1 {
			t.Errorf("day %d numbered %d", i, d.Day)
		}
		if len(d.Activities) == 0 {
			t.Errorf("day %d empty", d.Day)
		}
		if len(d.Activities) > activitiesPerDay {
			t.Errorf("day %d overloaded: %v", d.Day, d.Activities)
		}
	}
}

func TestCuratePrefersStyleMatches(t *testing.T) {
	c := NewRuleCurator()
	days, err := c.Curate(curateRequest(), trip.HotelOption{}, suggestionPool(), 0)
	if err != nil {
		t.Fatalf("Curate: %v", err)
	}
	// The first slots go to style-matched suggestions; day 1 starts with the
	// cheapest style match.
	if days[0].Activities[0] != "Night market crawl" {
		t.Errorf("day 1 leads with %q, want style-matched cheapest", days[0].Activities[0])
	}
}

func TestCurateCostScalesWithTravelers(t *testing.T) {
	c := NewRuleCurator()
	req := curateRequest()
	req.Nights = 1
	pool := []trip.ActivitySuggestion{{Name: "Surf lesson", CostCents: 4500}}
	days, err := c.Curate(req, trip.HotelOption{}, pool, 0)
	if err != nil {
		t.Fatalf("Curate: %v", err)
	}
	if days[0].CostCents != 9000 {
		t.Errorf("cost = %d, want 9000 for 2 travelers", days[0].CostCents)
	}
}

func TestCurateRevisionIsCheaper(t *testing.T) {
	c := NewRuleCurator()
	req := curateRequest()
	hotel := trip.HotelOption{Location: "Ubud"}

	first, err := c.Curate(req, hotel, suggestionPool(), 0)
	if err != nil {
		t.Fatalf("Curate: %v", err)
	}
	second, err := c.Curate(req, hotel, suggestionPool(), 1)
	if err != nil {
		t.Fatalf("Curate revision: %v", err)
	}
	total := func(days []trip.DayPlan) int64 {
		var n int64
		for _, d := range days {
			n += d.CostCents
		}
		return n
	}
	if total(second) >= total(first) {
		t.Errorf("revision cost %d, want cheaper than %d", total(second), total(first))
	}
}

func TestCurateEmptyPool(t *testing.T) {
	c := NewRuleCurator()
	if _, err := c.Curate(curateRequest(), trip.HotelOption{}, nil, 0); err == nil {
		t.Fatal("expected error for empty pool")
	}
}
