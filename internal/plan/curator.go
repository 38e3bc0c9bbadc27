package plan

import (
	"fmt"
	"sort"

	"github.com/vacaplan-dev/vacaplan/internal/trip"
)

const activitiesPerDay = 3

// RuleCurator assembles day plans deterministically: suggestions matching
// the trip's style tags are preferred, spread round-robin across the stay.
// Each revision pass drops the most expensive remaining suggestions so a
// re-curated plan is never costlier than its predecessor.
type RuleCurator struct{}

// NewRuleCurator returns the rule-based curator.
func NewRuleCurator() *RuleCurator { return &RuleCurator{} }

func (c *RuleCurator) Curate(req trip.Request, hotel trip.HotelOption, pool []trip.ActivitySuggestion, revision int) ([]trip.DayPlan, error) {
	if req.Nights <= 0 {
		return nil, fmt.Errorf("curate: stay has no nights")
	}
	if len(pool) == 0 {
		return nil, fmt.Errorf("curate: empty activity pool")
	}

	ranked := rankSuggestions(req.StyleTags, pool)

	// Revisions shed cost from the top.
	for r := 0; r < revision && len(ranked) > req.Nights; r++ {
		ranked = dropMostExpensive(ranked, len(ranked)/4+1)
	}

	days := make([]trip.DayPlan, req.Nights)
	for i := range days {
		days[i] = trip.DayPlan{
			Day:   i + 1,
			Title: fmt.Sprintf("Day %d in %s", i+1, req.Destination),
		}
	}
	for i, s := range ranked {
		d := &days[i%req.Nights]
		if len(d.Activities) >= activitiesPerDay {
			continue
		}
		d.Activities = append(d.Activities, s.Name)
		d.CostCents += s.CostCents * int64(req.Travelers)
	}

	for i := range days {
		if len(days[i].Activities) == 0 {
			days[i].Activities = []string{"Free day near " + hotel.Location}
		}
	}
	return days, nil
}

// rankSuggestions orders by style-tag match count descending, then by cost
// ascending so cheaper fillers come before splurges of equal relevance.
func rankSuggestions(styleTags []string, pool []trip.ActivitySuggestion) []trip.ActivitySuggestion {
	tagSet := make(map[string]bool, len(styleTags))
	for _, t := range styleTags {
		tagSet[t] = true
	}
	score := func(s trip.ActivitySuggestion) int {
		var n int
		for _, t := range s.StyleTags {
			if tagSet[t] {
				n++
			}
		}
		return n
	}
	ranked := make([]trip.ActivitySuggestion, len(pool))
	copy(ranked, pool)
	sort.SliceStable(ranked, func(i, j int) bool {
		si, sj := score(ranked[i]), score(ranked[j])
		if si != sj {
			return si > sj
		}
		return ranked[i].CostCents < ranked[j].CostCents
	})
	return ranked
}

func dropMostExpensive(pool []trip.ActivitySuggestion, n int) []trip.ActivitySuggestion {
	if n >= len(pool) {
		n = len(pool) - 1
	}
	byCost := make([]trip.ActivitySuggestion, len(pool))
	copy(byCost, pool)
	sort.SliceStable(byCost, func(i, j int) bool { return byCost[i].CostCents > byCost[j].CostCents })
	cut := make(map[string]int)
	for _, s := range byCost[:n] {
		cut[s.Name]++
	}
	var out []trip.ActivitySuggestion
	for _, s := range pool {
		if cut[s.Name] > 0 {
			cut[s.Name]--
			continue
		}
		out = append(out, s)
	}
	return out
}
