package providers

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/vacaplan-dev/vacaplan/internal/tool"
	"github.com/vacaplan-dev/vacaplan/internal/trip"
)

const suggestionsPerDay = 4

var activityCatalog = map[string][]trip.ActivitySuggestion{
	"bali": {
		{Name: "Tegallalang Rice Terraces", StyleTags: []string{"culture", "nature"}, CostCents: 500},
		{Name: "Tirta Empul Holy Spring Temple", StyleTags: []string{"culture", "spiritual"}, CostCents: 300},
		{Name: "Scuba diving at Crystal Bay", StyleTags: []string{"adventure", "beach"}, CostCents: 8000},
		{Name: "Kecak Fire Dance at Uluwatu", StyleTags: []string{"culture", "evening"}, CostCents: 1500},
		{Name: "Mount Batur Volcano Sunrise Trek", StyleTags: []string{"adventure", "nature"}, CostCents: 6000},
		{Name: "Traditional Balinese Cooking Class", StyleTags: []string{"food", "culture"}, CostCents: 4500},
		{Name: "Canggu Surf Lesson", StyleTags: []string{"adventure", "beach"}, CostCents: 3500},
		{Name: "Tanah Lot Sea Temple", StyleTags: []string{"culture", "sunset"}, CostCents: 500},
		{Name: "Ubud Monkey Forest", StyleTags: []string{"nature", "family"}, CostCents: 500},
		{Name: "Jimbaran Seafood BBQ Dinner", StyleTags: []string{"food", "beach", "evening"}, CostCents: 3000},
		{Name: "Kintamani Coffee Plantation Tour", StyleTags: []string{"food", "culture"}, CostCents: 2000},
		{Name: "Nusa Lembongan Island Day Trip", StyleTags: []string{"beach", "adventure"}, CostCents: 5000},
		{Name: "Balinese Spa & Traditional Massage", StyleTags: []string{"wellness"}, CostCents: 2500},
		{Name: "Seminyak Boutique Shopping", StyleTags: []string{"shopping", "leisure"}, CostCents: 0},
		{Name: "Potato Head Beach Club", StyleTags: []string{"beach", "leisure", "evening"}, CostCents: 2000},
	},
	"default": {
		{Name: "City Walking Tour", StyleTags: []string{"culture"}, CostCents: 2000},
		{Name: "Local Food Market Visit", StyleTags: []string{"food"}, CostCents: 1500},
		{Name: "Museum & Heritage Sites", StyleTags: []string{"culture"}, CostCents: 1000},
		{Name: "Day Hike / Nature Walk", StyleTags: []string{"adventure", "nature"}, CostCents: 1000},
		{Name: "Cooking Class", StyleTags: []string{"food", "culture"}, CostCents: 5000},
		{Name: "Sunset Boat Cruise", StyleTags: []string{"leisure", "sunset"}, CostCents: 4000},
		{Name: "Spa Day", StyleTags: []string{"wellness"}, CostCents: 6000},
	},
}

// Activities serves activity suggestions filtered by style-tag overlap, and
// reserves curated activity blocks.
type Activities struct {
	res *reservations
	// FailReserve injects a reservation error per option ref.
	FailReserve map[string]error
}

// NewActivities creates the activity provider.
func NewActivities() *Activities {
	return &Activities{res: newReservations(), FailReserve: make(map[string]error)}
}

func (a *Activities) Capability() string { return CapActivities }

// ActiveReservations reports reservations not yet cancelled.
func (a *Activities) ActiveReservations() int { return a.res.ActiveCount() }

func (a *Activities) Call(_ context.Context, op tool.Operation, payload map[string]any) (map[string]any, error) {
	switch op {
	case tool.OpSearch:
		return a.search(payload)
	case tool.OpReserve:
		optionRef, ok := stringField(payload, "optionRef")
		if !ok {
			return nil, badPayload(CapActivities, "optionRef")
		}
		if err := a.FailReserve[optionRef]; err != nil {
			return nil, err
		}
		confirmationID, cancelRef := a.res.reserve("ACT", optionRef)
		return map[string]any{
			"confirmationId": confirmationID,
			"cancelRef":      cancelRef,
		}, nil
	case tool.OpCancel:
		ref, ok := stringField(payload, "confirmationId")
		if !ok {
			return nil, badPayload(CapActivities, "confirmationId")
		}
		if err := a.res.cancel(CapActivities, ref); err != nil {
			return nil, err
		}
		return map[string]any{"cancelled": true}, nil
	default:
		return nil, tool.Permanent(CapActivities, op, fmt.Errorf("operation %s not supported", op))
	}
}

func (a *Activities) search(payload map[string]any) (map[string]any, error) {
	destination, ok := stringField(payload, "destination")
	if !ok {
		return nil, badPayload(CapActivities, "destination")
	}
	days := intField(payload, "days", 7)

	var styleTags []string
	switch tags := payload["styleTags"].(type) {
	case []string:
		styleTags = tags
	case []any:
		for _, t := range tags {
			if s, ok := t.(string); ok {
				styleTags = append(styleTags, s)
			}
		}
	}

	key := strings.ToLower(strings.TrimSpace(strings.SplitN(destination, ",", 2)[0]))
	pool, ok := activityCatalog[key]
	if !ok {
		pool = activityCatalog["default"]
	}

	tagSet := make(map[string]bool, len(styleTags))
	for _, t := range styleTags {
		tagSet[t] = true
	}
	overlap := func(s trip.ActivitySuggestion) int {
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
	sort.SliceStable(ranked, func(i, j int) bool { return overlap(ranked[i]) > overlap(ranked[j]) })

	limit := days * suggestionsPerDay
	if limit > len(ranked) {
		limit = len(ranked)
	}
	return map[string]any{"suggestions": ranked[:limit]}, nil
}
