package providers

import (
	"context"
	"fmt"

	"github.com/vacaplan-dev/vacaplan/internal/tool"
	"github.com/vacaplan-dev/vacaplan/internal/trip"
)

type hotelListing struct {
	ref        string
	name       string
	location   string
	stars      int
	nightly    int64 // cents
	features   []string
	valueScore float64
}

var hotelCatalog = []hotelListing{
	{ref: "HT-LAY", name: "The Layar Private Villas", location: "Seminyak", stars: 5, nightly: 24000,
		features: []string{"Private pool", "Ocean view", "Breakfast included", "Butler service"}, valueScore: 0.88},
	{ref: "HT-ALA", name: "Alaya Resort Ubud", location: "Ubud", stars: 4, nightly: 16000,
		features: []string{"Rice field view", "Spa", "Yoga deck", "Free shuttle"}, valueScore: 0.85},
	{ref: "HT-KAT", name: "Katamama Hotel", location: "Seminyak", stars: 5, nightly: 31000,
		features: []string{"Artisan suites", "Rooftop pool", "Fine dining", "Cultural experiences"}, valueScore: 0.80},
	{ref: "HT-BIS", name: "Bisma Eight", location: "Ubud", stars: 4, nightly: 12000,
		features: []string{"Jungle view", "Infinity pool", "Organic breakfast", "Spa"}, valueScore: 0.82},
}

// Hotels searches and reserves stays from a fixed catalog.
type Hotels struct {
	res *reservations
	// FailReserve injects a reservation error per option ref.
	FailReserve map[string]error
}

// NewHotels creates the hotel provider.
func NewHotels() *Hotels {
	return &Hotels{res: newReservations(), FailReserve: make(map[string]error)}
}

func (h *Hotels) Capability() string { return CapHotels }

// ActiveReservations reports reservations not yet cancelled.
func (h *Hotels) ActiveReservations() int { return h.res.ActiveCount() }

func (h *Hotels) Call(_ context.Context, op tool.Operation, payload map[string]any) (map[string]any, error) {
	switch op {
	case tool.OpSearch:
		return h.search(payload)
	case tool.OpReserve:
		return h.reserve(payload)
	case tool.OpCancel:
		ref, ok := stringField(payload, "confirmationId")
		if !ok {
			return nil, badPayload(CapHotels, "confirmationId")
		}
		if err := h.res.cancel(CapHotels, ref); err != nil {
			return nil, err
		}
		return map[string]any{"cancelled": true}, nil
	default:
		return nil, tool.Permanent(CapHotels, op, fmt.Errorf("operation %s not supported", op))
	}
}

func (h *Hotels) search(payload map[string]any) (map[string]any, error) {
	if _, ok := stringField(payload, "destination"); !ok {
		return nil, badPayload(CapHotels, "destination")
	}
	nights := intField(payload, "nights", 7)
	if nights <= 0 {
		return nil, tool.Permanent(CapHotels, tool.OpSearch, fmt.Errorf("stay of %d nights", nights))
	}

	options := make([]trip.HotelOption, 0, len(hotelCatalog))
	for _, hl := range hotelCatalog {
		options = append(options, trip.HotelOption{
			Ref:          hl.ref,
			Name:         hl.name,
			Location:     hl.location,
			Stars:        hl.stars,
			NightlyCents: hl.nightly,
			TotalCents:   hl.nightly * int64(nights),
			Features:     hl.features,
			ValueScore:   hl.valueScore,
		})
	}
	return map[string]any{"options": options}, nil
}

func (h *Hotels) reserve(payload map[string]any) (map[string]any, error) {
	optionRef, ok := stringField(payload, "optionRef")
	if !ok {
		return nil, badPayload(CapHotels, "optionRef")
	}
	if err := h.FailReserve[optionRef]; err != nil {
		return nil, err
	}
	var found bool
	for _, hl := range hotelCatalog {
		if hl.ref == optionRef {
			found = true
			break
		}
	}
	if !found {
		return nil, tool.Permanent(CapHotels, tool.OpReserve, fmt.Errorf("unknown listing %q", optionRef))
	}
	confirmationID, cancelRef := h.res.reserve("HTL", optionRef)
	return map[string]any{
		"confirmationId": confirmationID,
		"cancelRef":      cancelRef,
	}, nil
}
