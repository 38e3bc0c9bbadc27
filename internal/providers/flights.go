package providers

import (
	"context"
	"fmt"

	"github.com/vacaplan-dev/vacaplan/internal/tool"
	"github.com/vacaplan-dev/vacaplan/internal/trip"
)

type flightFare struct {
	ref        string
	airline    string
	departure  string // local time of day
	arrival    string
	perSeat    int64 // cents
	valueScore float64
}

// Catalog fares to Denpasar, cheapest is not the best value.
var flightCatalog = []flightFare{
	{ref: "FL-GA-401", airline: "Garuda Indonesia", departure: "06:30", arrival: "08:45", perSeat: 8900, valueScore: 0.90},
	{ref: "FL-JT-22", airline: "Lion Air", departure: "14:00", arrival: "16:15", perSeat: 7400, valueScore: 0.78},
	{ref: "FL-ID-7630", airline: "Batik Air", departure: "09:00", arrival: "11:20", perSeat: 10500, valueScore: 0.82},
}

// Flights searches and reserves flight fares from a fixed catalog.
type Flights struct {
	res *reservations
	// FailReserve injects a reservation error per option ref.
	FailReserve map[string]error
}

// NewFlights creates the flight provider.
func NewFlights() *Flights {
	return &Flights{res: newReservations(), FailReserve: make(map[string]error)}
}

func (f *Flights) Capability() string { return CapFlights }

// ActiveReservations reports reservations not yet cancelled.
func (f *Flights) ActiveReservations() int { return f.res.ActiveCount() }

func (f *Flights) Call(_ context.Context, op tool.Operation, payload map[string]any) (map[string]any, error) {
	switch op {
	case tool.OpSearch:
		return f.search(payload)
	case tool.OpReserve:
		return f.reserve(payload)
	case tool.OpCancel:
		ref, ok := stringField(payload, "confirmationId")
		if !ok {
			return nil, badPayload(CapFlights, "confirmationId")
		}
		if err := f.res.cancel(CapFlights, ref); err != nil {
			return nil, err
		}
		return map[string]any{"cancelled": true}, nil
	default:
		return nil, tool.Permanent(CapFlights, op, fmt.Errorf("operation %s not supported", op))
	}
}

func (f *Flights) search(payload map[string]any) (map[string]any, error) {
	origin, ok := stringField(payload, "origin")
	if !ok {
		origin = "CGK"
	}
	if _, ok := stringField(payload, "destination"); !ok {
		return nil, badPayload(CapFlights, "destination")
	}
	date, ok := stringField(payload, "date")
	if !ok {
		return nil, badPayload(CapFlights, "date")
	}
	travelers := intField(payload, "travelers", 2)

	options := make([]trip.FlightOption, 0, len(flightCatalog))
	for _, fare := range flightCatalog {
		options = append(options, trip.FlightOption{
			Ref:        fare.ref,
			Airline:    fare.airline,
			Origin:     origin,
			Dest:       "DPS",
			Departure:  fmt.Sprintf("%sT%s:00Z", date, fare.departure),
			Arrival:    fmt.Sprintf("%sT%s:00Z", date, fare.arrival),
			Cabin:      "ECONOMY",
			PriceCents: fare.perSeat * int64(travelers),
			ValueScore: fare.valueScore,
		})
	}
	return map[string]any{"options": options}, nil
}

func (f *Flights) reserve(payload map[string]any) (map[string]any, error) {
	optionRef, ok := stringField(payload, "optionRef")
	if !ok {
		return nil, badPayload(CapFlights, "optionRef")
	}
	if err := f.FailReserve[optionRef]; err != nil {
		return nil, err
	}
	var found bool
	for _, fare := range flightCatalog {
		if fare.ref == optionRef {
			found = true
			break
		}
	}
	if !found {
		return nil, tool.Permanent(CapFlights, tool.OpReserve, fmt.Errorf("unknown fare %q", optionRef))
	}
	confirmationID, cancelRef := f.res.reserve("PNR", optionRef)
	return map[string]any{
		"confirmationId": confirmationID,
		"cancelRef":      cancelRef,
	}, nil
}
