package trip

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// ReservationKind identifies what a planned reservation books.
type ReservationKind string

const (
	ReservationFlight   ReservationKind = "flight"
	ReservationHotel    ReservationKind = "hotel"
	ReservationActivity ReservationKind = "activity"
)

// PlannedReservation is one reservation the coordinator will make, in order.
type PlannedReservation struct {
	Kind        ReservationKind `json:"kind"`
	Capability  string          `json:"capability"`
	OptionRef   string          `json:"optionRef"`
	Description string          `json:"description"`
	PriceCents  int64           `json:"priceCents"`
}

// BookingIntent is the ordered, priced set of reservations proposed for
// confirmation. It is read-only input to the booking coordinator; any change
// to it invalidates previously issued confirmation tokens via the hash.
type BookingIntent struct {
	SessionID string               `json:"sessionId"`
	Items     []PlannedReservation `json:"items"`
}

// TotalCents sums the intent's reservation prices.
func (bi *BookingIntent) TotalCents() int64 {
	var total int64
	for _, item := range bi.Items {
		total += item.PriceCents
	}
	return total
}

// Hash computes the canonical content hash binding a confirmation token to
// this exact intent. Field order and encoding are fixed so the hash is
// stable across processes; price drift or reordering changes the hash.
func (bi *BookingIntent) Hash() string {
	h := sha256.New()
	fmt.Fprintf(h, "%s\n", bi.SessionID)
	for _, item := range bi.Items {
		fmt.Fprintf(h, "%s|%s|%s|%d\n", item.Kind, item.Capability, item.OptionRef, item.PriceCents)
	}
	return hex.EncodeToString(h.Sum(nil))
}

// IntentFromItinerary builds the booking intent for an approved itinerary in
// the coordinator's fixed dependency order: flight, hotel, then activities.
func IntentFromItinerary(sessionID string, it *Itinerary) *BookingIntent {
	intent := &BookingIntent{SessionID: sessionID}
	intent.Items = append(intent.Items, PlannedReservation{
		Kind:        ReservationFlight,
		Capability:  "flights",
		OptionRef:   it.Flight.Ref,
		Description: fmt.Sprintf("%s %s-%s", it.Flight.Airline, it.Flight.Origin, it.Flight.Dest),
		PriceCents:  it.Flight.PriceCents,
	})
	intent.Items = append(intent.Items, PlannedReservation{
		Kind:        ReservationHotel,
		Capability:  "hotels",
		OptionRef:   it.Hotel.Ref,
		Description: it.Hotel.Name,
		PriceCents:  it.Hotel.TotalCents,
	})
	for _, day := range it.DayPlans {
		if day.CostCents == 0 {
			continue
		}
		intent.Items = append(intent.Items, PlannedReservation{
			Kind:        ReservationActivity,
			Capability:  "activities",
			OptionRef:   fmt.Sprintf("%s-day-%d", sessionID, day.Day),
			Description: day.Title,
			PriceCents:  day.CostCents,
		})
	}
	return intent
}
