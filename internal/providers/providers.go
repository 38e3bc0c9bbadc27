// Package providers contains the built-in capability providers: calendar
// availability, flight and hotel search, and activity suggestions. They
// serve deterministic catalog data, so the pipeline runs end to end without
// external credentials; real integrations implement the same contract.
package providers

import (
	"fmt"
	"sync"
	"time"

	"github.com/vacaplan-dev/vacaplan/internal/tool"
)

// Capability names served by this package.
const (
	CapCalendar   = "calendar"
	CapFlights    = "flights"
	CapHotels     = "hotels"
	CapActivities = "activities"
)

func stringField(payload map[string]any, key string) (string, bool) {
	v, ok := payload[key].(string)
	return v, ok && v != ""
}

func intField(payload map[string]any, key string, def int) int {
	switch v := payload[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	}
	return def
}

func badPayload(capability, key string) error {
	return tool.Permanent(capability, tool.OpSearch, fmt.Errorf("missing %q in payload", key))
}

// reservations tracks issued confirmations for providers that support
// reserve and cancel.
type reservations struct {
	mu        sync.Mutex
	seq       int
	active    map[string]string // confirmationID -> optionRef
	cancelled []string
}

func newReservations() *reservations {
	return &reservations{active: make(map[string]string)}
}

func (r *reservations) reserve(prefix, optionRef string) (confirmationID, cancelRef string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seq++
	confirmationID = fmt.Sprintf("%s-%d-%d", prefix, time.Now().Unix(), r.seq)
	r.active[confirmationID] = optionRef
	return confirmationID, "CXL-" + confirmationID
}

func (r *reservations) cancel(capability, cancelRef string) error {
	const cxlPrefix = "CXL-"
	if len(cancelRef) <= len(cxlPrefix) || cancelRef[:len(cxlPrefix)] != cxlPrefix {
		return tool.Permanent(capability, tool.OpCancel, fmt.Errorf("unknown cancellation reference %q", cancelRef))
	}
	confirmationID := cancelRef[len(cxlPrefix):]
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.active[confirmationID]; !ok {
		return tool.Permanent(capability, tool.OpCancel, fmt.Errorf("no active reservation %q", confirmationID))
	}
	delete(r.active, confirmationID)
	r.cancelled = append(r.cancelled, confirmationID)
	return nil
}

// ActiveCount reports reservations not yet cancelled. Used by tests and the
// demo binary to check that rollback left nothing behind.
func (r *reservations) ActiveCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.active)
}
