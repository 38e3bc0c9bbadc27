package providers

import (
	"context"
	"fmt"
	"time"

	"github.com/vacaplan-dev/vacaplan/internal/tool"
)

// Calendar reports free dates in a range. The built-in implementation
// treats every requested day as free unless listed in Busy.
type Calendar struct {
	// Busy holds ISO dates that are blocked.
	Busy map[string]bool
}

// NewCalendar creates a calendar provider with no busy days.
func NewCalendar() *Calendar {
	return &Calendar{Busy: make(map[string]bool)}
}

func (c *Calendar) Capability() string { return CapCalendar }

func (c *Calendar) Call(_ context.Context, op tool.Operation, payload map[string]any) (map[string]any, error) {
	if op != tool.OpSearch {
		return nil, tool.Permanent(CapCalendar, op, fmt.Errorf("operation %s not supported", op))
	}
	startDate, ok := stringField(payload, "startDate")
	if !ok {
		return nil, badPayload(CapCalendar, "startDate")
	}
	endDate, ok := stringField(payload, "endDate")
	if !ok {
		return nil, badPayload(CapCalendar, "endDate")
	}
	start, err := time.Parse("2006-01-02", startDate)
	if err != nil {
		return nil, tool.Permanent(CapCalendar, op, fmt.Errorf("bad start date %q: %w", startDate, err))
	}
	end, err := time.Parse("2006-01-02", endDate)
	if err != nil {
		return nil, tool.Permanent(CapCalendar, op, fmt.Errorf("bad end date %q: %w", endDate, err))
	}

	var free []string
	for d := start; !d.After(end); d = d.AddDate(0, 0, 1) {
		day := d.Format("2006-01-02")
		if !c.Busy[day] {
			free = append(free, day)
		}
	}
	return map[string]any{"freeDates": free}, nil
}
