package engine

import "errors"

var (
	// ErrSessionBusy is returned when another execution already holds the
	// session. Callers retry or surface the conflict.
	ErrSessionBusy = errors.New("engine: session is busy")

	// ErrNotAwaiting is returned when a confirmation arrives for a session
	// that is not suspended at the confirmation gate.
	ErrNotAwaiting = errors.New("engine: session is not awaiting confirmation")

	// ErrTerminal is returned for operations on a session that already
	// reached a terminal state.
	ErrTerminal = errors.New("engine: session already terminal")

	// ErrPlanRejected is returned when the reviewer rejects the itinerary
	// after its one allowed revision.
	ErrPlanRejected = errors.New("engine: plan rejected after revision")

	// ErrDatesUnavailable is returned when the calendar reports conflicts
	// on the requested dates.
	ErrDatesUnavailable = errors.New("engine: requested dates unavailable")
)

// Failure reasons stored on terminal sessions. These are the stable error
// kinds surfaced to API clients.
const (
	ReasonBudgetExceeded   = "budget_exceeded"
	ReasonToolCapExceeded  = "tool_cap_exceeded"
	ReasonBudgetInfeasible = "budget_infeasible"
	ReasonPlanRejected     = "plan_rejected"
	ReasonBookingFailed    = "booking_failed"
	ReasonBookingPartial   = "booking_partially_failed"
	ReasonDatesUnavailable = "dates_unavailable"
	ReasonStepFailed       = "step_failed"
)
