package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/vacaplan-dev/vacaplan/internal/budget"
	"github.com/vacaplan-dev/vacaplan/internal/event"
	"github.com/vacaplan-dev/vacaplan/internal/graph"
	"github.com/vacaplan-dev/vacaplan/internal/plan"
	"github.com/vacaplan-dev/vacaplan/internal/store"
	"github.com/vacaplan-dev/vacaplan/internal/trip"
	"github.com/vacaplan-dev/vacaplan/pkg/observability"
)

// Pipeline step names. Revision steps run when the reviewer sends the plan
// back for one re-curation pass.
const (
	stepAvailability   = "availability"
	stepFlightSearch   = "flight_search"
	stepHotelSearch    = "hotel_search"
	stepCuration       = "curation"
	stepReconciliation = "reconciliation"
	stepReview         = "review"
	stepCurationRev    = "curation_revision"
	stepReconRev       = "reconciliation_revision"
	stepReviewFinal    = "review_final"
)

// Capability names the pipeline calls.
const (
	capCalendar   = "calendar"
	capFlights    = "flights"
	capHotels     = "hotels"
	capActivities = "activities"
)

// errNeedsRevision routes the pipeline into the single revision pass.
var errNeedsRevision = errors.New("review requested revision")

var pipelineLevels = mustLevels()

func mustLevels() [][]string {
	g := graph.New()
	g.Add(stepAvailability)
	g.Add(stepFlightSearch, stepAvailability)
	g.Add(stepHotelSearch, stepAvailability)
	g.Add(stepCuration, stepFlightSearch, stepHotelSearch)
	g.Add(stepReconciliation, stepCuration)
	g.Add(stepReview, stepReconciliation)
	levels, err := g.Levels()
	if err != nil {
		panic(err)
	}
	return levels
}

// runState carries per-run working data hydrated from persisted step
// outputs, so a resumed session picks up where it stopped.
type runState struct {
	sess    *store.Session
	rt      *sessionRuntime
	flights []trip.FlightOption
	hotels  []trip.HotelOption
}

func (st *runState) hydrate() error {
	if out := st.sess.StepOutput(stepFlightSearch); out != nil && st.flights == nil {
		if err := decodeField(out, "options", &st.flights); err != nil {
			return fmt.Errorf("hydrate flight options: %w", err)
		}
	}
	if out := st.sess.StepOutput(stepHotelSearch); out != nil && st.hotels == nil {
		if err := decodeField(out, "options", &st.hotels); err != nil {
			return fmt.Errorf("hydrate hotel options: %w", err)
		}
	}
	return nil
}

// decodeField extracts output[key] into target, tolerating both in-process
// typed values and JSON-decoded generic maps from persisted state.
func decodeField(output map[string]any, key string, target any) error {
	raw, ok := output[key]
	if !ok {
		return fmt.Errorf("missing %q", key)
	}
	data, err := json.Marshal(raw)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, target)
}

// Run drives the session's pipeline until it suspends at the confirmation
// gate or reaches a terminal state. Completed steps are never re-executed.
func (e *Engine) Run(ctx context.Context, sessionID string) error {
	if err := e.acquire(sessionID); err != nil {
		return err
	}
	defer e.release(sessionID)

	sess, err := e.store.LoadSession(ctx, sessionID)
	if err != nil {
		return err
	}
	if sess.Status.Terminal() {
		return fmt.Errorf("%w: %s", ErrTerminal, sess.Status)
	}
	if sess.Status == store.StatusAwaiting {
		return nil
	}

	st := &runState{sess: sess, rt: e.runtime(sess)}
	if err := st.hydrate(); err != nil {
		return err
	}

	needsRevision := false
	for _, level := range pipelineLevels {
		var pending []string
		for _, name := range level {
			if !sess.StepDone(name) {
				pending = append(pending, name)
			}
		}
		if len(pending) == 0 {
			continue
		}
		err := e.runLevel(ctx, st, pending)
		if errors.Is(err, errNeedsRevision) {
			needsRevision = true
			break
		}
		if err != nil {
			return e.fail(ctx, st, err)
		}
	}

	if needsRevision {
		e.emit(ctx, sess.ID, event.Event{
			Type:    event.TypeStepStarted,
			Step:    stepCurationRev,
			Message: "plan sent back for revision",
		})
		for _, name := range []string{stepCurationRev, stepReconRev, stepReviewFinal} {
			if sess.StepDone(name) {
				continue
			}
			if err := e.runStep(ctx, st, name); err != nil {
				return e.fail(ctx, st, err)
			}
		}
	}

	return e.suspend(ctx, st)
}

// fail finalizes the session with a stable failure reason.
func (e *Engine) fail(ctx context.Context, st *runState, cause error) error {
	reason := classifyFailure(cause)
	if err := e.finish(ctx, st.sess, st.rt, store.StatusFailed, reason, event.TypeSessionFailed, cause.Error()); err != nil {
		return err
	}
	return cause
}

func classifyFailure(err error) string {
	switch {
	case errors.Is(err, budget.ErrBudgetExceeded):
		return ReasonBudgetExceeded
	case errors.Is(err, budget.ErrToolCapExceeded):
		return ReasonToolCapExceeded
	case errors.Is(err, plan.ErrInfeasible):
		return ReasonBudgetInfeasible
	case errors.Is(err, ErrPlanRejected):
		return ReasonPlanRejected
	case errors.Is(err, ErrDatesUnavailable):
		return ReasonDatesUnavailable
	default:
		return ReasonStepFailed
	}
}

// runLevel executes steps of one dependency level, concurrently when the
// level holds more than one. Results are appended in level order and
// persisted in a single save.
func (e *Engine) runLevel(ctx context.Context, st *runState, steps []string) error {
	if len(steps) == 1 {
		return e.runStep(ctx, st, steps[0])
	}

	type outcome struct {
		output     map[string]any
		err        error
		start, end time.Time
	}
	outs := make([]outcome, len(steps))
	for _, name := range steps {
		e.emit(ctx, st.sess.ID, event.Event{Type: event.TypeStepStarted, Step: name})
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.cfg.SearchConcurrency)
	for idx, name := range steps {
		g.Go(func() error {
			outs[idx].start = e.now()
			outs[idx].output, outs[idx].err = e.execStep(gctx, st, name)
			outs[idx].end = e.now()
			return nil
		})
	}
	_ = g.Wait()

	var firstErr error
	for idx, name := range steps {
		o := outs[idx]
		result := store.StepResult{
			Step:       name,
			Attempts:   1,
			StartedAt:  o.start,
			FinishedAt: o.end,
			Output:     o.output,
		}
		if o.err != nil {
			result.Error = o.err.Error()
			if firstErr == nil {
				firstErr = o.err
			}
			e.emit(ctx, st.sess.ID, event.Event{Type: event.TypeStepFailed, Step: name, Error: o.err.Error()})
			observability.RecordStep(name, "failed", o.end.Sub(o.start))
		} else {
			result.Succeeded = true
			e.emit(ctx, st.sess.ID, event.Event{Type: event.TypeStepCompleted, Step: name})
			observability.RecordStep(name, "ok", o.end.Sub(o.start))
		}
		st.sess.Steps = append(st.sess.Steps, result)
	}
	if err := e.save(ctx, st.sess, st.rt); err != nil {
		return err
	}
	return firstErr
}

// runStep executes one step and persists its result atomically with the
// session snapshot.
func (e *Engine) runStep(ctx context.Context, st *runState, name string) error {
	sess := st.sess
	ctx, span := observability.StartSpan(ctx, "pipeline."+name,
		attribute.String("session.id", sess.ID))
	defer span.End()

	e.emit(ctx, sess.ID, event.Event{Type: event.TypeStepStarted, Step: name})
	start := e.now()
	output, err := e.execStep(ctx, st, name)
	end := e.now()

	result := store.StepResult{
		Step:       name,
		Attempts:   1,
		StartedAt:  start,
		FinishedAt: end,
		Output:     output,
	}
	if err != nil && !errors.Is(err, errNeedsRevision) {
		result.Error = err.Error()
		sess.Steps = append(sess.Steps, result)
		if saveErr := e.save(ctx, sess, st.rt); saveErr != nil {
			e.logger.Warn("failed step persist", zap.String("step", name), zap.Error(saveErr))
		}
		e.emit(ctx, sess.ID, event.Event{Type: event.TypeStepFailed, Step: name, Error: err.Error()})
		observability.RecordStep(name, "failed", end.Sub(start))
		return err
	}
	if errors.Is(err, errNeedsRevision) {
		result.Error = err.Error()
		sess.Steps = append(sess.Steps, result)
		if saveErr := e.save(ctx, sess, st.rt); saveErr != nil {
			return saveErr
		}
		e.emit(ctx, sess.ID, event.Event{Type: event.TypeStepFailed, Step: name, Error: err.Error()})
		observability.RecordStep(name, "needs_revision", end.Sub(start))
		return err
	}

	result.Succeeded = true
	sess.Steps = append(sess.Steps, result)
	if err := e.save(ctx, sess, st.rt); err != nil {
		return err
	}
	e.emit(ctx, sess.ID, event.Event{Type: event.TypeStepCompleted, Step: name})
	observability.RecordStep(name, "ok", end.Sub(start))
	return nil
}

func (e *Engine) execStep(ctx context.Context, st *runState, name string) (map[string]any, error) {
	switch name {
	case stepAvailability:
		return e.stepAvailability(ctx, st)
	case stepFlightSearch:
		return e.stepFlightSearch(ctx, st)
	case stepHotelSearch:
		return e.stepHotelSearch(ctx, st)
	case stepCuration:
		return e.stepCuration(ctx, st, 0)
	case stepCurationRev:
		return e.stepCuration(ctx, st, st.sess.Revisions)
	case stepReconciliation, stepReconRev:
		return e.stepReconcile(ctx, st)
	case stepReview, stepReviewFinal:
		return e.stepReview(ctx, st, name)
	default:
		return nil, fmt.Errorf("unknown step %q", name)
	}
}

func (e *Engine) stepAvailability(ctx context.Context, st *runState) (map[string]any, error) {
	req := st.sess.Request
	res, err := st.rt.invoker.Search(ctx, capCalendar, map[string]any{
		"startDate": req.StartDate,
		"endDate":   req.EndDate,
	}, e.cfg.CallCost)
	if err != nil {
		return nil, err
	}
	var free []string
	if err := decodeField(res.Payload, "freeDates", &free); err != nil {
		return nil, fmt.Errorf("calendar payload: %w", err)
	}
	start, _ := time.Parse("2006-01-02", req.StartDate)
	end, _ := time.Parse("2006-01-02", req.EndDate)
	want := int(end.Sub(start).Hours()/24) + 1
	if len(free) < want {
		return nil, fmt.Errorf("%w: %d of %d requested days free", ErrDatesUnavailable, len(free), want)
	}
	return map[string]any{"freeDates": free}, nil
}

func (e *Engine) stepFlightSearch(ctx context.Context, st *runState) (map[string]any, error) {
	req := st.sess.Request
	res, err := st.rt.invoker.Search(ctx, capFlights, map[string]any{
		"origin":      req.Origin,
		"destination": req.Destination,
		"date":        req.StartDate,
		"travelers":   req.Travelers,
	}, e.cfg.CallCost)
	if err != nil {
		return nil, err
	}
	var options []trip.FlightOption
	if err := decodeField(res.Payload, "options", &options); err != nil {
		return nil, fmt.Errorf("flight payload: %w", err)
	}
	if len(options) == 0 {
		return nil, fmt.Errorf("no flights found for %s on %s", req.Destination, req.StartDate)
	}
	st.flights = options
	return map[string]any{"options": options}, nil
}

func (e *Engine) stepHotelSearch(ctx context.Context, st *runState) (map[string]any, error) {
	req := st.sess.Request
	res, err := st.rt.invoker.Search(ctx, capHotels, map[string]any{
		"destination": req.Destination,
		"nights":      req.Nights,
		"travelers":   req.Travelers,
	}, e.cfg.CallCost)
	if err != nil {
		return nil, err
	}
	var options []trip.HotelOption
	if err := decodeField(res.Payload, "options", &options); err != nil {
		return nil, fmt.Errorf("hotel payload: %w", err)
	}
	if len(options) == 0 {
		return nil, fmt.Errorf("no hotels found in %s", req.Destination)
	}
	st.hotels = options
	return map[string]any{"options": options}, nil
}

func (e *Engine) stepCuration(ctx context.Context, st *runState, revision int) (map[string]any, error) {
	sess := st.sess
	req := sess.Request
	if err := st.rt.budget.ReserveModelCall(e.cfg.ModelCost); err != nil {
		return nil, err
	}

	res, err := st.rt.invoker.Search(ctx, capActivities, map[string]any{
		"destination": req.Destination,
		"days":        req.Nights,
		"styleTags":   req.StyleTags,
	}, e.cfg.CallCost)
	if err != nil {
		return nil, err
	}
	var pool []trip.ActivitySuggestion
	if err := decodeField(res.Payload, "suggestions", &pool); err != nil {
		return nil, fmt.Errorf("activity payload: %w", err)
	}

	if sess.Flight == nil {
		f := bestFlight(st.flights)
		sess.Flight = &f
	}
	if sess.Hotel == nil {
		h := bestHotel(st.hotels)
		sess.Hotel = &h
	}

	days, err := e.curator.Curate(req, *sess.Hotel, pool, revision)
	if err != nil {
		return nil, err
	}
	it := &trip.Itinerary{
		Destination: req.Destination,
		StartDate:   req.StartDate,
		EndDate:     req.EndDate,
		Flight:      *sess.Flight,
		Hotel:       *sess.Hotel,
		DayPlans:    days,
	}
	it.TotalCents = it.Total()
	it.RemainingCents = req.BudgetCents - it.TotalCents
	sess.Itinerary = it

	return map[string]any{
		"dayPlans":   days,
		"totalCents": it.TotalCents,
		"revision":   revision,
	}, nil
}

func (e *Engine) stepReconcile(_ context.Context, st *runState) (map[string]any, error) {
	sess := st.sess
	changes, err := plan.Reconcile(sess.Request.BudgetCents, sess.Itinerary, st.flights, st.hotels)
	if err != nil {
		return nil, err
	}
	sess.Flight = &sess.Itinerary.Flight
	sess.Hotel = &sess.Itinerary.Hotel
	return map[string]any{
		"changes":        changes,
		"totalCents":     sess.Itinerary.TotalCents,
		"remainingCents": sess.Itinerary.RemainingCents,
	}, nil
}

func (e *Engine) stepReview(_ context.Context, st *runState, name string) (map[string]any, error) {
	sess := st.sess
	if err := st.rt.budget.ReserveModelCall(e.cfg.ModelCost); err != nil {
		return nil, err
	}
	rev := e.reviewer.Review(sess.Request, sess.Itinerary)
	sess.Review = &rev
	sess.Itinerary.Review = &rev

	output := map[string]any{
		"confidence": rev.Confidence,
		"approved":   rev.Approved,
		"issues":     rev.Issues,
	}
	if !rev.Approved {
		if name == stepReview {
			if sess.Revisions == 0 {
				sess.Revisions = 1
			}
			return output, errNeedsRevision
		}
		return output, fmt.Errorf("%w: confidence %.2f, issues: %v", ErrPlanRejected, rev.Confidence, rev.Issues)
	}
	return output, nil
}

func bestFlight(options []trip.FlightOption) trip.FlightOption {
	best := options[0]
	for _, o := range options[1:] {
		if o.ValueScore > best.ValueScore {
			best = o
		}
	}
	return best
}

func bestHotel(options []trip.HotelOption) trip.HotelOption {
	best := options[0]
	for _, o := range options[1:] {
		if o.ValueScore > best.ValueScore {
			best = o
		}
	}
	return best
}

// suspend parks the session at the confirmation gate with a fresh token
// bound to the exact priced intent.
func (e *Engine) suspend(ctx context.Context, st *runState) error {
	sess := st.sess
	intent := trip.IntentFromItinerary(sess.ID, sess.Itinerary)
	token, err := e.gate.Issue(sess.ID, intent)
	if err != nil {
		return e.fail(ctx, st, err)
	}

	deadline := e.now().Add(e.cfg.ConfirmTTL)
	sess.IntentHash = intent.Hash()
	sess.ConfirmToken = token
	sess.ConfirmDeadline = &deadline
	sess.Status = store.StatusAwaiting
	if err := e.save(ctx, sess, st.rt); err != nil {
		return err
	}

	e.emit(ctx, sess.ID, event.Event{
		Type: event.TypeAwaitingConfirm,
		Data: map[string]any{
			"intentHash": sess.IntentHash,
			"totalCents": intent.TotalCents(),
			"expiresAt":  deadline.Format(time.RFC3339),
		},
	})
	observability.RecordSession(string(store.StatusAwaiting))
	e.logger.Info("session awaiting confirmation",
		zap.String("session_id", sess.ID),
		zap.Int64("total_cents", intent.TotalCents()),
		zap.Time("deadline", deadline))
	return nil
}
