package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/vacaplan-dev/vacaplan/internal/confirm"
	"github.com/vacaplan-dev/vacaplan/internal/engine"
	"github.com/vacaplan-dev/vacaplan/internal/event"
	"github.com/vacaplan-dev/vacaplan/internal/plan"
	"github.com/vacaplan-dev/vacaplan/internal/providers"
	"github.com/vacaplan-dev/vacaplan/internal/store"
	"github.com/vacaplan-dev/vacaplan/internal/trip"
)

var planFlags struct {
	origin      string
	destination string
	startDate   string
	endDate     string
	nights      int
	budget      int64
	travelers   int
	tags        []string
	book        bool
}

var planCmd = &cobra.Command{
	Use:   "plan",
	Short: "Plan a trip from the command line",
	Long: `Plan runs the full pipeline in-process against the built-in
providers and prints the curated itinerary as JSON. With --book the
priced intent is confirmed immediately and the booking executes.`,
	RunE: runPlan,
}

func init() {
	f := planCmd.Flags()
	f.StringVar(&planFlags.origin, "origin", "CGK", "departure airport or city code")
	f.StringVar(&planFlags.destination, "destination", "", "destination city (required)")
	f.StringVar(&planFlags.startDate, "start", "", "trip start date, YYYY-MM-DD (required)")
	f.StringVar(&planFlags.endDate, "end", "", "trip end date, YYYY-MM-DD (required)")
	f.IntVar(&planFlags.nights, "nights", 0, "stay length (default: derived from dates)")
	f.Int64Var(&planFlags.budget, "budget-cents", 0, "total budget in cents (required)")
	f.IntVar(&planFlags.travelers, "travelers", 1, "traveler count")
	f.StringSliceVar(&planFlags.tags, "tags", nil, "trip style tags (beach, food, culture, ...)")
	f.BoolVar(&planFlags.book, "book", false, "confirm the plan and execute the booking")
	rootCmd.AddCommand(planCmd)
}

func runPlan(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()

	gate, err := confirm.NewGate([]byte("vacaplan-cli"), confirm.DefaultTTL, nil)
	if err != nil {
		return err
	}
	st := store.NewMemoryStore()
	defer st.Close() //nolint:errcheck
	eng := engine.New(engine.DefaultConfig(), st, event.NewBus(), gate,
		plan.NewRuleCurator(), plan.NewRuleReviewer(0), zap.NewNop(),
		providers.NewCalendar(), providers.NewFlights(), providers.NewHotels(), providers.NewActivities())

	req := trip.Request{
		Origin:      planFlags.origin,
		Destination: planFlags.destination,
		StartDate:   planFlags.startDate,
		EndDate:     planFlags.endDate,
		Nights:      planFlags.nights,
		BudgetCents: planFlags.budget,
		Travelers:   planFlags.travelers,
		StyleTags:   planFlags.tags,
	}

	sess, err := eng.Start(ctx, req)
	if err != nil {
		return err
	}
	if err := eng.Run(ctx, sess.ID); err != nil {
		return err
	}
	sess, err = eng.Status(ctx, sess.ID)
	if err != nil {
		return err
	}

	if planFlags.book && sess.Status == store.StatusAwaiting {
		res, err := eng.Confirm(ctx, sess.ID, sess.ConfirmToken, sess.IntentHash)
		if err != nil {
			return fmt.Errorf("booking: %w", err)
		}
		sess = res.Session
	}

	out := json.NewEncoder(os.Stdout)
	out.SetIndent("", "  ")
	return out.Encode(sess)
}
