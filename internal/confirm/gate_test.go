package confirm

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/vacaplan-dev/vacaplan/internal/trip"
)

func testIntent(sessionID string) *trip.BookingIntent {
	return &trip.BookingIntent{
		SessionID: sessionID,
		Items: []trip.PlannedReservation{
			{Kind: trip.ReservationFlight, Capability: "flights", OptionRef: "FL-1", PriceCents: 17800},
			{Kind: trip.ReservationHotel, Capability: "hotels", OptionRef: "HT-1", PriceCents: 92000},
		},
	}
}

func newTestGate(t *testing.T) *Gate {
	t.Helper()
	g, err := NewGate([]byte("test-secret"), DefaultTTL, NewMemoryTokenStore())
	if err != nil {
		t.Fatalf("NewGate: %v", err)
	}
	return g
}

func TestGate_IssueAndVerify(t *testing.T) {
	g := newTestGate(t)
	intent := testIntent("sess-1")

	token, err := g.Issue("sess-1", intent)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	outcome, err := g.Verify(context.Background(), token, "sess-1", intent.Hash())
	if outcome != OutcomeValid {
		t.Fatalf("verify: got %s (%v), want valid", outcome, err)
	}
}

func TestGate_SingleUse(t *testing.T) {
	g := newTestGate(t)
	intent := testIntent("sess-1")
	token, _ := g.Issue("sess-1", intent)

	ctx := context.Background()
	if outcome, _ := g.Verify(ctx, token, "sess-1", intent.Hash()); outcome != OutcomeValid {
		t.Fatalf("first verify: got %s", outcome)
	}
	if outcome, _ := g.Verify(ctx, token, "sess-1", intent.Hash()); outcome != OutcomeAlreadyUsed {
		t.Fatalf("second verify: got %s, want already_used", outcome)
	}
}

func TestGate_ConcurrentVerifySingleWinner(t *testing.T) {
	g := newTestGate(t)
	intent := testIntent("sess-1")
	token, _ := g.Issue("sess-1", intent)

	const n = 16
	var wg sync.WaitGroup
	outcomes := make([]Outcome, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			outcomes[i], _ = g.Verify(context.Background(), token, "sess-1", intent.Hash())
		}(i)
	}
	wg.Wait()

	valid := 0
	for _, o := range outcomes {
		if o == OutcomeValid {
			valid++
		}
	}
	if valid != 1 {
		t.Fatalf("expected exactly one valid outcome, got %d", valid)
	}
}

func TestGate_Expired(t *testing.T) {
	g := newTestGate(t)
	intent := testIntent("sess-1")
	token, _ := g.Issue("sess-1", intent)

	// Present the token 11 minutes after issuance (TTL is 10).
	g.now = func() time.Time { return time.Now().Add(11 * time.Minute) }

	outcome, _ := g.Verify(context.Background(), token, "sess-1", intent.Hash())
	if outcome != OutcomeExpired {
		t.Fatalf("got %s, want expired", outcome)
	}
}

func TestGate_IntentDriftMismatch(t *testing.T) {
	g := newTestGate(t)
	intent := testIntent("sess-1")
	token, _ := g.Issue("sess-1", intent)

	// Price changes between issuance and confirmation.
	drifted := testIntent("sess-1")
	drifted.Items[0].PriceCents += 2500

	outcome, _ := g.Verify(context.Background(), token, "sess-1", drifted.Hash())
	if outcome != OutcomeMismatch {
		t.Fatalf("got %s, want mismatch", outcome)
	}

	// The original intent still verifies: a mismatch must not consume.
	outcome, _ = g.Verify(context.Background(), token, "sess-1", intent.Hash())
	if outcome != OutcomeValid {
		t.Fatalf("got %s, want valid after non-consuming mismatch", outcome)
	}
}

func TestGate_WrongSession(t *testing.T) {
	g := newTestGate(t)
	intent := testIntent("sess-1")
	token, _ := g.Issue("sess-1", intent)

	outcome, _ := g.Verify(context.Background(), token, "sess-2", intent.Hash())
	if outcome != OutcomeMismatch {
		t.Fatalf("got %s, want mismatch for foreign session", outcome)
	}
}

func TestGate_ForgedSignature(t *testing.T) {
	g := newTestGate(t)
	intent := testIntent("sess-1")

	forger, _ := NewGate([]byte("attacker-secret"), DefaultTTL, NewMemoryTokenStore())
	forged, _ := forger.Issue("sess-1", intent)

	outcome, _ := g.Verify(context.Background(), forged, "sess-1", intent.Hash())
	if outcome != OutcomeInvalid {
		t.Fatalf("got %s, want invalid for forged token", outcome)
	}
}

func TestGate_RequiresSecret(t *testing.T) {
	if _, err := NewGate(nil, DefaultTTL, nil); err == nil {
		t.Fatal("expected error for empty secret")
	}
}
