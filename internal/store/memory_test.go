package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/vacaplan-dev/vacaplan/internal/booking"
	"github.com/vacaplan-dev/vacaplan/internal/event"
	"github.com/vacaplan-dev/vacaplan/internal/trip"
)

func sampleSession(id string, status Status) *Session {
	now := time.Now().UTC().Truncate(time.Second)
	return &Session{
		ID:     id,
		Status: status,
		Request: trip.Request{
			Origin:      "CGK",
			Destination: "DPS",
			StartDate:   "2026-09-10",
			EndDate:     "2026-09-14",
			Nights:      4,
			BudgetCents: 1500000,
			Travelers:   2,
		},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func TestMemorySaveLoadRoundTrip(t *testing.T) {
	m := NewMemoryStore()
	ctx := context.Background()

	sess := sampleSession("s1", StatusActive)
	sess.Steps = append(sess.Steps, StepResult{Step: "parse", Succeeded: true, Attempts: 1})
	if err := m.SaveSession(ctx, sess); err != nil {
		t.Fatalf("SaveSession: %v", err)
	}

	got, err := m.LoadSession(ctx, "s1")
	if err != nil {
		t.Fatalf("LoadSession: %v", err)
	}
	if got.Request.Destination != "DPS" || len(got.Steps) != 1 {
		t.Errorf("round trip lost data: %+v", got)
	}

	// Mutating the loaded copy must not affect the stored one.
	got.Status = StatusFailed
	again, _ := m.LoadSession(ctx, "s1")
	if again.Status != StatusActive {
		t.Errorf("store shares memory with caller: status = %s", again.Status)
	}
}

func TestMemoryLoadMissing(t *testing.T) {
	m := NewMemoryStore()
	if _, err := m.LoadSession(context.Background(), "nope"); !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
	if _, err := m.LoadTransaction(context.Background(), "nope"); !errors.Is(err, ErrNotFound) {
		t.Errorf("tx err = %v, want ErrNotFound", err)
	}
}

func TestMemoryListByStatus(t *testing.T) {
	m := NewMemoryStore()
	ctx := context.Background()
	m.SaveSession(ctx, sampleSession("a", StatusActive))
	m.SaveSession(ctx, sampleSession("b", StatusAwaiting))
	m.SaveSession(ctx, sampleSession("c", StatusAwaiting))

	ids, err := m.ListSessions(ctx, StatusAwaiting)
	if err != nil {
		t.Fatalf("ListSessions: %v", err)
	}
	if len(ids) != 2 {
		t.Errorf("awaiting = %v, want 2 ids", ids)
	}
	all, _ := m.ListSessions(ctx, "")
	if len(all) != 3 {
		t.Errorf("all = %v, want 3 ids", all)
	}
}

func TestMemoryAuditAppendOrder(t *testing.T) {
	m := NewMemoryStore()
	ctx := context.Background()
	for i, typ := range []event.Type{event.TypeSessionStarted, event.TypeStepCompleted, event.TypeSessionCompleted} {
		if err := m.AppendAudit(ctx, "s1", event.Event{Seq: int64(i + 1), Type: typ}); err != nil {
			t.Fatalf("AppendAudit: %v", err)
		}
	}
	events, err := m.LoadAudit(ctx, "s1")
	if err != nil {
		t.Fatalf("LoadAudit: %v", err)
	}
	if len(events) != 3 || events[0].Type != event.TypeSessionStarted || events[2].Type != event.TypeSessionCompleted {
		t.Errorf("audit order wrong: %+v", events)
	}
}

func TestMemoryTransactionsDeletedWithSession(t *testing.T) {
	m := NewMemoryStore()
	ctx := context.Background()
	m.SaveSession(ctx, sampleSession("s1", StatusCompleted))
	tx := &booking.Transaction{ID: "tx1", SessionID: "s1", Status: booking.TxCommitted}
	if err := m.SaveTransaction(ctx, tx); err != nil {
		t.Fatalf("SaveTransaction: %v", err)
	}
	if _, err := m.LoadTransaction(ctx, "tx1"); err != nil {
		t.Fatalf("LoadTransaction: %v", err)
	}
	if err := m.DeleteSession(ctx, "s1"); err != nil {
		t.Fatalf("DeleteSession: %v", err)
	}
	if _, err := m.LoadTransaction(ctx, "tx1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("tx survived session delete: %v", err)
	}
}

func TestMemoryPurgeBefore(t *testing.T) {
	m := NewMemoryStore()
	ctx := context.Background()

	old := sampleSession("old", StatusCompleted)
	old.UpdatedAt = time.Now().Add(-48 * time.Hour)
	fresh := sampleSession("fresh", StatusCompleted)
	m.SaveSession(ctx, old)
	m.SaveSession(ctx, fresh)

	n, err := m.PurgeBefore(ctx, time.Now().Add(-24*time.Hour))
	if err != nil {
		t.Fatalf("PurgeBefore: %v", err)
	}
	if n != 1 {
		t.Errorf("purged = %d, want 1", n)
	}
	if _, err := m.LoadSession(ctx, "old"); !errors.Is(err, ErrNotFound) {
		t.Errorf("old session survived purge")
	}
	if _, err := m.LoadSession(ctx, "fresh"); err != nil {
		t.Errorf("fresh session purged: %v", err)
	}
}

func TestMemoryClosedStore(t *testing.T) {
	m := NewMemoryStore()
	m.Close()
	if err := m.SaveSession(context.Background(), sampleSession("s1", StatusActive)); !errors.Is(err, ErrClosed) {
		t.Errorf("err = %v, want ErrClosed", err)
	}
}
