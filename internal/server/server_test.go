package server

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/vacaplan-dev/vacaplan/internal/confirm"
	"github.com/vacaplan-dev/vacaplan/internal/engine"
	"github.com/vacaplan-dev/vacaplan/internal/event"
	"github.com/vacaplan-dev/vacaplan/internal/plan"
	"github.com/vacaplan-dev/vacaplan/internal/providers"
	"github.com/vacaplan-dev/vacaplan/internal/store"
)

func newTestServer(t *testing.T) (*httptest.Server, *store.MemoryStore) {
	t.Helper()
	st := store.NewMemoryStore()
	return serverOver(t, st), st
}

// serverOver builds a server with a fresh engine and bus on top of an
// existing store, the way a restarted process would come up.
func serverOver(t *testing.T, st *store.MemoryStore) *httptest.Server {
	t.Helper()
	cfg := engine.DefaultConfig()
	cfg.Invoker.Retry.BackoffBase = time.Millisecond

	gate, err := confirm.NewGate([]byte("test-secret"), cfg.ConfirmTTL, nil)
	if err != nil {
		t.Fatalf("NewGate: %v", err)
	}
	eng := engine.New(cfg, st, event.NewBus(), gate,
		plan.NewRuleCurator(), plan.NewRuleReviewer(0), zap.NewNop(),
		providers.NewCalendar(), providers.NewFlights(), providers.NewHotels(), providers.NewActivities())

	ts := httptest.NewServer(New(eng, st, zap.NewNop()).Handler())
	t.Cleanup(ts.Close)
	return ts
}

func postJSON(t *testing.T, url string, body any) (*http.Response, map[string]any) {
	t.Helper()
	data, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	resp, err := http.Post(url, "application/json", bytes.NewReader(data))
	if err != nil {
		t.Fatalf("POST %s: %v", url, err)
	}
	defer resp.Body.Close()
	var out map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil && err != io.EOF {
		t.Fatalf("decode response: %v", err)
	}
	return resp, out
}

func tripBody(budgetCents int64) map[string]any {
	return map[string]any{
		"origin":      "CGK",
		"destination": "Bali",
		"startDate":   "2026-09-10",
		"endDate":     "2026-09-14",
		"nights":      4,
		"budgetCents": budgetCents,
		"travelers":   2,
		"styleTags":   []string{"beach", "food"},
	}
}

// createAndAwait starts a session over HTTP and polls until the background
// pipeline suspends at the confirmation gate.
func createAndAwait(t *testing.T, ts *httptest.Server) *store.Session {
	t.Helper()
	resp, body := postJSON(t, ts.URL+"/v1/trips", tripBody(300000))
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("create status = %d, body %v", resp.StatusCode, body)
	}
	id, _ := body["sessionId"].(string)
	if id == "" {
		t.Fatalf("no session id in %v", body)
	}

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		sess := getTrip(t, ts, id)
		switch sess.Status {
		case store.StatusAwaiting:
			return sess
		case store.StatusFailed:
			t.Fatalf("pipeline failed: %s", sess.FailureReason)
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("session never reached the confirmation gate")
	return nil
}

func getTrip(t *testing.T, ts *httptest.Server, id string) *store.Session {
	t.Helper()
	resp, err := http.Get(ts.URL + "/v1/trips/" + id)
	if err != nil {
		t.Fatalf("GET trip: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("get status = %d", resp.StatusCode)
	}
	var sess store.Session
	if err := json.NewDecoder(resp.Body).Decode(&sess); err != nil {
		t.Fatalf("decode session: %v", err)
	}
	return &sess
}

func TestCreateTripRunsToConfirmationGate(t *testing.T) {
	ts, _ := newTestServer(t)
	sess := createAndAwait(t, ts)
	if sess.ConfirmToken == "" || sess.IntentHash == "" {
		t.Error("confirmation fields missing from session")
	}
	if sess.Itinerary == nil {
		t.Error("no itinerary on suspended session")
	}
}

func TestCreateTripRejectsBadRequest(t *testing.T) {
	ts, _ := newTestServer(t)
	resp, body := postJSON(t, ts.URL+"/v1/trips", map[string]any{"origin": "CGK"})
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, body %v", resp.StatusCode, body)
	}
}

func TestGetTripNotFound(t *testing.T) {
	ts, _ := newTestServer(t)
	resp, err := http.Get(ts.URL + "/v1/trips/nope")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want 404", resp.StatusCode)
	}
}

func TestConfirmBooksTrip(t *testing.T) {
	ts, _ := newTestServer(t)
	sess := createAndAwait(t, ts)

	resp, body := postJSON(t, ts.URL+"/v1/trips/"+sess.ID+"/confirm", map[string]any{
		"token":      sess.ConfirmToken,
		"intentHash": sess.IntentHash,
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, body %v", resp.StatusCode, body)
	}
	if body["outcome"] != string(confirm.OutcomeValid) {
		t.Errorf("outcome = %v", body["outcome"])
	}
	if body["status"] != string(store.StatusCompleted) {
		t.Errorf("status = %v", body["status"])
	}
	if id, _ := body["transactionId"].(string); id == "" {
		t.Error("no transaction id in response")
	}
}

func TestConfirmMismatchReturnsFreshToken(t *testing.T) {
	ts, _ := newTestServer(t)
	sess := createAndAwait(t, ts)

	resp, body := postJSON(t, ts.URL+"/v1/trips/"+sess.ID+"/confirm", map[string]any{
		"token":      sess.ConfirmToken,
		"intentHash": "drifted",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, body %v", resp.StatusCode, body)
	}
	if body["outcome"] != string(confirm.OutcomeMismatch) {
		t.Errorf("outcome = %v", body["outcome"])
	}
	if tok, _ := body["newToken"].(string); tok == "" {
		t.Error("mismatch response carries no fresh token")
	}
}

func TestCancelTrip(t *testing.T) {
	ts, _ := newTestServer(t)
	sess := createAndAwait(t, ts)

	resp, body := postJSON(t, ts.URL+"/v1/trips/"+sess.ID+"/cancel", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, body %v", resp.StatusCode, body)
	}
	if body["status"] != string(store.StatusCancelled) {
		t.Errorf("status = %v, want cancelled", body["status"])
	}

	// A second cancel hits a terminal session.
	resp2, _ := postJSON(t, ts.URL+"/v1/trips/"+sess.ID+"/cancel", nil)
	if resp2.StatusCode != http.StatusConflict {
		t.Errorf("second cancel status = %d, want 409", resp2.StatusCode)
	}
}

func TestEventStreamReplaysHistory(t *testing.T) {
	ts, _ := newTestServer(t)
	sess := createAndAwait(t, ts)

	// Terminate the session so its stream closes and the response ends.
	if resp, _ := postJSON(t, ts.URL+"/v1/trips/"+sess.ID+"/cancel", nil); resp.StatusCode != http.StatusOK {
		t.Fatalf("cancel status = %d", resp.StatusCode)
	}

	resp, err := http.Get(ts.URL + "/v1/trips/" + sess.ID + "/events")
	if err != nil {
		t.Fatalf("GET events: %v", err)
	}
	defer resp.Body.Close()
	if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "text/event-stream") {
		t.Errorf("content type = %q", ct)
	}
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read stream: %v", err)
	}
	body := string(raw)
	for _, want := range []string{
		fmt.Sprintf("event:%s", event.TypeSessionStarted),
		fmt.Sprintf("event:%s", event.TypeAwaitingConfirm),
		fmt.Sprintf("event:%s", event.TypeSessionCancelled),
	} {
		if !strings.Contains(body, want) {
			t.Errorf("stream missing %q", want)
		}
	}
}

func TestEventStreamSurvivesRestart(t *testing.T) {
	ts, st := newTestServer(t)
	sess := createAndAwait(t, ts)
	if resp, _ := postJSON(t, ts.URL+"/v1/trips/"+sess.ID+"/cancel", nil); resp.StatusCode != http.StatusOK {
		t.Fatalf("cancel status = %d", resp.StatusCode)
	}

	// A new process has an empty bus; the stream must come back from the
	// persisted audit trail.
	restarted := serverOver(t, st)
	resp, err := http.Get(restarted.URL + "/v1/trips/" + sess.ID + "/events")
	if err != nil {
		t.Fatalf("GET events: %v", err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read stream: %v", err)
	}
	body := string(raw)
	for _, want := range []string{
		fmt.Sprintf("event:%s", event.TypeSessionStarted),
		fmt.Sprintf("event:%s", event.TypeAwaitingConfirm),
		fmt.Sprintf("event:%s", event.TypeSessionCancelled),
	} {
		if !strings.Contains(body, want) {
			t.Errorf("stream missing %q", want)
		}
	}
}

func TestHealthAndMetricsEndpoints(t *testing.T) {
	ts, _ := newTestServer(t)
	for _, path := range []string{"/health/live", "/metrics"} {
		resp, err := http.Get(ts.URL + path)
		if err != nil {
			t.Fatalf("GET %s: %v", path, err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Errorf("%s status = %d", path, resp.StatusCode)
		}
	}
}
