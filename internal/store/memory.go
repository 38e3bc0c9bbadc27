package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/vacaplan-dev/vacaplan/internal/booking"
	"github.com/vacaplan-dev/vacaplan/internal/event"
)

// MemoryStore keeps all state in process memory. Suitable for development
// and tests; state is lost on restart.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	txs      map[string]*booking.Transaction
	audits   map[string][]event.Event
	txBySess map[string][]string
	closed   bool
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions: make(map[string]*Session),
		txs:      make(map[string]*booking.Transaction),
		audits:   make(map[string][]event.Event),
		txBySess: make(map[string][]string),
	}
}

// clone round-trips through JSON so callers never share memory with the
// stored copy.
func clone[T any](in *T) (*T, error) {
	data, err := json.Marshal(in)
	if err != nil {
		return nil, fmt.Errorf("marshal: %w", err)
	}
	out := new(T)
	if err := json.Unmarshal(data, out); err != nil {
		return nil, fmt.Errorf("unmarshal: %w", err)
	}
	return out, nil
}

func (m *MemoryStore) SaveSession(_ context.Context, sess *Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	cp, err := clone(sess)
	if err != nil {
		return err
	}
	m.sessions[sess.ID] = cp
	return nil
}

func (m *MemoryStore) LoadSession(_ context.Context, id string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, ErrClosed
	}
	sess, ok := m.sessions[id]
	if !ok {
		return nil, fmt.Errorf("session %s: %w", id, ErrNotFound)
	}
	return clone(sess)
}

func (m *MemoryStore) DeleteSession(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	m.deleteLocked(id)
	return nil
}

func (m *MemoryStore) deleteLocked(id string) {
	delete(m.sessions, id)
	delete(m.audits, id)
	for _, txID := range m.txBySess[id] {
		delete(m.txs, txID)
	}
	delete(m.txBySess, id)
}

func (m *MemoryStore) ListSessions(_ context.Context, status Status) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, ErrClosed
	}
	var ids []string
	for id, sess := range m.sessions {
		if status == "" || sess.Status == status {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

func (m *MemoryStore) SaveTransaction(_ context.Context, tx *booking.Transaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	cp, err := clone(tx)
	if err != nil {
		return err
	}
	if _, exists := m.txs[tx.ID]; !exists {
		m.txBySess[tx.SessionID] = append(m.txBySess[tx.SessionID], tx.ID)
	}
	m.txs[tx.ID] = cp
	return nil
}

func (m *MemoryStore) LoadTransaction(_ context.Context, id string) (*booking.Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, ErrClosed
	}
	tx, ok := m.txs[id]
	if !ok {
		return nil, fmt.Errorf("transaction %s: %w", id, ErrNotFound)
	}
	return clone(tx)
}

func (m *MemoryStore) AppendAudit(_ context.Context, sessionID string, ev event.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	m.audits[sessionID] = append(m.audits[sessionID], ev)
	return nil
}

func (m *MemoryStore) LoadAudit(_ context.Context, sessionID string) ([]event.Event, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, ErrClosed
	}
	events := m.audits[sessionID]
	out := make([]event.Event, len(events))
	copy(out, events)
	return out, nil
}

func (m *MemoryStore) PurgeBefore(_ context.Context, cutoff time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return 0, ErrClosed
	}
	var purged int
	for id, sess := range m.sessions {
		if sess.UpdatedAt.Before(cutoff) {
			m.deleteLocked(id)
			purged++
		}
	}
	return purged, nil
}

func (m *MemoryStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}
