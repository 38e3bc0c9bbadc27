package event

import (
	"sync"
	"time"
)

const defaultSubscriberBuffer = 64

// Bus delivers per-session event streams. Events within a session are
// assigned monotonically increasing sequence numbers and delivered to each
// subscriber in publish order. New subscribers first receive a replay of the
// session's history from their requested sequence number.
type Bus struct {
	mu      sync.Mutex
	streams map[string]*stream
	bufSize int
	now     func() time.Time
}

type stream struct {
	history []Event
	seq     int64
	subs    map[int]chan Event
	nextSub int
	closed  bool
}

// NewBus creates an event bus.
func NewBus() *Bus {
	return &Bus{
		streams: make(map[string]*stream),
		bufSize: defaultSubscriberBuffer,
		now:     time.Now,
	}
}

func (b *Bus) stream(sessionID string) *stream {
	s, ok := b.streams[sessionID]
	if !ok {
		s = &stream{subs: make(map[int]chan Event)}
		b.streams[sessionID] = s
	}
	return s
}

// Publish appends an event to the session's stream and fans it out. The
// event's Seq, SessionID and At fields are filled in by the bus. A
// subscriber that cannot keep up has the event dropped; the sequence number
// lets it detect the gap.
func (b *Bus) Publish(sessionID string, ev Event) Event {
	b.mu.Lock()
	defer b.mu.Unlock()

	s := b.stream(sessionID)
	if s.closed {
		return ev
	}
	s.seq++
	ev.Seq = s.seq
	ev.SessionID = sessionID
	if ev.At.IsZero() {
		ev.At = b.now()
	}
	s.history = append(s.history, ev)
	for _, ch := range s.subs {
		select {
		case ch <- ev:
		default:
		}
	}
	return ev
}

// Subscribe returns a channel of events for the session starting at sequence
// number afterSeq (0 replays the full history), plus a cancel function the
// caller must invoke when done. The channel is closed when the session's
// stream is closed or the subscription is cancelled.
func (b *Bus) Subscribe(sessionID string, afterSeq int64) (<-chan Event, func()) {
	b.mu.Lock()
	s := b.stream(sessionID)

	var replay []Event
	for _, ev := range s.history {
		if ev.Seq > afterSeq {
			replay = append(replay, ev)
		}
	}
	ch := make(chan Event, b.bufSize+len(replay))
	for _, ev := range replay {
		ch <- ev
	}
	if s.closed {
		close(ch)
		b.mu.Unlock()
		return ch, func() {}
	}
	id := s.nextSub
	s.nextSub++
	s.subs[id] = ch
	b.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			if sub, ok := s.subs[id]; ok {
				delete(s.subs, id)
				close(sub)
			}
		})
	}
	return ch, cancel
}

// Restore seeds a session's stream from previously persisted events, so
// replay keeps working after a process restart. Events keep their stored
// sequence numbers and later publishes continue from the last one. A stream
// that already has history or was closed is left alone. With ended set the
// stream is closed after the seed, ending every subscription after replay.
func (b *Bus) Restore(sessionID string, history []Event, ended bool) {
	if len(history) == 0 {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	s := b.stream(sessionID)
	if len(s.history) > 0 || s.closed {
		return
	}
	s.history = append(s.history, history...)
	s.seq = history[len(history)-1].Seq
	if !ended {
		return
	}
	s.closed = true
	for id, ch := range s.subs {
		delete(s.subs, id)
		close(ch)
	}
}

// History returns a copy of the session's events after the given sequence.
func (b *Bus) History(sessionID string, afterSeq int64) []Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	s, ok := b.streams[sessionID]
	if !ok {
		return nil
	}
	var out []Event
	for _, ev := range s.history {
		if ev.Seq > afterSeq {
			out = append(out, ev)
		}
	}
	return out
}

// CloseSession ends the session's stream. Subscriber channels are closed
// after any pending events; history remains available for replay until Drop.
func (b *Bus) CloseSession(sessionID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	s, ok := b.streams[sessionID]
	if !ok || s.closed {
		return
	}
	s.closed = true
	for id, ch := range s.subs {
		delete(s.subs, id)
		close(ch)
	}
}

// Drop discards a session's stream and history entirely.
func (b *Bus) Drop(sessionID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	s, ok := b.streams[sessionID]
	if !ok {
		return
	}
	for id, ch := range s.subs {
		delete(s.subs, id)
		close(ch)
	}
	delete(b.streams, sessionID)
}
