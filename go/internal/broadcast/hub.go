package broadcast

import (
	"sync"

	"github.com/fabi086/Bingo-do-Fab-o/go/internal/models"
	"github.com/rs/zerolog/log"
)

// Hub fans committed states out to in-process subscribers.
//
// Each subscriber has its own goroutine and a single pending slot. A state that
// arrives while the subscriber is still busy replaces the pending one, so a slow
// subscriber skips intermediate versions but always ends on the latest. Versions
// at or below the last one delivered are dropped, which makes redundant
// deliveries harmless.
type Hub struct {
	mu     sync.Mutex
	subs   map[uint64]*subscription
	nextID uint64
	latest *models.GameState
	closed bool
}

type subscription struct {
	id   uint64
	cb   func(*models.GameState)
	wake chan struct{}
	done chan struct{}
	once sync.Once

	mu      sync.Mutex
	pending *models.GameState
}

func NewHub() *Hub {
	return &Hub{subs: make(map[uint64]*subscription)}
}

// Subscribe registers cb and immediately queues the latest known state, if any.
// The returned function unsubscribes and is safe to call more than once.
func (h *Hub) Subscribe(cb func(*models.GameState)) (unsubscribe func()) {
	sub := &subscription{
		cb:   cb,
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
	}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return func() {}
	}
	h.nextID++
	sub.id = h.nextID
	h.subs[sub.id] = sub
	latest := h.latest
	h.mu.Unlock()

	go sub.run()
	if latest != nil {
		sub.offer(latest)
	}

	return func() {
		h.mu.Lock()
		delete(h.subs, sub.id)
		h.mu.Unlock()
		sub.stop()
	}
}

// Publish queues state for every subscriber without blocking.
func (h *Hub) Publish(state *models.GameState) {
	if state == nil {
		return
	}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	if h.latest == nil || state.Version > h.latest.Version {
		h.latest = state
	}
	targets := make([]*subscription, 0, len(h.subs))
	for _, sub := range h.subs {
		targets = append(targets, sub)
	}
	h.mu.Unlock()

	for _, sub := range targets {
		sub.offer(state)
	}

	log.Debug().
		Int64("version", state.Version).
		Int("subscribers", len(targets)).
		Msg("game state published")
}

// Latest returns the newest state published so far.
func (h *Hub) Latest() *models.GameState {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.latest.Clone()
}

func (h *Hub) SubscriberCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// Close stops every subscriber goroutine.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for id, sub := range h.subs {
		sub.stop()
		delete(h.subs, id)
	}
}

func (s *subscription) stop() {
	s.once.Do(func() { close(s.done) })
}

func (s *subscription) offer(state *models.GameState) {
	s.mu.Lock()
	if s.pending == nil || state.Version > s.pending.Version {
		s.pending = state
	}
	s.mu.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *subscription) run() {
	var delivered int64 = -1
	for {
		select {
		case <-s.done:
			return
		case <-s.wake:
		}

		s.mu.Lock()
		state := s.pending
		s.pending = nil
		s.mu.Unlock()

		if state == nil || state.Version <= delivered {
			continue
		}
		delivered = state.Version
		s.cb(state.Clone())
	}
}
