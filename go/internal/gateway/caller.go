package gateway

import (
	"context"
	"errors"
	"sync"

	"github.com/fabi086/Bingo-do-Fab-o/go/internal/game"
	"github.com/fabi086/Bingo-do-Fab-o/go/internal/narration"
	"github.com/fabi086/Bingo-do-Fab-o/go/internal/orchestrator"
	"github.com/rs/zerolog/log"
)

// callerRuntime is the orchestrator and narration queue run on behalf of the
// session holding the caller lease.
type callerRuntime struct {
	conn     *Connection
	narrator *RemoteNarrator
	queue    *narration.Queue
	cancel   context.CancelFunc
	wg       sync.WaitGroup
}

func (s *Service) startCaller(c *Connection) {
	s.callerMu.Lock()
	previous := s.caller
	if previous != nil && previous.conn == c {
		s.callerMu.Unlock()
		return
	}
	s.caller = nil
	s.callerMu.Unlock()

	if previous != nil {
		previous.stop()
	}

	narrator := NewRemoteNarrator(c, s.clock, s.cfg.AnnounceTimeout)
	opts := []narration.QueueOption{narration.WithClock(s.clock)}
	if s.cfg.NarrationRetryDelay > 0 {
		opts = append(opts, narration.WithRetryDelay(s.cfg.NarrationRetryDelay))
	}
	queue := narration.NewQueue(narrator, opts...)
	orch := orchestrator.New(s.game, queue, c.ID, s.cfg.Orchestrator, orchestrator.WithClock(s.clock))

	ctx, cancel := context.WithCancel(context.Background())
	rt := &callerRuntime{conn: c, narrator: narrator, queue: queue, cancel: cancel}
	unsubscribe := s.feed.Subscribe(orch.Notify)

	s.callerMu.Lock()
	s.caller = rt
	s.callerMu.Unlock()

	rt.wg.Add(2)
	go func() {
		defer rt.wg.Done()
		if err := queue.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Error().Err(err).Msg("narration queue stopped")
		}
	}()
	go func() {
		defer rt.wg.Done()
		defer unsubscribe()
		err := orch.Run(ctx)
		if errors.Is(err, game.ErrNotCaller) {
			s.dropCaller(rt)
		}
		// stops the queue too
		cancel()
	}()

	log.Info().Str("connection_id", c.ID).Str("name", c.Name()).Msg("caller runtime started")
}

// stopCaller stops the runtime owned by c, or any runtime when c is nil.
func (s *Service) stopCaller(c *Connection) {
	s.callerMu.Lock()
	rt := s.caller
	if rt == nil || (c != nil && rt.conn != c) {
		s.callerMu.Unlock()
		return
	}
	s.caller = nil
	s.callerMu.Unlock()

	rt.stop()
}

// dropCaller forgets rt after its orchestrator lost the lease.
func (s *Service) dropCaller(rt *callerRuntime) {
	s.callerMu.Lock()
	defer s.callerMu.Unlock()
	if s.caller == rt {
		s.caller = nil
	}
}

func (s *Service) clearNarration() {
	s.callerMu.Lock()
	rt := s.caller
	s.callerMu.Unlock()
	if rt != nil {
		rt.queue.Clear()
	}
}

func (s *Service) resolveAnnouncement(c *Connection, id string, outcome narration.Outcome) {
	s.callerMu.Lock()
	rt := s.caller
	s.callerMu.Unlock()
	if rt == nil || rt.conn != c {
		return
	}
	if !rt.narrator.Resolve(id, outcome) {
		log.Debug().Str("announcement_id", id).Msg("ignoring unknown announcement result")
	}
}

func (rt *callerRuntime) stop() {
	rt.cancel()
	rt.wg.Wait()
	log.Info().Str("connection_id", rt.conn.ID).Msg("caller runtime stopped")
}
