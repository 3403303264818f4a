package orchestrator

import (
	"context"
	"errors"
	"time"

	"github.com/fabi086/Bingo-do-Fab-o/go/internal/game"
	"github.com/fabi086/Bingo-do-Fab-o/go/internal/models"
	"github.com/fabi086/Bingo-do-Fab-o/go/internal/narration"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
)

// LeaseService is a GameService that can also hand out the caller lease.
type LeaseService interface {
	GameService
	AcquireCaller(ctx context.Context, sessionID, name string) (models.CallerLease, error)
	ReleaseCaller(ctx context.Context, sessionID string) error
}

// StateFeed delivers every new state of the room.
type StateFeed interface {
	Subscribe(cb func(*models.GameState)) (unsubscribe func())
}

// HeadlessCaller runs the caller role inside the server process, with a
// narrator that only paces announcements. It takes the lease whenever it is
// free and gives it up on shutdown.
type HeadlessCaller struct {
	svc        LeaseService
	feed       StateFeed
	narrator   narration.Narrator
	sessionID  string
	name       string
	cfg        Config
	clock      clockwork.Clock
	retryDelay time.Duration
}

// HeadlessOption configures a HeadlessCaller.
type HeadlessOption func(*HeadlessCaller)

// WithHeadlessClock overrides the wall clock used for retries, pacing and the
// orchestrator it runs.
func WithHeadlessClock(c clockwork.Clock) HeadlessOption {
	return func(h *HeadlessCaller) { h.clock = c }
}

func NewHeadlessCaller(svc LeaseService, feed StateFeed, narrator narration.Narrator, sessionID, name string, cfg Config, opts ...HeadlessOption) *HeadlessCaller {
	cfg = cfg.withDefaults()
	h := &HeadlessCaller{
		svc:        svc,
		feed:       feed,
		narrator:   narrator,
		sessionID:  sessionID,
		name:       name,
		cfg:        cfg,
		clock:      clockwork.NewRealClock(),
		retryDelay: cfg.HeartbeatInterval,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Run holds the caller role until ctx is done.
func (h *HeadlessCaller) Run(ctx context.Context) error {
	log.Info().Str("session_id", h.sessionID).Str("name", h.name).Msg("headless caller started")
	defer h.release()

	for {
		_, err := h.svc.AcquireCaller(ctx, h.sessionID, h.name)
		switch {
		case err == nil:
			if err := h.runTerm(ctx); err != nil && !errors.Is(err, game.ErrNotCaller) {
				log.Error().Err(err).Msg("headless caller term ended")
			}
		case errors.Is(err, game.ErrCallerTaken):
			log.Debug().Msg("caller lease held elsewhere, waiting")
		default:
			if ctx.Err() == nil {
				log.Error().Err(err).Msg("failed to acquire caller lease")
			}
		}

		select {
		case <-ctx.Done():
			return nil
		case <-h.clock.After(h.retryDelay):
		}
	}
}

// runTerm drives the room for as long as the lease is held.
func (h *HeadlessCaller) runTerm(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	queue := narration.NewQueue(h.narrator, narration.WithClock(h.clock))
	orch := New(h.svc, queue, h.sessionID, h.cfg, WithClock(h.clock))
	unsubscribe := h.feed.Subscribe(orch.Notify)
	defer unsubscribe()

	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = queue.Run(ctx)
	}()

	err := orch.Run(ctx)
	cancel()
	<-done
	return err
}

func (h *HeadlessCaller) release() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := h.svc.ReleaseCaller(ctx, h.sessionID); err != nil {
		log.Error().Err(err).Msg("failed to release caller lease")
	}
	log.Info().Str("session_id", h.sessionID).Msg("headless caller stopped")
}
