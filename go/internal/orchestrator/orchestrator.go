package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/fabi086/Bingo-do-Fab-o/go/internal/game"
	"github.com/fabi086/Bingo-do-Fab-o/go/internal/models"
	"github.com/fabi086/Bingo-do-Fab-o/go/internal/narration"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
)

// GameService defines what the orchestrator needs from the game service.
type GameService interface {
	State() *models.GameState
	RenewCaller(ctx context.Context, sessionID string) (models.CallerLease, error)
	StartScheduledGame(ctx context.Context, sessionID string, gameID uuid.UUID, seconds int) error
	Tick(ctx context.Context, sessionID string, expected int) (int, error)
	DrawNext(ctx context.Context, sessionID string, roundID uuid.UUID) (int, error)
	DeclareAutoWinner(ctx context.Context, sessionID string, roundID uuid.UUID) (*models.Winner, error)
}

// Announcer queues announcements for the caller.
type Announcer interface {
	Enqueue(text string) <-chan narration.Outcome
	Clear() int
}

type Config struct {
	PreCountdownSeconds int           // countdown length used for scheduled games
	TickInterval        time.Duration // time between countdown ticks
	DrawPause           time.Duration // pause after a number has been announced
	HeartbeatInterval   time.Duration // caller lease renewal period
	IdlePollInterval    time.Duration // re-check period when nothing is due
}

func DefaultConfig() Config {
	return Config{
		PreCountdownSeconds: 10,
		TickInterval:        time.Second,
		DrawPause:           time.Second,
		HeartbeatInterval:   5 * time.Second,
		IdlePollInterval:    5 * time.Second,
	}
}

// Orchestrator drives the room on behalf of the session holding the caller
// lease: it starts scheduled games, ticks the pre-game countdown, and draws
// numbers one at a time, each after the previous one has been announced.
type Orchestrator struct {
	svc       GameService
	announcer Announcer
	sessionID string
	clock     clockwork.Clock
	cfg       Config
	wakeCh    chan struct{}
}

type Option func(*Orchestrator)

func WithClock(c clockwork.Clock) Option {
	return func(o *Orchestrator) { o.clock = c }
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.PreCountdownSeconds < 0 {
		c.PreCountdownSeconds = 0
	}
	if c.TickInterval <= 0 {
		c.TickInterval = d.TickInterval
	}
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = d.HeartbeatInterval
	}
	if c.IdlePollInterval <= 0 {
		c.IdlePollInterval = d.IdlePollInterval
	}
	return c
}

func New(svc GameService, announcer Announcer, sessionID string, cfg Config, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		svc:       svc,
		announcer: announcer,
		sessionID: sessionID,
		clock:     clockwork.NewRealClock(),
		cfg:       cfg.withDefaults(),
		wakeCh:    make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Notify wakes the loop after a state change. It never blocks, so it can be
// used directly as a hub subscriber.
func (o *Orchestrator) Notify(*models.GameState) {
	select {
	case o.wakeCh <- struct{}{}:
	default:
	}
}

// Run drives the room until ctx is done or the caller lease is lost.
func (o *Orchestrator) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	log.Info().Str("session_id", o.sessionID).Msg("caller orchestrator started")
	defer log.Info().Str("session_id", o.sessionID).Msg("caller orchestrator stopped")

	go o.heartbeat(ctx, cancel)

	for {
		if err := o.step(ctx); err != nil {
			if errors.Is(err, game.ErrNotCaller) {
				cancel(err)
			} else if ctx.Err() == nil {
				log.Error().Err(err).Msg("orchestrator step failed")
				o.waitForChange(ctx, o.cfg.IdlePollInterval)
			}
		}
		if ctx.Err() != nil {
			if cause := context.Cause(ctx); errors.Is(cause, game.ErrNotCaller) {
				return cause
			}
			return nil
		}
	}
}

// heartbeat renews the caller lease and cancels the run once it is lost.
func (o *Orchestrator) heartbeat(ctx context.Context, cancel context.CancelCauseFunc) {
	ticker := o.clock.NewTicker(o.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			_, err := o.svc.RenewCaller(ctx, o.sessionID)
			switch {
			case err == nil:
			case errors.Is(err, game.ErrNotCaller):
				log.Warn().Str("session_id", o.sessionID).Msg("caller lease lost")
				cancel(err)
				return
			default:
				log.Error().Err(err).Msg("failed to renew caller lease")
			}
		}
	}
}

// step performs the next action the current phase calls for.
func (o *Orchestrator) step(ctx context.Context) error {
	st := o.svc.State()
	if !st.CallerLease.HeldBy(o.sessionID, o.clock.Now()) {
		return game.ErrNotCaller
	}

	switch st.Phase() {
	case models.PhaseScheduled:
		return o.driveSchedule(ctx, st)
	case models.PhasePreCountdown:
		return o.tick(ctx, *st.PreGameCountdown)
	case models.PhaseActive:
		return o.drawOne(ctx, *st.RoundID)
	default:
		o.waitForChange(ctx, o.cfg.IdlePollInterval)
		return nil
	}
}

// driveSchedule starts the next scheduled game so that it becomes active at
// its start time.
func (o *Orchestrator) driveSchedule(ctx context.Context, st *models.GameState) error {
	next, ok := st.NextScheduledGame()
	if !ok {
		return nil
	}

	lead := time.Duration(o.cfg.PreCountdownSeconds) * o.cfg.TickInterval
	untilStart := next.StartTime.Sub(o.clock.Now())
	if wait := untilStart - lead; wait > 0 {
		o.waitForChange(ctx, wait)
		return nil
	}

	seconds := o.cfg.PreCountdownSeconds
	if untilStart < lead {
		// late, count down only what is left
		seconds = int(max(untilStart, 0) / o.cfg.TickInterval)
	}

	err := o.svc.StartScheduledGame(ctx, o.sessionID, next.ID, seconds)
	if game.IsStale(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to start scheduled game: %w", err)
	}
	return nil
}

func (o *Orchestrator) tick(ctx context.Context, remaining int) error {
	o.announcer.Enqueue(narration.CountdownPhrase(remaining))
	if !o.sleep(ctx, o.cfg.TickInterval) {
		return nil
	}
	_, err := o.svc.Tick(ctx, o.sessionID, remaining)
	if game.IsStale(err) {
		log.Debug().Int("expected", remaining).Msg("countdown moved on, skipping tick")
		return nil
	}
	return err
}

// drawOne draws a number, checks auto-marking players for a win and waits for
// the number to be announced before returning.
func (o *Orchestrator) drawOne(ctx context.Context, roundID uuid.UUID) error {
	n, err := o.svc.DrawNext(ctx, o.sessionID, roundID)
	switch {
	case errors.Is(err, game.ErrNoNumbersLeft):
		o.announcer.Enqueue("No numbers left")
		return nil
	case game.IsStale(err):
		return nil
	case err != nil:
		return fmt.Errorf("failed to draw number: %w", err)
	}

	winner, err := o.svc.DeclareAutoWinner(ctx, o.sessionID, roundID)
	if err != nil && !game.IsStale(err) {
		log.Error().Err(err).Msg("failed to check for winners")
	}

	done := o.announcer.Enqueue(narration.NumberPhrase(n))
	if winner != nil {
		o.announcer.Enqueue(fmt.Sprintf("Bingo! %s wins", winner.PlayerName))
		return nil
	}

	select {
	case <-done:
	case <-ctx.Done():
		return nil
	}
	o.sleep(ctx, o.cfg.DrawPause)
	return nil
}

// sleep waits for d and reports whether it elapsed before ctx was done.
func (o *Orchestrator) sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := o.clock.NewTimer(d)
	defer stopAndDrainTimer(timer)
	select {
	case <-timer.Chan():
		return true
	case <-ctx.Done():
		return false
	}
}

// waitForChange waits for d, a state change notification, or ctx.
func (o *Orchestrator) waitForChange(ctx context.Context, d time.Duration) {
	timer := o.clock.NewTimer(d)
	defer stopAndDrainTimer(timer)
	select {
	case <-timer.Chan():
	case <-o.wakeCh:
	case <-ctx.Done():
	}
}

func stopAndDrainTimer(timer clockwork.Timer) {
	if !timer.Stop() {
		select {
		case <-timer.Chan():
		default:
		}
	}
}
