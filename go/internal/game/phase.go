package game

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/fabi086/Bingo-do-Fab-o/go/internal/bingo"
	"github.com/fabi086/Bingo-do-Fab-o/go/internal/models"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

func canStartCountdown(p models.Phase) bool {
	return p == models.PhaseIdle || p == models.PhaseScheduled
}

// StartCountdown enters the pre-countdown phase. A non-positive seconds uses
// the configured default.
func (s *Service) StartCountdown(ctx context.Context, sessionID string, seconds int) error {
	if seconds <= 0 {
		seconds = s.cfg.PreCountdownSeconds
	}
	_, err := s.store.Update(ctx, func(st *models.GameState) (bool, error) {
		if err := s.requireCaller(st, sessionID); err != nil {
			return false, err
		}
		if !canStartCountdown(st.Phase()) {
			return false, ErrStalePhase
		}
		st.PreGameCountdown = &seconds
		return true, nil
	})
	if err != nil {
		return err
	}
	log.Info().Int("seconds", seconds).Msg("pre-game countdown started")
	return nil
}

// StartScheduledGame consumes a schedule entry and starts its countdown.
// It is a stale no-op if the entry has been removed or consumed already.
func (s *Service) StartScheduledGame(ctx context.Context, sessionID string, gameID uuid.UUID, seconds int) error {
	_, err := s.store.Update(ctx, func(st *models.GameState) (bool, error) {
		if err := s.requireCaller(st, sessionID); err != nil {
			return false, err
		}
		i := slices.IndexFunc(st.ScheduledGames, func(g models.ScheduledGame) bool { return g.ID == gameID })
		if i < 0 || !canStartCountdown(st.Phase()) {
			return false, ErrStalePhase
		}
		st.ScheduledGames = slices.Delete(st.ScheduledGames, i, i+1)
		if seconds <= 0 {
			startRound(st)
			return true, nil
		}
		st.PreGameCountdown = &seconds
		return true, nil
	})
	if err != nil {
		return err
	}
	log.Info().
		Str("game_id", gameID.String()).
		Int("seconds", seconds).
		Msg("scheduled game started")
	return nil
}

// Tick decrements the countdown from expected. Reaching zero starts the round.
// It returns the remaining seconds.
func (s *Service) Tick(ctx context.Context, sessionID string, expected int) (int, error) {
	remaining := expected - 1
	_, err := s.store.Update(ctx, func(st *models.GameState) (bool, error) {
		if err := s.requireCaller(st, sessionID); err != nil {
			return false, err
		}
		if st.Phase() != models.PhasePreCountdown || *st.PreGameCountdown != expected {
			return false, ErrStalePhase
		}
		if remaining <= 0 {
			startRound(st)
			return true, nil
		}
		st.PreGameCountdown = &remaining
		return true, nil
	})
	if err != nil {
		return 0, err
	}
	return max(remaining, 0), nil
}

// StartGame activates a new round immediately and returns its id.
func (s *Service) StartGame(ctx context.Context, sessionID string) (uuid.UUID, error) {
	next, err := s.store.Update(ctx, func(st *models.GameState) (bool, error) {
		if err := s.requireCaller(st, sessionID); err != nil {
			return false, err
		}
		switch st.Phase() {
		case models.PhaseIdle, models.PhaseScheduled, models.PhasePreCountdown:
		default:
			return false, ErrStalePhase
		}
		startRound(st)
		return true, nil
	})
	if err != nil {
		return uuid.Nil, err
	}
	return *next.RoundID, nil
}

func startRound(st *models.GameState) {
	id := uuid.New()
	st.RoundID = &id
	st.PreGameCountdown = nil
	st.IsGameActive = true
	st.DrawnNumbers = []int{}
	st.DrawsExhausted = false
	st.BingoWinner = nil
	st.InvalidBingoClaim = nil
	st.ClaimCooldowns = map[string]time.Time{}

	log.Info().Str("round_id", id.String()).Msg("round started")
}

// activeRound fails with ErrStalePhase unless st is in the active phase of roundID.
func activeRound(st *models.GameState, roundID uuid.UUID) error {
	if st.Phase() != models.PhaseActive || st.RoundID == nil || *st.RoundID != roundID {
		return ErrStalePhase
	}
	return nil
}

// DrawNext appends one undrawn number to the round. When every number has been
// drawn the round ends without a winner and ErrNoNumbersLeft is returned.
func (s *Service) DrawNext(ctx context.Context, sessionID string, roundID uuid.UUID) (int, error) {
	var (
		number    int
		exhausted bool
	)
	_, err := s.store.Update(ctx, func(st *models.GameState) (bool, error) {
		number, exhausted = 0, false
		if err := s.requireCaller(st, sessionID); err != nil {
			return false, err
		}
		if err := activeRound(st, roundID); err != nil {
			return false, err
		}
		n, ok := bingo.NextNumber(s.draws, st.DrawnNumbers)
		if !ok {
			exhausted = true
			st.DrawsExhausted = true
			st.IsGameActive = false
			return true, nil
		}
		number = n
		st.DrawnNumbers = append(st.DrawnNumbers, n)
		return true, nil
	})
	if err != nil {
		return 0, err
	}
	if exhausted {
		log.Info().Str("round_id", roundID.String()).Msg("all numbers drawn, round ended without a winner")
		return 0, ErrNoNumbersLeft
	}

	log.Debug().Int("number", number).Str("round_id", roundID.String()).Msg("number drawn")
	return number, nil
}

// DeclareAutoWinner checks the cards of auto-marking players against the
// authoritative draws and commits the first winner found. It returns nil when
// there is no winner yet.
func (s *Service) DeclareAutoWinner(ctx context.Context, sessionID string, roundID uuid.UUID) (*models.Winner, error) {
	var winner *models.Winner
	_, err := s.store.Update(ctx, func(st *models.GameState) (bool, error) {
		winner = nil
		if err := s.requireCaller(st, sessionID); err != nil {
			return false, err
		}
		if err := activeRound(st, roundID); err != nil {
			return false, err
		}

		candidates := make([]models.Card, 0, len(st.GeneratedCards))
		for _, c := range st.GeneratedCards {
			if st.PreferenceOf(c.OwnerName) == models.MarkingAuto {
				candidates = append(candidates, c)
			}
		}
		win, ok := bingo.CheckWinner(candidates, bingo.NewDrawnSet(st.DrawnNumbers), st.GameMode)
		if !ok {
			return false, nil
		}
		winner = s.declareWinner(st, win)
		return true, nil
	})
	if err != nil {
		return nil, err
	}
	return winner, nil
}

// SetWinner commits cardID as the round's winner after verifying it against
// the authoritative draws.
func (s *Service) SetWinner(ctx context.Context, sessionID string, roundID, cardID uuid.UUID) (*models.Winner, error) {
	var winner *models.Winner
	_, err := s.store.Update(ctx, func(st *models.GameState) (bool, error) {
		winner = nil
		if err := s.requireCaller(st, sessionID); err != nil {
			return false, err
		}
		if err := activeRound(st, roundID); err != nil {
			return false, err
		}
		card, ok := st.FindCard(cardID)
		if !ok {
			return false, ErrCardNotFound
		}
		pattern, ok := bingo.CheckCard(card.Grid, bingo.NewDrawnSet(st.DrawnNumbers), st.GameMode)
		if !ok {
			return false, ErrNotAWinner
		}
		winner = s.declareWinner(st, bingo.Win{CardID: card.ID, PlayerName: card.OwnerName, Pattern: pattern})
		return true, nil
	})
	if err != nil {
		return nil, err
	}
	return winner, nil
}

// declareWinner moves st into the winner phase. Callers must have checked
// that st is in the active phase.
func (s *Service) declareWinner(st *models.GameState, win bingo.Win) *models.Winner {
	w := &models.Winner{
		CardID:     win.CardID,
		PlayerName: win.PlayerName,
		Pattern:    win.Pattern.String(),
		RoundID:    *st.RoundID,
		DeclaredAt: s.clock.Now(),
	}
	st.BingoWinner = w
	st.IsGameActive = false
	st.PlayerWins[win.PlayerName]++

	log.Info().
		Str("player", w.PlayerName).
		Str("card_id", w.CardID.String()).
		Str("pattern", w.Pattern).
		Msg("bingo winner declared")
	return w
}

// ResetGame clears every per-round field and returns the room to idle. Users,
// online players, win counts, the schedule, the game mode and the caller lease
// survive. Resetting an already clean room writes nothing.
func (s *Service) ResetGame(ctx context.Context, sessionID string) error {
	_, err := s.store.Update(ctx, func(st *models.GameState) (bool, error) {
		if err := s.requireCaller(st, sessionID); err != nil {
			return false, err
		}
		if isClean(st) {
			return false, nil
		}
		st.DrawnNumbers = []int{}
		st.GeneratedCards = []models.Card{}
		st.BingoWinner = nil
		st.InvalidBingoClaim = nil
		st.ClaimCooldowns = map[string]time.Time{}
		st.PlayerPreferences = map[string]models.MarkingMode{}
		st.PreGameCountdown = nil
		st.IsGameActive = false
		st.RoundID = nil
		st.DrawsExhausted = false
		return true, nil
	})
	if err != nil {
		return fmt.Errorf("failed to reset game: %w", err)
	}

	s.cancelCooldowns()
	log.Info().Msg("game reset")
	return nil
}

func isClean(st *models.GameState) bool {
	return len(st.DrawnNumbers) == 0 &&
		len(st.GeneratedCards) == 0 &&
		st.BingoWinner == nil &&
		st.InvalidBingoClaim == nil &&
		len(st.ClaimCooldowns) == 0 &&
		len(st.PlayerPreferences) == 0 &&
		st.PreGameCountdown == nil &&
		!st.IsGameActive &&
		st.RoundID == nil &&
		!st.DrawsExhausted
}

// IsStale reports whether err means the action lost a race with a phase change.
func IsStale(err error) bool {
	return errors.Is(err, ErrStalePhase)
}
