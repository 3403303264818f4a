package game

import (
	"context"
	"strings"
	"time"

	"github.com/fabi086/Bingo-do-Fab-o/go/internal/bingo"
	"github.com/fabi086/Bingo-do-Fab-o/go/internal/models"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
)

// ClaimOutcome is the verdict on a bingo claim.
type ClaimOutcome string

const (
	ClaimAccepted ClaimOutcome = "accepted"
	ClaimInvalid  ClaimOutcome = "invalid"
	ClaimIgnored  ClaimOutcome = "ignored"
)

// ClaimResult describes what a claim did to the room.
type ClaimResult struct {
	Outcome ClaimOutcome   `json:"outcome"`
	Reason  string         `json:"reason,omitempty"`
	Winner  *models.Winner `json:"winner,omitempty"`
}

const cooldownExpiryTimeout = 5 * time.Second

// ClaimBingo verifies a player's claim against the authoritative draw history.
// A valid claim declares the winner. A false claim starts a cooldown for that
// player and records the broadcast marker; both expire after the configured
// delay. Claims while a winner exists, during the player's cooldown, or for a
// card the player does not own are ignored.
func (s *Service) ClaimBingo(ctx context.Context, playerName string, cardID uuid.UUID) (ClaimResult, error) {
	var (
		result  ClaimResult
		claimAt time.Time
	)
	_, err := s.store.Update(ctx, func(st *models.GameState) (bool, error) {
		now := s.clock.Now()
		result = ClaimResult{Outcome: ClaimIgnored}

		switch st.Phase() {
		case models.PhaseActive:
		case models.PhaseWinner:
			result.Reason = "winner already declared"
			return false, nil
		default:
			result.Reason = "no active round"
			return false, nil
		}
		if st.CooldownActive(playerName, now, s.cfg.ClaimCooldown) {
			result.Reason = "claim cooldown active"
			return false, nil
		}
		card, ok := st.FindCard(cardID)
		if !ok || !strings.EqualFold(card.OwnerName, playerName) {
			result.Reason = "card not owned by player"
			return false, nil
		}

		pattern, ok := bingo.CheckCard(card.Grid, bingo.NewDrawnSet(st.DrawnNumbers), st.GameMode)
		if ok {
			result.Outcome = ClaimAccepted
			result.Winner = s.declareWinner(st, bingo.Win{CardID: card.ID, PlayerName: card.OwnerName, Pattern: pattern})
			return true, nil
		}

		claimAt = now
		if st.ClaimCooldowns == nil {
			st.ClaimCooldowns = map[string]time.Time{}
		}
		st.ClaimCooldowns[playerName] = now
		st.InvalidBingoClaim = &models.InvalidClaim{PlayerName: playerName, Timestamp: now}
		result.Outcome = ClaimInvalid
		result.Reason = "card does not satisfy the win pattern"
		return true, nil
	})
	if err != nil {
		return ClaimResult{Outcome: ClaimIgnored}, err
	}

	switch result.Outcome {
	case ClaimInvalid:
		log.Info().Str("player", playerName).Str("card_id", cardID.String()).Msg("invalid bingo claim")
		s.scheduleCooldownExpiry(playerName, claimAt)
	case ClaimIgnored:
		log.Debug().Str("player", playerName).Str("reason", result.Reason).Msg("bingo claim ignored")
	}
	return result, nil
}

// scheduleCooldownExpiry clears the cooldown for name once it elapses. The
// broadcast marker is cleared too unless a newer claim has replaced it by then.
func (s *Service) scheduleCooldownExpiry(name string, claimedAt time.Time) {
	s.timersMu.Lock()
	defer s.timersMu.Unlock()
	if s.closed {
		return
	}
	if existing, ok := s.timers[name]; ok {
		existing.Stop()
	}

	var timer clockwork.Timer
	timer = s.clock.AfterFunc(s.cfg.ClaimCooldown, func() {
		s.timersMu.Lock()
		if s.timers[name] == timer {
			delete(s.timers, name)
		}
		s.timersMu.Unlock()

		ctx, cancel := context.WithTimeout(context.Background(), cooldownExpiryTimeout)
		defer cancel()
		if err := s.expireClaim(ctx, name, claimedAt); err != nil {
			log.Error().Err(err).Str("player", name).Msg("failed to clear claim cooldown")
		}
	})
	s.timers[name] = timer
}

func (s *Service) expireClaim(ctx context.Context, name string, claimedAt time.Time) error {
	_, err := s.store.Update(ctx, func(st *models.GameState) (bool, error) {
		changed := false
		if at, ok := st.ClaimCooldowns[name]; ok && at.Equal(claimedAt) {
			delete(st.ClaimCooldowns, name)
			changed = true
		}
		if c := st.InvalidBingoClaim; c != nil && c.PlayerName == name && c.Timestamp.Equal(claimedAt) {
			st.InvalidBingoClaim = nil
			changed = true
		}
		return changed, nil
	})
	return err
}

func (s *Service) cancelCooldowns() {
	s.timersMu.Lock()
	defer s.timersMu.Unlock()
	for name, t := range s.timers {
		t.Stop()
		delete(s.timers, name)
	}
}

// PendingCooldowns returns the number of cooldown timers still waiting to fire.
func (s *Service) PendingCooldowns() int {
	s.timersMu.Lock()
	defer s.timersMu.Unlock()
	return len(s.timers)
}
