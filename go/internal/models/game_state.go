package models

import (
	"maps"
	"slices"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
)

// DefaultRoomID is the fixed key of the singleton game state record.
const DefaultRoomID = "main"

// GameMode selects the win predicate.
type GameMode string

const (
	GameModeLine GameMode = "line"
	GameModeFull GameMode = "full"
)

func (m GameMode) Valid() bool {
	return m == GameModeLine || m == GameModeFull
}

// MarkingMode is a player's card marking preference.
type MarkingMode string

const (
	MarkingAuto   MarkingMode = "auto"
	MarkingManual MarkingMode = "manual"
)

func (m MarkingMode) Valid() bool {
	return m == MarkingAuto || m == MarkingManual
}

// Phase is the room's position in the game timeline.
type Phase string

const (
	PhaseIdle         Phase = "idle"
	PhaseScheduled    Phase = "scheduled"
	PhasePreCountdown Phase = "pre_countdown"
	PhaseActive       Phase = "active"
	PhaseWinner       Phase = "winner"
	PhaseExhausted    Phase = "exhausted"
)

// ScheduledGame is a future game start announced by the caller.
type ScheduledGame struct {
	ID        uuid.UUID `json:"id"`
	StartTime time.Time `json:"start_time"`
}

// Winner records the confirmed winning card of a round.
type Winner struct {
	CardID     uuid.UUID `json:"card_id"`
	PlayerName string    `json:"player_name"`
	Pattern    string    `json:"pattern,omitempty"`
	RoundID    uuid.UUID `json:"round_id"`
	DeclaredAt time.Time `json:"declared_at"`
}

// InvalidClaim is the cooldown marker left by a false bingo claim.
type InvalidClaim struct {
	PlayerName string    `json:"player_name"`
	Timestamp  time.Time `json:"timestamp"`
}

// CallerLease grants one session the right to drive the room.
type CallerLease struct {
	SessionID  string    `json:"session_id"`
	HolderName string    `json:"holder_name"`
	ExpiresAt  time.Time `json:"expires_at"`
}

// HeldBy reports whether sessionID holds an unexpired lease at now.
func (l *CallerLease) HeldBy(sessionID string, now time.Time) bool {
	return l != nil && l.SessionID == sessionID && now.Before(l.ExpiresAt)
}

// Expired reports whether the lease is absent or lapsed at now.
func (l *CallerLease) Expired(now time.Time) bool {
	return l == nil || !now.Before(l.ExpiresAt)
}

// GameState is the single shared record of a game room.
type GameState struct {
	ID                string                 `json:"id"`
	Version           int64                  `json:"version"`
	Users             []User                 `json:"users"`
	OnlineUsers       []string               `json:"online_users"`
	GeneratedCards    []Card                 `json:"generated_cards"`
	DrawnNumbers      []int                  `json:"drawn_numbers"`
	GameMode          GameMode               `json:"game_mode"`
	ScheduledGames    []ScheduledGame        `json:"scheduled_games"`
	PreGameCountdown  *int                   `json:"pre_game_countdown,omitempty"`
	IsGameActive      bool                   `json:"is_game_active"`
	RoundID           *uuid.UUID             `json:"round_id,omitempty"`
	DrawsExhausted    bool                   `json:"draws_exhausted"`
	BingoWinner       *Winner                `json:"bingo_winner,omitempty"`
	PlayerWins        map[string]int         `json:"player_wins"`
	InvalidBingoClaim *InvalidClaim          `json:"invalid_bingo_claim,omitempty"`
	ClaimCooldowns    map[string]time.Time   `json:"claim_cooldowns"`
	PlayerPreferences map[string]MarkingMode `json:"player_preferences"`
	CallerLease       *CallerLease           `json:"caller_lease,omitempty"`
	UpdatedAt         time.Time              `json:"updated_at"`
}

// NewGameState returns the default record for a room.
func NewGameState(id string, now time.Time) *GameState {
	return &GameState{
		ID:                id,
		Users:             []User{},
		OnlineUsers:       []string{},
		GeneratedCards:    []Card{},
		DrawnNumbers:      []int{},
		GameMode:          GameModeLine,
		ScheduledGames:    []ScheduledGame{},
		PlayerWins:        map[string]int{},
		ClaimCooldowns:    map[string]time.Time{},
		PlayerPreferences: map[string]MarkingMode{},
		UpdatedAt:         now,
	}
}

// Phase derives the current phase from the phase-defining fields.
func (s *GameState) Phase() Phase {
	switch {
	case s.BingoWinner != nil:
		return PhaseWinner
	case s.DrawsExhausted:
		return PhaseExhausted
	case s.IsGameActive:
		return PhaseActive
	case s.PreGameCountdown != nil:
		return PhasePreCountdown
	case len(s.ScheduledGames) > 0:
		return PhaseScheduled
	default:
		return PhaseIdle
	}
}

// Clone returns a deep copy.
func (s *GameState) Clone() *GameState {
	if s == nil {
		return nil
	}
	c := *s
	c.Users = slices.Clone(s.Users)
	c.OnlineUsers = slices.Clone(s.OnlineUsers)
	c.GeneratedCards = slices.Clone(s.GeneratedCards)
	c.DrawnNumbers = slices.Clone(s.DrawnNumbers)
	c.ScheduledGames = slices.Clone(s.ScheduledGames)
	c.PlayerWins = maps.Clone(s.PlayerWins)
	c.ClaimCooldowns = maps.Clone(s.ClaimCooldowns)
	c.PlayerPreferences = maps.Clone(s.PlayerPreferences)
	if s.PreGameCountdown != nil {
		v := *s.PreGameCountdown
		c.PreGameCountdown = &v
	}
	if s.RoundID != nil {
		v := *s.RoundID
		c.RoundID = &v
	}
	if s.BingoWinner != nil {
		v := *s.BingoWinner
		c.BingoWinner = &v
	}
	if s.InvalidBingoClaim != nil {
		v := *s.InvalidBingoClaim
		c.InvalidBingoClaim = &v
	}
	if s.CallerLease != nil {
		v := *s.CallerLease
		c.CallerLease = &v
	}
	return &c
}

// CooldownActive reports whether name made a false claim less than cooldown before now.
func (s *GameState) CooldownActive(name string, now time.Time, cooldown time.Duration) bool {
	at, ok := s.ClaimCooldowns[name]
	return ok && now.Before(at.Add(cooldown))
}

// FindUser looks a user up by name, ignoring case.
func (s *GameState) FindUser(name string) (User, bool) {
	for _, u := range s.Users {
		if strings.EqualFold(u.Username, name) {
			return u, true
		}
	}
	return User{}, false
}

// FindCard returns the card with the given id.
func (s *GameState) FindCard(id uuid.UUID) (Card, bool) {
	for _, c := range s.GeneratedCards {
		if c.ID == id {
			return c, true
		}
	}
	return Card{}, false
}

// CardsOwnedBy returns the owner's cards in their stored order.
func (s *GameState) CardsOwnedBy(name string) []Card {
	var cards []Card
	for _, c := range s.GeneratedCards {
		if c.OwnerName == name {
			cards = append(cards, c)
		}
	}
	return cards
}

// PreferenceOf returns the player's marking mode, manual when unset.
func (s *GameState) PreferenceOf(name string) MarkingMode {
	if m, ok := s.PlayerPreferences[name]; ok {
		return m
	}
	return MarkingManual
}

func (s *GameState) IsOnline(name string) bool {
	return slices.Contains(s.OnlineUsers, name)
}

// NextScheduledGame returns the earliest schedule entry.
func (s *GameState) NextScheduledGame() (ScheduledGame, bool) {
	if len(s.ScheduledGames) == 0 {
		return ScheduledGame{}, false
	}
	next := s.ScheduledGames[0]
	for _, g := range s.ScheduledGames[1:] {
		if g.StartTime.Before(next.StartTime) {
			next = g
		}
	}
	return next, true
}

// PublicGameState is the redacted view sent to sessions.
type PublicGameState struct {
	ID                string                 `json:"id"`
	Version           int64                  `json:"version"`
	Phase             Phase                  `json:"phase"`
	Users             []PublicUser           `json:"users"`
	OnlineUsers       []string               `json:"online_users"`
	GeneratedCards    []Card                 `json:"generated_cards"`
	DrawnNumbers      []int                  `json:"drawn_numbers"`
	GameMode          GameMode               `json:"game_mode"`
	ScheduledGames    []ScheduledGame        `json:"scheduled_games"`
	PreGameCountdown  *int                   `json:"pre_game_countdown,omitempty"`
	IsGameActive      bool                   `json:"is_game_active"`
	RoundID           *uuid.UUID             `json:"round_id,omitempty"`
	DrawsExhausted    bool                   `json:"draws_exhausted"`
	BingoWinner       *Winner                `json:"bingo_winner,omitempty"`
	PlayerWins        map[string]int         `json:"player_wins"`
	InvalidBingoClaim *InvalidClaim          `json:"invalid_bingo_claim,omitempty"`
	PlayerPreferences map[string]MarkingMode `json:"player_preferences"`
	CallerName        string                 `json:"caller_name,omitempty"`
	UpdatedAt         time.Time              `json:"updated_at"`
}

// Public strips credentials and session identifiers and adds the derived phase.
func (s *GameState) Public() PublicGameState {
	c := s.Clone()
	users := make([]PublicUser, 0, len(c.Users))
	for _, u := range c.Users {
		users = append(users, PublicUser{Username: u.Username, CreatedAt: u.CreatedAt})
	}
	p := PublicGameState{
		ID:                c.ID,
		Version:           c.Version,
		Phase:             c.Phase(),
		Users:             users,
		OnlineUsers:       c.OnlineUsers,
		GeneratedCards:    c.GeneratedCards,
		DrawnNumbers:      c.DrawnNumbers,
		GameMode:          c.GameMode,
		ScheduledGames:    c.ScheduledGames,
		PreGameCountdown:  c.PreGameCountdown,
		IsGameActive:      c.IsGameActive,
		RoundID:           c.RoundID,
		DrawsExhausted:    c.DrawsExhausted,
		BingoWinner:       c.BingoWinner,
		PlayerWins:        c.PlayerWins,
		InvalidBingoClaim: c.InvalidBingoClaim,
		PlayerPreferences: c.PlayerPreferences,
		UpdatedAt:         c.UpdatedAt,
	}
	if c.CallerLease != nil {
		p.CallerName = c.CallerLease.HolderName
	}
	return p
}

// LeaderboardEntry is one row of the cumulative win table.
type LeaderboardEntry struct {
	PlayerName string `json:"player_name"`
	Wins       int    `json:"wins"`
}

// Leaderboard returns players sorted by wins descending, then name.
func (s *GameState) Leaderboard() []LeaderboardEntry {
	entries := make([]LeaderboardEntry, 0, len(s.PlayerWins))
	for name, wins := range s.PlayerWins {
		entries = append(entries, LeaderboardEntry{PlayerName: name, Wins: wins})
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Wins != entries[j].Wins {
			return entries[i].Wins > entries[j].Wins
		}
		return entries[i].PlayerName < entries[j].PlayerName
	})
	return entries
}
