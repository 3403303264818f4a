package models

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGameStatePhase(t *testing.T) {
	now := time.Date(2026, 3, 1, 20, 0, 0, 0, time.UTC)
	three := 3

	tests := []struct {
		name   string
		mutate func(s *GameState)
		want   Phase
	}{
		{name: "fresh record", mutate: func(*GameState) {}, want: PhaseIdle},
		{
			name: "schedule entry",
			mutate: func(s *GameState) {
				s.ScheduledGames = append(s.ScheduledGames, ScheduledGame{ID: uuid.New(), StartTime: now.Add(time.Hour)})
			},
			want: PhaseScheduled,
		},
		{name: "countdown", mutate: func(s *GameState) { s.PreGameCountdown = &three }, want: PhasePreCountdown},
		{name: "active", mutate: func(s *GameState) { s.IsGameActive = true }, want: PhaseActive},
		{name: "exhausted", mutate: func(s *GameState) { s.DrawsExhausted = true }, want: PhaseExhausted},
		{
			name: "winner wins over everything",
			mutate: func(s *GameState) {
				s.IsGameActive = true
				s.PreGameCountdown = &three
				s.BingoWinner = &Winner{PlayerName: "ana"}
			},
			want: PhaseWinner,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewGameState(DefaultRoomID, now)
			tt.mutate(s)
			assert.Equal(t, tt.want, s.Phase())
		})
	}
}

func TestGameStateCloneIsDeep(t *testing.T) {
	now := time.Now()
	countdown := 5
	round := uuid.New()
	s := NewGameState(DefaultRoomID, now)
	s.Users = append(s.Users, User{Username: "ana", PasswordHash: "x"})
	s.DrawnNumbers = append(s.DrawnNumbers, 7)
	s.PlayerWins["ana"] = 1
	s.PlayerPreferences["ana"] = MarkingAuto
	s.PreGameCountdown = &countdown
	s.RoundID = &round
	s.BingoWinner = &Winner{PlayerName: "ana"}

	c := s.Clone()
	c.Users[0].Username = "bia"
	c.DrawnNumbers[0] = 9
	c.PlayerWins["ana"] = 2
	c.PlayerPreferences["ana"] = MarkingManual
	*c.PreGameCountdown = 1
	c.BingoWinner.PlayerName = "bia"

	assert.Equal(t, "ana", s.Users[0].Username)
	assert.Equal(t, 7, s.DrawnNumbers[0])
	assert.Equal(t, 1, s.PlayerWins["ana"])
	assert.Equal(t, MarkingAuto, s.PlayerPreferences["ana"])
	assert.Equal(t, 5, *s.PreGameCountdown)
	assert.Equal(t, "ana", s.BingoWinner.PlayerName)
}

func TestPublicStateRedactsSecrets(t *testing.T) {
	s := NewGameState(DefaultRoomID, time.Now())
	s.Users = append(s.Users, User{Username: "ana", PasswordHash: "secret-hash"})
	s.CallerLease = &CallerLease{SessionID: "session-1", HolderName: "admin", ExpiresAt: time.Now()}

	data, err := json.Marshal(s.Public())
	require.NoError(t, err)

	assert.NotContains(t, string(data), "secret-hash")
	assert.NotContains(t, string(data), "session-1")
	assert.Contains(t, string(data), `"caller_name":"admin"`)
	assert.Contains(t, string(data), `"phase":"idle"`)
}

func TestCellJSON(t *testing.T) {
	var g Grid
	for col := 0; col < GridSize; col++ {
		lo, _ := Column(col).Band()
		for row := 0; row < GridSize; row++ {
			g[col][row] = NumberCell(lo + row)
		}
	}
	g[FreeColumn][FreeRow] = FreeCell()
	require.NoError(t, g.Validate())

	data, err := json.Marshal(g)
	require.NoError(t, err)
	assert.Contains(t, string(data), `[31,32,"FREE",34,35]`)

	var decoded Grid
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, g, decoded)

	var c Cell
	assert.ErrorIs(t, json.Unmarshal([]byte(`76`), &c), ErrInvalidGrid)
	_, err = json.Marshal(Cell{})
	assert.Error(t, err)
}

func TestGridValidate(t *testing.T) {
	valid := func() Grid {
		var g Grid
		for col := 0; col < GridSize; col++ {
			lo, _ := Column(col).Band()
			for row := 0; row < GridSize; row++ {
				g[col][row] = NumberCell(lo + row)
			}
		}
		g[FreeColumn][FreeRow] = FreeCell()
		return g
	}

	tests := []struct {
		name   string
		mutate func(g *Grid)
	}{
		{name: "out of band", mutate: func(g *Grid) { g[0][0] = NumberCell(16) }},
		{name: "duplicate in column", mutate: func(g *Grid) { g[0][1] = NumberCell(1) }},
		{name: "center holds a number", mutate: func(g *Grid) { g[FreeColumn][FreeRow] = NumberCell(33) }},
		{name: "extra free cell", mutate: func(g *Grid) { g[0][0] = FreeCell() }},
		{name: "unset cell", mutate: func(g *Grid) { g[4][4] = Cell{} }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := valid()
			tt.mutate(&g)
			assert.ErrorIs(t, g.Validate(), ErrInvalidGrid)
		})
	}
}

func TestLeaderboardOrder(t *testing.T) {
	s := NewGameState(DefaultRoomID, time.Now())
	s.PlayerWins = map[string]int{"caio": 1, "ana": 3, "bia": 3}

	assert.Equal(t, []LeaderboardEntry{
		{PlayerName: "ana", Wins: 3},
		{PlayerName: "bia", Wins: 3},
		{PlayerName: "caio", Wins: 1},
	}, s.Leaderboard())
}
