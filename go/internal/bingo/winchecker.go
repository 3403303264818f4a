package bingo

import (
	"fmt"

	"github.com/fabi086/Bingo-do-Fab-o/go/internal/models"
	"github.com/google/uuid"
)

// DrawnSet is the set of numbers called so far.
type DrawnSet map[int]struct{}

// NewDrawnSet builds a DrawnSet from a draw history.
func NewDrawnSet(numbers []int) DrawnSet {
	set := make(DrawnSet, len(numbers))
	for _, n := range numbers {
		set[n] = struct{}{}
	}
	return set
}

func (d DrawnSet) Has(n int) bool {
	_, ok := d[n]
	return ok
}

// PatternKind names the shape that completed a card.
type PatternKind string

const (
	PatternColumn   PatternKind = "column"
	PatternRow      PatternKind = "row"
	PatternDiagonal PatternKind = "diagonal"
	PatternFull     PatternKind = "full"
)

// Pattern is a completed shape. Index is the column, row or diagonal index
// (0 is the top-left to bottom-right diagonal).
type Pattern struct {
	Kind  PatternKind `json:"kind"`
	Index int         `json:"index"`
}

func (p Pattern) String() string {
	switch p.Kind {
	case PatternColumn:
		return fmt.Sprintf("column %s", models.Column(p.Index).Letter())
	case PatternRow:
		return fmt.Sprintf("row %d", p.Index+1)
	case PatternDiagonal:
		return fmt.Sprintf("diagonal %d", p.Index+1)
	case PatternFull:
		return "full card"
	default:
		return string(p.Kind)
	}
}

// Win identifies the winning card and the pattern it completed.
type Win struct {
	CardID     uuid.UUID
	PlayerName string
	Pattern    Pattern
}

// CheckWinner scans cards in order and returns the first one that satisfies mode.
// It has no side effects.
func CheckWinner(cards []models.Card, drawn DrawnSet, mode models.GameMode) (Win, bool) {
	for _, card := range cards {
		if p, ok := CheckCard(card.Grid, drawn, mode); ok {
			return Win{CardID: card.ID, PlayerName: card.OwnerName, Pattern: p}, true
		}
	}
	return Win{}, false
}

// CheckCard evaluates a single grid. Line mode checks columns, then rows, then diagonals.
func CheckCard(g models.Grid, drawn DrawnSet, mode models.GameMode) (Pattern, bool) {
	switch mode {
	case models.GameModeFull:
		for col := range g {
			for row := range g[col] {
				if !covered(g[col][row], drawn) {
					return Pattern{}, false
				}
			}
		}
		return Pattern{Kind: PatternFull}, true
	case models.GameModeLine:
		return checkLines(g, drawn)
	default:
		return Pattern{}, false
	}
}

func checkLines(g models.Grid, drawn DrawnSet) (Pattern, bool) {
	for col := 0; col < models.GridSize; col++ {
		if lineCovered(drawn, func(i int) models.Cell { return g[col][i] }) {
			return Pattern{Kind: PatternColumn, Index: col}, true
		}
	}
	for row := 0; row < models.GridSize; row++ {
		if lineCovered(drawn, func(i int) models.Cell { return g[i][row] }) {
			return Pattern{Kind: PatternRow, Index: row}, true
		}
	}
	if lineCovered(drawn, func(i int) models.Cell { return g[i][i] }) {
		return Pattern{Kind: PatternDiagonal, Index: 0}, true
	}
	if lineCovered(drawn, func(i int) models.Cell { return g[i][models.GridSize-1-i] }) {
		return Pattern{Kind: PatternDiagonal, Index: 1}, true
	}
	return Pattern{}, false
}

func lineCovered(drawn DrawnSet, at func(i int) models.Cell) bool {
	for i := 0; i < models.GridSize; i++ {
		if !covered(at(i), drawn) {
			return false
		}
	}
	return true
}

// covered treats the free space as always marked.
func covered(c models.Cell, drawn DrawnSet) bool {
	if c.IsFree() {
		return true
	}
	n, ok := c.Number()
	return ok && drawn.Has(n)
}
