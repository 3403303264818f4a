package models

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
)

const (
	GridSize   = 5
	BandWidth  = 15
	MaxNumber  = GridSize * BandWidth
	FreeColumn = int(ColumnN)
	FreeRow    = GridSize / 2
)

// ErrInvalidGrid is returned when a grid breaks the card layout rules.
var ErrInvalidGrid = errors.New("invalid card grid")

// Column identifies one of the B, I, N, G, O columns.
type Column int

const (
	ColumnB Column = iota
	ColumnI
	ColumnN
	ColumnG
	ColumnO
)

var columnLetters = [GridSize]string{"B", "I", "N", "G", "O"}

// Letter returns the column header.
func (c Column) Letter() string {
	if c < ColumnB || c > ColumnO {
		return "?"
	}
	return columnLetters[c]
}

// Band returns the inclusive number range allowed in the column.
func (c Column) Band() (lo, hi int) {
	lo = int(c)*BandWidth + 1
	return lo, lo + BandWidth - 1
}

// ColumnOf returns the column whose band contains n.
func ColumnOf(n int) (Column, bool) {
	if n < 1 || n > MaxNumber {
		return 0, false
	}
	return Column((n - 1) / BandWidth), true
}

// CellKind discriminates the Cell variant.
type CellKind uint8

const (
	cellUnset CellKind = iota
	CellNumber
	CellFree
)

const freeCellJSON = `"FREE"`

// Cell is either a playable number or the free space. The zero value is not a
// valid cell; build cells with NumberCell or FreeCell.
type Cell struct {
	kind   CellKind
	number int
}

// NumberCell returns a cell holding n.
func NumberCell(n int) Cell {
	return Cell{kind: CellNumber, number: n}
}

// FreeCell returns the free space.
func FreeCell() Cell {
	return Cell{kind: CellFree}
}

func (c Cell) Kind() CellKind { return c.kind }

func (c Cell) IsFree() bool { return c.kind == CellFree }

// Number returns the cell's number; ok is false for the free space.
func (c Cell) Number() (n int, ok bool) {
	if c.kind != CellNumber {
		return 0, false
	}
	return c.number, true
}

func (c Cell) String() string {
	if c.IsFree() {
		return "FREE"
	}
	return strconv.Itoa(c.number)
}

// MarshalJSON encodes numbers as JSON numbers and the free space as "FREE".
func (c Cell) MarshalJSON() ([]byte, error) {
	switch c.kind {
	case CellFree:
		return []byte(freeCellJSON), nil
	case CellNumber:
		return strconv.AppendInt(nil, int64(c.number), 10), nil
	default:
		return nil, fmt.Errorf("%w: unset cell", ErrInvalidGrid)
	}
}

func (c *Cell) UnmarshalJSON(data []byte) error {
	if string(data) == freeCellJSON {
		*c = FreeCell()
		return nil
	}
	var n int
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("failed to decode cell %s: %w", data, err)
	}
	if n < 1 || n > MaxNumber {
		return fmt.Errorf("%w: cell number %d out of range", ErrInvalidGrid, n)
	}
	*c = NumberCell(n)
	return nil
}

// Grid is indexed [column][row].
type Grid [GridSize][GridSize]Cell

// Numbers returns every non-free number in column-major order.
func (g Grid) Numbers() []int {
	nums := make([]int, 0, GridSize*GridSize-1)
	for col := range g {
		for row := range g[col] {
			if n, ok := g[col][row].Number(); ok {
				nums = append(nums, n)
			}
		}
	}
	return nums
}

// Row returns the cells at the given row index across all columns.
func (g Grid) Row(row int) [GridSize]Cell {
	var cells [GridSize]Cell
	for col := range g {
		cells[col] = g[col][row]
	}
	return cells
}

// Validate checks column bands, per-card uniqueness and the single center free cell.
func (g Grid) Validate() error {
	seen := make(map[int]struct{}, GridSize*GridSize)
	for col := range g {
		lo, hi := Column(col).Band()
		for row := range g[col] {
			cell := g[col][row]
			center := col == FreeColumn && row == FreeRow
			if cell.IsFree() {
				if !center {
					return fmt.Errorf("%w: free cell at %s%d", ErrInvalidGrid, Column(col).Letter(), row+1)
				}
				continue
			}
			if center {
				return fmt.Errorf("%w: center cell must be free", ErrInvalidGrid)
			}
			n, ok := cell.Number()
			if !ok {
				return fmt.Errorf("%w: empty cell at %s%d", ErrInvalidGrid, Column(col).Letter(), row+1)
			}
			if n < lo || n > hi {
				return fmt.Errorf("%w: %d outside column %s band %d-%d", ErrInvalidGrid, n, Column(col).Letter(), lo, hi)
			}
			if _, dup := seen[n]; dup {
				return fmt.Errorf("%w: duplicate number %d", ErrInvalidGrid, n)
			}
			seen[n] = struct{}{}
		}
	}
	return nil
}

// Card is a player's bingo card.
type Card struct {
	ID        uuid.UUID `json:"id"`
	OwnerName string    `json:"owner_name"`
	Grid      Grid      `json:"grid"`
	CreatedAt time.Time `json:"created_at"`
}
