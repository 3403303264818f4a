package bingo

import (
	"errors"
	"fmt"
	"math/rand/v2"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/fabi086/Bingo-do-Fab-o/go/internal/models"
	"github.com/google/uuid"
)

// DefaultMaxAttempts bounds the retries spent looking for an unused card signature.
const DefaultMaxAttempts = 100

// ErrUniquenessExhausted is returned when no unused signature was found in time.
var ErrUniquenessExhausted = errors.New("could not generate a unique card")

// Generator produces structurally valid grids.
type Generator interface {
	Generate() models.Grid
}

// Rand is a goroutine safe wrapper over a math/rand/v2 source.
type Rand struct {
	mu  sync.Mutex
	rng *rand.Rand
}

// NewRand returns a deterministic Rand for the given seed.
func NewRand(seed uint64) *Rand {
	return &Rand{rng: rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))}
}

// NewRandomRand seeds from the runtime source.
func NewRandomRand() *Rand {
	return NewRand(rand.Uint64())
}

func (r *Rand) IntN(n int) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rng.IntN(n)
}

func (r *Rand) Perm(n int) []int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rng.Perm(n)
}

// RandomGenerator fills each column with distinct numbers from its band.
type RandomGenerator struct {
	rnd *Rand
}

func NewRandomGenerator(rnd *Rand) *RandomGenerator {
	return &RandomGenerator{rnd: rnd}
}

// Generate returns a new grid with the center of column N left free.
func (g *RandomGenerator) Generate() models.Grid {
	var grid models.Grid
	for col := 0; col < models.GridSize; col++ {
		lo, _ := models.Column(col).Band()
		picks := g.rnd.Perm(models.BandWidth)[:models.GridSize]
		for row := 0; row < models.GridSize; row++ {
			if col == models.FreeColumn && row == models.FreeRow {
				grid[col][row] = models.FreeCell()
				continue
			}
			grid[col][row] = models.NumberCell(lo + picks[row])
		}
	}
	return grid
}

// Signature is the order independent identity of a grid's numbers.
func Signature(g models.Grid) string {
	nums := g.Numbers()
	slices.Sort(nums)
	parts := make([]string, len(nums))
	for i, n := range nums {
		parts[i] = strconv.Itoa(n)
	}
	return strings.Join(parts, ",")
}

// NewUniqueCards creates count cards for owner whose signatures differ from each
// other and from every card in existing. Either all cards are returned or none.
func NewUniqueCards(gen Generator, existing []models.Card, owner string, count, maxAttempts int, now time.Time) ([]models.Card, error) {
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	used := make(map[string]struct{}, len(existing)+count)
	for _, c := range existing {
		used[Signature(c.Grid)] = struct{}{}
	}

	cards := make([]models.Card, 0, count)
	for len(cards) < count {
		grid, err := uniqueGrid(gen, used, maxAttempts)
		if err != nil {
			return nil, err
		}
		cards = append(cards, models.Card{
			ID:        uuid.New(),
			OwnerName: owner,
			Grid:      grid,
			CreatedAt: now,
		})
	}
	return cards, nil
}

func uniqueGrid(gen Generator, used map[string]struct{}, maxAttempts int) (models.Grid, error) {
	for attempt := 0; attempt < maxAttempts; attempt++ {
		grid := gen.Generate()
		if err := grid.Validate(); err != nil {
			continue
		}
		sig := Signature(grid)
		if _, taken := used[sig]; taken {
			continue
		}
		used[sig] = struct{}{}
		return grid, nil
	}
	return models.Grid{}, fmt.Errorf("%w after %d attempts", ErrUniquenessExhausted, maxAttempts)
}
