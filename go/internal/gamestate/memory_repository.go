package gamestate

import (
	"context"
	"sync"

	"github.com/fabi086/Bingo-do-Fab-o/go/internal/models"
)

// MemoryRepository keeps records in process memory.
type MemoryRepository struct {
	mu      sync.Mutex
	records map[string]*models.GameState
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{records: make(map[string]*models.GameState)}
}

func (r *MemoryRepository) Load(_ context.Context, id string) (*models.GameState, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	state, ok := r.records[id]
	if !ok {
		return nil, ErrNotFound
	}
	return state.Clone(), nil
}

func (r *MemoryRepository) Create(_ context.Context, state *models.GameState) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.records[state.ID]; ok {
		return ErrAlreadyExists
	}
	r.records[state.ID] = state.Clone()
	return nil
}

func (r *MemoryRepository) CompareAndSwap(_ context.Context, expected int64, next *models.GameState) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	current, ok := r.records[next.ID]
	if !ok {
		return ErrNotFound
	}
	if current.Version != expected {
		return ErrVersionConflict
	}
	r.records[next.ID] = next.Clone()
	return nil
}
