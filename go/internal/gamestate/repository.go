package gamestate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/fabi086/Bingo-do-Fab-o/go/internal/models"
)

var (
	ErrNotFound         = errors.New("game state not found")
	ErrAlreadyExists    = errors.New("game state already exists")
	ErrVersionConflict  = errors.New("game state version conflict")
	ErrTooManyConflicts = errors.New("too many concurrent game state updates")
)

// Repository persists the singleton record under its room id.
type Repository interface {
	// Load returns ErrNotFound when the record does not exist yet.
	Load(ctx context.Context, id string) (*models.GameState, error)
	// Create inserts the record and returns ErrAlreadyExists if another writer got there first.
	Create(ctx context.Context, state *models.GameState) error
	// CompareAndSwap replaces the record only if its stored version equals expected,
	// otherwise it returns ErrVersionConflict.
	CompareAndSwap(ctx context.Context, expected int64, next *models.GameState) error
}

func encodeState(state *models.GameState) ([]byte, error) {
	data, err := json.Marshal(state)
	if err != nil {
		return nil, fmt.Errorf("failed to encode game state: %w", err)
	}
	return data, nil
}

func decodeState(data []byte) (*models.GameState, error) {
	var state models.GameState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("failed to decode game state: %w", err)
	}
	return &state, nil
}
