package gamestate

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/fabi086/Bingo-do-Fab-o/go/internal/models"
	"github.com/fabi086/Bingo-do-Fab-o/go/internal/sqlutil"
)

// DefaultNotifyChannel is the LISTEN/NOTIFY channel announcing new versions.
const DefaultNotifyChannel = "game_state_changes"

// Schema creates the game_state table.
const Schema = `
CREATE TABLE IF NOT EXISTS game_state (
    id                 TEXT PRIMARY KEY,
    version            BIGINT NOT NULL,
    state              JSONB NOT NULL,
    bingo_winner       JSONB,
    winner_declared_at TIMESTAMPTZ,
    updated_at         TIMESTAMPTZ NOT NULL DEFAULT now()
);
`

// PostgresRepository stores the record as a JSONB document with a version column.
type PostgresRepository struct {
	db            *sql.DB
	notifyChannel string
}

// NewPostgresRepository wraps db. When notifyChannel is not empty every
// committed write also sends "<id>:<version>" on that channel.
func NewPostgresRepository(db *sql.DB, notifyChannel string) *PostgresRepository {
	return &PostgresRepository{db: db, notifyChannel: notifyChannel}
}

func (r *PostgresRepository) Load(ctx context.Context, id string) (*models.GameState, error) {
	var (
		version int64
		doc     []byte
	)
	err := r.db.QueryRowContext(ctx,
		`SELECT version, state FROM game_state WHERE id = $1`, id,
	).Scan(&version, &doc)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load game state: %w", err)
	}

	state, err := decodeState(doc)
	if err != nil {
		return nil, err
	}
	state.Version = version
	return state, nil
}

func (r *PostgresRepository) Create(ctx context.Context, state *models.GameState) error {
	doc, err := encodeState(state)
	if err != nil {
		return err
	}

	res, err := r.db.ExecContext(ctx, `
        INSERT INTO game_state (id, version, state, updated_at)
        VALUES ($1, $2, $3, $4)
        ON CONFLICT (id) DO NOTHING
    `, state.ID, state.Version, doc, state.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create game state: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if n == 0 {
		return ErrAlreadyExists
	}
	return nil
}

func (r *PostgresRepository) CompareAndSwap(ctx context.Context, expected int64, next *models.GameState) error {
	doc, err := encodeState(next)
	if err != nil {
		return err
	}
	winner, err := sqlutil.ToNullRawMessage(next.BingoWinner)
	if err != nil {
		return err
	}
	var declaredAt *time.Time
	if next.BingoWinner != nil {
		declaredAt = &next.BingoWinner.DeclaredAt
	}

	return sqlutil.Run(ctx, r.db, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
            UPDATE game_state
               SET version = $3,
                   state = $4,
                   bingo_winner = $5,
                   winner_declared_at = $6,
                   updated_at = $7
             WHERE id = $1 AND version = $2
        `, next.ID, expected, next.Version, doc, winner, sqlutil.ToSqlTime(declaredAt), next.UpdatedAt)
		if err != nil {
			return fmt.Errorf("failed to update game state: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to read rows affected: %w", err)
		}
		if n == 0 {
			return ErrVersionConflict
		}

		if r.notifyChannel == "" {
			return nil
		}
		payload := next.ID + ":" + strconv.FormatInt(next.Version, 10)
		if _, err := tx.ExecContext(ctx, `SELECT pg_notify($1, $2)`, r.notifyChannel, payload); err != nil {
			return fmt.Errorf("failed to notify game state change: %w", err)
		}
		return nil
	})
}

// Ping checks the connection.
func (r *PostgresRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}
