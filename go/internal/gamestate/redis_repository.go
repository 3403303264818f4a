package gamestate

import (
	"context"
	"errors"
	"fmt"

	"github.com/fabi086/Bingo-do-Fab-o/go/internal/models"
	"github.com/redis/go-redis/v9"
)

const defaultRedisKeyPrefix = "bingo:state:"

// RedisRepository stores the record as one JSON value and fences writes with WATCH.
type RedisRepository struct {
	rdb    redis.UniversalClient
	prefix string
}

func NewRedisRepository(rdb redis.UniversalClient, prefix string) *RedisRepository {
	if prefix == "" {
		prefix = defaultRedisKeyPrefix
	}
	return &RedisRepository{rdb: rdb, prefix: prefix}
}

func (r *RedisRepository) key(id string) string {
	return r.prefix + id
}

func (r *RedisRepository) Load(ctx context.Context, id string) (*models.GameState, error) {
	data, err := r.rdb.Get(ctx, r.key(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load game state: %w", err)
	}
	return decodeState(data)
}

func (r *RedisRepository) Create(ctx context.Context, state *models.GameState) error {
	doc, err := encodeState(state)
	if err != nil {
		return err
	}
	created, err := r.rdb.SetNX(ctx, r.key(state.ID), doc, 0).Result()
	if err != nil {
		return fmt.Errorf("failed to create game state: %w", err)
	}
	if !created {
		return ErrAlreadyExists
	}
	return nil
}

func (r *RedisRepository) CompareAndSwap(ctx context.Context, expected int64, next *models.GameState) error {
	doc, err := encodeState(next)
	if err != nil {
		return err
	}
	key := r.key(next.ID)

	err = r.rdb.Watch(ctx, func(tx *redis.Tx) error {
		data, err := tx.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			return ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("failed to read game state: %w", err)
		}
		current, err := decodeState(data)
		if err != nil {
			return err
		}
		if current.Version != expected {
			return ErrVersionConflict
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, doc, 0)
			return nil
		})
		return err
	}, key)

	if errors.Is(err, redis.TxFailedErr) {
		return ErrVersionConflict
	}
	return err
}

// Ping checks the connection.
func (r *RedisRepository) Ping(ctx context.Context) error {
	return r.rdb.Ping(ctx).Err()
}
