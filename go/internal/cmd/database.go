package main

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/fabi086/Bingo-do-Fab-o/go/internal/config"
	"github.com/fabi086/Bingo-do-Fab-o/go/internal/dbconfig"
	"github.com/fabi086/Bingo-do-Fab-o/go/internal/gamestate"
	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// Storage is the repository selected by configuration plus the clients it owns.
type Storage struct {
	Repo gamestate.Repository
	DSN  string

	db  *sql.DB
	rdb *redis.Client
}

func setupStorage(ctx context.Context, cfg *config.Config) (*Storage, error) {
	switch cfg.Storage.Driver {
	case config.StoragePostgres:
		dbCfg := dbconfig.NewConfigFromEnv()
		db, err := sql.Open("postgres", dbCfg.DSN())
		if err != nil {
			return nil, fmt.Errorf("failed to create database connection: %w", err)
		}
		dbCfg.Apply(db)
		if err := db.PingContext(ctx); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to ping database: %w", err)
		}
		log.Info().
			Str("host", dbCfg.Host).
			Int("port", dbCfg.Port).
			Str("database", dbCfg.Database).
			Msg("connected to database")

		// the listener announces versions; the repository sends them
		channel := ""
		if cfg.Propagation.Driver == config.PropagationPostgres {
			channel = cfg.Propagation.NotifyChannel
		}
		return &Storage{Repo: gamestate.NewPostgresRepository(db, channel), DSN: dbCfg.DSN(), db: db}, nil

	case config.StorageRedis:
		rdb := redis.NewClient(&redis.Options{Addr: cfg.Storage.RedisAddr})
		if err := rdb.Ping(ctx).Err(); err != nil {
			rdb.Close()
			return nil, fmt.Errorf("failed to ping redis: %w", err)
		}
		log.Info().Str("addr", cfg.Storage.RedisAddr).Msg("connected to redis")
		return &Storage{Repo: gamestate.NewRedisRepository(rdb, cfg.Storage.RedisKeyPrefix), rdb: rdb}, nil

	default:
		log.Warn().Msg("using in-memory storage, state is lost on restart")
		return &Storage{Repo: gamestate.NewMemoryRepository()}, nil
	}
}

func (s *Storage) Close() {
	if s.db != nil {
		if err := s.db.Close(); err != nil {
			log.Error().Err(err).Msg("failed to close database")
		}
	}
	if s.rdb != nil {
		if err := s.rdb.Close(); err != nil {
			log.Error().Err(err).Msg("failed to close redis client")
		}
	}
}
