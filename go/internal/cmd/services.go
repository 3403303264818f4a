package main

import (
	"context"
	"fmt"
	"sync"

	"github.com/fabi086/Bingo-do-Fab-o/go/internal/broadcast"
	"github.com/fabi086/Bingo-do-Fab-o/go/internal/config"
	"github.com/fabi086/Bingo-do-Fab-o/go/internal/game"
	"github.com/fabi086/Bingo-do-Fab-o/go/internal/gamestate"
	"github.com/fabi086/Bingo-do-Fab-o/go/internal/gateway"
	"github.com/fabi086/Bingo-do-Fab-o/go/internal/narration"
	"github.com/fabi086/Bingo-do-Fab-o/go/internal/orchestrator"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
)

type Services struct {
	Hub     *broadcast.Hub
	Store   *gamestate.Store
	Game    *game.Service
	Gateway *gateway.Service

	bridge   *broadcast.NATSBridge
	listener *broadcast.PGListener
	headless *orchestrator.HeadlessCaller

	wg sync.WaitGroup
}

func setupServices(ctx context.Context, cfg *config.Config, storage *Storage) (*Services, error) {
	// Wire up dependency injection chain
	// Repository → Store (+ hub, replication) → Game service → Gateway
	if cfg.Server.InstanceID == "" {
		cfg.Server.InstanceID = uuid.New().String()[:8]
	}

	s := &Services{Hub: broadcast.NewHub()}

	var opts []gamestate.Option
	if cfg.Propagation.Driver == config.PropagationNATS {
		bridge, err := broadcast.NewNATSBridge(natsConfig(cfg), cfg.Storage.RoomID)
		if err != nil {
			return nil, fmt.Errorf("failed to set up NATS replication: %w", err)
		}
		s.bridge = bridge
		opts = append(opts, gamestate.WithReplicator(bridge))
	}

	store, err := gamestate.Open(ctx, storage.Repo, s.Hub, storeConfig(cfg), opts...)
	if err != nil {
		s.Close()
		return nil, fmt.Errorf("failed to open game state: %w", err)
	}
	s.Store = store

	if cfg.Propagation.Driver == config.PropagationPostgres {
		listener, err := broadcast.NewPGListener(listenerConfig(cfg, storage.DSN), store.RoomID(), store)
		if err != nil {
			s.Close()
			return nil, fmt.Errorf("failed to set up notification listener: %w", err)
		}
		s.listener = listener
	}

	s.Game = game.NewService(store, gameConfig(cfg))
	var gwOpts []gateway.ServiceOption
	if p, ok := storage.Repo.(gateway.Pinger); ok {
		gwOpts = append(gwOpts, gateway.WithStoragePing(p))
	}
	if s.bridge != nil {
		gwOpts = append(gwOpts, gateway.WithReplication(s.bridge))
	}
	s.Gateway = gateway.NewService(gatewayConfig(cfg), s.Game, s.Hub, store, gwOpts...)

	if name := cfg.Narration.HeadlessCaller; name != "" {
		narrator := narration.NewPacedNarrator(clockwork.NewRealClock(), cfg.Narration.Pace)
		s.headless = orchestrator.NewHeadlessCaller(
			s.Game, s.Hub, narrator,
			"headless-"+cfg.Server.InstanceID, name,
			orchestratorConfig(cfg),
		)
	}
	return s, nil
}

// Start runs the background loops until ctx is done.
func (s *Services) Start(ctx context.Context) {
	s.run(func() error { return s.Gateway.Start(ctx) }, "gateway")
	if s.bridge != nil {
		s.run(func() error { return s.bridge.Start(ctx, s.Store) }, "state replication")
	}
	if s.listener != nil {
		s.run(func() error { return s.listener.Start(ctx) }, "notification listener")
	}
	if s.headless != nil {
		s.run(func() error { return s.headless.Run(ctx) }, "headless caller")
	}
}

func (s *Services) run(fn func() error, name string) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := fn(); err != nil {
			log.Error().Err(err).Str("component", name).Msg("component stopped with error")
		}
	}()
}

// Wait blocks until every loop started by Start has returned.
func (s *Services) Wait() {
	s.wg.Wait()
}

func (s *Services) Close() {
	if s.Game != nil {
		s.Game.Close()
	}
	if s.bridge != nil {
		if err := s.bridge.Close(); err != nil {
			log.Error().Err(err).Msg("failed to close NATS connection")
		}
	}
	s.Hub.Close()
}
