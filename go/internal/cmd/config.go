package main

import (
	"github.com/fabi086/Bingo-do-Fab-o/go/internal/broadcast"
	"github.com/fabi086/Bingo-do-Fab-o/go/internal/config"
	"github.com/fabi086/Bingo-do-Fab-o/go/internal/game"
	"github.com/fabi086/Bingo-do-Fab-o/go/internal/gamestate"
	"github.com/fabi086/Bingo-do-Fab-o/go/internal/gateway"
	"github.com/fabi086/Bingo-do-Fab-o/go/internal/orchestrator"
)

func storeConfig(cfg *config.Config) gamestate.Config {
	c := gamestate.DefaultConfig()
	c.RoomID = cfg.Storage.RoomID
	return c
}

func gameConfig(cfg *config.Config) game.Config {
	c := game.DefaultConfig()
	c.PreCountdownSeconds = cfg.Game.PreCountdownSeconds
	c.ClaimCooldown = cfg.Game.ClaimCooldown
	c.CallerLeaseTTL = cfg.Game.CallerLeaseTTL
	c.MaxCardsPerRequest = cfg.Game.MaxCardsPerRequest
	c.MaxCardsPerPlayer = cfg.Game.MaxCardsPerPlayer
	c.GeneratorAttempts = cfg.Game.GeneratorAttempts
	c.AdminNames = cfg.Game.AdminNames
	return c
}

func orchestratorConfig(cfg *config.Config) orchestrator.Config {
	return orchestrator.Config{
		PreCountdownSeconds: cfg.Game.PreCountdownSeconds,
		TickInterval:        cfg.Game.TickInterval,
		DrawPause:           cfg.Game.DrawPause,
		HeartbeatInterval:   cfg.Game.CallerHeartbeat,
		IdlePollInterval:    cfg.Game.CallerHeartbeat,
	}
}

func gatewayConfig(cfg *config.Config) gateway.Config {
	c := gateway.DefaultConfig()
	c.Orchestrator = orchestratorConfig(cfg)
	c.AnnounceTimeout = cfg.Narration.AnnounceTimeout
	c.NarrationRetryDelay = cfg.Narration.RetryDelay
	c.InstanceID = cfg.Server.InstanceID
	return c
}

func natsConfig(cfg *config.Config) broadcast.NATSConfig {
	c := broadcast.DefaultNATSConfig()
	c.URL = cfg.Propagation.NATSURL
	c.StreamName = cfg.Propagation.NATSStream
	c.SubjectPrefix = cfg.Propagation.NATSSubject
	if cfg.Server.InstanceID != "" {
		c.InstanceID = cfg.Server.InstanceID
	}
	return c
}

func listenerConfig(cfg *config.Config, dsn string) broadcast.ListenerConfig {
	c := broadcast.DefaultListenerConfig()
	c.DatabaseURL = dsn
	c.NotifyChannel = cfg.Propagation.NotifyChannel
	if cfg.Propagation.FallbackInterval > 0 {
		c.FallbackInterval = cfg.Propagation.FallbackInterval
	}
	return c
}
