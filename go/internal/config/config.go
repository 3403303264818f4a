package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	StorageMemory   = "memory"
	StoragePostgres = "postgres"
	StorageRedis    = "redis"

	PropagationLocal    = "local"
	PropagationNATS     = "nats"
	PropagationPostgres = "postgres"
)

// Config is the full server configuration. Values come from the defaults,
// then the YAML file, then the environment.
type Config struct {
	LogLevel string `yaml:"log_level"`

	Server struct {
		Port       string `yaml:"port"`
		InstanceID string `yaml:"instance_id"`
	} `yaml:"server"`

	Storage struct {
		Driver         string `yaml:"driver"`
		RoomID         string `yaml:"room_id"`
		RedisAddr      string `yaml:"redis_addr"`
		RedisKeyPrefix string `yaml:"redis_key_prefix"`
	} `yaml:"storage"`

	Propagation struct {
		Driver           string        `yaml:"driver"`
		NATSURL          string        `yaml:"nats_url"`
		NATSStream       string        `yaml:"nats_stream"`
		NATSSubject      string        `yaml:"nats_subject"`
		NotifyChannel    string        `yaml:"notify_channel"`
		FallbackInterval time.Duration `yaml:"fallback_interval"`
	} `yaml:"propagation"`

	Game struct {
		PreCountdownSeconds int           `yaml:"pre_countdown_seconds"`
		ClaimCooldown       time.Duration `yaml:"claim_cooldown"`
		CallerLeaseTTL      time.Duration `yaml:"caller_lease_ttl"`
		CallerHeartbeat     time.Duration `yaml:"caller_heartbeat"`
		DrawPause           time.Duration `yaml:"draw_pause"`
		TickInterval        time.Duration `yaml:"tick_interval"`
		MaxCardsPerRequest  int           `yaml:"max_cards_per_request"`
		MaxCardsPerPlayer   int           `yaml:"max_cards_per_player"`
		GeneratorAttempts   int           `yaml:"generator_attempts"`
		AdminNames          []string      `yaml:"admin_names"`
	} `yaml:"game"`

	Narration struct {
		Pace            time.Duration `yaml:"pace"`
		RetryDelay      time.Duration `yaml:"retry_delay"`
		AnnounceTimeout time.Duration `yaml:"announce_timeout"`
		HeadlessCaller  string        `yaml:"headless_caller"`
	} `yaml:"narration"`
}

// Default returns a configuration that runs a single in-memory room.
func Default() *Config {
	var c Config
	c.LogLevel = "info"
	c.Server.Port = "8080"

	c.Storage.Driver = StorageMemory
	c.Storage.RoomID = "main"
	c.Storage.RedisAddr = "localhost:6379"
	c.Storage.RedisKeyPrefix = "bingo:state:"

	c.Propagation.Driver = PropagationLocal
	c.Propagation.NATSURL = "nats://localhost:4222"
	c.Propagation.NATSStream = "BINGO_STATE"
	c.Propagation.NATSSubject = "bingo.state"
	c.Propagation.NotifyChannel = "game_state_changes"
	c.Propagation.FallbackInterval = 30 * time.Second

	c.Game.PreCountdownSeconds = 10
	c.Game.ClaimCooldown = 5 * time.Second
	c.Game.CallerLeaseTTL = 15 * time.Second
	c.Game.CallerHeartbeat = 5 * time.Second
	c.Game.DrawPause = time.Second
	c.Game.TickInterval = time.Second
	c.Game.MaxCardsPerRequest = 4
	c.Game.MaxCardsPerPlayer = 4
	c.Game.GeneratorAttempts = 100
	c.Game.AdminNames = []string{"admin"}

	c.Narration.Pace = 2 * time.Second
	c.Narration.RetryDelay = 2 * time.Second
	c.Narration.AnnounceTimeout = 15 * time.Second
	return &c
}

// Load reads path (when it exists) and applies environment overrides.
// A .env file in the working directory is loaded first if present.
func Load(path string) (*Config, error) {
	c := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
		case err != nil:
			return nil, fmt.Errorf("failed to read config file: %w", err)
		default:
			if err := yaml.Unmarshal(data, c); err != nil {
				return nil, fmt.Errorf("failed to parse config: %w", err)
			}
		}
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env file: %w", err)
	}
	c.applyEnv()

	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Config) applyEnv() {
	c.LogLevel = getEnv("LOG_LEVEL", c.LogLevel)
	c.Server.Port = getEnv("PORT", c.Server.Port)
	c.Server.InstanceID = getEnv("INSTANCE_ID", c.Server.InstanceID)

	c.Storage.Driver = getEnv("STORAGE_DRIVER", c.Storage.Driver)
	c.Storage.RoomID = getEnv("ROOM_ID", c.Storage.RoomID)
	c.Storage.RedisAddr = getEnv("REDIS_ADDR", c.Storage.RedisAddr)
	c.Storage.RedisKeyPrefix = getEnv("REDIS_KEY_PREFIX", c.Storage.RedisKeyPrefix)

	c.Propagation.Driver = getEnv("PROPAGATION_DRIVER", c.Propagation.Driver)
	c.Propagation.NATSURL = getEnv("NATS_URL", c.Propagation.NATSURL)
	c.Propagation.NATSStream = getEnv("NATS_STREAM", c.Propagation.NATSStream)
	c.Propagation.NATSSubject = getEnv("NATS_SUBJECT", c.Propagation.NATSSubject)
	c.Propagation.NotifyChannel = getEnv("NOTIFY_CHANNEL", c.Propagation.NotifyChannel)
	c.Propagation.FallbackInterval = getEnvAsDuration("NOTIFY_FALLBACK_INTERVAL", c.Propagation.FallbackInterval)

	c.Game.PreCountdownSeconds = getEnvAsInt("PRE_COUNTDOWN_SECONDS", c.Game.PreCountdownSeconds)
	c.Game.ClaimCooldown = getEnvAsDuration("CLAIM_COOLDOWN", c.Game.ClaimCooldown)
	c.Game.CallerLeaseTTL = getEnvAsDuration("CALLER_LEASE_TTL", c.Game.CallerLeaseTTL)
	c.Game.CallerHeartbeat = getEnvAsDuration("CALLER_HEARTBEAT", c.Game.CallerHeartbeat)
	c.Game.DrawPause = getEnvAsDuration("DRAW_PAUSE", c.Game.DrawPause)
	c.Game.TickInterval = getEnvAsDuration("TICK_INTERVAL", c.Game.TickInterval)
	c.Game.MaxCardsPerRequest = getEnvAsInt("MAX_CARDS_PER_REQUEST", c.Game.MaxCardsPerRequest)
	c.Game.MaxCardsPerPlayer = getEnvAsInt("MAX_CARDS_PER_PLAYER", c.Game.MaxCardsPerPlayer)
	c.Game.GeneratorAttempts = getEnvAsInt("GENERATOR_ATTEMPTS", c.Game.GeneratorAttempts)
	c.Game.AdminNames = getEnvAsList("ADMIN_NAMES", c.Game.AdminNames)

	c.Narration.Pace = getEnvAsDuration("NARRATION_PACE", c.Narration.Pace)
	c.Narration.RetryDelay = getEnvAsDuration("NARRATION_RETRY_DELAY", c.Narration.RetryDelay)
	c.Narration.AnnounceTimeout = getEnvAsDuration("ANNOUNCE_TIMEOUT", c.Narration.AnnounceTimeout)
	c.Narration.HeadlessCaller = getEnv("HEADLESS_CALLER", c.Narration.HeadlessCaller)
}

// Validate rejects unknown drivers and combinations that cannot work.
func (c *Config) Validate() error {
	switch c.Storage.Driver {
	case StorageMemory, StoragePostgres, StorageRedis:
	default:
		return fmt.Errorf("unknown storage driver %q", c.Storage.Driver)
	}
	switch c.Propagation.Driver {
	case PropagationLocal:
	case PropagationNATS:
		if c.Storage.Driver == StorageMemory {
			return errors.New("nats propagation requires shared storage, memory storage is per process")
		}
	case PropagationPostgres:
		if c.Storage.Driver != StoragePostgres {
			return errors.New("postgres propagation requires the postgres storage driver")
		}
	default:
		return fmt.Errorf("unknown propagation driver %q", c.Propagation.Driver)
	}
	if c.Storage.RoomID == "" {
		return errors.New("room id must not be empty")
	}
	if c.Game.CallerHeartbeat >= c.Game.CallerLeaseTTL {
		return fmt.Errorf("caller heartbeat %s must be shorter than the lease ttl %s",
			c.Game.CallerHeartbeat, c.Game.CallerLeaseTTL)
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func getEnvAsList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
