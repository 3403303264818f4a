package game

import (
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"
)

// Config holds the rules of a room.
type Config struct {
	PreCountdownSeconds int           // default length of the pre-game countdown
	ClaimCooldown       time.Duration // how long a false claim blocks the player
	CallerLeaseTTL      time.Duration
	MaxCardsPerRequest  int
	MaxCardsPerPlayer   int
	GeneratorAttempts   int
	AdminNames          []string // names allowed to hold the caller lease
	BcryptCost          int
}

func DefaultConfig() Config {
	return Config{
		PreCountdownSeconds: 10,
		ClaimCooldown:       5 * time.Second,
		CallerLeaseTTL:      15 * time.Second,
		MaxCardsPerRequest:  4,
		MaxCardsPerPlayer:   4,
		GeneratorAttempts:   100,
		AdminNames:          []string{"admin"},
		BcryptCost:          bcrypt.DefaultCost,
	}
}

// IsAdmin reports whether name may act as caller.
func (c Config) IsAdmin(name string) bool {
	for _, a := range c.AdminNames {
		if strings.EqualFold(strings.TrimSpace(a), name) {
			return true
		}
	}
	return false
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.PreCountdownSeconds <= 0 {
		c.PreCountdownSeconds = d.PreCountdownSeconds
	}
	if c.ClaimCooldown <= 0 {
		c.ClaimCooldown = d.ClaimCooldown
	}
	if c.CallerLeaseTTL <= 0 {
		c.CallerLeaseTTL = d.CallerLeaseTTL
	}
	if c.MaxCardsPerRequest <= 0 {
		c.MaxCardsPerRequest = d.MaxCardsPerRequest
	}
	if c.MaxCardsPerPlayer <= 0 {
		c.MaxCardsPerPlayer = d.MaxCardsPerPlayer
	}
	if c.GeneratorAttempts <= 0 {
		c.GeneratorAttempts = d.GeneratorAttempts
	}
	if c.BcryptCost == 0 {
		c.BcryptCost = d.BcryptCost
	}
	return c
}
