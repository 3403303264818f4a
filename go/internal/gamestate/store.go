package gamestate

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/fabi086/Bingo-do-Fab-o/go/internal/models"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
)

// Publisher receives every state the store commits or accepts.
type Publisher interface {
	Publish(state *models.GameState)
}

// UpdateFunc mutates s in place and reports whether anything changed.
// Returning false or an error leaves the record untouched.
type UpdateFunc func(s *models.GameState) (bool, error)

// Config controls store behaviour.
type Config struct {
	RoomID     string
	MaxRetries int
}

func DefaultConfig() Config {
	return Config{
		RoomID:     models.DefaultRoomID,
		MaxRetries: 8,
	}
}

// Store owns the local copy of the room's record and serializes writes to it.
// Writers from other processes are fenced by the repository's version check.
type Store struct {
	repo  Repository
	clock clockwork.Clock
	cfg   Config

	local       Publisher
	replicators []Publisher

	writeMu sync.Mutex

	mu               sync.RWMutex
	cache            *models.GameState
	persistedVersion int64
	maxSeen          int64
	dirty            bool
	degraded         bool
}

// Option configures a Store.
type Option func(*Store)

// WithClock overrides the wall clock.
func WithClock(c clockwork.Clock) Option {
	return func(s *Store) { s.clock = c }
}

// WithReplicator adds a publisher that forwards local commits to other processes.
// Remote states accepted through ApplyRemote are not sent back to replicators.
func WithReplicator(p Publisher) Option {
	return func(s *Store) { s.replicators = append(s.replicators, p) }
}

// Open loads the record, creating it with defaults when absent.
func Open(ctx context.Context, repo Repository, local Publisher, cfg Config, opts ...Option) (*Store, error) {
	if cfg.RoomID == "" {
		cfg.RoomID = models.DefaultRoomID
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = DefaultConfig().MaxRetries
	}

	s := &Store{
		repo:  repo,
		clock: clockwork.NewRealClock(),
		cfg:   cfg,
		local: local,
	}
	for _, opt := range opts {
		opt(s)
	}

	state, err := repo.Load(ctx, cfg.RoomID)
	if errors.Is(err, ErrNotFound) {
		state = models.NewGameState(cfg.RoomID, s.clock.Now())
		if err = repo.Create(ctx, state); errors.Is(err, ErrAlreadyExists) {
			state, err = repo.Load(ctx, cfg.RoomID)
		}
		if err == nil {
			log.Info().Str("room_id", cfg.RoomID).Msg("created game state record")
		}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open game state: %w", err)
	}

	s.cache = state
	s.persistedVersion = state.Version
	s.maxSeen = state.Version
	return s, nil
}

// RoomID returns the singleton key the store writes to.
func (s *Store) RoomID() string {
	return s.cfg.RoomID
}

// Get returns a copy of the latest state known to this process.
func (s *Store) Get() *models.GameState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cache.Clone()
}

// Degraded reports whether the last persistence attempt failed.
func (s *Store) Degraded() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.degraded
}

// Update runs fn against the authoritative record and commits the result with a
// compare-and-swap on the version it read. Conflicts re-read and re-run fn.
// Persistence failures are logged and the new state is still applied and published
// locally; it is written back on the next successful update.
func (s *Store) Update(ctx context.Context, fn UpdateFunc) (*models.GameState, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	for attempt := 1; attempt <= s.cfg.MaxRetries; attempt++ {
		base, expected := s.readBase(ctx)

		next := base.Clone()
		changed, err := fn(next)
		if err != nil {
			return base, err
		}
		if !changed {
			return base, nil
		}

		next.ID = s.cfg.RoomID
		next.Version = max(base.Version, s.highestVersion()) + 1
		next.UpdatedAt = s.clock.Now()

		err = s.repo.CompareAndSwap(ctx, expected, next)
		switch {
		case err == nil:
			s.commit(next, true)
		case errors.Is(err, ErrVersionConflict):
			log.Debug().
				Int("attempt", attempt).
				Int64("expected_version", expected).
				Msg("game state version conflict, retrying")
			continue
		default:
			log.Error().
				Err(err).
				Int64("version", next.Version).
				Msg("failed to persist game state, continuing in degraded mode")
			s.commit(next, false)
		}

		s.publish(next, true)
		return next.Clone(), nil
	}

	return s.Get(), fmt.Errorf("%w: gave up after %d attempts", ErrTooManyConflicts, s.cfg.MaxRetries)
}

// readBase returns the state fn should run against and the stored version the
// write must match.
func (s *Store) readBase(ctx context.Context) (*models.GameState, int64) {
	current, err := s.repo.Load(ctx, s.cfg.RoomID)

	s.mu.Lock()
	defer s.mu.Unlock()

	if err != nil {
		log.Warn().Err(err).Msg("failed to read game state, using local copy")
		s.degraded = true
		return s.cache.Clone(), s.persistedVersion
	}

	if s.dirty {
		if current.Version == s.persistedVersion {
			return s.cache.Clone(), current.Version
		}
		log.Warn().
			Int64("local_version", s.cache.Version).
			Int64("stored_version", current.Version).
			Msg("discarding unpersisted local changes, record was updated elsewhere")
		s.dirty = false
		s.cache = current.Clone()
	}

	if current.Version >= s.cache.Version {
		s.cache = current.Clone()
	}
	s.persistedVersion = current.Version
	s.maxSeen = max(s.maxSeen, current.Version)

	// A replicated state can be ahead of what this repository holds. Build on
	// it so the remote changes carry forward, and swap against what is stored.
	if s.cache.Version > current.Version {
		return s.cache.Clone(), current.Version
	}
	return current, current.Version
}

// highestVersion is the largest version this process has produced or observed.
// New versions are numbered above it so subscribers never see a version go backwards.
func (s *Store) highestVersion() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.maxSeen
}

func (s *Store) commit(next *models.GameState, persisted bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.cache = next.Clone()
	s.maxSeen = max(s.maxSeen, next.Version)
	if persisted {
		s.persistedVersion = next.Version
		s.dirty = false
		s.degraded = false
		return
	}
	s.dirty = true
	s.degraded = true
}

// ApplyRemote accepts a state committed by another process. Older or equal
// versions are ignored so redundant deliveries are harmless.
func (s *Store) ApplyRemote(state *models.GameState) bool {
	if state == nil || state.ID != s.cfg.RoomID {
		return false
	}

	s.mu.Lock()
	if state.Version <= s.cache.Version {
		s.mu.Unlock()
		return false
	}
	s.cache = state.Clone()
	s.maxSeen = max(s.maxSeen, state.Version)
	if !s.dirty {
		s.persistedVersion = state.Version
	}
	s.mu.Unlock()

	log.Debug().Int64("version", state.Version).Msg("applied remote game state")
	s.publish(state, false)
	return true
}

// Refresh re-reads the stored record and publishes it when it is newer.
func (s *Store) Refresh(ctx context.Context) error {
	current, err := s.repo.Load(ctx, s.cfg.RoomID)
	if err != nil {
		return fmt.Errorf("failed to refresh game state: %w", err)
	}
	s.ApplyRemote(current)
	return nil
}

func (s *Store) publish(state *models.GameState, replicate bool) {
	if s.local != nil {
		s.local.Publish(state.Clone())
	}
	if !replicate {
		return
	}
	for _, r := range s.replicators {
		r.Publish(state.Clone())
	}
}
