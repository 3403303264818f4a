package game

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/fabi086/Bingo-do-Fab-o/go/internal/bingo"
	"github.com/fabi086/Bingo-do-Fab-o/go/internal/gamestate"
	"github.com/fabi086/Bingo-do-Fab-o/go/internal/models"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
	"golang.org/x/crypto/bcrypt"
)

const maxNameLength = 32

// StateStore is what the service needs from the game state store.
type StateStore interface {
	Get() *models.GameState
	Update(ctx context.Context, fn gamestate.UpdateFunc) (*models.GameState, error)
}

// Service implements every action a session can take on the room.
// Each action re-checks the authoritative record inside the store update,
// so an action computed against a phase that has since moved on is a no-op.
type Service struct {
	store StateStore
	gen   bingo.Generator
	draws bingo.IntSource
	clock clockwork.Clock
	cfg   Config

	timersMu sync.Mutex
	timers   map[string]clockwork.Timer
	closed   bool
}

// Option configures a Service.
type Option func(*Service)

func WithClock(c clockwork.Clock) Option {
	return func(s *Service) { s.clock = c }
}

func WithGenerator(g bingo.Generator) Option {
	return func(s *Service) { s.gen = g }
}

func WithDrawSource(src bingo.IntSource) Option {
	return func(s *Service) { s.draws = src }
}

func NewService(store StateStore, cfg Config, opts ...Option) *Service {
	rnd := bingo.NewRandomRand()
	s := &Service{
		store:  store,
		gen:    bingo.NewRandomGenerator(rnd),
		draws:  rnd,
		clock:  clockwork.NewRealClock(),
		cfg:    cfg.withDefaults(),
		timers: make(map[string]clockwork.Timer),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Config returns the effective room rules.
func (s *Service) Config() Config {
	return s.cfg
}

// State returns the latest state known to this process.
func (s *Service) State() *models.GameState {
	return s.store.Get()
}

// Close cancels pending cooldown timers.
func (s *Service) Close() {
	s.timersMu.Lock()
	defer s.timersMu.Unlock()
	s.closed = true
	for name, t := range s.timers {
		t.Stop()
		delete(s.timers, name)
	}
}

func normalizeName(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" || utf8.RuneCountInString(name) > maxNameLength {
		return "", ErrInvalidName
	}
	return name, nil
}

// Register creates an account and marks it online.
func (s *Service) Register(ctx context.Context, name, password string) (models.PublicUser, error) {
	name, err := normalizeName(name)
	if err != nil {
		return models.PublicUser{}, err
	}
	if utf8.RuneCountInString(password) < 4 {
		return models.PublicUser{}, ErrInvalidPassword
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.cfg.BcryptCost)
	if err != nil {
		return models.PublicUser{}, fmt.Errorf("failed to hash password: %w", err)
	}

	user := models.User{
		ID:           uuid.New(),
		Username:     name,
		PasswordHash: string(hash),
		CreatedAt:    s.clock.Now(),
	}
	_, err = s.store.Update(ctx, func(st *models.GameState) (bool, error) {
		if _, exists := st.FindUser(name); exists {
			return false, ErrUserExists
		}
		st.Users = append(st.Users, user)
		setOnline(st, name)
		return true, nil
	})
	if err != nil {
		return models.PublicUser{}, err
	}

	log.Info().Str("username", name).Msg("user registered")
	return models.PublicUser{Username: user.Username, CreatedAt: user.CreatedAt}, nil
}

// Login verifies the password and marks the account online. The returned
// user carries the stored spelling of the name.
func (s *Service) Login(ctx context.Context, name, password string) (models.PublicUser, error) {
	name = strings.TrimSpace(name)

	// Read the stored record without writing so accounts created by other
	// processes are visible before their broadcast arrives.
	var (
		user  models.User
		found bool
	)
	if _, err := s.store.Update(ctx, func(st *models.GameState) (bool, error) {
		user, found = st.FindUser(name)
		return false, nil
	}); err != nil {
		return models.PublicUser{}, fmt.Errorf("failed to look up user: %w", err)
	}
	if !found {
		return models.PublicUser{}, ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return models.PublicUser{}, ErrInvalidCredentials
	}

	_, err := s.store.Update(ctx, func(st *models.GameState) (bool, error) {
		if _, exists := st.FindUser(user.Username); !exists {
			return false, ErrInvalidCredentials
		}
		return setOnline(st, user.Username), nil
	})
	if err != nil {
		return models.PublicUser{}, err
	}

	log.Info().Str("username", user.Username).Msg("user logged in")
	return models.PublicUser{Username: user.Username, CreatedAt: user.CreatedAt}, nil
}

// Logout removes name from the online set.
func (s *Service) Logout(ctx context.Context, name string) error {
	_, err := s.store.Update(ctx, func(st *models.GameState) (bool, error) {
		i := slices.Index(st.OnlineUsers, name)
		if i < 0 {
			return false, nil
		}
		st.OnlineUsers = slices.Delete(st.OnlineUsers, i, i+1)
		return true, nil
	})
	if err != nil {
		return fmt.Errorf("failed to log out: %w", err)
	}
	return nil
}

func setOnline(st *models.GameState, name string) bool {
	if st.IsOnline(name) {
		return false
	}
	st.OnlineUsers = append(st.OnlineUsers, name)
	return true
}

// AddCards generates count new cards for owner. Cards are unique by number
// signature across the whole room; if that cannot be achieved nothing is added.
func (s *Service) AddCards(ctx context.Context, owner string, count int) ([]models.Card, error) {
	if count <= 0 || count > s.cfg.MaxCardsPerRequest {
		return nil, fmt.Errorf("%w: must be between 1 and %d", ErrInvalidCount, s.cfg.MaxCardsPerRequest)
	}

	var added []models.Card
	_, err := s.store.Update(ctx, func(st *models.GameState) (bool, error) {
		added = nil
		user, ok := st.FindUser(owner)
		if !ok {
			return false, ErrUnknownUser
		}
		switch st.Phase() {
		case models.PhaseActive, models.PhaseWinner, models.PhaseExhausted:
			return false, ErrCardsLocked
		}
		if owned := len(st.CardsOwnedBy(user.Username)); owned+count > s.cfg.MaxCardsPerPlayer {
			return false, fmt.Errorf("%w: %d of %d cards already owned", ErrCardLimit, owned, s.cfg.MaxCardsPerPlayer)
		}

		cards, err := bingo.NewUniqueCards(s.gen, st.GeneratedCards, user.Username, count, s.cfg.GeneratorAttempts, s.clock.Now())
		if err != nil {
			return false, fmt.Errorf("failed to generate cards: %w", err)
		}
		st.GeneratedCards = append(st.GeneratedCards, cards...)
		added = cards
		return true, nil
	})
	if err != nil {
		return nil, err
	}

	log.Info().Str("owner", owner).Int("count", len(added)).Msg("cards added")
	return added, nil
}

// SetPreference records how name marks their cards.
func (s *Service) SetPreference(ctx context.Context, name string, mode models.MarkingMode) error {
	if !mode.Valid() {
		return ErrInvalidMode
	}
	_, err := s.store.Update(ctx, func(st *models.GameState) (bool, error) {
		user, ok := st.FindUser(name)
		if !ok {
			return false, ErrUnknownUser
		}
		if current, set := st.PlayerPreferences[user.Username]; set && current == mode {
			return false, nil
		}
		st.PlayerPreferences[user.Username] = mode
		return true, nil
	})
	return err
}

// SetGameMode changes the win predicate outside an active round.
func (s *Service) SetGameMode(ctx context.Context, sessionID string, mode models.GameMode) error {
	if !mode.Valid() {
		return ErrInvalidMode
	}
	_, err := s.store.Update(ctx, func(st *models.GameState) (bool, error) {
		if err := s.requireCaller(st, sessionID); err != nil {
			return false, err
		}
		if st.Phase() == models.PhaseActive {
			return false, ErrGameInProgress
		}
		if st.GameMode == mode {
			return false, nil
		}
		st.GameMode = mode
		return true, nil
	})
	return err
}

// ScheduleGame adds a future game start.
func (s *Service) ScheduleGame(ctx context.Context, sessionID string, startTime time.Time) (models.ScheduledGame, error) {
	if startTime.IsZero() {
		return models.ScheduledGame{}, ErrInvalidStartTime
	}
	entry := models.ScheduledGame{ID: uuid.New(), StartTime: startTime.UTC()}

	_, err := s.store.Update(ctx, func(st *models.GameState) (bool, error) {
		if err := s.requireCaller(st, sessionID); err != nil {
			return false, err
		}
		st.ScheduledGames = append(st.ScheduledGames, entry)
		slices.SortStableFunc(st.ScheduledGames, func(a, b models.ScheduledGame) int {
			return a.StartTime.Compare(b.StartTime)
		})
		return true, nil
	})
	if err != nil {
		return models.ScheduledGame{}, err
	}

	log.Info().Str("game_id", entry.ID.String()).Time("start_time", entry.StartTime).Msg("game scheduled")
	return entry, nil
}

// RemoveGame deletes a schedule entry.
func (s *Service) RemoveGame(ctx context.Context, sessionID string, gameID uuid.UUID) error {
	_, err := s.store.Update(ctx, func(st *models.GameState) (bool, error) {
		if err := s.requireCaller(st, sessionID); err != nil {
			return false, err
		}
		i := slices.IndexFunc(st.ScheduledGames, func(g models.ScheduledGame) bool { return g.ID == gameID })
		if i < 0 {
			return false, ErrScheduleNotFound
		}
		st.ScheduledGames = slices.Delete(st.ScheduledGames, i, i+1)
		return true, nil
	})
	return err
}
