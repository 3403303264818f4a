package gateway

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/fabi086/Bingo-do-Fab-o/go/internal/game"
	"github.com/fabi086/Bingo-do-Fab-o/go/internal/models"
	"github.com/fabi086/Bingo-do-Fab-o/go/internal/orchestrator"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
)

var errNotLoggedIn = errors.New("login required")

// GameService defines what the gateway needs from the game service
type GameService interface {
	orchestrator.GameService

	Register(ctx context.Context, name, password string) (models.PublicUser, error)
	Login(ctx context.Context, name, password string) (models.PublicUser, error)
	Logout(ctx context.Context, name string) error
	AddCards(ctx context.Context, owner string, count int) ([]models.Card, error)
	SetPreference(ctx context.Context, name string, mode models.MarkingMode) error
	ClaimBingo(ctx context.Context, playerName string, cardID uuid.UUID) (game.ClaimResult, error)
	AcquireCaller(ctx context.Context, sessionID, name string) (models.CallerLease, error)
	ReleaseCaller(ctx context.Context, sessionID string) error
	SetGameMode(ctx context.Context, sessionID string, mode models.GameMode) error
	ScheduleGame(ctx context.Context, sessionID string, startTime time.Time) (models.ScheduledGame, error)
	RemoveGame(ctx context.Context, sessionID string, gameID uuid.UUID) error
	StartCountdown(ctx context.Context, sessionID string, seconds int) error
	StartGame(ctx context.Context, sessionID string) (uuid.UUID, error)
	ResetGame(ctx context.Context, sessionID string) error
}

// StateFeed delivers every new state of the room
type StateFeed interface {
	Subscribe(cb func(*models.GameState)) (unsubscribe func())
}

// StoreStatus reports the health of the state store
type StoreStatus interface {
	Degraded() bool
}

// Config holds configuration for the gateway
type Config struct {
	ConnectionConfig    ConnectionConfig
	Orchestrator        orchestrator.Config
	ActionTimeout       time.Duration
	AnnounceTimeout     time.Duration
	NarrationRetryDelay time.Duration
	InstanceID          string
}

// DefaultConfig returns default configuration for the gateway
func DefaultConfig() Config {
	return Config{
		ConnectionConfig:    DefaultConnectionConfig(),
		Orchestrator:        orchestrator.DefaultConfig(),
		ActionTimeout:       10 * time.Second,
		AnnounceTimeout:     15 * time.Second,
		NarrationRetryDelay: 2 * time.Second,
	}
}

// Service connects websocket sessions to the game: it routes commands,
// pushes every state change, and runs the caller's orchestrator.
type Service struct {
	cfg    Config
	game   GameService
	feed   StateFeed
	health *healthChecker
	clock  clockwork.Clock

	connectionManager *ConnectionManager

	callerMu sync.Mutex
	caller   *callerRuntime

	unsubscribe func()
	startedAt   time.Time
}

// NewService creates the gateway
func NewService(cfg Config, gameService GameService, feed StateFeed, status StoreStatus, opts ...ServiceOption) *Service {
	if cfg.ActionTimeout <= 0 {
		cfg.ActionTimeout = DefaultConfig().ActionTimeout
	}
	if cfg.AnnounceTimeout <= 0 {
		cfg.AnnounceTimeout = DefaultConfig().AnnounceTimeout
	}
	s := &Service{
		cfg:       cfg,
		game:      gameService,
		feed:      feed,
		health:    &healthChecker{status: status, timeout: 2 * time.Second},
		clock:     clockwork.NewRealClock(),
		startedAt: time.Now(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.connectionManager = NewConnectionManager(cfg.ConnectionConfig, s)
	return s
}

// Start pushes state changes to sessions until ctx is done
func (s *Service) Start(ctx context.Context) error {
	log.Info().Msg("starting gateway service")
	s.unsubscribe = s.feed.Subscribe(func(st *models.GameState) {
		s.connectionManager.Broadcast(stateMessage(st))
	})

	<-ctx.Done()

	log.Info().Msg("gateway service shutting down")
	return s.Stop()
}

// Stop releases the caller and disconnects every session
func (s *Service) Stop() error {
	if s.unsubscribe != nil {
		s.unsubscribe()
	}
	s.stopCaller(nil)
	s.connectionManager.CloseAll()
	log.Info().Msg("gateway service stopped")
	return nil
}

// ConnectionCount returns the number of open sessions
func (s *Service) ConnectionCount() int {
	return s.connectionManager.ConnectionCount()
}

// HandleWebSocket upgrades the request into a session
func (s *Service) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	if err := s.connectionManager.UpgradeConnection(w, r); err != nil {
		log.Error().Err(err).Msg("failed to upgrade WebSocket connection")
	}
}

// HandleConnect sends the current state to a new session
func (s *Service) HandleConnect(c *Connection) {
	c.SendMessage(stateMessage(s.game.State()))
}

// HandleDisconnect logs the session out and releases its caller lease
func (s *Service) HandleDisconnect(c *Connection) {
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.ActionTimeout)
	defer cancel()

	s.stopCaller(c)
	if err := s.game.ReleaseCaller(ctx, c.ID); err != nil {
		log.Error().Err(err).Str("connection_id", c.ID).Msg("failed to release caller lease")
	}
	if name := c.Name(); name != "" && !s.connectionManager.HasSessionFor(name, c) {
		if err := s.game.Logout(ctx, name); err != nil {
			log.Error().Err(err).Str("name", name).Msg("failed to log out disconnected session")
		}
	}
}

// HandleMessage executes one session command and answers with ack or error
func (s *Service) HandleMessage(ctx context.Context, c *Connection, msg ClientMessage) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.ActionTimeout)
	defer cancel()

	data, err := s.dispatch(ctx, c, msg)
	if msg.Type == MessageAnnounceResult {
		return
	}
	if err != nil {
		log.Debug().
			Err(err).
			Str("connection_id", c.ID).
			Str("type", string(msg.Type)).
			Msg("command rejected")
		c.SendMessage(ServerMessage{Type: MessageError, RequestID: msg.RequestID, Error: err.Error()})
		return
	}
	c.SendMessage(ServerMessage{Type: MessageAck, RequestID: msg.RequestID, Data: data})
}

func (s *Service) dispatch(ctx context.Context, c *Connection, msg ClientMessage) (any, error) {
	switch msg.Type {
	case MessageRegister:
		user, err := s.game.Register(ctx, msg.Name, msg.Password)
		if err != nil {
			return nil, err
		}
		c.setName(user.Username)
		return user, nil

	case MessageLogin:
		user, err := s.game.Login(ctx, msg.Name, msg.Password)
		if err != nil {
			return nil, err
		}
		c.setName(user.Username)
		return user, nil

	case MessageLogout:
		name, err := requireName(c)
		if err != nil {
			return nil, err
		}
		s.stopCaller(c)
		if err := s.game.ReleaseCaller(ctx, c.ID); err != nil {
			return nil, err
		}
		c.setName("")
		if s.connectionManager.HasSessionFor(name, c) {
			return nil, nil
		}
		return nil, s.game.Logout(ctx, name)

	case MessageAddCards:
		name, err := requireName(c)
		if err != nil {
			return nil, err
		}
		return s.game.AddCards(ctx, name, msg.Count)

	case MessageSetPreference:
		name, err := requireName(c)
		if err != nil {
			return nil, err
		}
		return nil, s.game.SetPreference(ctx, name, models.MarkingMode(msg.Mode))

	case MessageClaimBingo:
		name, err := requireName(c)
		if err != nil {
			return nil, err
		}
		cardID, err := uuid.Parse(msg.CardID)
		if err != nil {
			return nil, fmt.Errorf("invalid card_id: %w", err)
		}
		return s.game.ClaimBingo(ctx, name, cardID)

	case MessageAcquireCaller:
		name, err := requireName(c)
		if err != nil {
			return nil, err
		}
		lease, err := s.game.AcquireCaller(ctx, c.ID, name)
		if err != nil {
			return nil, err
		}
		s.startCaller(c)
		return lease, nil

	case MessageReleaseCaller:
		s.stopCaller(c)
		return nil, s.game.ReleaseCaller(ctx, c.ID)

	case MessageSetGameMode:
		return nil, s.game.SetGameMode(ctx, c.ID, models.GameMode(msg.Mode))

	case MessageScheduleGame:
		return s.game.ScheduleGame(ctx, c.ID, msg.StartTime)

	case MessageRemoveGame:
		gameID, err := uuid.Parse(msg.GameID)
		if err != nil {
			return nil, fmt.Errorf("invalid game_id: %w", err)
		}
		return nil, s.game.RemoveGame(ctx, c.ID, gameID)

	case MessageStartCountdown:
		return nil, s.game.StartCountdown(ctx, c.ID, msg.Seconds)

	case MessageStartGame:
		roundID, err := s.game.StartGame(ctx, c.ID)
		if err != nil {
			return nil, err
		}
		return map[string]string{"round_id": roundID.String()}, nil

	case MessageResetGame:
		if err := s.game.ResetGame(ctx, c.ID); err != nil {
			return nil, err
		}
		s.clearNarration()
		return nil, nil

	case MessageAnnounceResult:
		s.resolveAnnouncement(c, msg.AnnouncementID, msg.Outcome)
		return nil, nil

	default:
		return nil, fmt.Errorf("unknown message type %q", msg.Type)
	}
}

func requireName(c *Connection) (string, error) {
	name := c.Name()
	if name == "" {
		return "", errNotLoggedIn
	}
	return name, nil
}
