package broadcast

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/lib/pq"
	"github.com/rs/zerolog/log"
)

// Refresher reloads the stored record and publishes it when it is newer.
type Refresher interface {
	Refresh(ctx context.Context) error
}

type ListenerConfig struct {
	DatabaseURL      string        // Postgres DSN for LISTEN/NOTIFY
	NotifyChannel    string        // Channel name to LISTEN on
	FallbackInterval time.Duration // How often to re-read in case a notification was missed
	PingInterval     time.Duration
}

func DefaultListenerConfig() ListenerConfig {
	return ListenerConfig{
		NotifyChannel:    "game_state_changes",
		FallbackInterval: 30 * time.Second,
		PingInterval:     90 * time.Second,
	}
}

// PGListener turns Postgres notifications about new record versions into refreshes.
type PGListener struct {
	listener  *pq.Listener
	refresher Refresher
	roomID    string
	cfg       ListenerConfig
}

func NewPGListener(cfg ListenerConfig, roomID string, refresher Refresher) (*PGListener, error) {
	l := pq.NewListener(
		cfg.DatabaseURL,
		10*time.Second,
		time.Minute,
		func(ev pq.ListenerEventType, err error) {
			if err != nil {
				log.Error().Err(err).Msg("listener event")
			}
		},
	)
	if err := l.Listen(cfg.NotifyChannel); err != nil {
		l.Close()
		return nil, fmt.Errorf("failed to listen to channel: %w", err)
	}

	log.Info().
		Str("channel", cfg.NotifyChannel).
		Msg("listening for notifications")

	return &PGListener{
		listener:  l,
		refresher: refresher,
		roomID:    roomID,
		cfg:       cfg,
	}, nil
}

func (l *PGListener) Start(ctx context.Context) error {
	log.Info().
		Str("channel", l.cfg.NotifyChannel).
		Dur("ping_interval", l.cfg.PingInterval).
		Dur("fallback_interval", l.cfg.FallbackInterval).
		Msg("listener started")

	pingTicker := time.NewTicker(l.cfg.PingInterval)
	fallbackTicker := time.NewTicker(l.cfg.FallbackInterval)
	defer pingTicker.Stop()
	defer fallbackTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("listener shutting down")
			return l.Stop()
		case note := <-l.listener.Notify:
			if note == nil {
				// connection was re-established, anything may have been missed
				l.refresh(ctx)
				continue
			}
			if err := l.handleNotification(ctx, note.Extra); err != nil {
				log.Error().Err(err).Msg("failed to handle notification")
			}
		case <-fallbackTicker.C:
			l.refresh(ctx)
		case <-pingTicker.C:
			if err := l.listener.Ping(); err != nil {
				log.Error().Err(err).Msg("failed to ping listener")
			}
		}
	}
}

func (l *PGListener) Stop() error {
	return l.listener.Close()
}

func (l *PGListener) handleNotification(ctx context.Context, extra string) error {
	roomID, version, err := parseNotification(extra)
	if err != nil {
		return err
	}
	if roomID != l.roomID {
		return nil
	}
	log.Debug().Int64("version", version).Msg("game state change notified")
	return l.refresher.Refresh(ctx)
}

func (l *PGListener) refresh(ctx context.Context) {
	if err := l.refresher.Refresh(ctx); err != nil {
		log.Error().Err(err).Msg("failed to refresh game state")
	}
}

// parseNotification splits a "<room>:<version>" payload.
func parseNotification(extra string) (string, int64, error) {
	i := strings.LastIndex(extra, ":")
	if i <= 0 {
		return "", 0, fmt.Errorf("invalid notification payload %q", extra)
	}
	version, err := strconv.ParseInt(extra[i+1:], 10, 64)
	if err != nil {
		return "", 0, fmt.Errorf("invalid version in notification %q: %w", extra, err)
	}
	return extra[:i], version, nil
}
