package game

import (
	"context"

	"github.com/fabi086/Bingo-do-Fab-o/go/internal/models"
	"github.com/rs/zerolog/log"
)

// requireCaller fails unless sessionID holds an unexpired caller lease in st.
func (s *Service) requireCaller(st *models.GameState, sessionID string) error {
	if !st.CallerLease.HeldBy(sessionID, s.clock.Now()) {
		return ErrNotCaller
	}
	return nil
}

// IsCaller reports whether sessionID holds the lease in the latest known state.
func (s *Service) IsCaller(sessionID string) bool {
	return s.store.Get().CallerLease.HeldBy(sessionID, s.clock.Now())
}

// AcquireCaller grants sessionID the caller lease when it is free, expired or
// already held by the same session.
func (s *Service) AcquireCaller(ctx context.Context, sessionID, name string) (models.CallerLease, error) {
	if !s.cfg.IsAdmin(name) {
		return models.CallerLease{}, ErrNotAdmin
	}

	var lease models.CallerLease
	_, err := s.store.Update(ctx, func(st *models.GameState) (bool, error) {
		now := s.clock.Now()
		current := st.CallerLease
		if !current.Expired(now) && current.SessionID != sessionID {
			return false, ErrCallerTaken
		}
		lease = models.CallerLease{
			SessionID:  sessionID,
			HolderName: name,
			ExpiresAt:  now.Add(s.cfg.CallerLeaseTTL),
		}
		st.CallerLease = &lease
		return true, nil
	})
	if err != nil {
		return models.CallerLease{}, err
	}

	log.Info().
		Str("session_id", sessionID).
		Str("holder", name).
		Time("expires_at", lease.ExpiresAt).
		Msg("caller lease acquired")
	return lease, nil
}

// RenewCaller extends a lease the session still holds.
func (s *Service) RenewCaller(ctx context.Context, sessionID string) (models.CallerLease, error) {
	var lease models.CallerLease
	_, err := s.store.Update(ctx, func(st *models.GameState) (bool, error) {
		if err := s.requireCaller(st, sessionID); err != nil {
			return false, err
		}
		lease = *st.CallerLease
		lease.ExpiresAt = s.clock.Now().Add(s.cfg.CallerLeaseTTL)
		st.CallerLease = &lease
		return true, nil
	})
	if err != nil {
		return models.CallerLease{}, err
	}
	return lease, nil
}

// ReleaseCaller drops the lease if sessionID holds it, expired or not.
func (s *Service) ReleaseCaller(ctx context.Context, sessionID string) error {
	released := false
	_, err := s.store.Update(ctx, func(st *models.GameState) (bool, error) {
		released = st.CallerLease != nil && st.CallerLease.SessionID == sessionID
		if released {
			st.CallerLease = nil
		}
		return released, nil
	})
	if err != nil {
		return err
	}
	if released {
		log.Info().Str("session_id", sessionID).Msg("caller lease released")
	}
	return nil
}
