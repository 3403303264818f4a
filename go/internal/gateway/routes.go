package gateway

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog/log"
)

// Routes returns the HTTP surface of the gateway
func (s *Service) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/health", s.handleHealth)
	r.Get("/info", s.handleInfo)
	r.Get("/api/state", s.handleState)
	r.Get("/api/leaderboard", s.handleLeaderboard)
	r.Get("/ws", s.HandleWebSocket)
	return r
}

type infoResponse struct {
	InstanceID  string    `json:"instance_id,omitempty"`
	Connections int       `json:"connections"`
	Phase       string    `json:"phase"`
	Version     int64     `json:"version"`
	Degraded    bool      `json:"degraded"`
	StartedAt   time.Time `json:"started_at"`
}

func (s *Service) handleInfo(w http.ResponseWriter, r *http.Request) {
	st := s.game.State()
	writeJSON(w, http.StatusOK, infoResponse{
		InstanceID:  s.cfg.InstanceID,
		Connections: s.ConnectionCount(),
		Phase:       string(st.Phase()),
		Version:     st.Version,
		Degraded:    s.health.status != nil && s.health.status.Degraded(),
		StartedAt:   s.startedAt,
	})
}

func (s *Service) handleState(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.game.State().Public())
}

func (s *Service) handleLeaderboard(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.game.State().Leaderboard())
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("failed to write response")
	}
}
