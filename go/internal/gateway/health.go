package gateway

import (
	"context"
	"fmt"
	"net/http"
	"time"
)

// Pinger checks a storage connection
type Pinger interface {
	Ping(ctx context.Context) error
}

// ConnectionChecker reports whether a replication link is up
type ConnectionChecker interface {
	IsConnected() bool
}

type HealthStatus struct {
	Healthy              bool     `json:"healthy"`
	StoreDegraded        bool     `json:"store_degraded"`
	StorageConnected     *bool    `json:"storage_connected,omitempty"`
	ReplicationConnected *bool    `json:"replication_connected,omitempty"`
	Version              int64    `json:"version"`
	Errors               []string `json:"errors"`
}

type healthChecker struct {
	status      StoreStatus
	storage     Pinger
	replication ConnectionChecker
	timeout     time.Duration
}

// ServiceOption configures optional gateway dependencies
type ServiceOption func(*Service)

// WithStoragePing adds a storage ping to the health check
func WithStoragePing(p Pinger) ServiceOption {
	return func(s *Service) { s.health.storage = p }
}

// WithReplication adds the replication link to the health check
func WithReplication(c ConnectionChecker) ServiceOption {
	return func(s *Service) { s.health.replication = c }
}

func (h *healthChecker) check(ctx context.Context) HealthStatus {
	status := HealthStatus{
		Healthy: true,
		Errors:  []string{},
	}

	if h.status != nil && h.status.Degraded() {
		status.StoreDegraded = true
		status.Healthy = false
		status.Errors = append(status.Errors, "latest state is not persisted")
	}

	if h.storage != nil {
		ctx, cancel := context.WithTimeout(ctx, h.timeout)
		defer cancel()
		connected := true
		if err := h.storage.Ping(ctx); err != nil {
			connected = false
			status.Healthy = false
			status.Errors = append(status.Errors, fmt.Sprintf("storage ping failed: %v", err))
		}
		status.StorageConnected = &connected
	}

	if h.replication != nil {
		connected := h.replication.IsConnected()
		if !connected {
			status.Healthy = false
			status.Errors = append(status.Errors, "replication disconnected")
		}
		status.ReplicationConnected = &connected
	}

	return status
}

func (s *Service) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := s.health.check(r.Context())
	status.Version = s.game.State().Version

	code := http.StatusOK
	if !status.Healthy {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, status)
}
