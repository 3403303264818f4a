package models

import (
	"time"

	"github.com/google/uuid"
)

// User represents a registered player account
type User struct {
	ID           uuid.UUID `json:"id"`
	Username     string    `json:"username"`
	PasswordHash string    `json:"password_hash,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// PublicUser is the part of a User that is safe to send to sessions
type PublicUser struct {
	Username  string    `json:"username"`
	CreatedAt time.Time `json:"created_at"`
}
