package domain

import (
	"time"

	"github.com/google/uuid"
)

// Account is the authentication principal. The email is stored lowercased so
// uniqueness is case-insensitive.
type Account struct {
	ID           uuid.UUID `json:"id"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"password_hash"`
	CreatedAt    time.Time `json:"created_at"`
}

// Session is the in-process record of who is acting right now. Informational
// sessions come from the name+phone quick login and never authorize writes.
type Session struct {
	AccountID     uuid.UUID `json:"account_id"`
	Token         string    `json:"token"`
	IssuedAt      time.Time `json:"issued_at"`
	Informational bool      `json:"informational"`
}
