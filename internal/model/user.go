package model

import (
	"time"

	"github.com/google/uuid"
)

// User is a learner or admin as known to the identity store.
type User struct {
	ID             uuid.UUID `json:"id"`
	Email          string    `json:"email"`
	DisplayName    string    `json:"display_name"`
	TelegramID     *int64    `json:"telegram_id,omitempty"`
	ProviderUserID *string   `json:"provider_user_id,omitempty"` // identity on the channel provider
	IsAdmin        bool      `json:"is_admin"`
	CreatedAt      time.Time `json:"created_at"`
}

// Identity is the public projection returned by identity lookups.
type Identity struct {
	ID          uuid.UUID `json:"id"`
	Email       string    `json:"email"`
	DisplayName string    `json:"display_name"`
}

// Identity returns the public projection of the user.
func (u *User) Identity() Identity {
	return Identity{ID: u.ID, Email: u.Email, DisplayName: u.DisplayName}
}
