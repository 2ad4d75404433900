package model

import (
	"time"

	"github.com/google/uuid"
)

// TelegramLinkCode is a one-time code a signed-in learner hands to the bot
// to attach their Telegram account.
type TelegramLinkCode struct {
	Code      string     `json:"code"`
	UserID    uuid.UUID  `json:"user_id"`
	ExpiresAt time.Time  `json:"expires_at"`
	UsedAt    *time.Time `json:"used_at,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
}

// IsValid reports whether the code is unused and not expired at now.
func (c *TelegramLinkCode) IsValid(now time.Time) bool {
	return c.UsedAt == nil && now.Before(c.ExpiresAt)
}
