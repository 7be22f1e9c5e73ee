package models

import (
	"time"
)

// SubscriptionLevel constants
const (
	SubscriptionFree    = "free"
	SubscriptionPremium = "premium"
)

// User represents a viewer account
type User struct {
	ID                    int64      `json:"id" db:"id"`
	Email                 string     `json:"email" db:"email"`
	Name                  string     `json:"name,omitempty" db:"name"`
	SubscriptionLevel     string     `json:"subscription_level" db:"subscription_level"`
	SubscriptionExpiresAt *time.Time `json:"subscription_expires_at,omitempty" db:"subscription_expires_at"`
	IsActive              bool       `json:"is_active" db:"is_active"`
	CreatedAt             time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt             time.Time  `json:"updated_at" db:"updated_at"`
}

// HasPremiumAccess reports whether the user holds an active, unexpired premium subscription.
// A nil expiry means the subscription does not lapse.
func (u *User) HasPremiumAccess(now time.Time) bool {
	if u == nil || !u.IsActive {
		return false
	}
	if u.SubscriptionLevel != SubscriptionPremium {
		return false
	}
	return u.SubscriptionExpiresAt == nil || u.SubscriptionExpiresAt.After(now)
}
