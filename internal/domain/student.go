// Package domain contains core domain types for the Recovery Room simulator.
package domain

import (
	"time"
)

// Student represents an anonymous learner identified by a device cookie.
type Student struct {
	UserID     string    `json:"user_id"`
	Username   string    `json:"username"`
	LastSeenAt time.Time `json:"last_seen_at"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// IdleFor returns how long the student has been inactive.
// Returns 0 if the student was seen in the future (clock skew).
func (s *Student) IdleFor(now time.Time) time.Duration {
	idle := now.Sub(s.LastSeenAt)
	if idle < 0 {
		return 0
	}
	return idle
}
