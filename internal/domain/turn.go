package domain

import (
	"time"
)

// Role identifies who spoke a turn.
type Role string

const (
	RoleGuest   Role = "guest"
	RoleStudent Role = "student"
)

// Turn is one message in the conversation. Turns are append-only.
type Turn struct {
	Role         Role      `json:"role"`
	Text         string    `json:"text"`
	CoachingNote string    `json:"coaching_note,omitempty"`
	Synthetic    bool      `json:"synthetic,omitempty"`
	At           time.Time `json:"at"`

	// ReasoningTrace is the persona's self-reported analysis. Diagnostic only.
	ReasoningTrace string `json:"-"`
}

// IsGuest reports whether the turn was spoken by the guest persona.
func (t Turn) IsGuest() bool {
	return t.Role == RoleGuest
}

// Status is the lifecycle status of a simulation as reported by the persona.
type Status string

const (
	StatusActive   Status = "active"
	StatusResolved Status = "resolved"
	StatusFailed   Status = "failed"
)

// Terminal reports whether s ends the encounter.
func (s Status) Terminal() bool {
	return s == StatusResolved || s == StatusFailed
}

// Outcome maps a terminal status to the report outcome.
func (s Status) Outcome() Outcome {
	if s == StatusResolved {
		return OutcomeResolved
	}
	return OutcomeFailed
}
