// Package domain defines the entities consumed by the Tally sync engine.
// These mirror the shapes served by the backend tables, not the underlying
// storage schema.
package domain

import (
	"strings"
	"time"
)

// Role represents a profile's access level.
type Role string

const (
	// RoleNormal is a regular reader account.
	RoleNormal Role = "normal"
	// RoleAdmin can manage any novel on the platform.
	RoleAdmin Role = "admin"
	// RolePublisher is a paid tier that may publish novels.
	RolePublisher Role = "publisher"
)

// Valid reports whether the role is one of the known values.
func (r Role) Valid() bool {
	switch r {
	case RoleNormal, RoleAdmin, RolePublisher:
		return true
	}
	return false
}

// CanPublish reports whether the role may publish novels without an active
// subscription check.
func (r Role) CanPublish() bool {
	return r == RoleAdmin || r == RolePublisher
}

// Profile is the per-identity row in the profiles table.
// Every authenticated identity has exactly one profile row.
type Profile struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	Nickname  string    `json:"nickname"`
	Role      Role      `json:"role"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewProfile creates a default profile for a fresh identity. The nickname
// falls back to the local part of the email when metadata carries none.
func NewProfile(id, email, nickname string) *Profile {
	if nickname == "" {
		if at := strings.IndexByte(email, '@'); at > 0 {
			nickname = email[:at]
		} else {
			nickname = email
		}
	}
	now := time.Now().UTC()
	return &Profile{
		ID:        id,
		Email:     email,
		Nickname:  nickname,
		Role:      RoleNormal,
		CreatedAt: now,
		UpdatedAt: now,
	}
}
