// Package model contains GORM model definitions shared across packages.
// All models are driver-agnostic: they work with both PostgreSQL and SQLite.
package model

import (
	"strings"
	"time"
)

// Role is the enumerated authority level of a user.
type Role string

const (
	RoleAdmin   Role = "ADMIN"
	RoleManager Role = "MANAGER"
	RoleUser    Role = "USER"
)

// ParseRole accepts a role name in any case.
func ParseRole(s string) (Role, bool) {
	switch r := Role(strings.ToUpper(strings.TrimSpace(s))); r {
	case RoleAdmin, RoleManager, RoleUser:
		return r, true
	}
	return "", false
}

// Organisation is the tenant boundary. Every user and ticket belongs to one.
type Organisation struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	Name      string    `gorm:"type:text;not null" json:"name"`
	CreatedAt time.Time `gorm:"not null" json:"createdAt"`
}

// User is the GORM model for the users table. Email is stored lowercased and
// is unique; the unique index is what enforces it under concurrent inserts.
type User struct {
	ID             uint       `gorm:"primaryKey"`
	Name           string     `gorm:"type:text;not null"`
	Email          string     `gorm:"type:text;not null;uniqueIndex"`
	PasswordHash   string     `gorm:"column:password;type:text;not null"`
	Role           Role       `gorm:"type:text;not null;default:'USER'"`
	OrganisationID uint       `gorm:"not null;index"`
	LastLoginAt    *time.Time
	CreatedAt      time.Time `gorm:"not null"`
	UpdatedAt      time.Time `gorm:"not null"`

	Organisation *Organisation `gorm:"constraint:OnDelete:RESTRICT"`
}

// RefreshToken is the GORM model for the refresh_tokens table. Only the
// SHA-256 of the issued token is persisted.
type RefreshToken struct {
	ID        uint      `gorm:"primaryKey"`
	UserID    uint      `gorm:"not null;index"`
	TokenHash string    `gorm:"type:text;not null;uniqueIndex"`
	ExpiresAt time.Time `gorm:"not null;index"`
	RevokedAt *time.Time
	CreatedAt time.Time `gorm:"not null"`

	User *User `gorm:"constraint:OnDelete:CASCADE"`
}

// Revoked reports whether the token has been marked unusable.
func (rt *RefreshToken) Revoked() bool { return rt.RevokedAt != nil }

// TicketStatus is the lifecycle state of a ticket.
type TicketStatus string

const (
	TicketOpen       TicketStatus = "open"
	TicketPending    TicketStatus = "pending"
	TicketInProgress TicketStatus = "in_progress"
	TicketClosed     TicketStatus = "closed"
	TicketResolved   TicketStatus = "resolved"
)

// TicketStatuses lists every accepted status in display order.
var TicketStatuses = []TicketStatus{TicketOpen, TicketPending, TicketInProgress, TicketClosed, TicketResolved}

// Valid reports whether s is a known status.
func (s TicketStatus) Valid() bool {
	for _, v := range TicketStatuses {
		if s == v {
			return true
		}
	}
	return false
}

// Ticket is a support request raised by a user inside an organisation.
type Ticket struct {
	ID             uint         `gorm:"primaryKey" json:"id"`
	Title          string       `gorm:"type:text;not null" json:"title"`
	Description    *string      `gorm:"type:text" json:"description"`
	Status         TicketStatus `gorm:"type:text;not null;default:'open';index" json:"status"`
	UserID         uint         `gorm:"not null;index" json:"userId"`
	OrganisationID uint         `gorm:"not null;index" json:"organisationId"`
	CreatedAt      time.Time    `gorm:"not null;index" json:"createdAt"`
	UpdatedAt      time.Time    `gorm:"not null" json:"updatedAt"`

	User         *User         `gorm:"constraint:OnDelete:CASCADE" json:"-"`
	Organisation *Organisation `gorm:"constraint:OnDelete:RESTRICT" json:"-"`
}
