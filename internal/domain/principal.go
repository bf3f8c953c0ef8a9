package domain

import (
	"time"

	"github.com/google/uuid"
)

// PrincipalID is a value object for a principal (authenticated end-user)
// identity.
type PrincipalID string

// NewPrincipalID creates a new principal ID.
func NewPrincipalID() PrincipalID { return PrincipalID(uuid.New().String()) }

func (id PrincipalID) String() string { return string(id) }

// Principal is an authenticated end-user identity. It owns conversations
// and sessions. ExternalID is the identity-provider-issued subject
// (teacher pattern: google_id in the original source schema).
type Principal struct {
	ID          PrincipalID `json:"id" gorm:"primaryKey"`
	ExternalID  string      `json:"external_id" gorm:"column:external_id;uniqueIndex"`
	Email       string      `json:"email"`
	Name        string      `json:"name"`
	AvatarURL   *string     `json:"avatar_url,omitempty" gorm:"column:avatar_url"`
	CreatedAt   time.Time   `json:"created_at"`
	LastLoginAt time.Time   `json:"last_login_at" gorm:"column:last_login_at"`
}

// TableName specifies the table name for GORM.
func (Principal) TableName() string { return "users" }

// NewPrincipal registers a principal from an identity-provider login.
func NewPrincipal(externalID, email, name string) *Principal {
	now := time.Now().UTC()
	return &Principal{
		ID:          NewPrincipalID(),
		ExternalID:  externalID,
		Email:       email,
		Name:        name,
		CreatedAt:   now,
		LastLoginAt: now,
	}
}
