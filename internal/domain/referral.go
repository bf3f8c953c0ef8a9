package domain

import (
	"errors"
	"time"
)

// ErrReferralKeyConsumed is returned when a referral key has already been used.
var ErrReferralKeyConsumed = errors.New("referral key already used")

// ErrReferralKeyMissing is returned for an empty or unknown referral key.
var ErrReferralKeyMissing = errors.New("referral key missing")

// ReferralKey is a one-shot token required for first-time principal
// creation. Marked consumed on use; cannot be reused.
type ReferralKey struct {
	Key       string       `json:"key" gorm:"primaryKey"`
	CreatedBy *PrincipalID `json:"created_by,omitempty" gorm:"column:created_by"`
	UsedBy    *PrincipalID `json:"used_by,omitempty" gorm:"column:used_by"`
	CreatedAt time.Time    `json:"created_at"`
	UsedAt    *time.Time   `json:"used_at,omitempty" gorm:"column:used_at"`
}

// TableName specifies the table name for GORM.
func (ReferralKey) TableName() string { return "referral_keys" }

// Consume marks the key used by principal. An empty key is treated as
// missing; an already-consumed key is rejected.
func (k *ReferralKey) Consume(principal PrincipalID) error {
	if k.Key == "" {
		return ErrReferralKeyMissing
	}
	if k.UsedBy != nil {
		return ErrReferralKeyConsumed
	}
	now := time.Now().UTC()
	k.UsedBy = &principal
	k.UsedAt = &now
	return nil
}
