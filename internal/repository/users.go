package repository

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/rajeee/chatdf/internal/domain"
)

// DefaultSessionDuration is the sliding-window lifetime new/extended
// sessions get (§3 Session).
const DefaultSessionDuration = 30 * 24 * time.Hour

// CreateUser registers a principal after a referral key has been consumed.
func (r *Repository) CreateUser(ctx context.Context, externalID, email, name string) (*domain.Principal, error) {
	principal := domain.NewPrincipal(externalID, email, name)
	if err := r.db.WithContext(ctx).Create(principal).Error; err != nil {
		return nil, fmt.Errorf("insert principal: %w", err)
	}
	return principal, nil
}

// GetUserByExternalID looks up a principal by identity-provider subject.
func (r *Repository) GetUserByExternalID(ctx context.Context, externalID string) (*domain.Principal, error) {
	var principal domain.Principal
	err := r.db.WithContext(ctx).First(&principal, "external_id = ?", externalID).Error
	if err == gorm.ErrRecordNotFound {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query principal: %w", err)
	}
	return &principal, nil
}

// ConsumeReferralKey marks key used by principal, failing if the key is
// unknown or already consumed (§3 Referral key).
func (r *Repository) ConsumeReferralKey(ctx context.Context, key string, principal domain.PrincipalID) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var rk domain.ReferralKey
		err := tx.First(&rk, "key = ?", key).Error
		if err == gorm.ErrRecordNotFound {
			return domain.ErrReferralKeyMissing
		}
		if err != nil {
			return fmt.Errorf("query referral key: %w", err)
		}
		if err := rk.Consume(principal); err != nil {
			return err
		}
		return tx.Save(&rk).Error
	})
}

// CreateSession starts a new sliding-window session for principal.
func (r *Repository) CreateSession(ctx context.Context, principal domain.PrincipalID) (*domain.Session, error) {
	session := domain.NewSession(principal, DefaultSessionDuration)
	if err := r.db.WithContext(ctx).Create(session).Error; err != nil {
		return nil, fmt.Errorf("insert session: %w", err)
	}
	return session, nil
}

// ValidateSession implements pushchannel.SessionValidator (§4.1
// "authentication at attach time"): it validates token against the
// sessions store and slides the expiry forward on success.
func (r *Repository) ValidateSession(ctx context.Context, token string) (domain.PrincipalID, error) {
	var session domain.Session
	err := r.db.WithContext(ctx).First(&session, "id = ?", token).Error
	if err == gorm.ErrRecordNotFound {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("query session: %w", err)
	}
	if err := session.Validate(time.Now().UTC()); err != nil {
		return "", err
	}

	session.Extend(DefaultSessionDuration)
	if err := r.db.WithContext(ctx).Model(&session).Update("expires_at", session.ExpiresAt).Error; err != nil {
		return "", fmt.Errorf("extending session: %w", err)
	}
	return session.UserID, nil
}

// DeleteSession destroys a session on logout.
func (r *Repository) DeleteSession(ctx context.Context, id domain.SessionID) error {
	if err := r.db.WithContext(ctx).Delete(&domain.Session{}, "id = ?", string(id)).Error; err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}

// GetUserSettings fetches principal's settings, returning the zero value
// (dev mode off, no selected model) if none have been saved yet.
func (r *Repository) GetUserSettings(ctx context.Context, principal domain.PrincipalID) (*domain.UserSettings, error) {
	var settings domain.UserSettings
	err := r.db.WithContext(ctx).First(&settings, "user_id = ?", string(principal)).Error
	if err == gorm.ErrRecordNotFound {
		return &domain.UserSettings{UserID: principal}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query user settings: %w", err)
	}
	return &settings, nil
}

// SaveUserSettings upserts principal's settings.
func (r *Repository) SaveUserSettings(ctx context.Context, settings *domain.UserSettings) error {
	err := r.db.WithContext(ctx).Save(settings).Error
	if err != nil {
		return fmt.Errorf("saving user settings: %w", err)
	}
	return nil
}
