// Package token persists per-user provider credentials. Tokens are written as
// vault envelopes and decrypted only on the way out.
package token

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/pysugar/area-nexus/internal/apperr"
	"github.com/pysugar/area-nexus/internal/db/models"
	"github.com/pysugar/area-nexus/internal/vault"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Token is a decrypted credential set.
type Token struct {
	AccessToken  string
	RefreshToken string
	ExpiresAt    time.Time
	Scopes       []string
}

// Store is the LinkedAccount adapter.
type Store struct {
	db    *gorm.DB
	vault *vault.Vault
	now   func() time.Time
}

// NewStore creates a token store.
func NewStore(db *gorm.DB, v *vault.Vault) *Store {
	return &Store{db: db, vault: v, now: time.Now}
}

// Save links provider to the user, or replaces the stored credentials if
// already linked. An empty refresh token keeps the one on file.
func (s *Store) Save(ctx context.Context, userID, provider string, tok Token) error {
	access, err := s.vault.Encrypt(tok.AccessToken)
	if err != nil {
		return fmt.Errorf("encrypt access token: %w", err)
	}
	var refresh string
	if tok.RefreshToken != "" {
		if refresh, err = s.vault.Encrypt(tok.RefreshToken); err != nil {
			return fmt.Errorf("encrypt refresh token: %w", err)
		}
	}

	now := s.now()
	acc := models.LinkedAccount{
		UserID:          userID,
		Provider:        provider,
		AccessToken:     access,
		RefreshToken:    refresh,
		ExpiresAt:       tok.ExpiresAt,
		Scopes:          strings.Join(tok.Scopes, " "),
		IsActive:        true,
		LastRefreshedAt: now,
	}
	updates := []string{"access_token", "expires_at", "scopes", "is_active", "last_refreshed_at", "updated_at"}
	if refresh != "" {
		updates = append(updates, "refresh_token")
	}
	err = s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}, {Name: "provider"}},
		DoUpdates: clause.AssignmentColumns(updates),
	}).Create(&acc).Error
	if err != nil {
		return fmt.Errorf("save linked account %s/%s: %w", userID, provider, err)
	}
	return nil
}

// Get returns the decrypted credentials of an active linked account. A
// missing or deactivated account is an authentication error. Values still
// in the legacy envelope are re-encrypted in place.
func (s *Store) Get(ctx context.Context, userID, provider string) (*Token, error) {
	acc, err := s.load(ctx, userID, provider)
	if err != nil {
		return nil, err
	}

	access, err := s.vault.Decrypt(acc.AccessToken)
	if err != nil {
		return nil, fmt.Errorf("decrypt access token %s/%s: %w", userID, provider, err)
	}
	var refresh string
	if acc.RefreshToken != "" {
		if refresh, err = s.vault.Decrypt(acc.RefreshToken); err != nil {
			return nil, fmt.Errorf("decrypt refresh token %s/%s: %w", userID, provider, err)
		}
	}

	if vault.IsLegacy(acc.AccessToken) || vault.IsLegacy(acc.RefreshToken) {
		s.migrate(ctx, acc, access, refresh)
	}

	tok := &Token{AccessToken: access, RefreshToken: refresh, ExpiresAt: acc.ExpiresAt}
	if acc.Scopes != "" {
		tok.Scopes = strings.Fields(acc.Scopes)
	}
	return tok, nil
}

func (s *Store) load(ctx context.Context, userID, provider string) (*models.LinkedAccount, error) {
	var acc models.LinkedAccount
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND provider = ? AND is_active = ?", userID, provider, true).
		First(&acc).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperr.Authentication("token.Get", "provider %s is not linked for user %s", provider, userID)
	}
	if err != nil {
		return nil, fmt.Errorf("load linked account %s/%s: %w", userID, provider, err)
	}
	return &acc, nil
}

func (s *Store) migrate(ctx context.Context, acc *models.LinkedAccount, access, refresh string) {
	updates := map[string]any{}
	if vault.IsLegacy(acc.AccessToken) {
		if enc, err := s.vault.Encrypt(access); err == nil {
			updates["access_token"] = enc
		}
	}
	if vault.IsLegacy(acc.RefreshToken) {
		if enc, err := s.vault.Encrypt(refresh); err == nil {
			updates["refresh_token"] = enc
		}
	}
	if len(updates) == 0 {
		return
	}
	if err := s.db.WithContext(ctx).Model(&models.LinkedAccount{}).Where("id = ?", acc.ID).Updates(updates).Error; err != nil {
		log.Printf("⚠️ [Token] Failed to migrate legacy envelope for %s/%s: %v", acc.UserID, acc.Provider, err)
		return
	}
	log.Printf("🔐 [Token] Migrated legacy envelope for %s/%s", acc.UserID, acc.Provider)
}

// UpdateTokens stores a refreshed access token. A non-empty refresh token
// different from the stored one is a rotation and replaces it.
func (s *Store) UpdateTokens(ctx context.Context, userID, provider, accessToken, refreshToken string, expiresAt time.Time) error {
	acc, err := s.load(ctx, userID, provider)
	if err != nil {
		return err
	}
	access, err := s.vault.Encrypt(accessToken)
	if err != nil {
		return fmt.Errorf("encrypt access token: %w", err)
	}
	updates := map[string]any{
		"access_token":      access,
		"expires_at":        expiresAt,
		"last_refreshed_at": s.now(),
	}
	if refreshToken != "" {
		current, _ := s.vault.Decrypt(acc.RefreshToken)
		if current != refreshToken {
			enc, err := s.vault.Encrypt(refreshToken)
			if err != nil {
				return fmt.Errorf("encrypt refresh token: %w", err)
			}
			updates["refresh_token"] = enc
			log.Printf("🔄 [Token] Rotating refresh token for %s/%s", userID, provider)
		}
	}
	return s.db.WithContext(ctx).Model(&models.LinkedAccount{}).Where("id = ?", acc.ID).Updates(updates).Error
}

// Deactivate marks the account unusable until the user links it again.
func (s *Store) Deactivate(ctx context.Context, userID, provider string) error {
	return s.db.WithContext(ctx).Model(&models.LinkedAccount{}).
		Where("user_id = ? AND provider = ?", userID, provider).
		Update("is_active", false).Error
}

// Unlink hard-deletes the linked account.
func (s *Store) Unlink(ctx context.Context, userID, provider string) error {
	res := s.db.WithContext(ctx).Where("user_id = ? AND provider = ?", userID, provider).Delete(&models.LinkedAccount{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return apperr.NotFound("token.Unlink", "provider %s is not linked for user %s", provider, userID)
	}
	return nil
}

// IsLinked reports whether the user has an active account for provider.
func (s *Store) IsLinked(ctx context.Context, userID, provider string) (bool, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&models.LinkedAccount{}).
		Where("user_id = ? AND provider = ? AND is_active = ?", userID, provider, true).
		Count(&count).Error
	return count > 0, err
}

// ListLinked returns the active provider keys linked by the user.
func (s *Store) ListLinked(ctx context.Context, userID string) ([]string, error) {
	var providers []string
	err := s.db.WithContext(ctx).Model(&models.LinkedAccount{}).
		Where("user_id = ? AND is_active = ?", userID, true).
		Order("provider").
		Pluck("provider", &providers).Error
	return providers, err
}

// ListExpiring returns active accounts whose access token expires before t.
func (s *Store) ListExpiring(ctx context.Context, t time.Time) ([]models.LinkedAccount, error) {
	var accounts []models.LinkedAccount
	err := s.db.WithContext(ctx).
		Where("is_active = ? AND expires_at < ? AND refresh_token <> ''", true, t).
		Find(&accounts).Error
	return accounts, err
}

// IsPermanentRefreshError reports whether a refresh failure means the grant
// is gone and the account needs to be linked again.
func IsPermanentRefreshError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	permanentMarkers := []string{
		"invalid_grant",
		"invalid_client",
		"unauthorized_client",
		"token has been expired or revoked",
		"revoked",
	}
	for _, marker := range permanentMarkers {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}
