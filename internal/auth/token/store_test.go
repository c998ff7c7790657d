package token

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"testing"
	"time"

	"github.com/pysugar/area-nexus/internal/apperr"
	"github.com/pysugar/area-nexus/internal/db"
	"github.com/pysugar/area-nexus/internal/db/models"
	"github.com/pysugar/area-nexus/internal/vault"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

const testSecret = "token-store-secret"

func newTestStore(t *testing.T) (*Store, *gorm.DB) {
	t.Helper()
	gdb, err := db.OpenMemory()
	require.NoError(t, err)
	v, err := vault.New(testSecret)
	require.NoError(t, err)
	return NewStore(gdb, v), gdb
}

func TestStore_SaveGetRoundTrip(t *testing.T) {
	ctx := context.Background()
	s, gdb := newTestStore(t)
	exp := time.Now().Add(time.Hour).Truncate(time.Second)

	require.NoError(t, s.Save(ctx, "u1", "google", Token{
		AccessToken:  "access-1",
		RefreshToken: "refresh-1",
		ExpiresAt:    exp,
		Scopes:       []string{"a", "b"},
	}))

	var raw models.LinkedAccount
	require.NoError(t, gdb.First(&raw).Error)
	assert.NotContains(t, raw.AccessToken, "access-1")
	assert.NotContains(t, raw.RefreshToken, "refresh-1")
	assert.True(t, raw.IsActive)

	tok, err := s.Get(ctx, "u1", "google")
	require.NoError(t, err)
	assert.Equal(t, "access-1", tok.AccessToken)
	assert.Equal(t, "refresh-1", tok.RefreshToken)
	assert.Equal(t, []string{"a", "b"}, tok.Scopes)
	assert.True(t, exp.Equal(tok.ExpiresAt))
}

func TestStore_SaveRelinkKeepsRefreshToken(t *testing.T) {
	ctx := context.Background()
	s, gdb := newTestStore(t)

	require.NoError(t, s.Save(ctx, "u1", "spotify", Token{AccessToken: "a1", RefreshToken: "r1"}))
	require.NoError(t, s.Deactivate(ctx, "u1", "spotify"))
	require.NoError(t, s.Save(ctx, "u1", "spotify", Token{AccessToken: "a2"}))

	var count int64
	gdb.Model(&models.LinkedAccount{}).Count(&count)
	assert.Equal(t, int64(1), count)

	tok, err := s.Get(ctx, "u1", "spotify")
	require.NoError(t, err)
	assert.Equal(t, "a2", tok.AccessToken)
	assert.Equal(t, "r1", tok.RefreshToken)
}

func TestStore_GetMissingIsAuthentication(t *testing.T) {
	s, _ := newTestStore(t)
	_, err := s.Get(context.Background(), "u1", "google")
	assert.True(t, apperr.Is(err, apperr.KindAuthentication))
}

func TestStore_UpdateTokensRotation(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t)
	require.NoError(t, s.Save(ctx, "u1", "google", Token{AccessToken: "a1", RefreshToken: "r1"}))

	require.NoError(t, s.UpdateTokens(ctx, "u1", "google", "a2", "", time.Now().Add(time.Hour)))
	tok, err := s.Get(ctx, "u1", "google")
	require.NoError(t, err)
	assert.Equal(t, "a2", tok.AccessToken)
	assert.Equal(t, "r1", tok.RefreshToken)

	require.NoError(t, s.UpdateTokens(ctx, "u1", "google", "a3", "r2", time.Now().Add(time.Hour)))
	tok, err = s.Get(ctx, "u1", "google")
	require.NoError(t, err)
	assert.Equal(t, "a3", tok.AccessToken)
	assert.Equal(t, "r2", tok.RefreshToken)
}

func TestStore_DeactivateUnlinkIsLinked(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t)
	require.NoError(t, s.Save(ctx, "u1", "google", Token{AccessToken: "a"}))
	require.NoError(t, s.Save(ctx, "u1", "spotify", Token{AccessToken: "b"}))

	linked, err := s.ListLinked(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, []string{"google", "spotify"}, linked)

	require.NoError(t, s.Deactivate(ctx, "u1", "google"))
	ok, err := s.IsLinked(ctx, "u1", "google")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.Unlink(ctx, "u1", "spotify"))
	ok, err = s.IsLinked(ctx, "u1", "spotify")
	require.NoError(t, err)
	assert.False(t, ok)

	err = s.Unlink(ctx, "u1", "spotify")
	assert.True(t, apperr.Is(err, apperr.KindNotFound))
}

func TestStore_LegacyEnvelopeMigratedOnRead(t *testing.T) {
	ctx := context.Background()
	s, gdb := newTestStore(t)

	require.NoError(t, gdb.Create(&models.LinkedAccount{
		UserID:      "u1",
		Provider:    "google",
		AccessToken: legacyEncrypt(t, testSecret, "old-access"),
		IsActive:    true,
	}).Error)

	tok, err := s.Get(ctx, "u1", "google")
	require.NoError(t, err)
	assert.Equal(t, "old-access", tok.AccessToken)

	var raw models.LinkedAccount
	require.NoError(t, gdb.First(&raw).Error)
	assert.False(t, vault.IsLegacy(raw.AccessToken))

	tok, err = s.Get(ctx, "u1", "google")
	require.NoError(t, err)
	assert.Equal(t, "old-access", tok.AccessToken)
}

type stubRefresher struct {
	calls []string
	err   error
}

func (r *stubRefresher) RefreshAccessToken(_ context.Context, userID string) (string, error) {
	r.calls = append(r.calls, userID)
	return "fresh", r.err
}

func TestStore_RefreshExpiring(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t)
	now := time.Now()

	require.NoError(t, s.Save(ctx, "soon", "google", Token{AccessToken: "a", RefreshToken: "r", ExpiresAt: now.Add(5 * time.Minute)}))
	require.NoError(t, s.Save(ctx, "later", "google", Token{AccessToken: "a", RefreshToken: "r", ExpiresAt: now.Add(2 * time.Hour)}))
	require.NoError(t, s.Save(ctx, "other", "unknown", Token{AccessToken: "a", RefreshToken: "r", ExpiresAt: now}))

	r := &stubRefresher{}
	n := s.RefreshExpiring(ctx, func(provider string) (Refresher, bool) {
		if provider == "google" {
			return r, true
		}
		return nil, false
	})
	assert.Equal(t, 1, n)
	assert.Equal(t, []string{"soon"}, r.calls)

	r.err = errors.New("boom")
	r.calls = nil
	assert.Equal(t, 0, s.RefreshExpiring(ctx, func(string) (Refresher, bool) { return r, true }))
	assert.Len(t, r.calls, 2)
}

func TestIsPermanentRefreshError(t *testing.T) {
	tests := []struct {
		name      string
		errText   string
		permanent bool
	}{
		{name: "invalid grant", errText: "oauth2: cannot fetch token: 400 Bad Request {\"error\":\"invalid_grant\"}", permanent: true},
		{name: "revoked", errText: "token has been expired or revoked", permanent: true},
		{name: "timeout", errText: "context deadline exceeded", permanent: false},
		{name: "temporary", errText: "temporarily_unavailable", permanent: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.permanent, IsPermanentRefreshError(errors.New(tt.errText)))
		})
	}
	assert.False(t, IsPermanentRefreshError(nil))
}

func legacyEncrypt(t *testing.T, secret, plaintext string) string {
	t.Helper()
	key := sha256.Sum256([]byte(secret))
	block, err := aes.NewCipher(key[:])
	require.NoError(t, err)
	iv := make([]byte, aes.BlockSize)
	for i := range iv {
		iv[i] = byte(i)
	}
	pad := aes.BlockSize - len(plaintext)%aes.BlockSize
	data := []byte(plaintext)
	for i := 0; i < pad; i++ {
		data = append(data, byte(pad))
	}
	out := make([]byte, len(data))
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(out, data)
	return hex.EncodeToString(iv) + ":" + hex.EncodeToString(out)
}
