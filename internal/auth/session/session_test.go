package session

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/pysugar/area-nexus/internal/apperr"
	"github.com/pysugar/area-nexus/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newManager(t *testing.T) (*Manager, *testutil.Clock) {
	t.Helper()
	m, err := NewManager("s3cret", time.Hour)
	require.NoError(t, err)
	clock := testutil.NewClock(time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC))
	m.SetClock(clock.Now)
	return m, clock
}

func TestNewManager_EmptySecret(t *testing.T) {
	_, err := NewManager("", 0)
	assert.True(t, apperr.Is(err, apperr.KindConfiguration))
}

func TestSession_RoundTripAndExpiry(t *testing.T) {
	m, clock := newManager(t)

	tok, err := m.Issue("u1", "u1@example.com")
	require.NoError(t, err)

	claims, err := m.Validate(tok)
	require.NoError(t, err)
	assert.Equal(t, "u1", claims.UserID)
	assert.Equal(t, "u1@example.com", claims.Email)

	clock.Advance(2 * time.Hour)
	_, err = m.Validate(tok)
	assert.True(t, apperr.Is(err, apperr.KindAuthentication))
}

func TestSession_RejectsForeignTokens(t *testing.T) {
	m, _ := newManager(t)
	other, err := NewManager("different", time.Hour)
	require.NoError(t, err)

	tok, err := other.Issue("u1", "")
	require.NoError(t, err)
	_, err = m.Validate(tok)
	assert.True(t, apperr.Is(err, apperr.KindAuthentication))

	_, err = m.Validate("not-a-jwt")
	assert.True(t, apperr.Is(err, apperr.KindAuthentication))

	unsigned, err := jwt.NewWithClaims(jwt.SigningMethodNone, Claims{UserID: "u1"}).
		SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)
	_, err = m.Validate(unsigned)
	assert.Error(t, err)
}

func TestState(t *testing.T) {
	m, clock := newManager(t)

	state, err := m.IssueState("google", PurposeLink, "u1")
	require.NoError(t, err)

	claims, err := m.ValidateState(state, "google", PurposeLink)
	require.NoError(t, err)
	assert.Equal(t, "u1", claims.UserID)

	_, err = m.ValidateState(state, "spotify", PurposeLink)
	assert.True(t, apperr.Is(err, apperr.KindAuthentication))
	_, err = m.ValidateState(state, "google", PurposeLogin)
	assert.True(t, apperr.Is(err, apperr.KindAuthentication))

	anonymous, err := m.IssueState("google", PurposeLink, "")
	require.NoError(t, err)
	_, err = m.ValidateState(anonymous, "google", PurposeLink)
	assert.True(t, apperr.Is(err, apperr.KindAuthentication))

	clock.Advance(StateTTL + time.Second)
	_, err = m.ValidateState(state, "google", PurposeLink)
	assert.True(t, apperr.Is(err, apperr.KindAuthentication))
}

func TestState_DistinctNonces(t *testing.T) {
	m, _ := newManager(t)
	a, err := m.IssueState("google", PurposeLogin, "")
	require.NoError(t, err)
	b, err := m.IssueState("google", PurposeLogin, "")
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
}
