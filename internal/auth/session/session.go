// Package session issues the HS256 tokens that authenticate API callers and
// the signed state values that carry a user through an OAuth redirect.
package session

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/pysugar/area-nexus/internal/apperr"
)

const (
	issuer = "area-nexus"

	// DefaultTTL is the lifetime of a session token.
	DefaultTTL = 24 * time.Hour
	// StateTTL is the lifetime of an OAuth state value.
	StateTTL = 10 * time.Minute
)

// State purposes.
const (
	PurposeLink  = "link"
	PurposeLogin = "login"
)

// Claims are the claims of a session token.
type Claims struct {
	UserID string `json:"user_id"`
	Email  string `json:"email,omitempty"`
	jwt.RegisteredClaims
}

// StateClaims bind an OAuth round trip to a provider, a purpose and, for
// linking, a user.
type StateClaims struct {
	Provider string `json:"provider"`
	Purpose  string `json:"purpose"`
	UserID   string `json:"user_id,omitempty"`
	Nonce    string `json:"nonce"`
	jwt.RegisteredClaims
}

// Manager signs and verifies tokens with one shared secret.
type Manager struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewManager creates a manager. A ttl <= 0 means DefaultTTL.
func NewManager(secret string, ttl time.Duration) (*Manager, error) {
	if secret == "" {
		return nil, apperr.Configuration("session.NewManager", "session secret is empty")
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Manager{secret: []byte(secret), ttl: ttl, now: time.Now}, nil
}

// SetClock overrides the time source.
func (m *Manager) SetClock(now func() time.Time) {
	m.now = now
}

// Issue returns a session token for a user.
func (m *Manager) Issue(userID, email string) (string, error) {
	now := m.now()
	claims := Claims{
		UserID: userID,
		Email:  email,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(m.ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			Issuer:    issuer,
			Subject:   userID,
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.secret)
}

// Validate verifies a session token and returns its claims.
func (m *Manager) Validate(tokenString string) (*Claims, error) {
	claims := &Claims{}
	if err := m.parse(tokenString, claims); err != nil {
		return nil, apperr.Wrap(apperr.KindAuthentication, "session.Validate", err, "invalid session token")
	}
	if claims.UserID == "" {
		return nil, apperr.Authentication("session.Validate", "session token has no user")
	}
	return claims, nil
}

// IssueState returns a signed state value for an OAuth redirect.
func (m *Manager) IssueState(provider, purpose, userID string) (string, error) {
	nonce, err := generateNonce()
	if err != nil {
		return "", err
	}
	now := m.now()
	claims := StateClaims{
		Provider: provider,
		Purpose:  purpose,
		UserID:   userID,
		Nonce:    nonce,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(StateTTL)),
			IssuedAt:  jwt.NewNumericDate(now),
			Issuer:    issuer,
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.secret)
}

// ValidateState verifies a state value for the given provider and purpose.
func (m *Manager) ValidateState(state, provider, purpose string) (*StateClaims, error) {
	const op = "session.ValidateState"
	claims := &StateClaims{}
	if err := m.parse(state, claims); err != nil {
		return nil, apperr.Wrap(apperr.KindAuthentication, op, err, "invalid state")
	}
	if claims.Provider != provider || claims.Purpose != purpose {
		return nil, apperr.Authentication(op, "state was issued for %s/%s", claims.Provider, claims.Purpose)
	}
	if purpose == PurposeLink && claims.UserID == "" {
		return nil, apperr.Authentication(op, "link state has no user")
	}
	return claims, nil
}

func (m *Manager) parse(tokenString string, claims jwt.Claims) error {
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return m.secret, nil
	},
		jwt.WithIssuer(issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(m.now),
	)
	if err != nil {
		return err
	}
	if !token.Valid {
		return errors.New("invalid token")
	}
	return nil
}

func generateNonce() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
