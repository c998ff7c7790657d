package google

import (
	"context"
	"fmt"
	"log"
	"strings"
	"sync"

	"github.com/MicahParks/keyfunc/v3"
	"github.com/golang-jwt/jwt/v5"
	"github.com/pysugar/area-nexus/internal/apperr"
	"github.com/pysugar/area-nexus/internal/providers"
)

var validIssuers = map[string]bool{
	"accounts.google.com":         true,
	"https://accounts.google.com": true,
}

// SignInWithIDToken verifies a Google ID token (RS256, audience = client id)
// and returns the identity it asserts.
func (p *Provider) SignInWithIDToken(ctx context.Context, idToken string) (*providers.Identity, error) {
	const op = "google.SignInWithIDToken"
	if strings.TrimSpace(p.cfg.ClientID) == "" {
		return nil, apperr.Configuration(op, "google client id is not configured")
	}
	if idToken == "" {
		return nil, apperr.Validation(op, "id token is required")
	}

	keys, err := p.keys.resolver()
	if err != nil {
		return nil, apperr.Wrap(apperr.KindTransientProvider, op, err, "google signing keys unavailable")
	}
	claims := jwt.MapClaims{}
	_, err = jwt.ParseWithClaims(idToken, claims, keys,
		jwt.WithValidMethods([]string{"RS256"}),
		jwt.WithAudience(p.cfg.ClientID),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindAuthentication, op, err, "invalid id token")
	}

	iss, _ := claims.GetIssuer()
	if !validIssuers[iss] {
		return nil, apperr.Authentication(op, "unexpected issuer %q", iss)
	}
	sub, _ := claims.GetSubject()
	if sub == "" {
		return nil, apperr.Authentication(op, "id token has no subject")
	}

	ident := &providers.Identity{Provider: Key, ProviderUserID: sub}
	ident.Email, _ = claims["email"].(string)
	ident.Name, _ = claims["name"].(string)
	ident.Picture, _ = claims["picture"].(string)
	return ident, nil
}

// keySet resolves Google's signing keys through a JWKS client that is
// created on first use and refreshed in the background until Close.
type keySet struct {
	url string

	mu     sync.Mutex
	kf     keyfunc.Keyfunc
	cancel context.CancelFunc
}

func newKeySet(url string) *keySet {
	return &keySet{url: url}
}

func (k *keySet) resolver() (jwt.Keyfunc, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.kf != nil {
		return k.kf.Keyfunc, nil
	}
	ctx, cancel := context.WithCancel(context.Background())
	kf, err := keyfunc.NewDefaultCtx(ctx, []string{k.url})
	if err != nil {
		cancel()
		return nil, fmt.Errorf("load jwks: %w", err)
	}
	k.kf, k.cancel = kf, cancel
	log.Printf("🔑 [OAuth] Loaded Google signing keys from %s", k.url)
	return kf.Keyfunc, nil
}

func (k *keySet) close() {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.cancel != nil {
		k.cancel()
		k.kf, k.cancel = nil, nil
	}
}
