// Package google is the Google identity and linking provider. Linking grants
// the Gmail scopes used by the mail plugin; identity supports both ID-token
// sign-in and the authorization-code login flow.
package google

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/pysugar/area-nexus/internal/apperr"
	"github.com/pysugar/area-nexus/internal/auth/token"
	"github.com/pysugar/area-nexus/internal/providers"
	"github.com/pysugar/area-nexus/internal/providers/oauthlink"
	"golang.org/x/oauth2"
	googleOAuth "golang.org/x/oauth2/google"
)

// Key is the provider key.
const Key = "google"

const (
	defaultJWKSURL     = "https://www.googleapis.com/oauth2/v3/certs"
	defaultUserInfoURL = "https://www.googleapis.com/oauth2/v2/userinfo"
)

// LinkScopes are requested when a user links Gmail.
var LinkScopes = []string{
	"https://www.googleapis.com/auth/gmail.readonly",
	"https://www.googleapis.com/auth/gmail.send",
	"https://www.googleapis.com/auth/userinfo.email",
}

// LoginScopes are requested for code-flow login.
var LoginScopes = []string{"openid", "email", "profile"}

// Config holds the Google client settings.
type Config struct {
	ClientID         string
	ClientSecret     string
	LinkRedirectURL  string
	LoginRedirectURL string

	// Overridable for tests.
	Endpoint    oauth2.Endpoint
	JWKSURL     string
	UserInfoURL string
	HTTPClient  *http.Client
}

// Provider implements providers.IdentityProvider, providers.IDTokenSignIn,
// providers.CodeLogin and providers.LinkingProvider.
type Provider struct {
	*oauthlink.Linker
	cfg  Config
	keys *keySet
}

var (
	_ providers.IdentityProvider = (*Provider)(nil)
	_ providers.IDTokenSignIn    = (*Provider)(nil)
	_ providers.CodeLogin        = (*Provider)(nil)
	_ providers.LinkingProvider  = (*Provider)(nil)
)

// New creates the Google provider.
func New(cfg Config, tokens *token.Store) *Provider {
	if cfg.Endpoint.TokenURL == "" {
		cfg.Endpoint = googleOAuth.Endpoint
	}
	if cfg.JWKSURL == "" {
		cfg.JWKSURL = defaultJWKSURL
	}
	if cfg.UserInfoURL == "" {
		cfg.UserInfoURL = defaultUserInfoURL
	}
	linker := oauthlink.New(oauthlink.Config{
		Key:          Key,
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		RedirectURL:  cfg.LinkRedirectURL,
		Scopes:       LinkScopes,
		Endpoint:     cfg.Endpoint,
		HTTPClient:   cfg.HTTPClient,
	}, tokens)
	return &Provider{
		Linker: linker,
		cfg:    cfg,
		keys:   newKeySet(cfg.JWKSURL),
	}
}

// Close stops the background refresh of the signing keys.
func (p *Provider) Close() error {
	p.keys.close()
	return nil
}

// BuildLoginURL returns the consent URL for code-flow login.
func (p *Provider) BuildLoginURL(state string) (string, error) {
	conf, err := p.OAuthConfig(p.cfg.LoginRedirectURL, LoginScopes)
	if err != nil {
		return "", err
	}
	return conf.AuthCodeURL(state), nil
}

// HandleLoginCallback exchanges the code and fetches the user profile.
func (p *Provider) HandleLoginCallback(ctx context.Context, code string) (*providers.Identity, error) {
	if code == "" {
		return nil, apperr.Validation("google.login", "code is required")
	}
	conf, err := p.OAuthConfig(p.cfg.LoginRedirectURL, LoginScopes)
	if err != nil {
		return nil, err
	}
	ctx = p.WithHTTPClient(ctx)
	tok, err := conf.Exchange(ctx, code)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindAuthentication, "google.login", err, "code exchange failed")
	}

	resp, err := conf.Client(ctx, tok).Get(p.cfg.UserInfoURL)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindTransientProvider, "google.login", err, "userinfo request failed")
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, apperr.New(apperr.KindTransientProvider, "google.login", "userinfo returned %d: %s", resp.StatusCode, body)
	}

	var info struct {
		ID      string `json:"id"`
		Email   string `json:"email"`
		Name    string `json:"name"`
		Picture string `json:"picture"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return nil, fmt.Errorf("decode userinfo: %w", err)
	}
	if info.ID == "" {
		return nil, apperr.Authentication("google.login", "userinfo has no subject")
	}
	return &providers.Identity{
		Provider:       Key,
		ProviderUserID: info.ID,
		Email:          info.Email,
		Name:           info.Name,
		Picture:        info.Picture,
	}, nil
}
