// Package oauthlink is a generic linking provider over golang.org/x/oauth2.
// Concrete providers configure it with their endpoint and scopes.
package oauthlink

import (
	"context"
	"log"
	"net/http"
	"strings"

	"github.com/pysugar/area-nexus/internal/apperr"
	"github.com/pysugar/area-nexus/internal/auth/token"
	"golang.org/x/oauth2"
	"golang.org/x/sync/singleflight"
)

// Config describes one OAuth2 provider.
type Config struct {
	Key          string
	ClientID     string
	ClientSecret string
	RedirectURL  string
	Scopes       []string
	Endpoint     oauth2.Endpoint
	// HTTPClient is used for token endpoint calls. Nil means http.DefaultClient.
	HTTPClient *http.Client
}

// Linker links accounts and keeps their access tokens fresh.
//
// Concurrent refreshes for the same user collapse into a single token
// endpoint call.
type Linker struct {
	cfg    Config
	tokens *token.Store
	group  singleflight.Group
}

// New creates a linker. Missing client credentials are reported when an
// operation needs them, not here.
func New(cfg Config, tokens *token.Store) *Linker {
	return &Linker{cfg: cfg, tokens: tokens}
}

// Key returns the provider key.
func (l *Linker) Key() string {
	return l.cfg.Key
}

// OAuthConfig returns the oauth2 configuration, failing when the client
// credentials are not configured.
func (l *Linker) OAuthConfig(redirectURL string, scopes []string) (*oauth2.Config, error) {
	if strings.TrimSpace(l.cfg.ClientID) == "" || strings.TrimSpace(l.cfg.ClientSecret) == "" {
		return nil, apperr.Configuration("oauth."+l.cfg.Key, "client id/secret for %s are not configured", l.cfg.Key)
	}
	return &oauth2.Config{
		ClientID:     l.cfg.ClientID,
		ClientSecret: l.cfg.ClientSecret,
		RedirectURL:  redirectURL,
		Scopes:       scopes,
		Endpoint:     l.cfg.Endpoint,
	}, nil
}

// WithHTTPClient makes oauth2 use the configured client for ctx.
func (l *Linker) WithHTTPClient(ctx context.Context) context.Context {
	if l.cfg.HTTPClient == nil {
		return ctx
	}
	return context.WithValue(ctx, oauth2.HTTPClient, l.cfg.HTTPClient)
}

// BuildLinkURL returns the consent URL. Offline access and forced consent
// make the provider hand out a refresh token every time.
func (l *Linker) BuildLinkURL(state string) (string, error) {
	conf, err := l.OAuthConfig(l.cfg.RedirectURL, l.cfg.Scopes)
	if err != nil {
		return "", err
	}
	return conf.AuthCodeURL(state, oauth2.AccessTypeOffline, oauth2.ApprovalForce), nil
}

// HandleLinkCallback exchanges the authorization code and stores the tokens.
func (l *Linker) HandleLinkCallback(ctx context.Context, userID, code string) error {
	if userID == "" || code == "" {
		return apperr.Validation("oauth."+l.cfg.Key, "user id and code are required")
	}
	conf, err := l.OAuthConfig(l.cfg.RedirectURL, l.cfg.Scopes)
	if err != nil {
		return err
	}
	tok, err := conf.Exchange(l.WithHTTPClient(ctx), code)
	if err != nil {
		return apperr.Wrap(apperr.KindAuthentication, "oauth."+l.cfg.Key, err, "code exchange failed")
	}

	scopes := l.cfg.Scopes
	if granted, ok := tok.Extra("scope").(string); ok && granted != "" {
		scopes = strings.Fields(granted)
	}
	if err := l.tokens.Save(ctx, userID, l.cfg.Key, token.Token{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		ExpiresAt:    tok.Expiry,
		Scopes:       scopes,
	}); err != nil {
		return err
	}
	log.Printf("🔗 [OAuth] Linked %s for user %s", l.cfg.Key, userID)
	return nil
}

// GetCurrentAccessToken returns the stored access token.
func (l *Linker) GetCurrentAccessToken(ctx context.Context, userID string) (string, error) {
	tok, err := l.tokens.Get(ctx, userID, l.cfg.Key)
	if err != nil {
		return "", err
	}
	return tok.AccessToken, nil
}

// RefreshAccessToken exchanges the stored refresh token for a new access
// token. Permanent grant failures deactivate the linked account.
func (l *Linker) RefreshAccessToken(ctx context.Context, userID string) (string, error) {
	// Callers joining the flight share its result, so one caller's
	// cancellation must not fail the others.
	shared := context.WithoutCancel(ctx)
	v, err, joined := l.group.Do(userID, func() (any, error) {
		return l.refresh(shared, userID)
	})
	if joined {
		log.Printf("🔁 [OAuth] Joined in-flight %s refresh for user %s", l.cfg.Key, userID)
	}
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

func (l *Linker) refresh(ctx context.Context, userID string) (string, error) {
	op := "oauth." + l.cfg.Key + ".refresh"
	conf, err := l.OAuthConfig(l.cfg.RedirectURL, l.cfg.Scopes)
	if err != nil {
		return "", err
	}
	stored, err := l.tokens.Get(ctx, userID, l.cfg.Key)
	if err != nil {
		return "", err
	}
	if stored.RefreshToken == "" {
		return "", apperr.Authentication(op, "no refresh token stored for %s", l.cfg.Key)
	}

	fresh, err := conf.TokenSource(l.WithHTTPClient(ctx), &oauth2.Token{RefreshToken: stored.RefreshToken}).Token()
	if err != nil {
		log.Printf("❌ [OAuth] Refresh failed for %s/%s: %v", userID, l.cfg.Key, err)
		if token.IsPermanentRefreshError(err) {
			if derr := l.tokens.Deactivate(ctx, userID, l.cfg.Key); derr != nil {
				log.Printf("⚠️ [OAuth] Failed to deactivate %s/%s: %v", userID, l.cfg.Key, derr)
			}
			log.Printf("🔒 [OAuth] %s account of user %s marked as inactive. Please link again.", l.cfg.Key, userID)
			return "", apperr.Wrap(apperr.KindAuthentication, op, err, "refresh grant rejected")
		}
		return "", apperr.Wrap(apperr.KindTransientProvider, op, err, "refresh failed")
	}

	if err := l.tokens.UpdateTokens(ctx, userID, l.cfg.Key, fresh.AccessToken, fresh.RefreshToken, fresh.Expiry); err != nil {
		return "", err
	}
	log.Printf("✅ [OAuth] Refreshed %s token for user %s", l.cfg.Key, userID)
	return fresh.AccessToken, nil
}
