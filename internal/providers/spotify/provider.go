// Package spotify is the Spotify linking provider.
package spotify

import (
	"net/http"

	"github.com/pysugar/area-nexus/internal/auth/token"
	"github.com/pysugar/area-nexus/internal/providers/oauthlink"
	"golang.org/x/oauth2"
	spotifyOAuth "golang.org/x/oauth2/spotify"
)

// Key is the provider key.
const Key = "spotify"

// Scopes cover the saved-tracks poller and the playlist reaction.
var Scopes = []string{
	"user-library-read",
	"playlist-modify-public",
	"playlist-modify-private",
}

// Config holds the Spotify client settings.
type Config struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string
	Endpoint     oauth2.Endpoint // zero means the public Spotify endpoint
	HTTPClient   *http.Client
}

// New creates the Spotify linking provider.
func New(cfg Config, tokens *token.Store) *oauthlink.Linker {
	endpoint := cfg.Endpoint
	if endpoint.TokenURL == "" {
		endpoint = spotifyOAuth.Endpoint
	}
	return oauthlink.New(oauthlink.Config{
		Key:          Key,
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		RedirectURL:  cfg.RedirectURL,
		Scopes:       Scopes,
		Endpoint:     endpoint,
		HTTPClient:   cfg.HTTPClient,
	}, tokens)
}
