// Package spotify watches a user's saved tracks and adds tracks to
// playlists through the Spotify Web API.
package spotify

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/pysugar/area-nexus/internal/apperr"
	"github.com/pysugar/area-nexus/internal/area"
	"github.com/pysugar/area-nexus/internal/gateway"
	"github.com/pysugar/area-nexus/internal/polling"
)

const (
	ActionNewSavedTrack   = "new_saved_track"
	ReactionAddToPlaylist = "add_to_playlist"

	defaultBaseURL = "https://api.spotify.com"
	provider       = "spotify"
)

// Requester performs authenticated provider calls.
type Requester interface {
	Request(ctx context.Context, provider, userID string, cfg gateway.HTTPConfig) (*gateway.Response, error)
}

// LinkChecker reports whether a user linked a provider.
type LinkChecker interface {
	IsLinked(ctx context.Context, userID, provider string) (bool, error)
}

// Plugin implements area.Plugin and polling.Poller.
type Plugin struct {
	gw       Requester
	links    LinkChecker
	baseline *polling.Baseline
	baseURL  string
}

// New creates the plugin. An empty baseURL means the public API.
func New(gw Requester, links LinkChecker, baseline *polling.Baseline, baseURL string) *Plugin {
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	return &Plugin{gw: gw, links: links, baseline: baseline, baseURL: strings.TrimRight(baseURL, "/")}
}

func (p *Plugin) Name() string { return "spotify" }

func (p *Plugin) Actions() []area.Action {
	return []area.Action{{
		Name:        ActionNewSavedTrack,
		Description: "Triggers when the user saves a new track to their Spotify library",
		Run: func(ctx context.Context, in area.Input) (area.Result, error) {
			return p.Poll(ctx, ActionNewSavedTrack, in.UserID)
		},
	}}
}

func (p *Plugin) Reactions() []area.Reaction {
	return []area.Reaction{{
		Name:        ReactionAddToPlaylist,
		Description: "Adds a track to a Spotify playlist (config: playlist_id, optional track_uri)",
		Run:         p.addToPlaylist,
	}}
}

func (p *Plugin) Supports(action string) bool {
	return action == ActionNewSavedTrack
}

type savedTracks struct {
	Items []struct {
		AddedAt time.Time `json:"added_at"`
		Track   struct {
			ID      string `json:"id"`
			Name    string `json:"name"`
			URI     string `json:"uri"`
			Artists []struct {
				Name string `json:"name"`
			} `json:"artists"`
		} `json:"track"`
	} `json:"items"`
}

// Poll checks whether a track saved after the baseline exists.
func (p *Plugin) Poll(ctx context.Context, action, userID string) (area.Result, error) {
	linked, err := p.links.IsLinked(ctx, userID, provider)
	if err != nil {
		return area.NoChange(), err
	}
	if !linked {
		return area.Result{Code: area.CodeNotLinked}, nil
	}

	resp, err := p.gw.Request(ctx, provider, userID, gateway.HTTPConfig{
		URL:   p.baseURL + "/v1/me/tracks",
		Query: url.Values{"limit": {"1"}},
	})
	if err != nil {
		log.Printf("⚠️ [Spotify] list saved tracks for %s: %v", userID, err)
		return area.NoChange(), nil
	}
	var saved savedTracks
	if err := resp.JSON(&saved); err != nil {
		log.Printf("⚠️ [Spotify] decode saved tracks for %s: %v", userID, err)
		return area.NoChange(), nil
	}
	if len(saved.Items) == 0 {
		return area.Result{Code: p.baseline.Observe(ctx, action, userID, nil)}, nil
	}

	item := saved.Items[0]
	code := p.baseline.Observe(ctx, action, userID, &polling.Item{
		Date: item.AddedAt.UnixMilli(),
		ID:   item.Track.ID,
	})
	if code != area.CodeTriggered {
		return area.Result{Code: code}, nil
	}

	artists := make([]string, 0, len(item.Track.Artists))
	for _, a := range item.Track.Artists {
		artists = append(artists, a.Name)
	}
	return area.Result{Code: code, Yield: map[string]any{
		"track_id":   item.Track.ID,
		"track_name": item.Track.Name,
		"track_uri":  item.Track.URI,
		"artist":     strings.Join(artists, ", "),
		"added_at":   item.AddedAt.Format(time.RFC3339),
	}}, nil
}

func (p *Plugin) addToPlaylist(ctx context.Context, in area.Input) (map[string]any, error) {
	const op = "spotify.add_to_playlist"
	playlist := in.String("playlist_id", "")
	if playlist == "" {
		return nil, apperr.Validation(op, "config.playlist_id is required")
	}
	uri := in.String("track_uri", "")
	if uri == "" {
		uri, _ = in.Yield["track_uri"].(string)
	}
	if uri == "" {
		return nil, apperr.Validation(op, "no track_uri in config or action yield")
	}

	resp, err := p.gw.Request(ctx, provider, in.UserID, gateway.HTTPConfig{
		Method: http.MethodPost,
		URL:    p.baseURL + "/v1/playlists/" + url.PathEscape(playlist) + "/tracks",
		Body:   map[string]any{"uris": []string{uri}},
	})
	if err != nil {
		return nil, err
	}
	var out struct {
		SnapshotID string `json:"snapshot_id"`
	}
	if err := resp.JSON(&out); err != nil {
		return nil, fmt.Errorf("decode playlist response: %w", err)
	}
	return map[string]any{"playlist_id": playlist, "track_uri": uri, "snapshot_id": out.SnapshotID}, nil
}
