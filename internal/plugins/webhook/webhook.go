// Package webhook posts action results to an arbitrary HTTP endpoint.
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/pysugar/area-nexus/internal/apperr"
	"github.com/pysugar/area-nexus/internal/area"
	"github.com/pysugar/area-nexus/internal/util"
)

const ReactionHTTPPost = "http_post"

// Plugin implements area.Plugin.
type Plugin struct {
	client *http.Client
}

// New creates the plugin. A nil client gets a 15s timeout.
func New(client *http.Client) *Plugin {
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	return &Plugin{client: client}
}

func (p *Plugin) Name() string { return "webhook" }

func (p *Plugin) Actions() []area.Action { return nil }

func (p *Plugin) Reactions() []area.Reaction {
	return []area.Reaction{{
		Name:        ReactionHTTPPost,
		Description: "POSTs the action result as JSON to a URL (config: url, optional body template)",
		Run:         p.post,
	}}
}

func (p *Plugin) post(ctx context.Context, in area.Input) (map[string]any, error) {
	const op = "webhook.http_post"
	target := in.String("url", "")
	u, err := url.Parse(target)
	if target == "" || err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return nil, apperr.Validation(op, "config.url must be an http(s) URL")
	}

	var payload []byte
	contentType := "application/json"
	if tmpl := in.String("body", ""); tmpl != "" {
		payload = []byte(area.Expand(tmpl, in.Yield))
		contentType = in.String("content_type", "text/plain; charset=utf-8")
	} else {
		payload, err = json.Marshal(map[string]any{
			"area_id": in.AreaID,
			"user_id": in.UserID,
			"yield":   in.Yield,
			"sent_at": time.Now().UTC().Format(time.RFC3339),
		})
		if err != nil {
			return nil, fmt.Errorf("encode payload: %w", err)
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("User-Agent", "area-nexus-webhook")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindTransientProvider, op, err, "request failed")
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, apperr.New(apperr.KindTransientProvider, op, "%s returned %d: %s", target, resp.StatusCode, util.BodySnippet(body))
	}
	return map[string]any{"status": resp.StatusCode}, nil
}
