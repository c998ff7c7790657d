// Package gmail polls a user's mailbox for new messages and sends mail on
// their behalf through the Gmail REST API.
package gmail

import (
	"context"
	"encoding/base64"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/pysugar/area-nexus/internal/apperr"
	"github.com/pysugar/area-nexus/internal/area"
	"github.com/pysugar/area-nexus/internal/gateway"
	"github.com/pysugar/area-nexus/internal/polling"
)

const (
	ActionNewMail     = "new_mail"
	ReactionSendEmail = "send_email"

	defaultBaseURL  = "https://gmail.googleapis.com"
	defaultProvider = "google"
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
	provider string
}

// Option customizes a Plugin.
type Option func(*Plugin)

// WithBaseURL points the plugin at another API host.
func WithBaseURL(u string) Option {
	return func(p *Plugin) { p.baseURL = strings.TrimRight(u, "/") }
}

// WithProvider changes the linking provider key the plugin calls through.
func WithProvider(key string) Option {
	return func(p *Plugin) { p.provider = key }
}

// New creates the plugin.
func New(gw Requester, links LinkChecker, baseline *polling.Baseline, opts ...Option) *Plugin {
	p := &Plugin{gw: gw, links: links, baseline: baseline, baseURL: defaultBaseURL, provider: defaultProvider}
	for _, o := range opts {
		o(p)
	}
	return p
}

var (
	_ area.Plugin    = (*Plugin)(nil)
	_ polling.Poller = (*Plugin)(nil)
)

func (p *Plugin) Name() string { return "gmail" }

func (p *Plugin) Actions() []area.Action {
	return []area.Action{{
		Name:        ActionNewMail,
		Description: "Triggers when a new message arrives in the linked Gmail mailbox",
		Run: func(ctx context.Context, in area.Input) (area.Result, error) {
			return p.Poll(ctx, ActionNewMail, in.UserID)
		},
	}}
}

func (p *Plugin) Reactions() []area.Reaction {
	return []area.Reaction{{
		Name:        ReactionSendEmail,
		Description: "Sends an email from the linked Gmail account (config: to, subject, body)",
		Run:         p.sendEmail,
	}}
}

func (p *Plugin) Supports(action string) bool {
	return action == ActionNewMail
}

type listResponse struct {
	Messages []struct {
		ID       string `json:"id"`
		ThreadID string `json:"threadId"`
	} `json:"messages"`
}

type messageResponse struct {
	ID           string `json:"id"`
	ThreadID     string `json:"threadId"`
	InternalDate string `json:"internalDate"`
	Snippet      string `json:"snippet"`
	Payload      struct {
		Headers []struct {
			Name  string `json:"name"`
			Value string `json:"value"`
		} `json:"headers"`
	} `json:"payload"`
}

func (m *messageResponse) header(name string) string {
	for _, h := range m.Payload.Headers {
		if strings.EqualFold(h.Name, name) {
			return h.Value
		}
	}
	return ""
}

// Poll checks whether a message newer than the stored baseline arrived.
// Upstream failures are reported as no change.
func (p *Plugin) Poll(ctx context.Context, action, userID string) (area.Result, error) {
	linked, err := p.links.IsLinked(ctx, userID, p.provider)
	if err != nil {
		return area.NoChange(), err
	}
	if !linked {
		return area.Result{Code: area.CodeNotLinked}, nil
	}

	resp, err := p.gw.Request(ctx, p.provider, userID, gateway.HTTPConfig{
		URL:   p.baseURL + "/gmail/v1/users/me/messages",
		Query: url.Values{"maxResults": {"1"}, "labelIds": {"INBOX"}},
	})
	if err != nil {
		log.Printf("⚠️ [Gmail] list messages for %s: %v", userID, err)
		return area.NoChange(), nil
	}
	var list listResponse
	if err := resp.JSON(&list); err != nil {
		log.Printf("⚠️ [Gmail] decode message list for %s: %v", userID, err)
		return area.NoChange(), nil
	}
	if len(list.Messages) == 0 {
		return area.Result{Code: p.baseline.Observe(ctx, action, userID, nil)}, nil
	}

	msg, err := p.getMessage(ctx, userID, list.Messages[0].ID)
	if err != nil {
		log.Printf("⚠️ [Gmail] get message for %s: %v", userID, err)
		return area.NoChange(), nil
	}
	date, err := strconv.ParseInt(msg.InternalDate, 10, 64)
	if err != nil {
		log.Printf("⚠️ [Gmail] message %s has no usable internalDate %q", msg.ID, msg.InternalDate)
		return area.NoChange(), nil
	}

	code := p.baseline.Observe(ctx, action, userID, &polling.Item{Date: date, ID: msg.ID})
	if code != area.CodeTriggered {
		return area.Result{Code: code}, nil
	}
	return area.Result{Code: code, Yield: map[string]any{
		"id":        msg.ID,
		"thread_id": msg.ThreadID,
		"from":      msg.header("From"),
		"subject":   msg.header("Subject"),
		"snippet":   msg.Snippet,
		"date":      date,
	}}, nil
}

func (p *Plugin) getMessage(ctx context.Context, userID, id string) (*messageResponse, error) {
	resp, err := p.gw.Request(ctx, p.provider, userID, gateway.HTTPConfig{
		URL: p.baseURL + "/gmail/v1/users/me/messages/" + url.PathEscape(id),
		Query: url.Values{
			"format":          {"metadata"},
			"metadataHeaders": {"From", "Subject"},
		},
	})
	if err != nil {
		return nil, err
	}
	var msg messageResponse
	if err := resp.JSON(&msg); err != nil {
		return nil, fmt.Errorf("decode message: %w", err)
	}
	return &msg, nil
}

func (p *Plugin) sendEmail(ctx context.Context, in area.Input) (map[string]any, error) {
	to := in.String("to", "")
	if to == "" {
		return nil, apperr.Validation("gmail.send_email", "config.to is required")
	}
	subject := area.Expand(in.String("subject", "New event: {{subject}}"), in.Yield)
	body := area.Expand(in.String("body", "{{from}}: {{snippet}}"), in.Yield)

	raw := buildMessage(to, subject, body)
	resp, err := p.gw.Request(ctx, p.provider, in.UserID, gateway.HTTPConfig{
		Method: http.MethodPost,
		URL:    p.baseURL + "/gmail/v1/users/me/messages/send",
		Body:   map[string]string{"raw": raw},
	})
	if err != nil {
		return nil, err
	}
	var sent struct {
		ID       string `json:"id"`
		ThreadID string `json:"threadId"`
	}
	if err := resp.JSON(&sent); err != nil {
		return nil, fmt.Errorf("decode send response: %w", err)
	}
	return map[string]any{"id": sent.ID, "thread_id": sent.ThreadID, "to": to}, nil
}

var headerSafe = strings.NewReplacer("\r", " ", "\n", " ")

// buildMessage renders an RFC 2822 message as base64url, the form the send
// endpoint expects in "raw".
func buildMessage(to, subject, body string) string {
	to, subject = headerSafe.Replace(to), headerSafe.Replace(subject)
	var b strings.Builder
	b.WriteString("To: " + to + "\r\n")
	b.WriteString("Subject: " + subject + "\r\n")
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=\"UTF-8\"\r\n")
	b.WriteString("\r\n")
	b.WriteString(body)
	return base64.RawURLEncoding.EncodeToString([]byte(b.String()))
}
