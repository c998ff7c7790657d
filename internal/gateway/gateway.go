// Package gateway performs authenticated calls against provider APIs on
// behalf of a user, refreshing the access token once on a 401.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"time"

	"github.com/pysugar/area-nexus/internal/apperr"
	"github.com/pysugar/area-nexus/internal/logging"
	"github.com/pysugar/area-nexus/internal/providers"
	"github.com/pysugar/area-nexus/internal/util"
)

// DefaultTimeout bounds every upstream call unless the client says otherwise.
const DefaultTimeout = 15 * time.Second

// HTTPConfig describes one upstream call.
type HTTPConfig struct {
	Method string
	URL    string
	Header http.Header
	Query  url.Values
	// Body is sent as-is when it is []byte or string, JSON-encoded otherwise.
	Body any
}

// Response is a successful upstream reply.
type Response struct {
	Data   []byte
	Status int
	Header http.Header
}

// JSON decodes the response body into v.
func (r *Response) JSON(v any) error {
	return json.Unmarshal(r.Data, v)
}

// StatusError is a non-2xx upstream reply.
type StatusError struct {
	Method string
	URL    string
	Status int
	Body   []byte
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s %s returned %d: %s", e.Method, e.URL, e.Status, util.BodySnippet(e.Body))
}

// StatusOf returns the upstream status carried by err, or 0.
func StatusOf(err error) int {
	var se *StatusError
	if errors.As(err, &se) {
		return se.Status
	}
	return 0
}

// LinkingResolver finds the linking provider for a key.
type LinkingResolver interface {
	Linking(key string) (providers.LinkingProvider, bool)
}

// Gateway is safe for concurrent use.
type Gateway struct {
	providers LinkingResolver
	client    *http.Client
}

// New creates a gateway. A nil client gets DefaultTimeout.
func New(resolver LinkingResolver, client *http.Client) *Gateway {
	if client == nil {
		client = &http.Client{Timeout: DefaultTimeout}
	}
	return &Gateway{providers: resolver, client: client}
}

// Request sends cfg with the user's bearer token for provider. A 401 leads
// to exactly one token refresh and one retry; the retry's outcome is final.
// Any other failure is returned to the caller unchanged.
func (g *Gateway) Request(ctx context.Context, provider, userID string, cfg HTTPConfig) (*Response, error) {
	const op = "gateway.Request"
	p, ok := g.providers.Linking(provider)
	if !ok {
		return nil, apperr.Validation(op, "provider not supported: %s", provider)
	}

	body, contentType, err := encodeBody(cfg.Body)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindValidation, op, err, "encode body")
	}

	accessToken, err := p.GetCurrentAccessToken(ctx, userID)
	if err != nil {
		return nil, err
	}

	resp, err := g.do(ctx, cfg, body, contentType, accessToken)
	if StatusOf(err) != http.StatusUnauthorized {
		return resp, err
	}

	log.Printf("%s🔑 [Gateway] %s %s returned 401, refreshing %s token", logging.Prefix(ctx), methodOf(cfg), cfg.URL, provider)
	accessToken, err = p.RefreshAccessToken(ctx, userID)
	if err != nil {
		return nil, err
	}

	resp, err = g.do(ctx, cfg, body, contentType, accessToken)
	if StatusOf(err) == http.StatusUnauthorized {
		return nil, apperr.Wrap(apperr.KindAuthentication, op, err, "%s rejected the refreshed token", provider)
	}
	return resp, err
}

func (g *Gateway) do(ctx context.Context, cfg HTTPConfig, body []byte, contentType, accessToken string) (*Response, error) {
	target, err := buildURL(cfg.URL, cfg.Query)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindValidation, "gateway.Request", err, "invalid url")
	}

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, methodOf(cfg), target, reader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	for k, vs := range cfg.Header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	if contentType != "" && req.Header.Get("Content-Type") == "" {
		req.Header.Set("Content-Type", contentType)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)

	resp, err := g.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &StatusError{Method: req.Method, URL: cfg.URL, Status: resp.StatusCode, Body: data}
	}
	return &Response{Data: data, Status: resp.StatusCode, Header: resp.Header}, nil
}

func methodOf(cfg HTTPConfig) string {
	if cfg.Method == "" {
		return http.MethodGet
	}
	return cfg.Method
}

func buildURL(raw string, query url.Values) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", err
	}
	if len(query) > 0 {
		q := u.Query()
		for k, vs := range query {
			for _, v := range vs {
				q.Add(k, v)
			}
		}
		u.RawQuery = q.Encode()
	}
	return u.String(), nil
}

func encodeBody(body any) ([]byte, string, error) {
	switch b := body.(type) {
	case nil:
		return nil, "", nil
	case []byte:
		return b, "", nil
	case string:
		return []byte(b), "", nil
	default:
		data, err := json.Marshal(b)
		if err != nil {
			return nil, "", err
		}
		return data, "application/json", nil
	}
}
