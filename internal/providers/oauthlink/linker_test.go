package oauthlink

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pysugar/area-nexus/internal/apperr"
	"github.com/pysugar/area-nexus/internal/auth/token"
	"github.com/pysugar/area-nexus/internal/db"
	"github.com/pysugar/area-nexus/internal/vault"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
)

func newTokens(t *testing.T) *token.Store {
	t.Helper()
	gdb, err := db.OpenMemory()
	require.NoError(t, err)
	v, err := vault.New("linker-test")
	require.NoError(t, err)
	return token.NewStore(gdb, v)
}

func newLinker(t *testing.T, tokenURL string, tokens *token.Store) *Linker {
	t.Helper()
	return New(Config{
		Key:          "mail",
		ClientID:     "cid",
		ClientSecret: "csecret",
		RedirectURL:  "https://app.example.com/auth/mail/link/callback",
		Scopes:       []string{"read", "send"},
		Endpoint: oauth2.Endpoint{
			AuthURL:   "https://provider.example.com/auth",
			TokenURL:  tokenURL,
			AuthStyle: oauth2.AuthStyleInParams,
		},
	}, tokens)
}

func TestBuildLinkURL(t *testing.T) {
	l := newLinker(t, "https://provider.example.com/token", newTokens(t))

	raw, err := l.BuildLinkURL("st4te")
	require.NoError(t, err)
	u, err := url.Parse(raw)
	require.NoError(t, err)
	q := u.Query()
	assert.Equal(t, "st4te", q.Get("state"))
	assert.Equal(t, "cid", q.Get("client_id"))
	assert.Equal(t, "offline", q.Get("access_type"))
	assert.Equal(t, "consent", q.Get("prompt"))
	assert.Equal(t, "read send", q.Get("scope"))
}

func TestMissingClientCredentialsIsConfigurationError(t *testing.T) {
	l := New(Config{Key: "mail"}, newTokens(t))

	_, err := l.BuildLinkURL("s")
	assert.True(t, apperr.Is(err, apperr.KindConfiguration))

	_, err = l.RefreshAccessToken(context.Background(), "u1")
	assert.True(t, apperr.Is(err, apperr.KindConfiguration))
}

func TestHandleLinkCallback_StoresTokens(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.NoError(t, r.ParseForm())
		assert.Equal(t, "authorization_code", r.PostForm.Get("grant_type"))
		assert.Equal(t, "the-code", r.PostForm.Get("code"))
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"access_token":"at-1","refresh_token":"rt-1","token_type":"Bearer","expires_in":3600,"scope":"read"}`)
	}))
	defer srv.Close()

	tokens := newTokens(t)
	l := newLinker(t, srv.URL, tokens)
	ctx := context.Background()

	require.NoError(t, l.HandleLinkCallback(ctx, "u1", "the-code"))

	at, err := l.GetCurrentAccessToken(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, "at-1", at)

	stored, err := tokens.Get(ctx, "u1", "mail")
	require.NoError(t, err)
	assert.Equal(t, "rt-1", stored.RefreshToken)
	assert.Equal(t, []string{"read"}, stored.Scopes)
	assert.WithinDuration(t, time.Now().Add(time.Hour), stored.ExpiresAt, time.Minute)
}

func TestHandleLinkCallback_RequiresCode(t *testing.T) {
	l := newLinker(t, "https://provider.example.com/token", newTokens(t))
	err := l.HandleLinkCallback(context.Background(), "u1", "")
	assert.True(t, apperr.Is(err, apperr.KindValidation))
}

func TestRefreshAccessToken_RotatesRefreshToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.NoError(t, r.ParseForm())
		assert.Equal(t, "refresh_token", r.PostForm.Get("grant_type"))
		assert.Equal(t, "rt-old", r.PostForm.Get("refresh_token"))
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"access_token":"at-new","refresh_token":"rt-new","token_type":"Bearer","expires_in":3600}`)
	}))
	defer srv.Close()

	tokens := newTokens(t)
	ctx := context.Background()
	require.NoError(t, tokens.Save(ctx, "u1", "mail", token.Token{AccessToken: "at-old", RefreshToken: "rt-old"}))

	l := newLinker(t, srv.URL, tokens)
	at, err := l.RefreshAccessToken(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, "at-new", at)

	stored, err := tokens.Get(ctx, "u1", "mail")
	require.NoError(t, err)
	assert.Equal(t, "at-new", stored.AccessToken)
	assert.Equal(t, "rt-new", stored.RefreshToken)
}

func TestRefreshAccessToken_InvalidGrantDeactivates(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprint(w, `{"error":"invalid_grant","error_description":"Token has been expired or revoked."}`)
	}))
	defer srv.Close()

	tokens := newTokens(t)
	ctx := context.Background()
	require.NoError(t, tokens.Save(ctx, "u1", "mail", token.Token{AccessToken: "at", RefreshToken: "rt"}))

	l := newLinker(t, srv.URL, tokens)
	_, err := l.RefreshAccessToken(ctx, "u1")
	assert.True(t, apperr.Is(err, apperr.KindAuthentication))

	linked, err := tokens.IsLinked(ctx, "u1", "mail")
	require.NoError(t, err)
	assert.False(t, linked)
}

func TestRefreshAccessToken_TransientKeepsAccount(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		fmt.Fprint(w, `{"error":"temporarily_unavailable"}`)
	}))
	defer srv.Close()

	tokens := newTokens(t)
	ctx := context.Background()
	require.NoError(t, tokens.Save(ctx, "u1", "mail", token.Token{AccessToken: "at", RefreshToken: "rt"}))

	l := newLinker(t, srv.URL, tokens)
	_, err := l.RefreshAccessToken(ctx, "u1")
	assert.True(t, apperr.Is(err, apperr.KindTransientProvider))

	linked, err := tokens.IsLinked(ctx, "u1", "mail")
	require.NoError(t, err)
	assert.True(t, linked)
}

func TestRefreshAccessToken_NoRefreshToken(t *testing.T) {
	tokens := newTokens(t)
	ctx := context.Background()
	require.NoError(t, tokens.Save(ctx, "u1", "mail", token.Token{AccessToken: "at"}))

	l := newLinker(t, "https://provider.example.com/token", tokens)
	_, err := l.RefreshAccessToken(ctx, "u1")
	assert.True(t, apperr.Is(err, apperr.KindAuthentication))
}

func TestRefreshAccessToken_ConcurrentCallsShareOneExchange(t *testing.T) {
	var calls atomic.Int32
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		<-release
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"access_token":"at-new","token_type":"Bearer","expires_in":3600}`)
	}))
	defer srv.Close()

	tokens := newTokens(t)
	ctx := context.Background()
	require.NoError(t, tokens.Save(ctx, "u1", "mail", token.Token{AccessToken: "at", RefreshToken: "rt"}))
	l := newLinker(t, srv.URL, tokens)

	const n = 5
	var wg sync.WaitGroup
	results := make([]string, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], _ = l.RefreshAccessToken(ctx, "u1")
		}(i)
	}

	require.Eventually(t, func() bool { return calls.Load() == 1 }, time.Second, 5*time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), calls.Load())
	for _, r := range results {
		assert.Equal(t, "at-new", r)
	}
}

func TestRefreshAccessToken_FirstCallerCancelDoesNotFailJoiners(t *testing.T) {
	var calls atomic.Int32
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		<-release
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"access_token":"at-new","token_type":"Bearer","expires_in":3600}`)
	}))
	defer srv.Close()
	defer close(release)

	tokens := newTokens(t)
	require.NoError(t, tokens.Save(context.Background(), "u1", "mail", token.Token{AccessToken: "at", RefreshToken: "rt"}))
	l := newLinker(t, srv.URL, tokens)

	requestCtx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		_, _ = l.RefreshAccessToken(requestCtx, "u1")
	}()
	require.Eventually(t, func() bool { return calls.Load() == 1 }, time.Second, 5*time.Millisecond)

	joined := make(chan error, 1)
	go func() {
		at, err := l.RefreshAccessToken(context.Background(), "u1")
		if err == nil && at != "at-new" {
			err = fmt.Errorf("unexpected access token %q", at)
		}
		joined <- err
	}()
	time.Sleep(50 * time.Millisecond)
	cancel()
	time.Sleep(20 * time.Millisecond)
	release <- struct{}{}

	select {
	case err := <-joined:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("joined refresh did not return")
	}
	assert.Equal(t, int32(1), calls.Load())
}
