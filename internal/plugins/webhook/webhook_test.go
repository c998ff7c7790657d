package webhook

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/pysugar/area-nexus/internal/apperr"
	"github.com/pysugar/area-nexus/internal/area"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTTPPost_JSONPayload(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	p := New(srv.Client())
	out, err := p.Reactions()[0].Run(context.Background(), area.Input{
		AreaID: "a1",
		UserID: "u1",
		Config: map[string]any{"url": srv.URL},
		Yield:  map[string]any{"subject": "hi"},
	})
	require.NoError(t, err)
	assert.Equal(t, http.StatusAccepted, out["status"])
	assert.Equal(t, "a1", got["area_id"])
	assert.Equal(t, map[string]any{"subject": "hi"}, got["yield"])
}

func TestHTTPPost_Template(t *testing.T) {
	var body string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		body = string(b)
	}))
	defer srv.Close()

	p := New(srv.Client())
	_, err := p.Reactions()[0].Run(context.Background(), area.Input{
		Config: map[string]any{"url": srv.URL, "body": "new mail: {{subject}}"},
		Yield:  map[string]any{"subject": "hi"},
	})
	require.NoError(t, err)
	assert.Equal(t, "new mail: hi", body)
}

func TestHTTPPost_Errors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()
	run := New(srv.Client()).Reactions()[0].Run

	_, err := run(context.Background(), area.Input{Config: map[string]any{"url": srv.URL}})
	assert.True(t, apperr.Is(err, apperr.KindTransientProvider))

	_, err = run(context.Background(), area.Input{Config: map[string]any{"url": "ftp://x"}})
	assert.True(t, apperr.Is(err, apperr.KindValidation))

	_, err = run(context.Background(), area.Input{})
	assert.True(t, apperr.Is(err, apperr.KindValidation))
}
