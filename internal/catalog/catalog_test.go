package catalog

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"refpilot/internal/auth"
)

type staticTokens struct {
	err error
}

func (s staticTokens) SessionToken(context.Context) (auth.SessionToken, error) {
	if s.err != nil {
		return auth.SessionToken{}, s.err
	}
	return auth.SessionToken{Value: "tid=test", ExpiresAt: time.Now().Add(time.Hour)}, nil
}

func newTestResolver(t *testing.T, handler http.Handler) *Resolver {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	r := New(srv.Client(), staticTokens{})
	r.endpoints = []string{srv.URL + "/models", srv.URL + "/v1/models"}
	return r
}

func TestNormalizeModelList(t *testing.T) {
	tests := []struct {
		name string
		body string
		want []string
	}{
		{
			name: "bare array of strings",
			body: `["gpt-4o","gpt-4o-mini"]`,
			want: []string{"gpt-4o", "gpt-4o-mini"},
		},
		{
			name: "data wrapper with id objects",
			body: `{"data":[{"id":"gpt-4o"},{"id":"o3-mini"}]}`,
			want: []string{"gpt-4o", "o3-mini"},
		},
		{
			name: "models wrapper with mixed entries",
			body: `{"models":["gpt-4o",{"model":"gpt-4.1"},{"name":"claude"}]}`,
			want: []string{"gpt-4o", "gpt-4.1", "claude"},
		},
		{
			name: "duplicates collapsed",
			body: `["gpt-4o","gpt-4o"]`,
			want: []string{"gpt-4o"},
		},
		{
			name: "unrecognized shape",
			body: `{"ok":true}`,
			want: nil,
		},
		{
			name: "object entries without known keys skipped",
			body: `{"data":[{"foo":"bar"},{"id":"gpt-4o"}]}`,
			want: []string{"gpt-4o"},
		},
		{
			name: "not json",
			body: `<html>`,
			want: nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, normalizeModelList([]byte(tt.body)))
		})
	}
}

func TestModelsCachesWithinTTL(t *testing.T) {
	var fetches atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("/models", func(w http.ResponseWriter, r *http.Request) {
		fetches.Add(1)
		fmt.Fprint(w, `{"data":[{"id":"gpt-4o"}]}`)
	})
	r := newTestResolver(t, mux)

	require.Equal(t, []string{"gpt-4o"}, r.Models(context.Background()))
	require.Equal(t, []string{"gpt-4o"}, r.Models(context.Background()))
	assert.EqualValues(t, 1, fetches.Load(), "second call should hit the cache")

	// Age the cache past the TTL; the next call refetches.
	r.mu.Lock()
	r.fetchedAt = time.Now().Add(-TTL - time.Second)
	r.mu.Unlock()

	r.Models(context.Background())
	assert.EqualValues(t, 2, fetches.Load())
}

func TestModelsFallsThroughEndpoints(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/models", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})
	mux.HandleFunc("/v1/models", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `["gpt-4o-mini"]`)
	})
	r := newTestResolver(t, mux)

	assert.Equal(t, []string{"gpt-4o-mini"}, r.Models(context.Background()))
}

func TestModelsNeverFails(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})
	r := newTestResolver(t, mux)

	assert.Equal(t, DefaultFallback, r.Models(context.Background()),
		"total fetch failure must yield the ranked defaults")

	// Same when no session token can be obtained.
	r.tokens = staticTokens{err: auth.ErrReauthRequired}
	assert.Equal(t, DefaultFallback, r.Models(context.Background()))
}

func TestResolve(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/models", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `["a","b","c"]`)
	})
	r := newTestResolver(t, mux)
	r.fallback = []string{"b", "a"}

	assert.Equal(t, "b", r.Resolve(context.Background(), "gpt-9-fake"),
		"unknown model resolves to the best ranked fallback in the catalog")
	assert.Equal(t, "c", r.Resolve(context.Background(), "c"),
		"servable model passes through unchanged")
}

func TestResolveEmptyCatalog(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})
	r := newTestResolver(t, mux)
	r.fallback = nil

	assert.Equal(t, "anything", r.Resolve(context.Background(), "anything"),
		"with no catalog and no fallback the request passes through")
}

func TestPickFallback(t *testing.T) {
	tests := []struct {
		name      string
		ranked    []string
		available []string
		want      string
	}{
		{"first ranked match wins", []string{"b", "a"}, []string{"a", "b", "c"}, "b"},
		{"no ranked match falls to first available", []string{"x"}, []string{"a", "b"}, "a"},
		{"nothing available", []string{"x"}, nil, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, PickFallback(tt.ranked, tt.available))
		})
	}
}

func TestFallbackFor(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/models", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `["gpt-4o","gpt-4o-mini"]`)
	})
	r := newTestResolver(t, mux)

	assert.Equal(t, "gpt-4o-mini", r.FallbackFor(context.Background(), "gpt-4o"),
		"fallback must be distinct from the rejected model")
	assert.Equal(t, "gpt-4o", r.FallbackFor(context.Background(), "something-else"))
}
