// Package catalog resolves requested model identifiers against the set
// of models the provider currently serves. The servable list is fetched
// from the provider and cached briefly; when it cannot be fetched at
// all, a fixed ranked default list keeps the system functioning.
package catalog

import (
	"context"
	"io"
	"net/http"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"

	"refpilot/internal/auth"
)

// TTL is how long a fetched catalog stays fresh.
const TTL = 5 * time.Minute

// DefaultEndpoints are the known catalog URLs, tried in order until one
// returns a well-formed list.
var DefaultEndpoints = []string{
	"https://api.githubcopilot.com/models",
	"https://api.githubcopilot.com/v1/models",
}

// DefaultFallback is the ranked substitute list used when a requested
// model is not servable or the catalog is unreachable.
var DefaultFallback = []string{"gpt-4o", "gpt-4o-mini", "gpt-4.1", "o3-mini"}

// Doer is the HTTP capability the resolver needs.
type Doer interface {
	Do(*http.Request) (*http.Response, error)
}

// TokenSource supplies the session token catalog requests authenticate
// with.
type TokenSource interface {
	SessionToken(ctx context.Context) (auth.SessionToken, error)
}

// Resolver fetches, caches, and resolves against the model catalog.
// Safe for concurrent use; redundant concurrent refreshes overwrite
// each other with equivalent data.
type Resolver struct {
	client    Doer
	tokens    TokenSource
	endpoints []string
	fallback  []string
	ttl       time.Duration
	now       func() time.Time

	mu        sync.Mutex
	cached    []string
	fetchedAt time.Time
}

// New creates a resolver against the production catalog endpoints.
func New(client Doer, tokens TokenSource) *Resolver {
	return &Resolver{
		client:    client,
		tokens:    tokens,
		endpoints: DefaultEndpoints,
		fallback:  DefaultFallback,
		ttl:       TTL,
		now:       time.Now,
	}
}

// Models returns the current catalog, from cache when fetched within
// the TTL. It never fails: when every endpoint is unreachable or
// malformed, the ranked default list is returned instead.
func (r *Resolver) Models(ctx context.Context) []string {
	r.mu.Lock()
	if r.cached != nil && r.now().Sub(r.fetchedAt) < r.ttl {
		cached := append([]string(nil), r.cached...)
		r.mu.Unlock()
		return cached
	}
	r.mu.Unlock()

	ids := r.fetch(ctx)
	if len(ids) == 0 {
		log.Debugf("catalog: no endpoint returned a model list, using ranked defaults")
		return append([]string(nil), r.fallback...)
	}

	r.mu.Lock()
	r.cached = ids
	r.fetchedAt = r.now()
	r.mu.Unlock()

	return append([]string(nil), ids...)
}

// Resolve maps a requested model to one the provider will accept: the
// request itself when servable, else the best ranked fallback present
// in the catalog, else the first catalog entry, else the request
// unchanged when the catalog is empty.
func (r *Resolver) Resolve(ctx context.Context, requested string) string {
	available := r.Models(ctx)
	if contains(available, requested) {
		return requested
	}
	if fb := PickFallback(r.fallback, available); fb != "" {
		log.Debugf("catalog: model %q not servable, substituting %q", requested, fb)
		return fb
	}
	return requested
}

// FallbackFor picks a servable model distinct from the one that was
// just rejected, for the single retry after a model-rejection error.
// Returns "" when no distinct candidate exists.
func (r *Resolver) FallbackFor(ctx context.Context, rejected string) string {
	available := r.Models(ctx)
	for _, id := range r.fallback {
		if id != rejected && contains(available, id) {
			return id
		}
	}
	for _, id := range available {
		if id != rejected {
			return id
		}
	}
	return ""
}

// PickFallback returns the first ranked entry present in available,
// else the first available entry, else "".
func PickFallback(ranked, available []string) string {
	for _, id := range ranked {
		if contains(available, id) {
			return id
		}
	}
	if len(available) > 0 {
		return available[0]
	}
	return ""
}

// fetch tries each catalog endpoint in order and returns the first
// well-formed list.
func (r *Resolver) fetch(ctx context.Context) []string {
	token, err := r.tokens.SessionToken(ctx)
	if err != nil {
		log.Debugf("catalog: no session token for catalog fetch: %v", err)
		return nil
	}

	for _, endpoint := range r.endpoints {
		ids := r.fetchOne(ctx, endpoint, token.Value)
		if len(ids) > 0 {
			return ids
		}
	}
	return nil
}

func (r *Resolver) fetchOne(ctx context.Context, endpoint, token string) []string {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Copilot-Integration-Id", "vscode-chat")

	resp, err := r.client.Do(req)
	if err != nil {
		log.Debugf("catalog: fetch %s failed: %v", endpoint, err)
		return nil
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		log.Debugf("catalog: fetch %s returned status %d", endpoint, resp.StatusCode)
		return nil
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil
	}
	return normalizeModelList(body)
}

// normalizeModelList flattens the response shapes seen across catalog
// endpoints: a bare array, {"data":[...]}, or {"models":[...]}, with
// entries as strings or objects keyed by id, model, or name.
func normalizeModelList(body []byte) []string {
	root := gjson.ParseBytes(body)

	list := root
	if !root.IsArray() {
		switch {
		case root.Get("data").IsArray():
			list = root.Get("data")
		case root.Get("models").IsArray():
			list = root.Get("models")
		default:
			return nil
		}
	}

	var ids []string
	seen := make(map[string]bool)
	list.ForEach(func(_, entry gjson.Result) bool {
		var id string
		if entry.IsObject() {
			for _, key := range []string{"id", "model", "name"} {
				if v := entry.Get(key).String(); v != "" {
					id = v
					break
				}
			}
		} else if entry.Type == gjson.String {
			id = entry.String()
		}
		if id != "" && !seen[id] {
			seen[id] = true
			ids = append(ids, id)
		}
		return true
	})
	return ids
}

func contains(list []string, id string) bool {
	for _, entry := range list {
		if entry == id {
			return true
		}
	}
	return false
}
