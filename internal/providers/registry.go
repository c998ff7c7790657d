// Package providers is the directory of identity and linking providers.
// Registration happens once at composition time.
package providers

import (
	"context"
	"sort"
	"sync"
)

// Identity is the normalized profile an identity provider returns.
type Identity struct {
	Provider       string `json:"provider"`
	ProviderUserID string `json:"provider_user_id"`
	Email          string `json:"email"`
	Name           string `json:"name"`
	Picture        string `json:"picture,omitempty"`
}

// IdentityProvider can log users in. Concrete sign-in flows are exposed
// through the capability interfaces below.
type IdentityProvider interface {
	Key() string
}

// IDTokenSignIn verifies a provider-issued ID token.
type IDTokenSignIn interface {
	SignInWithIDToken(ctx context.Context, idToken string) (*Identity, error)
}

// CodeLogin is the authorization-code login flow.
type CodeLogin interface {
	BuildLoginURL(state string) (string, error)
	HandleLoginCallback(ctx context.Context, code string) (*Identity, error)
}

// LinkingProvider connects an external account to an existing user and
// hands out access tokens for it.
type LinkingProvider interface {
	Key() string
	BuildLinkURL(state string) (string, error)
	HandleLinkCallback(ctx context.Context, userID, code string) error
	RefreshAccessToken(ctx context.Context, userID string) (string, error)
	GetCurrentAccessToken(ctx context.Context, userID string) (string, error)
}

// Capability names reported by Capabilities.
const (
	CapabilityIDToken   = "id_token"
	CapabilityCodeLogin = "code_login"
	CapabilityLinking   = "linking"
)

// Registry holds identity and linking providers in two independent maps.
type Registry struct {
	mu       sync.RWMutex
	identity map[string]IdentityProvider
	linking  map[string]LinkingProvider
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		identity: make(map[string]IdentityProvider),
		linking:  make(map[string]LinkingProvider),
	}
}

// RegisterIdentity adds an identity provider. A second registration for the
// same key replaces the first.
func (r *Registry) RegisterIdentity(p IdentityProvider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.identity[p.Key()] = p
}

// RegisterLinking adds a linking provider.
func (r *Registry) RegisterLinking(p LinkingProvider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.linking[p.Key()] = p
}

// Identity resolves an identity provider.
func (r *Registry) Identity(key string) (IdentityProvider, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.identity[key]
	return p, ok
}

// Linking resolves a linking provider.
func (r *Registry) Linking(key string) (LinkingProvider, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.linking[key]
	return p, ok
}

// ListProviders returns the sorted union of identity and linking keys.
func (r *Registry) ListProviders() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	seen := make(map[string]struct{}, len(r.identity)+len(r.linking))
	for k := range r.identity {
		seen[k] = struct{}{}
	}
	for k := range r.linking {
		seen[k] = struct{}{}
	}
	keys := make([]string, 0, len(seen))
	for k := range seen {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Capabilities lists what the provider behind key can do.
func (r *Registry) Capabilities(key string) []string {
	var caps []string
	if r.SupportsIDTokenSignIn(key) {
		caps = append(caps, CapabilityIDToken)
	}
	if r.SupportsCodeLogin(key) {
		caps = append(caps, CapabilityCodeLogin)
	}
	if _, ok := r.Linking(key); ok {
		caps = append(caps, CapabilityLinking)
	}
	return caps
}

// SupportsIDTokenSignIn reports whether key's identity provider verifies ID tokens.
func (r *Registry) SupportsIDTokenSignIn(key string) bool {
	p, ok := r.Identity(key)
	if !ok {
		return false
	}
	_, ok = p.(IDTokenSignIn)
	return ok
}

// SupportsCodeLogin reports whether key's identity provider runs the code flow.
func (r *Registry) SupportsCodeLogin(key string) bool {
	p, ok := r.Identity(key)
	if !ok {
		return false
	}
	_, ok = p.(CodeLogin)
	return ok
}

// ProviderInfo describes a registered provider for listings.
type ProviderInfo struct {
	Key          string   `json:"key"`
	Capabilities []string `json:"capabilities"`
}

// Describe returns every provider with its capabilities, sorted by key.
func (r *Registry) Describe() []ProviderInfo {
	keys := r.ListProviders()
	out := make([]ProviderInfo, 0, len(keys))
	for _, k := range keys {
		out = append(out, ProviderInfo{Key: k, Capabilities: r.Capabilities(k)})
	}
	return out
}
