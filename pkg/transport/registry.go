package transport

import (
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/codeready-toolchain/svapna/pkg/config"
)

// Registry holds one Breaker per provider id. Entries expire after
// RegistryTTL of inactivity so a long-lived process serving many short-lived
// provider ids doesn't grow the map unboundedly; a cache miss re-creates a
// fresh closed breaker, which is the safe default, so eviction is invisible
// to callers.
type Registry struct {
	cfg   *config.CircuitBreakerConfig
	mu    sync.Mutex
	cache *gocache.Cache
}

// NewRegistry builds an empty registry using cfg for every breaker it
// creates.
func NewRegistry(cfg *config.CircuitBreakerConfig) *Registry {
	ttl := cfg.RegistryTTL
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Registry{
		cfg:   cfg,
		cache: gocache.New(ttl, 10*time.Minute),
	}
}

// For returns providerID's breaker, creating one on first use and refreshing
// its TTL on every lookup.
func (r *Registry) For(providerID string) *Breaker {
	r.mu.Lock()
	defer r.mu.Unlock()
	if v, ok := r.cache.Get(providerID); ok {
		b := v.(*Breaker)
		r.cache.SetDefault(providerID, b)
		return b
	}
	b := NewBreaker(providerID, r.cfg)
	r.cache.SetDefault(providerID, b)
	return b
}
