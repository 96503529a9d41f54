package business

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/zombor/invoice-extractor/internal/metrics"
)

// ResolverConfig tunes business resolution
type ResolverConfig struct {
	// FuzzyThreshold is the minimum similarity for a fuzzy match, in (0, 1]
	FuzzyThreshold float64
	// CacheSize bounds the result cache; zero or less disables it
	CacheSize int
}

// DefaultResolverConfig returns the default resolver settings
func DefaultResolverConfig() ResolverConfig {
	return ResolverConfig{FuzzyThreshold: 0.8, CacheSize: 1024}
}

// Resolver maps invoice text to a known business. Resolution reads an
// immutable index snapshot, so it is safe to call while the registry
// rebuilds.
type Resolver struct {
	store   Store
	cfg     ResolverConfig
	current atomic.Pointer[index]
	cache   *resultCache
}

// NewResolver creates a Resolver with an empty index. Call Rebuild to
// load the store.
func NewResolver(store Store, cfg ResolverConfig) *Resolver {
	if cfg.FuzzyThreshold <= 0 || cfg.FuzzyThreshold > 1 {
		cfg.FuzzyThreshold = DefaultResolverConfig().FuzzyThreshold
	}
	r := &Resolver{
		store: store,
		cfg:   cfg,
		cache: newResultCache(cfg.CacheSize),
	}
	r.current.Store(buildIndex(nil, DefaultWeights(), 0))
	return r
}

// Rebuild reloads the records and weights from the store and swaps in a
// new index. Cached results from the previous index are dropped.
func (r *Resolver) Rebuild(ctx context.Context) error {
	records, err := r.store.List(ctx)
	if err != nil {
		return fmt.Errorf("listing businesses: %w", err)
	}
	weights, err := r.store.Weights(ctx)
	if err != nil {
		return fmt.Errorf("loading weights: %w", err)
	}

	next := buildIndex(records, weights, r.current.Load().generation+1)
	r.current.Store(next)
	r.cache.clear()
	metrics.ResolverRebuilds.Inc()

	slog.Debug("Rebuilt business index",
		"generation", next.generation,
		"businesses", len(records),
		"exact", len(next.exact),
		"variant", len(next.variant),
		"fuzzy", len(next.fuzzy),
	)
	return nil
}

// Resolve finds the business named in text. Tiers are tried in order:
// exact, variant, fuzzy. It returns false when nothing matches.
func (r *Resolver) Resolve(text string) (*MatchResult, bool) {
	idx := r.current.Load()
	key := cacheKey{generation: idx.generation, text: text}

	if res, ok := r.cache.get(key); ok {
		metrics.ResolverCacheLookups.WithLabelValues("hit").Inc()
		return copyResult(res)
	}
	metrics.ResolverCacheLookups.WithLabelValues("miss").Inc()

	res := idx.resolve(text, r.cfg.FuzzyThreshold)
	r.cache.put(key, res)

	if res == nil {
		metrics.ResolverMatches.WithLabelValues("none").Inc()
	} else {
		metrics.ResolverMatches.WithLabelValues(string(res.Tier)).Inc()
	}
	return copyResult(res)
}

// Generation returns the generation of the current index
func (r *Resolver) Generation() uint64 {
	return r.current.Load().generation
}

func copyResult(res *MatchResult) (*MatchResult, bool) {
	if res == nil {
		return nil, false
	}
	c := *res
	return &c, true
}
