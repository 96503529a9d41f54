package business

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// IDGenerator generates unique IDs for business records
type IDGenerator interface {
	Generate() string
}

// TimeSource provides the current time
type TimeSource interface {
	Now() time.Time
}

type uuidGenerator struct{}

func (g *uuidGenerator) Generate() string {
	return uuid.NewString()
}

type defaultTimeSource struct{}

func (t *defaultTimeSource) Now() time.Time {
	return time.Now()
}

// Registry is the mutation API over a Store. Every successful mutation
// rebuilds the resolver index.
type Registry struct {
	mu          sync.Mutex
	store       Store
	resolver    *Resolver
	idGenerator IDGenerator
	timeSource  TimeSource
}

// NewRegistry creates a Registry with UUID IDs and the wall clock
func NewRegistry(store Store, resolver *Resolver) *Registry {
	return &Registry{
		store:       store,
		resolver:    resolver,
		idGenerator: &uuidGenerator{},
		timeSource:  &defaultTimeSource{},
	}
}

// NewRegistryWithDeps creates a Registry with custom dependencies for testing
func NewRegistryWithDeps(store Store, resolver *Resolver, idGen IDGenerator, timeSrc TimeSource) *Registry {
	return &Registry{
		store:       store,
		resolver:    resolver,
		idGenerator: idGen,
		timeSource:  timeSrc,
	}
}

// List returns all records
func (r *Registry) List(ctx context.Context) ([]*Record, error) {
	records, err := r.store.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing businesses: %w", err)
	}
	return records, nil
}

// Get returns one record
func (r *Registry) Get(ctx context.Context, id string) (*Record, error) {
	record, err := r.store.Get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("getting business: %w", err)
	}
	return record, nil
}

// Add creates a new record. ID and timestamps are assigned here.
func (r *Registry) Add(ctx context.Context, record *Record) (*Record, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec := record.Clone()
	rec.ID = r.idGenerator.Generate()
	now := r.timeSource.Now()
	rec.CreatedAt = now
	rec.UpdatedAt = now

	if err := r.checkAndSave(ctx, rec); err != nil {
		return nil, err
	}
	slog.Info("Added business", "id", rec.ID, "canonical_name", rec.CanonicalName)
	return rec.Clone(), nil
}

// Update replaces the name, keywords and indicators of an existing record
func (r *Registry) Update(ctx context.Context, record *Record) (*Record, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	existing, err := r.store.Get(ctx, record.ID)
	if err != nil {
		return nil, fmt.Errorf("getting business: %w", err)
	}
	rec := record.Clone()
	rec.CreatedAt = existing.CreatedAt
	rec.UpdatedAt = r.timeSource.Now()

	if err := r.checkAndSave(ctx, rec); err != nil {
		return nil, err
	}
	return rec.Clone(), nil
}

// Remove deletes a record
func (r *Registry) Remove(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.store.Delete(ctx, id); err != nil {
		return fmt.Errorf("deleting business: %w", err)
	}
	slog.Info("Removed business", "id", id)
	return r.rebuild(ctx)
}

// AddKeyword appends a keyword to a record
func (r *Registry) AddKeyword(ctx context.Context, id string, kw Keyword) (*Record, error) {
	return r.modify(ctx, id, func(rec *Record) error {
		rec.Keywords = append(rec.Keywords, kw)
		return nil
	})
}

// RemoveKeyword removes the keyword with the same normalized text and tier
func (r *Registry) RemoveKeyword(ctx context.Context, id string, kw Keyword) (*Record, error) {
	return r.modify(ctx, id, func(rec *Record) error {
		key := NormalizeKeyword(kw.Text)
		for i, existing := range rec.Keywords {
			if existing.Tier == kw.Tier && NormalizeKeyword(existing.Text) == key {
				rec.Keywords = append(rec.Keywords[:i], rec.Keywords[i+1:]...)
				return nil
			}
		}
		return fmt.Errorf("%w: %q (%s)", ErrKeywordNotPresent, kw.Text, kw.Tier)
	})
}

// SetIndicators replaces the fuzzy-tier indicators of a record
func (r *Registry) SetIndicators(ctx context.Context, id string, indicators []string) (*Record, error) {
	return r.modify(ctx, id, func(rec *Record) error {
		rec.Indicators = append([]string(nil), indicators...)
		return nil
	})
}

// SetWeights validates and persists new tier weights
func (r *Registry) SetWeights(ctx context.Context, w Weights) error {
	if err := w.Validate(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.store.SaveWeights(ctx, w); err != nil {
		return fmt.Errorf("saving weights: %w", err)
	}
	return r.rebuild(ctx)
}

// Weights returns the current tier weights
func (r *Registry) Weights(ctx context.Context) (Weights, error) {
	w, err := r.store.Weights(ctx)
	if err != nil {
		return Weights{}, fmt.Errorf("loading weights: %w", err)
	}
	return w, nil
}

// Import loads a mapping. With replace set, records missing from the
// mapping are deleted. Records are matched by ID first, then by
// canonical name.
func (r *Registry) Import(ctx context.Context, m *Mapping, replace bool) (err error) {
	if m.ConfidenceWeights != nil {
		if err := m.ConfidenceWeights.Validate(); err != nil {
			return err
		}
	}

	incoming := m.Records()
	seen := make(map[string]bool, len(incoming))
	for _, rec := range incoming {
		if err := rec.Validate(); err != nil {
			return err
		}
		name := NormalizeKeyword(rec.CanonicalName)
		if seen[name] {
			return fmt.Errorf("%w: %q", ErrDuplicateName, rec.CanonicalName)
		}
		seen[name] = true
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	existing, err := r.store.List(ctx)
	if err != nil {
		return fmt.Errorf("listing businesses: %w", err)
	}
	byID := make(map[string]*Record, len(existing))
	byName := make(map[string]*Record, len(existing))
	for _, rec := range existing {
		byID[rec.ID] = rec
		byName[NormalizeKeyword(rec.CanonicalName)] = rec
	}

	now := r.timeSource.Now()
	kept := make(map[string]bool, len(incoming))
	for _, rec := range incoming {
		prev := byID[rec.ID]
		if prev == nil {
			prev = byName[NormalizeKeyword(rec.CanonicalName)]
		}
		switch {
		case prev != nil:
			rec.ID = prev.ID
			rec.CreatedAt = prev.CreatedAt
		case rec.ID == "":
			rec.ID = r.idGenerator.Generate()
			rec.CreatedAt = now
		default:
			rec.CreatedAt = now
		}
		if kept[rec.ID] {
			return fmt.Errorf("%w: %q", ErrDuplicateName, rec.CanonicalName)
		}
		kept[rec.ID] = true
		rec.UpdatedAt = now
	}

	// records left in place must not share a name with an imported one
	var stale []*Record
	for _, rec := range existing {
		if kept[rec.ID] {
			continue
		}
		if !replace && seen[NormalizeKeyword(rec.CanonicalName)] {
			return fmt.Errorf("%w: %q", ErrDuplicateName, rec.CanonicalName)
		}
		stale = append(stale, rec)
	}

	// a partial import still reaches the index
	defer func() {
		if err != nil {
			r.rebuildAfterFailure(ctx)
		}
	}()

	for _, rec := range incoming {
		if err := r.store.Save(ctx, rec); err != nil {
			return fmt.Errorf("saving business %q: %w", rec.CanonicalName, err)
		}
	}
	if replace {
		for _, rec := range stale {
			if err := r.store.Delete(ctx, rec.ID); err != nil && !errors.Is(err, ErrNotFound) {
				return fmt.Errorf("deleting business %q: %w", rec.CanonicalName, err)
			}
		}
	}

	if m.ConfidenceWeights != nil {
		if err := r.store.SaveWeights(ctx, *m.ConfidenceWeights); err != nil {
			return fmt.Errorf("saving weights: %w", err)
		}
	}

	slog.Info("Imported business mapping", "businesses", len(incoming), "replace", replace)
	return r.rebuild(ctx)
}

// Export returns the registry as a mapping
func (r *Registry) Export(ctx context.Context) (*Mapping, error) {
	records, err := r.List(ctx)
	if err != nil {
		return nil, err
	}
	w, err := r.Weights(ctx)
	if err != nil {
		return nil, err
	}
	return NewMapping(records, w), nil
}

func (r *Registry) modify(ctx context.Context, id string, change func(*Record) error) (*Record, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, err := r.store.Get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("getting business: %w", err)
	}
	if err := change(rec); err != nil {
		return nil, err
	}
	rec.UpdatedAt = r.timeSource.Now()

	if err := r.checkAndSave(ctx, rec); err != nil {
		return nil, err
	}
	return rec.Clone(), nil
}

// checkAndSave validates rec, enforces canonical name uniqueness, saves
// and rebuilds. Callers hold r.mu.
func (r *Registry) checkAndSave(ctx context.Context, rec *Record) error {
	if err := rec.Validate(); err != nil {
		return err
	}

	records, err := r.store.List(ctx)
	if err != nil {
		return fmt.Errorf("listing businesses: %w", err)
	}
	name := NormalizeKeyword(rec.CanonicalName)
	for _, other := range records {
		if other.ID != rec.ID && NormalizeKeyword(other.CanonicalName) == name {
			return fmt.Errorf("%w: %q", ErrDuplicateName, rec.CanonicalName)
		}
	}

	if err := r.store.Save(ctx, rec); err != nil {
		r.rebuildAfterFailure(ctx)
		return fmt.Errorf("saving business: %w", err)
	}
	return r.rebuild(ctx)
}

// rebuildAfterFailure resyncs the index with whatever a failed write left
// in the store
func (r *Registry) rebuildAfterFailure(ctx context.Context) {
	if err := r.rebuild(ctx); err != nil {
		slog.Error("Failed to rebuild index after a failed write", "error", err)
	}
}

func (r *Registry) rebuild(ctx context.Context) error {
	if r.resolver == nil {
		return nil
	}
	if err := r.resolver.Rebuild(ctx); err != nil {
		return fmt.Errorf("rebuilding index: %w", err)
	}
	return nil
}
