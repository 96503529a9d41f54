// Package business resolves the issuing company of an invoice against a
// registry of known businesses and their keywords.
package business

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	ErrNotFound          = errors.New("business not found")
	ErrDuplicateName     = errors.New("duplicate canonical name")
	ErrDuplicateKeyword  = errors.New("duplicate keyword")
	ErrInvalidRecord     = errors.New("invalid business record")
	ErrInvalidWeights    = errors.New("invalid confidence weights")
	ErrKeywordNotPresent = errors.New("keyword not present")
)

// Tier is a keyword matching tier, from most to least specific
type Tier string

const (
	TierExact   Tier = "exact"
	TierVariant Tier = "variant"
	TierFuzzy   Tier = "fuzzy"
)

// ParseTier converts a tier name into a Tier
func ParseTier(s string) (Tier, error) {
	switch t := Tier(strings.ToLower(strings.TrimSpace(s))); t {
	case TierExact, TierVariant, TierFuzzy:
		return t, nil
	}
	return "", fmt.Errorf("%w: unknown tier %q", ErrInvalidRecord, s)
}

// Keyword is a string that identifies a business at a given tier
type Keyword struct {
	Text          string `json:"text"`
	Tier          Tier   `json:"tier"`
	CaseSensitive bool   `json:"case_sensitive,omitempty"`
	FuzzyMatching bool   `json:"fuzzy_matching,omitempty"`
}

// Record is a known business
type Record struct {
	ID            string    `json:"id"`
	CanonicalName string    `json:"canonical_name"`
	Keywords      []Keyword `json:"keywords"`
	Indicators    []string  `json:"indicators,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// Validate checks the record on its own. Cross-record uniqueness is the
// registry's concern.
func (r *Record) Validate() error {
	if strings.TrimSpace(r.CanonicalName) == "" {
		return fmt.Errorf("%w: canonical name is required", ErrInvalidRecord)
	}
	if NormalizeKeyword(r.CanonicalName) == "" {
		return fmt.Errorf("%w: canonical name %q has no letters or digits", ErrInvalidRecord, r.CanonicalName)
	}

	seen := make(map[string]bool, len(r.Keywords))
	for _, kw := range r.Keywords {
		if _, err := ParseTier(string(kw.Tier)); err != nil {
			return err
		}
		key := NormalizeKeyword(kw.Text)
		if key == "" {
			return fmt.Errorf("%w: empty keyword", ErrInvalidRecord)
		}
		k := string(kw.Tier) + "\x00" + key
		if seen[k] {
			return fmt.Errorf("%w: %q (%s) on %q", ErrDuplicateKeyword, kw.Text, kw.Tier, r.CanonicalName)
		}
		seen[k] = true
	}
	return nil
}

// Clone returns a deep copy of r
func (r *Record) Clone() *Record {
	c := *r
	c.Keywords = append([]Keyword(nil), r.Keywords...)
	c.Indicators = append([]string(nil), r.Indicators...)
	return &c
}

// Weights are the fixed confidences reported for each tier
type Weights struct {
	Exact   float64 `json:"exact_match"`
	Variant float64 `json:"variant_match"`
	Fuzzy   float64 `json:"fuzzy_match"`
}

// DefaultWeights returns the default tier confidences
func DefaultWeights() Weights {
	return Weights{Exact: 1.0, Variant: 0.8, Fuzzy: 0.6}
}

// Validate enforces 1 >= Exact > Variant > Fuzzy > 0
func (w Weights) Validate() error {
	if !(w.Exact <= 1 && w.Exact > w.Variant && w.Variant > w.Fuzzy && w.Fuzzy > 0) {
		return fmt.Errorf("%w: want 1 >= exact > variant > fuzzy > 0, got %.2f/%.2f/%.2f",
			ErrInvalidWeights, w.Exact, w.Variant, w.Fuzzy)
	}
	return nil
}

// For returns the weight of tier t
func (w Weights) For(t Tier) float64 {
	switch t {
	case TierExact:
		return w.Exact
	case TierVariant:
		return w.Variant
	case TierFuzzy:
		return w.Fuzzy
	}
	return 0
}

// MatchResult describes how a business was recognized
type MatchResult struct {
	BusinessID    string  `json:"business_id"`
	CanonicalName string  `json:"canonical_name"`
	Tier          Tier    `json:"tier"`
	Confidence    float64 `json:"confidence"`
	Keyword       string  `json:"keyword"`
	Similarity    float64 `json:"similarity,omitempty"`
}
