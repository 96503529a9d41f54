package business

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// Mapping is the interchange format for the business registry
type Mapping struct {
	Businesses        []MappingBusiness `json:"businesses"`
	ConfidenceWeights *Weights          `json:"confidence_weights,omitempty"`
}

// MappingBusiness is one business in a Mapping
type MappingBusiness struct {
	ID            string           `json:"id,omitempty"`
	CanonicalName string           `json:"canonical_name"`
	Keywords      []MappingKeyword `json:"keywords"`
	Indicators    []string         `json:"indicators,omitempty"`
}

// MappingKeyword is one keyword in a Mapping
type MappingKeyword struct {
	Keyword       string `json:"keyword"`
	MatchType     Tier   `json:"match_type"`
	CaseSensitive bool   `json:"case_sensitive"`
	FuzzyMatching bool   `json:"fuzzy_matching"`
}

const mappingSchema = `{
	"$schema": "http://json-schema.org/draft-07/schema#",
	"type": "object",
	"required": ["businesses"],
	"properties": {
		"businesses": {
			"type": "array",
			"items": {
				"type": "object",
				"required": ["canonical_name", "keywords"],
				"properties": {
					"id": {"type": "string"},
					"canonical_name": {"type": "string", "minLength": 1},
					"keywords": {
						"type": "array",
						"items": {
							"type": "object",
							"required": ["keyword", "match_type"],
							"properties": {
								"keyword": {"type": "string", "minLength": 1},
								"match_type": {"enum": ["exact", "variant", "fuzzy"]},
								"case_sensitive": {"type": "boolean"},
								"fuzzy_matching": {"type": "boolean"}
							}
						}
					},
					"indicators": {"type": "array", "items": {"type": "string"}}
				}
			}
		},
		"confidence_weights": {
			"type": "object",
			"required": ["exact_match", "variant_match", "fuzzy_match"],
			"properties": {
				"exact_match": {"type": "number", "exclusiveMinimum": 0, "maximum": 1},
				"variant_match": {"type": "number", "exclusiveMinimum": 0, "maximum": 1},
				"fuzzy_match": {"type": "number", "exclusiveMinimum": 0, "maximum": 1}
			}
		}
	}
}`

var compiledMappingSchema = jsonschema.MustCompileString("mapping.schema.json", mappingSchema)

// ValidateMapping checks raw JSON against the mapping schema
func ValidateMapping(raw []byte) error {
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return fmt.Errorf("%w: parsing mapping: %v", ErrInvalidRecord, err)
	}
	if err := compiledMappingSchema.Validate(doc); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidRecord, err)
	}
	return nil
}

// ParseMapping validates and decodes a mapping document
func ParseMapping(raw []byte) (*Mapping, error) {
	if err := ValidateMapping(raw); err != nil {
		return nil, err
	}
	var m Mapping
	dec := json.NewDecoder(bytes.NewReader(raw))
	if err := dec.Decode(&m); err != nil {
		return nil, fmt.Errorf("decoding mapping: %w", err)
	}
	if m.ConfidenceWeights != nil {
		if err := m.ConfidenceWeights.Validate(); err != nil {
			return nil, err
		}
	}
	return &m, nil
}

// LoadMappingFile reads and validates a mapping file
func LoadMappingFile(path string) (*Mapping, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading mapping: %w", err)
	}
	return ParseMapping(raw)
}

// WriteMappingFile writes m as indented JSON
func WriteMappingFile(path string, m *Mapping) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling mapping: %w", err)
	}
	if err := os.WriteFile(path, append(data, '\n'), 0644); err != nil {
		return fmt.Errorf("writing mapping: %w", err)
	}
	return nil
}

// Records converts the mapping entries into records. IDs and timestamps
// are left for the registry to fill.
func (m *Mapping) Records() []*Record {
	out := make([]*Record, 0, len(m.Businesses))
	for _, b := range m.Businesses {
		r := &Record{
			ID:            strings.TrimSpace(b.ID),
			CanonicalName: strings.TrimSpace(b.CanonicalName),
			Indicators:    append([]string(nil), b.Indicators...),
			Keywords:      make([]Keyword, 0, len(b.Keywords)),
		}
		for _, kw := range b.Keywords {
			r.Keywords = append(r.Keywords, Keyword{
				Text:          kw.Keyword,
				Tier:          kw.MatchType,
				CaseSensitive: kw.CaseSensitive,
				FuzzyMatching: kw.FuzzyMatching,
			})
		}
		out = append(out, r)
	}
	return out
}

// NewMapping builds a mapping from records and weights
func NewMapping(records []*Record, w Weights) *Mapping {
	m := &Mapping{
		Businesses:        make([]MappingBusiness, 0, len(records)),
		ConfidenceWeights: &w,
	}
	for _, r := range records {
		b := MappingBusiness{
			ID:            r.ID,
			CanonicalName: r.CanonicalName,
			Indicators:    r.Indicators,
			Keywords:      make([]MappingKeyword, 0, len(r.Keywords)),
		}
		for _, kw := range r.Keywords {
			b.Keywords = append(b.Keywords, MappingKeyword{
				Keyword:       kw.Text,
				MatchType:     kw.Tier,
				CaseSensitive: kw.CaseSensitive,
				FuzzyMatching: kw.FuzzyMatching,
			})
		}
		m.Businesses = append(m.Businesses, b)
	}
	return m
}
