package business

import (
	"strings"
	"unicode/utf8"

	"github.com/agext/levenshtein"
)

// maxSplit is how many extra words an OCR split may add to a keyword
const maxSplit = 2

type entry struct {
	recordID      string
	canonical     string
	keyword       string
	key           string
	unspaced      string
	words         int
	caseSensitive bool
	order         int
}

type fuzzyTarget struct {
	keyword string
	key     string
	words   int
}

type fuzzyGroup struct {
	recordID   string
	canonical  string
	indicators []string
	targets    []fuzzyTarget
	order      int
}

// index is an immutable snapshot of the registry used for matching
type index struct {
	generation uint64
	weights    Weights
	exact      []entry
	variant    []entry
	fuzzy      []fuzzyGroup
}

func buildIndex(records []*Record, weights Weights, generation uint64) *index {
	idx := &index{generation: generation, weights: weights}
	order := 0
	for ri, r := range records {
		group := fuzzyGroup{
			recordID:  r.ID,
			canonical: r.CanonicalName,
			order:     ri,
		}
		if name := NormalizeKeyword(r.CanonicalName); name != "" {
			group.targets = append(group.targets, fuzzyTarget{
				keyword: r.CanonicalName,
				key:     name,
				words:   len(strings.Fields(name)),
			})
		}
		for _, ind := range r.Indicators {
			if n := NormalizeKeyword(ind); n != "" {
				group.indicators = append(group.indicators, n)
			}
		}

		for _, kw := range r.Keywords {
			key := NormalizeKeyword(kw.Text)
			if kw.CaseSensitive {
				key = normalizeCased(kw.Text)
			}
			if key == "" {
				continue
			}
			e := entry{
				recordID:      r.ID,
				canonical:     r.CanonicalName,
				keyword:       kw.Text,
				key:           key,
				unspaced:      Unspaced(key),
				words:         len(strings.Fields(key)),
				caseSensitive: kw.CaseSensitive,
				order:         order,
			}
			order++

			switch kw.Tier {
			case TierExact:
				idx.exact = append(idx.exact, e)
			case TierVariant:
				idx.variant = append(idx.variant, e)
			}
			if kw.Tier == TierFuzzy || kw.FuzzyMatching {
				folded := NormalizeKeyword(kw.Text)
				group.targets = append(group.targets, fuzzyTarget{
					keyword: kw.Text,
					key:     folded,
					words:   len(strings.Fields(folded)),
				})
			}
		}

		if len(group.indicators) > 0 && len(group.targets) > 0 {
			idx.fuzzy = append(idx.fuzzy, group)
		}
	}
	return idx
}

// input is text prepared for matching
type input struct {
	lines       [][]string
	casedLines  [][]string
	words       []string
	casedWords  []string
	joined      string
	casedJoined string
}

func prepareInput(text string) *input {
	in := &input{}
	var all, cased []string
	for _, line := range strings.Split(text, "\n") {
		folded := strings.Fields(NormalizeKeyword(line))
		if len(folded) == 0 {
			continue
		}
		c := strings.Fields(normalizeCased(line))
		in.lines = append(in.lines, folded)
		in.casedLines = append(in.casedLines, c)
		all = append(all, folded...)
		cased = append(cased, c...)
	}
	in.words, in.casedWords = all, cased
	in.joined = " " + strings.Join(all, " ") + " "
	in.casedJoined = " " + strings.Join(cased, " ") + " "
	return in
}

func (idx *index) resolve(text string, threshold float64) *MatchResult {
	in := prepareInput(text)
	if len(in.lines) == 0 {
		return nil
	}

	if e, ok := pickLongest(idx.exact, func(e entry) bool { return exactHit(in, e) }); ok {
		return idx.result(e.recordID, e.canonical, TierExact, e.keyword, 0)
	}
	if e, ok := pickLongest(idx.variant, func(e entry) bool { return variantHit(in, e) }); ok {
		return idx.result(e.recordID, e.canonical, TierVariant, e.keyword, 0)
	}
	return idx.resolveFuzzy(in, threshold)
}

func (idx *index) result(id, canonical string, tier Tier, keyword string, similarity float64) *MatchResult {
	return &MatchResult{
		BusinessID:    id,
		CanonicalName: canonical,
		Tier:          tier,
		Confidence:    idx.weights.For(tier),
		Keyword:       keyword,
		Similarity:    similarity,
	}
}

// pickLongest returns the hit with the longest key; ties keep the earlier entry
func pickLongest(entries []entry, hit func(entry) bool) (entry, bool) {
	var best entry
	found := false
	for _, e := range entries {
		if !hit(e) {
			continue
		}
		if !found || utf8.RuneCountInString(e.key) > utf8.RuneCountInString(best.key) {
			best = e
			found = true
		}
	}
	return best, found
}

// exactHit tests every line and every word window of a line for equality
// with the keyword, in spaced and unspaced form
func exactHit(in *input, e entry) bool {
	lines := in.lines
	if e.caseSensitive {
		lines = in.casedLines
	}
	for _, words := range lines {
		for size := 1; size <= len(words) && size <= e.words+maxSplit; size++ {
			for i := 0; i+size <= len(words); i++ {
				window := words[i : i+size]
				if size == e.words && strings.Join(window, " ") == e.key {
					return true
				}
				if strings.Join(window, "") == e.unspaced {
					return true
				}
			}
		}
	}
	return false
}

// variantHit finds the keyword inside the input on word boundaries, or
// a run of whole words that spells the keyword once spaces are dropped
func variantHit(in *input, e entry) bool {
	joined, words := in.joined, in.words
	if e.caseSensitive {
		joined, words = in.casedJoined, in.casedWords
	}
	if strings.Contains(joined, " "+e.key+" ") {
		return true
	}
	for i := range words {
		run := ""
		for j := i; j < len(words) && j-i < e.words+maxSplit; j++ {
			run += words[j]
			if run == e.unspaced {
				return true
			}
			if len(run) >= len(e.unspaced) {
				break
			}
		}
	}
	return false
}

func (idx *index) resolveFuzzy(in *input, threshold float64) *MatchResult {
	var (
		best      *MatchResult
		bestSim   float64
		bestLen   int
		bestOrder int
	)
	for _, g := range idx.fuzzy {
		if !hasIndicator(in, g.indicators) {
			continue
		}
		for _, t := range g.targets {
			sim := bestSimilarity(in, t)
			if sim < threshold {
				continue
			}
			n := utf8.RuneCountInString(t.key)
			if best == nil || sim > bestSim ||
				sim == bestSim && (n > bestLen || n == bestLen && g.order < bestOrder) {
				best = idx.result(g.recordID, g.canonical, TierFuzzy, t.keyword, sim)
				bestSim, bestLen, bestOrder = sim, n, g.order
			}
		}
	}
	return best
}

func hasIndicator(in *input, indicators []string) bool {
	for _, ind := range indicators {
		if strings.Contains(in.joined, " "+ind+" ") {
			return true
		}
	}
	return false
}

// bestSimilarity compares the target with every word window whose size
// is within one word of the target's
func bestSimilarity(in *input, t fuzzyTarget) float64 {
	best := 0.0
	for _, words := range in.lines {
		for size := max(1, t.words-1); size <= t.words+1 && size <= len(words); size++ {
			for i := 0; i+size <= len(words); i++ {
				sim := levenshtein.Similarity(strings.Join(words[i:i+size], " "), t.key, nil)
				if sim > best {
					best = sim
				}
			}
		}
	}
	return best
}
