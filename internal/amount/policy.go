package amount

// Policy chooses the invoice total among candidates
type Policy interface {
	Select(candidates []Candidate, window Window) (Candidate, bool)
}

// KeywordPolicy prefers the strongest keyword. Ties go to the later line,
// where totals usually sit, then to the larger value.
type KeywordPolicy struct{}

// Select implements Policy
func (KeywordPolicy) Select(candidates []Candidate, window Window) (Candidate, bool) {
	var best Candidate
	found := false
	for _, c := range candidates {
		if !window.Contains(c.Value) {
			continue
		}
		if !found || c.Priority > best.Priority ||
			c.Priority == best.Priority && (c.Line > best.Line ||
				c.Line == best.Line && c.Value.GreaterThan(best.Value)) {
			best = c
			found = true
		}
	}
	return best, found
}

// LargestPolicy picks the largest in-window amount regardless of keyword
type LargestPolicy struct{}

// Select implements Policy
func (LargestPolicy) Select(candidates []Candidate, window Window) (Candidate, bool) {
	var best Candidate
	found := false
	for _, c := range candidates {
		if !window.Contains(c.Value) {
			continue
		}
		if !found || c.Value.GreaterThan(best.Value) {
			best = c
			found = true
		}
	}
	return best, found
}

// PolicyByName returns the policy registered under name
func PolicyByName(name string) (Policy, bool) {
	switch name {
	case "", "keyword":
		return KeywordPolicy{}, true
	case "largest":
		return LargestPolicy{}, true
	}
	return nil, false
}

// SelectTotal finds total candidates in text and applies policy
func SelectTotal(text string, policy Policy, window Window) (Candidate, bool) {
	if policy == nil {
		policy = KeywordPolicy{}
	}
	return policy.Select(FindTotals(text), window)
}
