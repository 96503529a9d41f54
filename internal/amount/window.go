package amount

import "github.com/shopspring/decimal"

// Window is the inclusive range of plausible invoice totals. A Window
// without Set uses the default bounds.
type Window struct {
	Min decimal.Decimal
	Max decimal.Decimal
	Set bool
}

// NewWindow returns the window from min to max inclusive
func NewWindow(min, max decimal.Decimal) Window {
	return Window{Min: min, Max: max, Set: true}
}

// DefaultWindow accepts totals between one cent and one million
func DefaultWindow() Window {
	return NewWindow(decimal.RequireFromString("0.01"), decimal.RequireFromString("1000000"))
}

// Contains reports whether d falls inside the window
func (w Window) Contains(d decimal.Decimal) bool {
	if !w.Set {
		w = DefaultWindow()
	}
	return !d.LessThan(w.Min) && !d.GreaterThan(w.Max)
}
