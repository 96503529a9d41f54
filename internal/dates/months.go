package dates

import (
	"sort"
	"strings"
)

// months maps folded English, French and Spanish month names and their
// usual abbreviations to month numbers
var months = map[string]int{
	"january": 1, "jan": 1, "janvier": 1, "janv": 1, "enero": 1, "ene": 1,
	"february": 2, "feb": 2, "fevrier": 2, "fevr": 2, "fev": 2, "febrero": 2,
	"march": 3, "mar": 3, "mars": 3, "marzo": 3,
	"april": 4, "apr": 4, "avril": 4, "avr": 4, "abril": 4, "abr": 4,
	"may": 5, "mai": 5, "mayo": 5,
	"june": 6, "jun": 6, "juin": 6, "junio": 6,
	"july": 7, "jul": 7, "juillet": 7, "juil": 7, "julio": 7,
	"august": 8, "aug": 8, "aout": 8, "agosto": 8, "ago": 8,
	"september": 9, "sep": 9, "sept": 9, "septembre": 9, "septiembre": 9, "setiembre": 9,
	"october": 10, "oct": 10, "octobre": 10, "octubre": 10,
	"november": 11, "nov": 11, "novembre": 11, "noviembre": 11,
	"december": 12, "dec": 12, "decembre": 12, "diciembre": 12, "dic": 12,
}

func monthByName(name string) (int, bool) {
	m, ok := months[name]
	return m, ok
}

// monthAlternation is a regexp alternation of every month name, longest
// first so "mars" wins over "mar"
var monthAlternation = func() string {
	names := make([]string, 0, len(months))
	for name := range months {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool {
		if len(names[i]) != len(names[j]) {
			return len(names[i]) > len(names[j])
		}
		return names[i] < names[j]
	})
	return strings.Join(names, "|")
}()
