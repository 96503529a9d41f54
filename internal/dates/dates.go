// Package dates finds the invoice date in OCR text.
//
// The search runs in three passes and stops at the first pass that yields
// a valid date:
//  1. lines carrying a date keyword (and the line right after one)
//  2. every line within the scan window, earlier lines scoring higher
//  3. bare numeric triples anywhere within the scan window
//
// Candidates are scored so that any pass 1 result outranks any pass 2
// result, which outranks pass 3. Ties go to the earliest line.
package dates

import (
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/zombor/invoice-extractor/internal/textfix"
)

// Pass identifies which search pass produced a candidate
type Pass int

const (
	PassKeyword Pass = iota + 1
	PassLine
	PassBare
)

const (
	keywordPriority  = 100
	nextLinePriority = 95
	linePriorityBase = 50
	barePriority     = 10
	maxLineBonus     = 40
	defaultScanLines = 30
	defaultPivotYear = 50
	defaultMinYear   = 1900
	defaultMaxYear   = 2100
)

// Config tunes the extractor. Zero values select defaults.
type Config struct {
	// ScanLines bounds passes 2 and 3 to the first lines of the text
	ScanLines int
	// PivotYear maps two-digit years: below it to 20xx, otherwise 19xx
	PivotYear int
	// MonthFirst resolves ambiguous numeric dates as month/day instead of day/month
	MonthFirst bool
	MinYear    int
	MaxYear    int
}

// DefaultConfig returns the default extractor configuration
func DefaultConfig() Config {
	return Config{
		ScanLines: defaultScanLines,
		PivotYear: defaultPivotYear,
		MinYear:   defaultMinYear,
		MaxYear:   defaultMaxYear,
	}
}

// Candidate is a validated date found in the text
type Candidate struct {
	Date     time.Time
	Raw      string
	Line     int
	Column   int
	Priority int
	Pass     Pass
}

// Extractor finds dates in invoice text
type Extractor struct {
	cfg Config
}

// New creates an Extractor, filling unset fields from DefaultConfig
func New(cfg Config) *Extractor {
	def := DefaultConfig()
	if cfg.ScanLines <= 0 {
		cfg.ScanLines = def.ScanLines
	}
	if cfg.PivotYear <= 0 {
		cfg.PivotYear = def.PivotYear
	}
	if cfg.MinYear <= 0 {
		cfg.MinYear = def.MinYear
	}
	if cfg.MaxYear <= 0 {
		cfg.MaxYear = def.MaxYear
	}
	return &Extractor{cfg: cfg}
}

// Extract returns the date of text using the default configuration
func Extract(text string) (time.Time, bool) {
	c, ok := New(DefaultConfig()).Extract(text)
	return c.Date, ok
}

// Extract returns the best date candidate of text
func (e *Extractor) Extract(text string) (Candidate, bool) {
	lines := strings.Split(text, "\n")
	for _, pass := range []func([]string) []Candidate{e.keywordPass, e.linePass, e.barePass} {
		if c, ok := best(pass(lines)); ok {
			return c, true
		}
	}
	return Candidate{}, false
}

// Candidates returns every candidate of every pass, best first
func (e *Extractor) Candidates(text string) []Candidate {
	lines := strings.Split(text, "\n")
	var out []Candidate
	out = append(out, e.keywordPass(lines)...)
	out = append(out, e.linePass(lines)...)
	out = append(out, e.barePass(lines)...)
	sort.SliceStable(out, func(i, j int) bool { return better(out[i], out[j]) })
	return out
}

func best(cands []Candidate) (Candidate, bool) {
	if len(cands) == 0 {
		return Candidate{}, false
	}
	b := cands[0]
	for _, c := range cands[1:] {
		if better(c, b) {
			b = c
		}
	}
	return b, true
}

func better(a, b Candidate) bool {
	if a.Priority != b.Priority {
		return a.Priority > b.Priority
	}
	if a.Line != b.Line {
		return a.Line < b.Line
	}
	return a.Column < b.Column
}

var keywordPattern = regexp.MustCompile(`\b(?:date[ds]?|issued?|due|emise?|emission|echeance|facture le|fecha|emitid[oa]|emision|vencimiento|datum)\b`)

func (e *Extractor) keywordPass(lines []string) []Candidate {
	var out []Candidate
	for i, line := range lines {
		if i >= e.cfg.ScanLines {
			break
		}
		prepared := textfix.Fold(textfix.CorrectLine(line))
		if !keywordPattern.MatchString(prepared) {
			continue
		}
		found := e.match(prepared, i, keywordPriority, PassKeyword, fullPatterns)
		if len(found) == 0 && i+1 < len(lines) {
			next := textfix.Fold(textfix.CorrectLine(lines[i+1]))
			found = e.match(next, i+1, nextLinePriority, PassKeyword, fullPatterns)
		}
		out = append(out, found...)
	}
	return out
}

// looseDate spots date-shaped fragments whose digits may be look-alikes
var looseDate = regexp.MustCompile(`[0-9OoQDlIi|SsZzBGbTgq]{1,4}[/.\-][0-9OoQDlIi|SsZzBGbTgq]{1,2}[/.\-][0-9OoQDlIi|SsZzBGbTgq]{2,4}`)

func (e *Extractor) linePass(lines []string) []Candidate {
	var out []Candidate
	for i, line := range lines {
		if i >= e.cfg.ScanLines {
			break
		}
		corrected := looseDate.ReplaceAllStringFunc(textfix.CorrectLine(line), textfix.CorrectNumeric)
		priority := linePriorityBase + min(e.cfg.ScanLines-i, maxLineBonus)
		out = append(out, e.match(textfix.Fold(corrected), i, priority, PassLine, fullPatterns)...)
	}
	return out
}

func (e *Extractor) barePass(lines []string) []Candidate {
	var out []Candidate
	for i, line := range lines {
		if i >= e.cfg.ScanLines {
			break
		}
		out = append(out, e.match(textfix.Fold(line), i, barePriority, PassBare, barePatterns)...)
	}
	return out
}

type layout int

const (
	layoutYMD layout = iota
	layoutNumeric
	layoutDayMonthName
	layoutMonthNameDay
)

type pattern struct {
	re     *regexp.Regexp
	layout layout
}

var (
	fullPatterns = []pattern{
		{regexp.MustCompile(`\b(\d{4})[-/.](\d{1,2})[-/.](\d{1,2})\b`), layoutYMD},
		{regexp.MustCompile(`\b(\d{1,2})[-/.](\d{1,2})[-/.](\d{4}|\d{2})\b`), layoutNumeric},
		{regexp.MustCompile(`\b(\d{1,2})(?:er|st|nd|rd|th)?[\s.\-/]*(?:de\s+)?(` + monthAlternation + `)\.?[\s.\-/,]*(?:de\s+)?(\d{4}|\d{2})\b`), layoutDayMonthName},
		{regexp.MustCompile(`\b(` + monthAlternation + `)\.?\s+(\d{1,2})(?:st|nd|rd|th)?,?\s+(\d{4})\b`), layoutMonthNameDay},
	}
	barePatterns = []pattern{
		{regexp.MustCompile(`(\d{4})[-/. ](\d{1,2})[-/. ](\d{1,2})`), layoutYMD},
		{regexp.MustCompile(`(\d{1,2})[-/. ](\d{1,2})[-/. ](\d{4}|\d{2})`), layoutNumeric},
	}
)

func (e *Extractor) match(line string, lineNo, priority int, pass Pass, patterns []pattern) []Candidate {
	var out []Candidate
	for _, p := range patterns {
		for _, loc := range p.re.FindAllStringSubmatchIndex(line, -1) {
			groups := make([]string, 3)
			for g := range groups {
				groups[g] = line[loc[2+2*g]:loc[3+2*g]]
			}
			date, ok := e.interpret(p.layout, groups)
			if !ok {
				continue
			}
			out = append(out, Candidate{
				Date:     date,
				Raw:      line[loc[0]:loc[1]],
				Line:     lineNo,
				Column:   loc[0],
				Priority: priority,
				Pass:     pass,
			})
		}
	}
	return out
}

func (e *Extractor) interpret(l layout, g []string) (time.Time, bool) {
	switch l {
	case layoutYMD:
		y, m, d := atoi(g[0]), atoi(g[1]), atoi(g[2])
		if t, ok := e.build(y, m, d); ok {
			return t, true
		}
		return e.build(y, d, m)
	case layoutNumeric:
		return e.resolveNumeric(atoi(g[0]), atoi(g[1]), e.expandYear(g[2]))
	case layoutDayMonthName:
		m, ok := monthByName(g[1])
		if !ok {
			return time.Time{}, false
		}
		return e.build(e.expandYear(g[2]), m, atoi(g[0]))
	case layoutMonthNameDay:
		m, ok := monthByName(g[0])
		if !ok {
			return time.Time{}, false
		}
		return e.build(atoi(g[2]), m, atoi(g[1]))
	}
	return time.Time{}, false
}

// resolveNumeric picks the reading of a/b/y that forms a real date. When
// both readings are valid the configured order wins.
func (e *Extractor) resolveNumeric(a, b, y int) (time.Time, bool) {
	dayFirst, dfOK := e.build(y, b, a)
	monthFirst, mfOK := e.build(y, a, b)
	switch {
	case dfOK && mfOK:
		if e.cfg.MonthFirst {
			return monthFirst, true
		}
		return dayFirst, true
	case dfOK:
		return dayFirst, true
	case mfOK:
		return monthFirst, true
	}
	return time.Time{}, false
}

func (e *Extractor) expandYear(s string) int {
	y := atoi(s)
	if len(s) > 2 {
		return y
	}
	if y < e.cfg.PivotYear {
		return 2000 + y
	}
	return 1900 + y
}

// build returns the date only when it survives a calendar round trip
func (e *Extractor) build(y, m, d int) (time.Time, bool) {
	if y < e.cfg.MinYear || y > e.cfg.MaxYear || m < 1 || m > 12 || d < 1 || d > 31 {
		return time.Time{}, false
	}
	t := time.Date(y, time.Month(m), d, 0, 0, 0, 0, time.UTC)
	if t.Year() != y || int(t.Month()) != m || t.Day() != d {
		return time.Time{}, false
	}
	return t, true
}

func atoi(s string) int {
	n, err := strconv.Atoi(s)
	if err != nil {
		return -1
	}
	return n
}
