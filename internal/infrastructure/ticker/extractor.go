package ticker

import (
	"regexp"
	"strings"
	"unicode"
)

var symbolPattern = regexp.MustCompile(`\b[A-Z]{1,5}\b`)

type company struct {
	Company
	whole      *regexp.Regexp
	possessive *regexp.Regexp
}

// Extractor maps a free-text question onto a ticker symbol used to narrow
// document search.
type Extractor struct {
	companies []company
	stop      map[string]struct{}
}

func NewExtractor(table Table) *Extractor {
	e := &Extractor{
		companies: make([]company, 0, len(table.Companies)),
		stop:      make(map[string]struct{}, len(table.Stoplist)),
	}
	for _, word := range table.Stoplist {
		e.stop[strings.ToUpper(word)] = struct{}{}
	}
	for _, c := range table.Companies {
		name := regexp.QuoteMeta(strings.ToLower(c.Name))
		e.companies = append(e.companies, company{
			Company:    c,
			whole:      regexp.MustCompile(`\b` + name + `\b`),
			possessive: regexp.MustCompile(`\b` + name + `['’]s?(?:[^a-z0-9_]|$)`),
		})
	}
	return e
}

// Extract returns the first explicit symbol, else the first company named in
// the question, else the first company named in possessive form.
func (e *Extractor) Extract(question string) (string, bool) {
	if strings.TrimSpace(question) == "" {
		return "", false
	}
	if symbols := e.explicitSymbols(question); len(symbols) > 0 {
		return symbols[0], true
	}

	lower := strings.ToLower(question)
	for _, c := range e.companies {
		if c.whole.MatchString(lower) {
			return c.Symbol, true
		}
	}
	for _, c := range e.companies {
		if c.possessive.MatchString(lower) {
			return c.Symbol, true
		}
	}
	return "", false
}

// ExtractAll returns every distinct symbol mentioned, explicit symbols first.
func (e *Extractor) ExtractAll(question string) []string {
	seen := make(map[string]struct{})
	var out []string
	add := func(symbol string) {
		if _, ok := seen[symbol]; ok {
			return
		}
		seen[symbol] = struct{}{}
		out = append(out, symbol)
	}

	for _, s := range e.explicitSymbols(question) {
		add(s)
	}
	lower := strings.ToLower(question)
	for _, c := range e.companies {
		if c.whole.MatchString(lower) {
			add(c.Symbol)
		}
	}
	return out
}

// Mentions reports whether the question names symbol directly or through one
// of its company names.
func (e *Extractor) Mentions(question, symbol string) bool {
	symbol = Normalize(symbol)
	if strings.TrimSpace(question) == "" || symbol == "" {
		return false
	}
	direct := regexp.MustCompile(`\b` + regexp.QuoteMeta(symbol) + `\b`)
	if direct.MatchString(strings.ToUpper(question)) {
		return true
	}
	lower := strings.ToLower(question)
	for _, c := range e.companies {
		if c.Symbol == symbol && c.whole.MatchString(lower) {
			return true
		}
	}
	return false
}

// CompanyName returns the title-cased first company mapped to symbol.
func (e *Extractor) CompanyName(symbol string) (string, bool) {
	symbol = Normalize(symbol)
	for _, c := range e.companies {
		if c.Symbol == symbol {
			return titleCase(c.Name), true
		}
	}
	return "", false
}

func (e *Extractor) explicitSymbols(question string) []string {
	var out []string
	for _, token := range symbolPattern.FindAllString(question, -1) {
		if _, stop := e.stop[token]; stop {
			continue
		}
		out = append(out, token)
	}
	return out
}

func titleCase(s string) string {
	runes := []rune(s)
	upperNext := true
	for i, r := range runes {
		if upperNext {
			runes[i] = unicode.ToUpper(r)
		}
		upperNext = !unicode.IsLetter(r)
	}
	return string(runes)
}
