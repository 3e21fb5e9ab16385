// Package moderation screens chat messages and enforces the posting policy:
// rate limiting, prohibited-term filtering, escalating mutes and, past the
// violation limit, an IP ban.
package moderation

import "strings"

// DefaultTerms is the prohibited-term list used when none is configured.
var DefaultTerms = []string{"пример1", "пример2", "пример3", "пример4"}

// ReasonProhibitedTerm is the audit reason recorded for a term match.
const ReasonProhibitedTerm = "prohibited_term"

// Filter is a case-insensitive substring matcher over a fixed term list. It
// is stateless after construction and safe for concurrent use.
//
// Obfuscated spellings ("pr1mer") are not caught.
type Filter struct {
	terms []string
}

// NewFilter creates a Filter with DefaultTerms.
func NewFilter() *Filter {
	return NewFilterWithTerms(DefaultTerms)
}

// NewFilterWithTerms creates a Filter over terms. Terms are lower-cased and
// trimmed; empty and duplicate terms are dropped.
func NewFilterWithTerms(terms []string) *Filter {
	seen := make(map[string]struct{}, len(terms))
	f := &Filter{}
	for _, t := range terms {
		t = strings.ToLower(strings.TrimSpace(t))
		if t == "" {
			continue
		}
		if _, dup := seen[t]; dup {
			continue
		}
		seen[t] = struct{}{}
		f.terms = append(f.terms, t)
	}
	return f
}

// ContainsProhibited reports whether text contains any prohibited term.
func (f *Filter) ContainsProhibited(text string) bool {
	lower := strings.ToLower(text)
	for _, t := range f.terms {
		if strings.Contains(lower, t) {
			return true
		}
	}
	return false
}

// Terms returns a copy of the configured terms.
func (f *Filter) Terms() []string {
	out := make([]string, len(f.terms))
	copy(out, f.terms)
	return out
}
