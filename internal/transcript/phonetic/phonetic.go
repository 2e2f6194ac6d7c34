// Package phonetic matches misheard phrases against a user vocabulary using
// Double Metaphone encoding and Jaro-Winkler similarity.
//
// A phrase is a phonetic candidate for a term when the codes of its first
// word overlap the codes of the term's first word. Among candidates the term
// with the highest Jaro-Winkler score wins, provided it reaches the phonetic
// threshold. Without any phonetic candidate, a term may still match on pure
// similarity above the stricter fuzzy threshold.
//
// Scores compare the whole phrase and its space-stripped form, so "elder
// nacks" can match "Eldrinax". Phrases whose letter count differs too much
// from the term are never matched.
package phonetic

import (
	"strings"

	"github.com/antzucaro/matchr"
)

const (
	defaultPhoneticThreshold = 0.70
	defaultFuzzyThreshold    = 0.85

	// minLengthRatio is the smallest shorter/longer letter-count ratio of
	// phrase and term that is considered at all.
	minLengthRatio = 0.7
)

// Option configures a Matcher.
type Option func(*Matcher)

// WithPhoneticThreshold sets the minimum score for a phonetic candidate.
// Default: 0.70.
func WithPhoneticThreshold(threshold float64) Option {
	return func(m *Matcher) {
		m.phoneticThreshold = threshold
	}
}

// WithFuzzyThreshold sets the minimum score for a match without phonetic
// overlap. Default: 0.85.
func WithFuzzyThreshold(threshold float64) Option {
	return func(m *Matcher) {
		m.fuzzyThreshold = threshold
	}
}

// Matcher scores phrases against a Vocabulary. It is read-only after New
// and safe for concurrent use.
type Matcher struct {
	phoneticThreshold float64
	fuzzyThreshold    float64
}

// New returns a Matcher with the default thresholds.
func New(opts ...Option) *Matcher {
	m := &Matcher{
		phoneticThreshold: defaultPhoneticThreshold,
		fuzzyThreshold:    defaultFuzzyThreshold,
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

type term struct {
	text       string
	lower      string
	concat     string
	words      int
	firstCodes map[string]struct{}
}

// Vocabulary is a precomputed list of terms. It is immutable and safe for
// concurrent use.
type Vocabulary struct {
	terms    []term
	maxWords int
}

// NewVocabulary encodes terms once. Blank terms are skipped.
func NewVocabulary(terms []string) *Vocabulary {
	v := &Vocabulary{}
	for _, t := range terms {
		lower := strings.ToLower(strings.TrimSpace(t))
		tokens := strings.Fields(lower)
		if len(tokens) == 0 {
			continue
		}
		v.terms = append(v.terms, term{
			text:       strings.TrimSpace(t),
			lower:      strings.Join(tokens, " "),
			concat:     strings.Join(tokens, ""),
			words:      len(tokens),
			firstCodes: codes(tokens[0]),
		})
		v.maxWords = max(v.maxWords, len(tokens))
	}
	return v
}

// Len returns the number of terms.
func (v *Vocabulary) Len() int { return len(v.terms) }

// MaxWords returns the word count of the longest term, or 0 when empty.
func (v *Vocabulary) MaxWords() int { return v.maxWords }

// Match returns the vocabulary term closest to phrase. When nothing
// matches, it returns phrase unchanged with score 0 and ok false.
func (m *Matcher) Match(phrase string, v *Vocabulary) (match string, score float64, ok bool) {
	tokens := strings.Fields(strings.ToLower(phrase))
	if v == nil || len(v.terms) == 0 || len(tokens) == 0 {
		return phrase, 0, false
	}
	full := strings.Join(tokens, " ")
	concat := strings.Join(tokens, "")
	first := codes(tokens[0])

	var (
		best         string
		bestScore    float64
		bestPhonetic bool
	)
	for _, t := range v.terms {
		if !comparableLength(concat, t.concat) {
			continue
		}
		s := matchr.JaroWinkler(full, t.lower, false)
		if len(tokens) > 1 || t.words > 1 {
			s = max(s, matchr.JaroWinkler(concat, t.concat, false))
		}

		if overlaps(first, t.firstCodes) {
			if s >= m.phoneticThreshold && (!bestPhonetic || s > bestScore) {
				best, bestScore, bestPhonetic = t.text, s, true
			}
		} else if !bestPhonetic && s >= m.fuzzyThreshold && s > bestScore {
			best, bestScore = t.text, s
		}
	}
	if best == "" {
		return phrase, 0, false
	}
	return best, bestScore, true
}

func comparableLength(a, b string) bool {
	la, lb := len([]rune(a)), len([]rune(b))
	if la == 0 || lb == 0 {
		return false
	}
	if la > lb {
		la, lb = lb, la
	}
	return float64(la)/float64(lb) >= minLengthRatio
}

// codes returns the non-empty Double Metaphone codes of word.
func codes(word string) map[string]struct{} {
	out := make(map[string]struct{}, 2)
	p, s := matchr.DoubleMetaphone(word)
	if p != "" {
		out[p] = struct{}{}
	}
	if s != "" {
		out[s] = struct{}{}
	}
	return out
}

func overlaps(a, b map[string]struct{}) bool {
	if len(a) > len(b) {
		a, b = b, a
	}
	for c := range a {
		if _, ok := b[c]; ok {
			return true
		}
	}
	return false
}
