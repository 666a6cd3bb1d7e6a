// Package phonetic normalises recognised words onto a small closed
// vocabulary using Double Metaphone codes and Jaro-Winkler similarity.
//
// Keyword recognisers on embedded robots sometimes report near misses
// ("yess", "noo") or words differing only in case. When enabled, the
// KeywordListener consults a [Matcher] for any recognised word that is not
// literally in its target set. A word is accepted when it shares a phonetic
// code with a vocabulary entry and is at least PhoneticThreshold similar, or,
// failing that, when it is at least FuzzyThreshold similar on spelling alone.
package phonetic

import (
	"strings"

	"github.com/antzucaro/matchr"
)

const (
	defaultPhoneticThreshold = 0.70
	defaultFuzzyThreshold    = 0.85
)

// Option is a functional option for configuring a [Matcher].
type Option func(*Matcher)

// WithPhoneticThreshold sets the minimum Jaro-Winkler score for a
// phonetically matching entry. Default: 0.70.
func WithPhoneticThreshold(threshold float64) Option {
	return func(m *Matcher) { m.phoneticThreshold = threshold }
}

// WithFuzzyThreshold sets the minimum Jaro-Winkler score for an entry with no
// phonetic overlap. Default: 0.85.
func WithFuzzyThreshold(threshold float64) Option {
	return func(m *Matcher) { m.fuzzyThreshold = threshold }
}

// Matcher maps words onto vocabulary entries. It is read-only after
// construction and safe for concurrent use.
type Matcher struct {
	phoneticThreshold float64
	fuzzyThreshold    float64
}

// New returns a [Matcher] configured with opts.
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

// Match returns the vocabulary entry closest to word. A case-insensitive exact
// match scores 1. Phonetic candidates always win over spelling-only ones. When
// nothing qualifies, Match returns word unchanged, 0 and false.
func (m *Matcher) Match(word string, vocabulary []string) (canonical string, confidence float64, matched bool) {
	w := strings.ToLower(strings.TrimSpace(word))
	if w == "" || len(vocabulary) == 0 {
		return word, 0, false
	}
	wCodes := codes(w)

	var (
		best         string
		bestScore    float64
		bestPhonetic bool
	)
	for _, entry := range vocabulary {
		e := strings.ToLower(strings.TrimSpace(entry))
		if e == "" {
			continue
		}
		if e == w {
			return entry, 1, true
		}

		score := matchr.JaroWinkler(w, e, false)
		if overlap(wCodes, codes(e)) {
			if score >= m.phoneticThreshold && (!bestPhonetic || score > bestScore) {
				best, bestScore, bestPhonetic = entry, score, true
			}
			continue
		}
		if !bestPhonetic && score >= m.fuzzyThreshold && score > bestScore {
			best, bestScore = entry, score
		}
	}

	if best == "" {
		return word, 0, false
	}
	return best, bestScore, true
}

// codes returns the non-empty Double Metaphone codes of w.
func codes(w string) []string {
	p, s := matchr.DoubleMetaphone(w)
	out := make([]string, 0, 2)
	if p != "" {
		out = append(out, p)
	}
	if s != "" && s != p {
		out = append(out, s)
	}
	return out
}

func overlap(a, b []string) bool {
	for _, x := range a {
		for _, y := range b {
			if x == y {
				return true
			}
		}
	}
	return false
}
