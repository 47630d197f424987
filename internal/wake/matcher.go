// Package wake decides whether noisy speech-to-text output contains the
// assistant's invocation name, and where.
package wake

import (
	"regexp"
	"strings"

	"github.com/safetypulse/securito/internal/textnorm"
)

// DefaultVariants are the near-homophones consumer recognizers produce for
// "Securito". Collected from live transcripts.
var DefaultVariants = []string{
	"securito",
	"segurito",
	"sekurito",
	"cecurito",
	"securrito",
	"securita",
	"sekurity",
	"security",
}

// DefaultThreshold is the minimum similarity score for a fuzzy match.
const DefaultThreshold = 0.70

// wakePrefix strips a literal "securito"-like lead-in when the fuzzy scan
// finds nothing above threshold.
var wakePrefix = regexp.MustCompile(`^se[gck]?[uo]r+\w*\s*`)

// Matcher scores tokens against a fixed set of wake-phrase variants using
// edit-distance similarity over literal and consonant-skeleton forms.
type Matcher struct {
	variants  []string
	skeletons []string
	threshold float64
}

// NewMatcher creates a Matcher for the given variants. Nil variants or a
// non-positive threshold fall back to the defaults.
func NewMatcher(variants []string, threshold float64) *Matcher {
	if len(variants) == 0 {
		variants = DefaultVariants
	}
	if threshold <= 0 || threshold > 1 {
		threshold = DefaultThreshold
	}

	m := &Matcher{threshold: threshold}
	for _, v := range variants {
		n := textnorm.Normalize(v)
		if n == "" {
			continue
		}
		m.variants = append(m.variants, n)
		m.skeletons = append(m.skeletons, skeleton(n))
	}
	return m
}

// Threshold returns the configured match threshold.
func (m *Matcher) Threshold() float64 { return m.threshold }

// ScoreToken returns the maximum similarity of token against every wake
// variant, scored on both the normalized literal form and the
// consonant-skeleton form; the larger of the two wins.
func (m *Matcher) ScoreToken(token string) float64 {
	t := textnorm.Normalize(token)
	if t == "" {
		return 0
	}
	ts := skeleton(t)

	best := 0.0
	for i, v := range m.variants {
		if s := similarity(t, v); s > best {
			best = s
		}
		if s := similarity(ts, m.skeletons[i]); s > best {
			best = s
		}
	}
	return best
}

// HasWake reports whether the utterance invokes the assistant: either the
// normalized form literally contains a wake variant, or a single token or
// adjacent bigram scores at or above the threshold.
func (m *Matcher) HasWake(raw string) bool {
	n := textnorm.Normalize(raw)
	if n == "" {
		return false
	}
	for _, v := range m.variants {
		if strings.Contains(n, v) {
			return true
		}
	}
	_, _, score := m.bestSpan(strings.Fields(n))
	return score >= m.threshold
}

// StripWake removes the best-scoring wake span from the utterance and
// returns the residual text, normalized and trimmed. With no span above
// threshold it falls back to stripping a literal "securito"-like prefix,
// else returns the normalized input unchanged.
func (m *Matcher) StripWake(raw string) string {
	n := textnorm.Normalize(raw)
	if n == "" {
		return ""
	}

	tokens := strings.Fields(n)
	start, width, score := m.bestSpan(tokens)
	if score >= m.threshold {
		residual := append([]string{}, tokens[:start]...)
		residual = append(residual, tokens[start+width:]...)
		return strings.TrimSpace(strings.Join(residual, " "))
	}

	if stripped := wakePrefix.ReplaceAllString(n, ""); stripped != n {
		return strings.TrimSpace(stripped)
	}
	return n
}

// bestSpan scans single tokens and adjacent concatenated bigrams (the
// recognizer sometimes splits the name across two words) and returns the
// best-scoring span as (start index, token count, score).
func (m *Matcher) bestSpan(tokens []string) (start, width int, score float64) {
	width = 1
	for i, tok := range tokens {
		if s := m.ScoreToken(tok); s > score {
			start, width, score = i, 1, s
		}
		if i+1 < len(tokens) {
			if s := m.ScoreToken(tok + tokens[i+1]); s > score {
				start, width, score = i, 2, s
			}
		}
	}
	return start, width, score
}

// similarity is 1 - editDistance/max(len) over runes, in [0,1].
func similarity(a, b string) float64 {
	ra, rb := []rune(a), []rune(b)
	longest := len(ra)
	if len(rb) > longest {
		longest = len(rb)
	}
	if longest == 0 {
		return 0
	}
	return 1 - float64(levenshtein(ra, rb))/float64(longest)
}

// levenshtein computes classic single-character insert/delete/substitute
// edit distance with a single-row DP.
func levenshtein(a, b []rune) int {
	if len(a) == 0 {
		return len(b)
	}
	if len(b) == 0 {
		return len(a)
	}

	prev := make([]int, len(b)+1)
	curr := make([]int, len(b)+1)
	for j := range prev {
		prev[j] = j
	}

	for i := 1; i <= len(a); i++ {
		curr[0] = i
		for j := 1; j <= len(b); j++ {
			cost := 1
			if a[i-1] == b[j-1] {
				cost = 0
			}
			del := prev[j] + 1
			ins := curr[j-1] + 1
			sub := prev[j-1] + cost
			curr[j] = min(del, ins, sub)
		}
		prev, curr = curr, prev
	}
	return prev[len(b)]
}

// skeleton strips vowels and folds consonant confusions the recognizer
// makes most often: c/q/k, v/w, z/s, x -> ks, rr -> r.
func skeleton(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	var last rune
	for _, r := range s {
		switch r {
		case 'a', 'e', 'i', 'o', 'u', ' ':
			continue
		case 'c', 'q':
			r = 'k'
		case 'w':
			r = 'v'
		case 'z':
			r = 's'
		case 'x':
			if last != 'k' {
				b.WriteRune('k')
			}
			r = 's'
		}
		if r == 'r' && last == 'r' {
			continue
		}
		b.WriteRune(r)
		last = r
	}
	return b.String()
}
