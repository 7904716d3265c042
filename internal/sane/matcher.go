package sane

import "strings"

// Matcher picks a device specific value (e.g. "ADF Front") for a generic
// concept (e.g. feeder).
type Matcher struct {
	words   []string
	exclude *Matcher
}

// NewMatcher matches values equal to or containing any of words.
func NewMatcher(words ...string) Matcher {
	return Matcher{words: words}
}

// Excluding returns a copy that never matches values matched by other.
func (m Matcher) Excluding(other Matcher) Matcher {
	m.exclude = &other
	return m
}

func (m Matcher) excluded(v string) bool {
	return m.exclude != nil && m.exclude.Matches(v)
}

// Matches reports whether v names this concept.
func (m Matcher) Matches(v string) bool {
	if m.excluded(v) {
		return false
	}
	lv := strings.ToLower(v)
	for _, w := range m.words {
		if strings.Contains(lv, w) {
			return true
		}
	}
	return false
}

// Choose returns the best value from values. Exact matches win over
// substring matches; ties go to the earlier value.
func (m Matcher) Choose(values []string) (string, bool) {
	for _, v := range values {
		if m.excluded(v) {
			continue
		}
		for _, w := range m.words {
			if strings.EqualFold(v, w) {
				return v, true
			}
		}
	}
	for _, v := range values {
		if m.Matches(v) {
			return v, true
		}
	}
	return "", false
}

var (
	MatchFlatbed = NewMatcher("flatbed", "fb", "platen")
	MatchDuplex  = NewMatcher("duplex")
	MatchFeeder  = NewMatcher("feeder", "adf", "automatic document feeder").Excluding(MatchDuplex)

	MatchColor      = NewMatcher("color", "colour")
	MatchGrayscale  = NewMatcher("gray", "grayscale", "greyscale", "grey")
	MatchBlackWhite = NewMatcher("lineart", "black & white", "black and white", "binary", "halftone", "bw")
)
