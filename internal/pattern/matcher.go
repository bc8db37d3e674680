package pattern

import (
	"regexp"
	"strings"
)

// matcher applies one signature to text. The pattern string is tried as
// a case-insensitive regex first; if it does not compile it degrades to
// case-insensitive substring containment.
type matcher struct {
	re     *regexp.Regexp
	substr string
}

func newMatcher(pattern string) *matcher {
	re, err := regexp.Compile("(?i)" + pattern)
	if err != nil {
		return &matcher{substr: strings.ToLower(pattern)}
	}
	return &matcher{re: re}
}

func (m *matcher) matches(text string) bool {
	if m.re != nil {
		return m.re.MatchString(text)
	}
	return strings.Contains(strings.ToLower(text), m.substr)
}

// isRegex reports whether the signature compiled as a regex
func (m *matcher) isRegex() bool {
	return m.re != nil
}
