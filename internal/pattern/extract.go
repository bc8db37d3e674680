package pattern

import (
	"regexp"
	"strings"
)

// maxPatternKeyLen caps the length of a generalized pattern key
const maxPatternKeyLen = 100

var (
	timestampRe = regexp.MustCompile(`\d{4}-\d{2}-\d{2}[T ]\d{2}:\d{2}:\d{2}(?:\.\d+)?(?:Z|[+-]\d{2}:?\d{2})?`)
	hexIDRe     = regexp.MustCompile(`[0-9a-fA-F]{32,}`)
	pathRe      = regexp.MustCompile(`(?:/[\w.~-]+){2,}`)
	lineColRe   = regexp.MustCompile(`:\d+:\d+`)

	// Error-class tokens like TypeError, FetchError
	errorClassRe = regexp.MustCompile(`[A-Z][a-z]+[A-Za-z]*Error`)
	// Identifier-style codes like ECONNREFUSED, ERR_MODULE_NOT_FOUND
	upperTokenRe = regexp.MustCompile(`\b[A-Z][A-Z0-9_]{3,}\b`)
)

// Log-level words and our own placeholders are never useful as keys
var skipTokens = map[string]bool{
	"ERROR":   true,
	"WARN":    true,
	"WARNING": true,
	"INFO":    true,
	"DEBUG":   true,
	"FATAL":   true,
	"TRACE":   true,
	"PATH":    true,
}

// ExtractPattern generalizes raw error text into a reusable signature.
// Volatile fragments (timestamps, long hex IDs, filesystem paths,
// :line:col suffixes) are stripped or replaced with placeholders so the
// same underlying failure maps to the same key. When the cleaned text
// contains a recognizable error-class or errno-style token, that token
// alone becomes the key, which generalizes far better than the full line.
func ExtractPattern(text string) string {
	cleaned := timestampRe.ReplaceAllString(text, "")
	cleaned = hexIDRe.ReplaceAllString(cleaned, "<ID>")
	cleaned = pathRe.ReplaceAllString(cleaned, "<PATH>")
	cleaned = lineColRe.ReplaceAllString(cleaned, "")
	cleaned = strings.Join(strings.Fields(cleaned), " ")
	cleaned = truncate(cleaned, maxPatternKeyLen)

	if tok := errorClassRe.FindString(cleaned); tok != "" {
		return tok
	}
	for _, tok := range upperTokenRe.FindAllString(cleaned, -1) {
		if !skipTokens[tok] {
			return tok
		}
	}
	return cleaned
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max])
}
