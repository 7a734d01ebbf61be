// Package normalize turns free legacy text into canonical lookup keys.
package normalize

import (
	"regexp"
	"strconv"
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"github.com/sells-group/crm-migrate/internal/model"
)

var (
	separatorRe = regexp.MustCompile(`[\s\p{P}\p{S}]+`)
	ordinalRe   = regexp.MustCompile(`^\s*(\d{1,3})\s*(?:[-.):–—]\s*|\s+)`)
	schemeRe    = regexp.MustCompile(`^[a-z][a-z0-9+.-]*://`)
)

// nullTexts are the placeholders legacy extracts use for missing values.
var nullTexts = map[string]bool{
	"":     true,
	"null": true,
	"nan":  true,
	"none": true,
	"n/a":  true,
}

// IsNullText reports whether s is empty or one of the legacy null placeholders.
func IsNullText(s string) bool {
	return nullTexts[strings.ToLower(strings.TrimSpace(s))]
}

// StripAccents removes combining marks after canonical decomposition, so
// "Qualifiée" becomes "Qualifiee".
func StripAccents(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		return s
	}
	return out
}

// Key returns the canonical lookup key for free text:
//  1. Strip accents
//  2. Case-fold
//  3. Replace punctuation and whitespace runs with a single space
//  4. Trim
func Key(s string) string {
	s = StripAccents(s)
	// Casers are stateful; one per call keeps Key safe for concurrent workers.
	s = cases.Fold().String(s)
	s = separatorRe.ReplaceAllString(s, " ")
	return strings.TrimSpace(s)
}

// StripOrdinal removes a leading ordinal prefix such as "01 -", "3." or "05-".
func StripOrdinal(s string) string {
	loc := ordinalRe.FindStringIndex(s)
	if loc == nil {
		return s
	}
	return s[loc[1]:]
}

// LeadingOrdinal parses the ordinal prefix of s. "01 - Identification" yields 1.
func LeadingOrdinal(s string) (int, bool) {
	m := ordinalRe.FindStringSubmatch(s)
	if m == nil {
		return 0, false
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return 0, false
	}
	return n, true
}

// StageKey is the key used for stage lookups: ordinal prefix removed, then Key.
func StageKey(s string) string {
	return Key(StripOrdinal(s))
}

// DomainKey reduces a website to a grouping key. Missing websites map to model.NoDomain.
func DomainKey(website string) string {
	if IsNullText(website) {
		return model.NoDomain
	}
	d := strings.ToLower(strings.TrimSpace(website))
	d = schemeRe.ReplaceAllString(d, "")
	d = strings.TrimPrefix(d, "www.")
	if i := strings.IndexAny(d, "/?#"); i >= 0 {
		d = d[:i]
	}
	if i := strings.LastIndex(d, ":"); i >= 0 {
		d = d[:i]
	}
	d = strings.TrimSuffix(d, ".")
	if d == "" {
		return model.NoDomain
	}
	return d
}

// Words splits s on whitespace after trimming.
func Words(s string) []string {
	return strings.Fields(strings.TrimSpace(s))
}
