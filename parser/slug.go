package parser

import (
	"encoding/hex"
	"net/url"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"
)

var (
	hexSlug      = regexp.MustCompile(`^[0-9a-fA-F]+$`)
	dashRun      = regexp.MustCompile(`-+`)
	separatorSet = " \t\r\n\u200c_"
)

// CleanSlug lowercases s, turns whitespace and zero-width non-joiners into
// hyphens and drops everything that is not a letter, digit or hyphen.
// Non-Latin letters are kept.
func CleanSlug(s string) string {
	s = norm.NFC.String(strings.TrimSpace(s))
	if s == "" {
		return ""
	}

	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		switch {
		case strings.ContainsRune(separatorSet, r), r == '-':
			b.WriteRune('-')
		case unicode.IsLetter(r) || unicode.IsDigit(r) || unicode.Is(unicode.Mn, r):
			b.WriteRune(unicode.ToLower(r))
		}
	}
	return strings.Trim(dashRun.ReplaceAllString(b.String(), "-"), "-")
}

// NormalizeSlug decodes percent- or hex-encoded source slugs and cleans
// them. When nothing usable remains it derives a slug from the title. An
// empty result means no slug could be derived.
func NormalizeSlug(slug, title string) string {
	if slug = strings.TrimSpace(slug); slug != "" {
		decoded := slug
		if unescaped, err := url.PathUnescape(slug); err == nil {
			decoded = unescaped
		}
		if decoded == slug && len(slug)%2 == 0 && hexSlug.MatchString(slug) {
			if raw, err := hex.DecodeString(slug); err == nil && isPrintableUTF8(raw) {
				decoded = string(raw)
			}
		}
		if cleaned := CleanSlug(decoded); cleaned != "" {
			return cleaned
		}
	}
	return CleanSlug(title)
}

// LastPathSegment returns the cleaned slug of the final non-empty path
// segment of a URL path, or an empty string.
func LastPathSegment(path string) string {
	parts := strings.FieldsFunc(path, func(r rune) bool { return r == '/' })
	if len(parts) == 0 {
		return ""
	}
	return NormalizeSlug(parts[len(parts)-1], "")
}

func isPrintableUTF8(raw []byte) bool {
	s := string(raw)
	if !utf8.ValidString(s) {
		return false
	}
	for _, r := range s {
		if !unicode.IsPrint(r) {
			return false
		}
	}
	// Hex-encoded slugs are only ever non-Latin text.
	for _, r := range s {
		if r > unicode.MaxASCII {
			return true
		}
	}
	return false
}
