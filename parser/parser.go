package parser

import (
	"fmt"
	"html"
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

var (
	emailPattern = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)
	spaceRun     = regexp.MustCompile(`\s+`)
	careKeywords = []string{"washing", "wash", "clean", "care", "fabric", "شستشو", "پاک", "تمیز", "جنس"}
)

// DecodeText unescapes HTML entities and trims surrounding whitespace.
func DecodeText(text string) string {
	return strings.TrimSpace(html.UnescapeString(text))
}

// StripHTML returns the visible text of an HTML fragment with whitespace
// collapsed to single spaces.
func StripHTML(fragment string) string {
	if strings.TrimSpace(fragment) == "" {
		return ""
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader("<div>" + fragment + "</div>"))
	if err != nil {
		return strings.TrimSpace(spaceRun.ReplaceAllString(html.UnescapeString(fragment), " "))
	}
	doc.Find("script,style").Remove()
	text := doc.Find("body").Text()
	return strings.TrimSpace(spaceRun.ReplaceAllString(text, " "))
}

// Truncate shortens text to at most max runes, ending with "..." when cut.
func Truncate(text string, max int) string {
	runes := []rune(text)
	if max <= 0 || len(runes) <= max {
		return text
	}
	if max <= 3 {
		return string(runes[:max])
	}
	return strings.TrimSpace(string(runes[:max-3])) + "..."
}

// ValidEmail performs the same shallow check the storefront applied.
func ValidEmail(email string) bool {
	return emailPattern.MatchString(strings.TrimSpace(email))
}

// FormatPhone normalises a phone number to international form. Numbers
// starting with a single trunk zero get countryCode prepended.
func FormatPhone(raw, countryCode string) string {
	phone := strings.Join(strings.Fields(raw), "")
	phone = strings.NewReplacer("-", "", "(", "", ")", "").Replace(phone)
	if phone == "" {
		return ""
	}
	digits := strings.TrimPrefix(phone, "+")
	if strings.HasPrefix(digits, "00") {
		digits = digits[2:]
	} else if !strings.HasPrefix(phone, "+") && strings.HasPrefix(digits, "0") && countryCode != "" {
		digits = countryCode + digits[1:]
	}
	if len(digits) < 7 || len(digits) > 15 {
		return ""
	}
	if _, err := strconv.ParseUint(digits, 10, 64); err != nil {
		return ""
	}
	return "+" + digits
}

// ParsePrice parses a decimal price string. Empty or malformed input is zero.
func ParsePrice(raw string) float64 {
	raw = strings.TrimSpace(strings.ReplaceAll(raw, ",", ""))
	if raw == "" {
		return 0
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return v
}

// ConvertPrice applies the currency multiplier and rounds to whole units.
func ConvertPrice(value float64, multiplier int) int64 {
	if multiplier <= 0 {
		multiplier = 1
	}
	return int64(math.Round(value * float64(multiplier)))
}

// IsCareInstructions reports whether a short description reads like
// washing or care instructions rather than return conditions.
func IsCareInstructions(text string) bool {
	lower := strings.ToLower(text)
	for _, kw := range careKeywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

// ExternalID renders a numeric source id as a mapping key.
func ExternalID(id int) string {
	return strconv.Itoa(id)
}

// ScopedID builds the external id used for child records, e.g. "stock_12".
func ScopedID(prefix string, id any) string {
	return fmt.Sprintf("%s_%v", prefix, id)
}
