package sources

import (
	"net/url"
	"regexp"
	"strconv"
	"strings"
)

var priceValue = regexp.MustCompile(`(\d+\.?\d*)`)

// identifierPatterns match canonical product identifiers (UPC/GTIN, 12
// to 14 digits) in listing text, labelled fields, and embedded JSON.
var identifierPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)UPC[:\s]*(\d{12,14})`),
	regexp.MustCompile(`(?i)Universal Product Code[:\s]*(\d{12,14})`),
	regexp.MustCompile(`(?i)Product Code[:\s]*(\d{12,14})`),
	regexp.MustCompile(`(?i)Item Number[:\s]*(\d{12,14})`),
	regexp.MustCompile(`(?i)"upc"\s*:\s*"(\d{12,14})"`),
	regexp.MustCompile(`(?i)"gtin\d*"\s*:\s*"(\d{12,14})"`),
}

// ParsePrice extracts a price from display text such as "$1,299.99" or
// "USD 45". It returns nil when no numeric value can be recovered;
// records keep a nil price rather than a fabricated zero.
func ParsePrice(raw string) *float64 {
	cleaned := strings.NewReplacer("$", "", ",", "", "USD", "").Replace(raw)
	cleaned = strings.TrimSpace(cleaned)
	if cleaned == "" {
		return nil
	}

	match := priceValue.FindString(cleaned)
	if match == "" {
		return nil
	}
	value, err := strconv.ParseFloat(match, 64)
	if err != nil {
		return nil
	}
	return &value
}

// ExtractIdentifier scans page text for a product identifier. The first
// pattern that matches wins; an empty string means none was found.
func ExtractIdentifier(text string) string {
	if text == "" {
		return ""
	}
	for _, pattern := range identifierPatterns {
		if m := pattern.FindStringSubmatch(text); m != nil {
			return m[1]
		}
	}
	return ""
}

// ValidIdentifier reports whether s is a well-formed product identifier:
// 12 to 14 digits, nothing else.
func ValidIdentifier(s string) bool {
	if len(s) < 12 || len(s) > 14 {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// CacheKey namespaces a source-local key so identical keys from
// different sources never collide in the identifier cache.
func CacheKey(source, localKey string) string {
	return source + "/" + localKey
}

func cleanText(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func resolveURL(base *url.URL, href string) string {
	href = strings.TrimSpace(href)
	if href == "" {
		return ""
	}
	ref, err := url.Parse(href)
	if err != nil {
		return ""
	}
	if base == nil {
		return ref.String()
	}
	return base.ResolveReference(ref).String()
}
