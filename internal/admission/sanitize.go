package admission

import "regexp"

// Script-injection vectors stripped from every string field before a body is
// forwarded. This is defense in depth, not a parser: offending substrings
// are rewritten to empty and the request is never rejected for containing
// them.
var injectionPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)<\s*script`),
	regexp.MustCompile(`(?i)<\s*/\s*script`),
	regexp.MustCompile(`(?i)<\s*iframe`),
	regexp.MustCompile(`(?i)javascript:`),
	regexp.MustCompile(`(?i)vbscript:`),
	regexp.MustCompile(`(?i)data:text/html`),
	regexp.MustCompile(`(?i)\bon(?:error|load|click|mouseover|mouseout|focus|blur|submit|input|change)\s*=`),
}

// SanitizeString strips known injection vectors from a single string.
func SanitizeString(s string) string {
	for _, pattern := range injectionPatterns {
		s = pattern.ReplaceAllString(s, "")
	}
	return s
}

// SanitizeValue walks a decoded JSON value and sanitizes every string in it,
// including object keys.
func SanitizeValue(v any) any {
	switch value := v.(type) {
	case string:
		return SanitizeString(value)
	case []any:
		for i, item := range value {
			value[i] = SanitizeValue(item)
		}
		return value
	case map[string]any:
		sanitized := make(map[string]any, len(value))
		for k, item := range value {
			sanitized[SanitizeString(k)] = SanitizeValue(item)
		}
		return sanitized
	default:
		return v
	}
}
