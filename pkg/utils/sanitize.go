package utils

import (
	"net/url"
	"regexp"
	"strings"
)

// SensitivePatterns contains regex patterns for sensitive data that can leak
// into log lines: bot tokens, bearer headers and credential-looking query values.
var SensitivePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)(token|secret|password|session|auth|key)\s*[:=]\s*['"]?([a-zA-Z0-9_\-+/=.]{8,})['"]?`),
	regexp.MustCompile(`(?i)(bearer\s+)([a-zA-Z0-9_\-+/=.]{20,})`),
	regexp.MustCompile(`\b\d{6,12}:[A-Za-z0-9_-]{30,}\b`), // Telegram bot tokens
	regexp.MustCompile(`(?i)(authorization:\s*bearer\s+)([a-zA-Z0-9_\-+/=.]{20,})`),
}

// sensitiveQueryKeys are URL query parameters whose values are never logged.
var sensitiveQueryKeys = []string{"token", "secret", "password", "session", "auth", "key", "sig"}

// SanitizeLog removes sensitive information from log messages.
func SanitizeLog(message string) string {
	result := message

	for _, pattern := range SensitivePatterns {
		result = pattern.ReplaceAllStringFunc(result, func(match string) string {
			// Keep the key name so the line still says what was redacted
			if i := strings.IndexAny(match, ":="); i > 0 && !strings.HasPrefix(strings.ToLower(match), "bearer") {
				if isBotToken(match) {
					return "***REDACTED***"
				}
				return match[:i+1] + "***REDACTED***"
			}
			return "***REDACTED***"
		})
	}

	return result
}

// SanitizeURL redacts the values of credential-looking query parameters.
// Unparseable input is returned unchanged.
func SanitizeURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.RawQuery == "" {
		return raw
	}
	q := u.Query()
	changed := false
	for key := range q {
		lower := strings.ToLower(key)
		for _, s := range sensitiveQueryKeys {
			if strings.Contains(lower, s) {
				q.Set(key, "REDACTED")
				changed = true
				break
			}
		}
	}
	if !changed {
		return raw
	}
	u.RawQuery = q.Encode()
	return u.String()
}

func isBotToken(s string) bool {
	i := strings.IndexByte(s, ':')
	if i < 6 || i > 12 {
		return false
	}
	for _, r := range s[:i] {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
