package logger

import (
	"regexp"
	"strings"
)

// sensitiveDataPatterns match credentials that must never reach log output.
// Group 1 is kept, the remainder is replaced.
var sensitiveDataPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)(bearer\s+)([A-Za-z0-9\-._~+/]+=*)`),
	regexp.MustCompile(`(eyJ[a-zA-Z0-9_-]{5,}\.eyJ[a-zA-Z0-9_-]{5,})\.[a-zA-Z0-9_-]{5,}`),
	regexp.MustCompile(`(?i)((?:api[_-]?key|access[_-]?token|secret|passw(?:or)?d)[\s:=]+)([^;,\s]{5,})`),
	regexp.MustCompile(`(?i)(://[^:/\s]+:)([^@\s]+)(@)`),
}

// RedactSensitiveData replaces bearer tokens, JWT signatures, secrets and
// URL passwords with "[REDACTED]".
func RedactSensitiveData(input string) string {
	if input == "" || !mayContainSecret(input) {
		return input
	}

	for i, pattern := range sensitiveDataPatterns {
		if i == len(sensitiveDataPatterns)-1 {
			input = pattern.ReplaceAllString(input, "$1[REDACTED]$3")
			continue
		}
		input = pattern.ReplaceAllString(input, "$1[REDACTED]")
	}

	return input
}

// mayContainSecret is a cheap pre-filter so ordinary values skip the regexes.
func mayContainSecret(s string) bool {
	lower := strings.ToLower(s)
	return strings.Contains(lower, "bearer") ||
		strings.Contains(s, "eyJ") ||
		strings.Contains(lower, "key") ||
		strings.Contains(lower, "token") ||
		strings.Contains(lower, "secret") ||
		strings.Contains(lower, "pass") ||
		strings.Contains(s, "@")
}
