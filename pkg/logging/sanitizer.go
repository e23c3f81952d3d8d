package logging

import (
	"regexp"
)

const (
	// MaxQueryLogLength is the default length generated SQL is cut to in logs.
	MaxQueryLogLength = 100
	// RedactedText is the replacement text for sensitive data
	RedactedText = "[REDACTED]"
)

var (
	// Matches: password=xxx, pwd=xxx, pass=xxx (until next delimiter)
	passwordPattern = regexp.MustCompile(`(?i)(password|pwd|pass)=[^;&\s]+`)

	// Bearer tokens, including license JWTs echoed in errors.
	jwtPattern = regexp.MustCompile(`Bearer\s+[A-Za-z0-9-_]+\.[A-Za-z0-9-_]+\.[A-Za-z0-9-_]*`)

	// LLM provider keys: key=..., and sk-/sk-ant- style tokens.
	apiKeyPattern    = regexp.MustCompile(`(?i)(api[_-]?key|apikey|key)=[A-Za-z0-9-_]{20,}`)
	bareSecretKeyPat = regexp.MustCompile(`\bsk-[A-Za-z0-9-_]{16,}`)

	// user:pass@host format
	connStringPattern = regexp.MustCompile(`://[^:]+:[^@]+@[^/\s]+`)

	// Single-quoted SQL literals; doubled quotes stay inside the literal.
	sqlLiteralPattern = regexp.MustCompile(`'(?:[^']|'')*'`)
)

// SanitizeConnectionString removes credentials from a datasource DSN or URL.
// Use this before logging any connection string.
func SanitizeConnectionString(connStr string) string {
	if connStr == "" {
		return ""
	}

	sanitized := passwordPattern.ReplaceAllString(connStr, "${1}="+RedactedText)
	sanitized = connStringPattern.ReplaceAllString(sanitized, "://"+RedactedText+"@"+RedactedText)

	return sanitized
}

// SanitizeError sanitizes error messages from database drivers and LLM providers.
func SanitizeError(err error) string {
	if err == nil {
		return ""
	}

	sanitized := passwordPattern.ReplaceAllString(err.Error(), "${1}="+RedactedText)
	sanitized = jwtPattern.ReplaceAllString(sanitized, "Bearer "+RedactedText)
	sanitized = apiKeyPattern.ReplaceAllString(sanitized, "${1}="+RedactedText)
	sanitized = bareSecretKeyPat.ReplaceAllString(sanitized, RedactedText)
	sanitized = connStringPattern.ReplaceAllString(sanitized, "://"+RedactedText+"@"+RedactedText)

	return sanitized
}

// TruncateSQL prepares generated SQL for logging: string literals are replaced
// with '?' (they often echo user data) and the result is cut to maxLen.
// A non-positive maxLen uses MaxQueryLogLength.
func TruncateSQL(query string, maxLen int) string {
	if query == "" {
		return ""
	}
	if maxLen <= 0 {
		maxLen = MaxQueryLogLength
	}

	sanitized := sqlLiteralPattern.ReplaceAllString(query, "'?'")
	if len(sanitized) > maxLen {
		sanitized = sanitized[:maxLen] + "..."
	}
	return sanitized
}
