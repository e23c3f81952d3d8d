package sql

import (
	libinjection "github.com/corazawaf/libinjection-go"
)

// InjectionCheckResult describes a string literal that libinjection flagged.
type InjectionCheckResult struct {
	IsSQLi      bool   // True if SQL injection pattern detected
	Fingerprint string // libinjection fingerprint of the detected pattern
	Literal     string // The literal content that was checked
}

// CheckValueForInjection uses libinjection to detect SQL injection patterns in a value.
// Returns nil if no injection is detected.
//
// Example:
//
//	CheckValueForInjection("ACME Corp")              // nil
//	CheckValueForInjection("x' OR '1'='1' --")       // IsSQLi == true
func CheckValueForInjection(value string) *InjectionCheckResult {
	if value == "" {
		return nil
	}
	isSQLi, fingerprint := libinjection.IsSQLi(value)
	if !isSQLi {
		return nil
	}
	return &InjectionCheckResult{
		IsSQLi:      true,
		Fingerprint: string(fingerprint),
		Literal:     value,
	}
}

// CheckLiterals scans every single-quoted literal in a generated statement.
// A generator echoing hostile question text into a literal shows up here.
func CheckLiterals(sqlQuery string) []*InjectionCheckResult {
	var results []*InjectionCheckResult
	for _, lit := range stringLiterals(sqlQuery) {
		if r := CheckValueForInjection(lit); r != nil {
			results = append(results, r)
		}
	}
	return results
}
