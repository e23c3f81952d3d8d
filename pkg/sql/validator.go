// Package sql provides SQL validation utilities for generated statements.
package sql

import (
	"errors"
	"regexp"
	"strings"
)

var (
	// ErrMultipleStatements indicates the query contains multiple SQL statements.
	ErrMultipleStatements = errors.New("multiple SQL statements not allowed; only single statements are permitted")
	// ErrEmptyStatement indicates no SQL was supplied.
	ErrEmptyStatement = errors.New("empty SQL statement")
)

// StatementType represents the type of SQL statement.
type StatementType string

const (
	StatementSelect  StatementType = "SELECT"
	StatementInsert  StatementType = "INSERT"
	StatementUpdate  StatementType = "UPDATE"
	StatementDelete  StatementType = "DELETE"
	StatementCall    StatementType = "CALL"
	StatementDDL     StatementType = "DDL"     // CREATE, ALTER, DROP, TRUNCATE

	StatementSelectInto StatementType = "SELECT INTO" // SELECT that creates a table
	StatementUnknown    StatementType = "UNKNOWN"     // unrecognized or data-modifying CTE
)

// modifyingCTEPattern matches CTEs that contain data-modifying operations.
// Example: WITH deleted AS (DELETE FROM ...) SELECT * FROM deleted
var modifyingCTEPattern = regexp.MustCompile(`(?i)\bAS\s*\(\s*(INSERT|UPDATE|DELETE|MERGE)\b`)

// selectIntoPattern matches SELECT ... INTO, which creates a table.
var selectIntoPattern = regexp.MustCompile(`(?i)\bINTO\b`)

// DetectStatementType determines the type of SQL statement from its first keyword.
// For WITH queries the statement following the last CTE decides the type.
// A SELECT that writes its rows INTO a table is StatementSelectInto.
func DetectStatementType(sqlQuery string) StatementType {
	masked := maskSQL(sqlQuery)
	stmtType := detectStatementType(masked)
	if stmtType == StatementSelect && selectIntoPattern.MatchString(masked) {
		return StatementSelectInto
	}
	return stmtType
}

// detectStatementType classifies masked SQL, where literals and comments are blanked.
func detectStatementType(masked string) StatementType {
	normalized := strings.ToUpper(strings.TrimLeft(masked, " \t\r\n("))

	switch {
	case strings.HasPrefix(normalized, "SELECT"):
		return StatementSelect

	case strings.HasPrefix(normalized, "WITH"):
		if modifyingCTEPattern.MatchString(masked) {
			return StatementUnknown
		}
		main := statementAfterCTEs(masked)
		if main == "" {
			return StatementUnknown
		}
		return detectStatementType(main)

	case strings.HasPrefix(normalized, "INSERT"):
		return StatementInsert

	case strings.HasPrefix(normalized, "UPDATE"), strings.HasPrefix(normalized, "MERGE"):
		return StatementUpdate

	case strings.HasPrefix(normalized, "DELETE"):
		return StatementDelete

	case strings.HasPrefix(normalized, "CALL"), strings.HasPrefix(normalized, "EXEC"):
		return StatementCall

	case strings.HasPrefix(normalized, "CREATE"),
		strings.HasPrefix(normalized, "ALTER"),
		strings.HasPrefix(normalized, "DROP"),
		strings.HasPrefix(normalized, "TRUNCATE"),
		strings.HasPrefix(normalized, "GRANT"),
		strings.HasPrefix(normalized, "REVOKE"):
		return StatementDDL

	default:
		return StatementUnknown
	}
}

// statementAfterCTEs returns the text that follows the CTE list of a masked
// WITH query, or "" when no CTE body is closed at the top level.
func statementAfterCTEs(masked string) string {
	end := cteListEnd(masked)
	if end < 0 {
		return ""
	}
	return strings.TrimSpace(masked[end:])
}

// cteListEnd returns the offset just past the CTE list of a masked WITH query:
// the first top-level closing parenthesis not followed by a comma (next CTE)
// or AS (column list before the body). It returns -1 when there is none.
func cteListEnd(masked string) int {
	depth := 0
	for i, c := range masked {
		switch c {
		case '(':
			depth++
		case ')':
			depth--
			if depth != 0 {
				continue
			}
			rest := strings.TrimSpace(masked[i+1:])
			if strings.HasPrefix(rest, ",") || StartsWithKeyword(rest, "AS") {
				continue
			}
			return i + 1
		}
	}
	return -1
}

// StartsWithKeyword reports whether s begins with keyword, case-insensitively,
// as a whole word.
func StartsWithKeyword(s, keyword string) bool {
	if len(s) < len(keyword) || !strings.EqualFold(s[:len(keyword)], keyword) {
		return false
	}
	if len(s) == len(keyword) {
		return true
	}
	return !isWordByte(s[len(keyword)])
}

// maskSQL blanks the contents of string literals, quoted identifiers ("x" and [x])
// and comments with spaces so keyword and parenthesis scans see only SQL structure.
// Byte offsets are preserved.
func maskSQL(sqlQuery string) string {
	b := []byte(sqlQuery)
	for i := 0; i < len(b); i++ {
		switch {
		case b[i] == '\'':
			i = blankUntil(b, i+1, '\'', true)
		case b[i] == '"':
			i = blankUntil(b, i+1, '"', true)
		case b[i] == '[':
			i = blankUntil(b, i+1, ']', false)
		case b[i] == '-' && i+1 < len(b) && b[i+1] == '-':
			for ; i < len(b) && b[i] != '\n'; i++ {
				b[i] = ' '
			}
		case b[i] == '/' && i+1 < len(b) && b[i+1] == '*':
			b[i], b[i+1] = ' ', ' '
			for i += 2; i < len(b); i++ {
				if b[i] == '*' && i+1 < len(b) && b[i+1] == '/' {
					b[i], b[i+1] = ' ', ' '
					i++
					break
				}
				b[i] = ' '
			}
		}
	}
	return string(b)
}

// blankUntil blanks bytes from start up to the closing delimiter and returns its
// index. A doubled delimiter is an escaped one when doubling is true.
func blankUntil(b []byte, start int, closing byte, doubling bool) int {
	for i := start; i < len(b); i++ {
		if b[i] != closing {
			b[i] = ' '
			continue
		}
		if doubling && i+1 < len(b) && b[i+1] == closing {
			b[i], b[i+1] = ' ', ' '
			i++
			continue
		}
		return i
	}
	return len(b)
}

// ValidationResult contains the normalized SQL and any validation errors.
type ValidationResult struct {
	NormalizedSQL string
	Error         error
}

// ValidateAndNormalize checks SQL for multiple statements and strips the trailing semicolon.
func ValidateAndNormalize(sqlQuery string) ValidationResult {
	sqlQuery = strings.TrimSpace(sqlQuery)
	if sqlQuery == "" {
		return ValidationResult{Error: ErrEmptyStatement}
	}

	normalized := stripTrailingSemicolon(sqlQuery)
	if hasSemicolonOutsideStrings(normalized) {
		return ValidationResult{Error: ErrMultipleStatements}
	}

	return ValidationResult{NormalizedSQL: normalized}
}

// hasSemicolonOutsideStrings returns true if the SQL contains any semicolon
// outside of string literals and quoted identifiers.
func hasSemicolonOutsideStrings(sqlQuery string) bool {
	const (
		stateNormal = iota
		stateSingleQuote
		stateDoubleQuote
	)

	state := stateNormal
	prevChar := rune(0)

	for _, char := range sqlQuery {
		switch state {
		case stateNormal:
			switch char {
			case ';':
				return true
			case '\'':
				state = stateSingleQuote
			case '"':
				state = stateDoubleQuote
			}
		case stateSingleQuote:
			// A doubled quote ('') exits and immediately re-enters, which keeps us in the string.
			if char == '\'' && prevChar != '\\' {
				state = stateNormal
			}
		case stateDoubleQuote:
			if char == '"' && prevChar != '\\' {
				state = stateNormal
			}
		}
		prevChar = char
	}

	return false
}

// stripTrailingSemicolon removes a trailing semicolon and any whitespace around it.
func stripTrailingSemicolon(sqlQuery string) string {
	sqlQuery = strings.TrimRight(sqlQuery, " \t\n\r")
	if strings.HasSuffix(sqlQuery, ";") {
		sqlQuery = strings.TrimSuffix(sqlQuery, ";")
		sqlQuery = strings.TrimRight(sqlQuery, " \t\n\r")
	}
	return sqlQuery
}

// stringLiterals returns the contents of single-quoted literals in the statement.
func stringLiterals(sqlQuery string) []string {
	var (
		literals []string
		current  strings.Builder
		inString bool
	)
	runes := []rune(sqlQuery)
	for i := 0; i < len(runes); i++ {
		c := runes[i]
		if !inString {
			if c == '\'' {
				inString = true
				current.Reset()
			}
			continue
		}
		if c == '\'' {
			if i+1 < len(runes) && runes[i+1] == '\'' {
				current.WriteRune('\'')
				i++
				continue
			}
			inString = false
			literals = append(literals, current.String())
			continue
		}
		current.WriteRune(c)
	}
	return literals
}
