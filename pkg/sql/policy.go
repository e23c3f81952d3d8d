package sql

import (
	"fmt"
	"regexp"
	"strings"
)

// PolicyError explains why a statement was rejected before execution.
type PolicyError struct {
	Type    StatementType
	Message string
}

func (e *PolicyError) Error() string {
	return e.Message
}

// CheckReadOnly enforces the read-only policy for generated SQL.
// It returns the normalized statement (trailing semicolon removed) when allowed.
//
// Rules:
//   - exactly one statement
//   - SELECT, or a WITH list whose CTEs and main statement are all SELECT
//   - no SELECT ... INTO
//   - no string literal that libinjection flags
func CheckReadOnly(sqlQuery string) (string, error) {
	validation := ValidateAndNormalize(sqlQuery)
	if validation.Error != nil {
		return "", &PolicyError{Type: StatementUnknown, Message: validation.Error.Error()}
	}

	stmtType := DetectStatementType(validation.NormalizedSQL)
	switch stmtType {
	case StatementSelect:
	case StatementDDL:
		return "", &PolicyError{
			Type:    stmtType,
			Message: "DDL statements (CREATE, ALTER, DROP, TRUNCATE) are not allowed; only read-only SELECT queries may run",
		}
	case StatementSelectInto:
		return "", &PolicyError{
			Type:    stmtType,
			Message: "SELECT ... INTO creates a table; only read-only SELECT queries may run",
		}
	case StatementInsert, StatementUpdate, StatementDelete, StatementCall:
		return "", &PolicyError{
			Type:    stmtType,
			Message: fmt.Sprintf("%s statements modify data; only read-only SELECT queries may run", stmtType),
		}
	default:
		return "", &PolicyError{
			Type:    stmtType,
			Message: "unrecognized or data-modifying statement; only read-only SELECT queries may run",
		}
	}

	if hits := CheckLiterals(validation.NormalizedSQL); len(hits) > 0 {
		return "", &PolicyError{
			Type:    stmtType,
			Message: fmt.Sprintf("string literal matches an injection pattern (fingerprint %s)", hits[0].Fingerprint),
		}
	}

	return validation.NormalizedSQL, nil
}

var whitespacePattern = regexp.MustCompile(`\s+`)

// Normalize canonicalizes SQL text for equality comparison: case-folded,
// whitespace collapsed, trailing semicolon removed.
func Normalize(sqlQuery string) string {
	s := stripTrailingSemicolon(strings.TrimSpace(sqlQuery))
	s = whitespacePattern.ReplaceAllString(s, " ")
	return strings.ToLower(s)
}

// Equivalent reports whether two statements are identical after normalization.
// Empty statements are never equivalent.
func Equivalent(a, b string) bool {
	na, nb := Normalize(a), Normalize(b)
	return na != "" && na == nb
}
