package sql

import "strings"

// MainStatementIndex returns the byte offset of the main statement's first
// keyword: the statement after a leading CTE list, or the first keyword of a
// plain statement. Leading parentheses, whitespace and comments are skipped.
// It returns -1 when a WITH list is never closed or nothing follows it.
func MainStatementIndex(sqlQuery string) int {
	masked := maskSQL(sqlQuery)
	start := skipLeading(masked, 0)
	if start < len(masked) && StartsWithKeyword(masked[start:], "WITH") {
		end := cteListEnd(masked)
		if end < 0 {
			return -1
		}
		start = skipLeading(masked, end)
	}
	if start >= len(masked) {
		return -1
	}
	return start
}

// HasTopLevelKeyword reports whether keyword appears as a whole word outside
// parentheses, string literals, quoted identifiers and comments.
func HasTopLevelKeyword(sqlQuery, keyword string) bool {
	masked := maskSQL(sqlQuery)
	depth := 0
	for i := 0; i < len(masked); i++ {
		switch c := masked[i]; {
		case c == '(':
			depth++
		case c == ')':
			depth--
		case depth == 0 && isWordStart(masked, i) && StartsWithKeyword(masked[i:], keyword):
			return true
		}
	}
	return false
}

func skipLeading(masked string, from int) int {
	i := from
	for i < len(masked) && strings.ContainsRune(" \t\r\n(", rune(masked[i])) {
		i++
	}
	return i
}

func isWordStart(s string, i int) bool {
	if i == 0 {
		return true
	}
	return !isWordByte(s[i-1])
}

func isWordByte(c byte) bool {
	return c == '_' || c >= '0' && c <= '9' || c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z'
}

// HasCTE reports whether the statement starts with a WITH list.
func HasCTE(sqlQuery string) bool {
	masked := maskSQL(sqlQuery)
	return StartsWithKeyword(masked[skipLeading(masked, 0):], "WITH")
}
