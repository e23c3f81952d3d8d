package ontology

import (
	"strings"
	"unicode"

	"github.com/jinzhu/inflection"
)

// minSubstringLen keeps very short terms ("id", "no") from matching inside unrelated words.
const minSubstringLen = 3

var stopWords = map[string]bool{
	"a": true, "an": true, "the": true, "of": true, "for": true, "in": true, "on": true,
	"to": true, "by": true, "with": true, "and": true, "or": true, "is": true, "are": true,
	"was": true, "were": true, "me": true, "my": true, "all": true, "show": true, "list": true,
	"give": true, "get": true, "find": true, "what": true, "which": true, "who": true,
	"how": true, "many": true, "much": true, "per": true, "each": true, "from": true,
	"that": true, "this": true, "there": true, "do": true, "does": true, "we": true,
	"have": true, "has": true, "please": true, "unique": true, "distinct": true,
}

// question is a tokenized, lowercased view of a natural-language question.
type question struct {
	tokens []string
	// forms maps every token and its singular form to true.
	forms map[string]bool
	// text and singularText are the tokens joined by single spaces, padded with
	// spaces on both ends so phrase lookups can match whole words.
	text         string
	singularText string
}

func newQuestion(raw string) *question {
	return fromTokens(tokenize(raw))
}

func fromTokens(tokens []string) *question {
	q := &question{
		tokens: tokens,
		forms:  make(map[string]bool, len(tokens)*2),
	}
	singular := make([]string, len(tokens))
	for i, tok := range tokens {
		s := inflection.Singular(tok)
		singular[i] = s
		q.forms[tok] = true
		q.forms[s] = true
	}
	q.text = " " + strings.Join(tokens, " ") + " "
	q.singularText = " " + strings.Join(singular, " ") + " "
	return q
}

// tokenize lowercases and splits on anything that is not a letter or digit,
// so snake_case identifiers become separate words.
func tokenize(raw string) []string {
	return strings.FieldsFunc(strings.ToLower(raw), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

// normalizeTerm lowercases a term, treats underscores as spaces, and collapses whitespace.
func normalizeTerm(term string) string {
	return strings.Join(tokenize(term), " ")
}

// hasTerm reports whether the term appears as a whole token or token phrase.
func (q *question) hasTerm(term string) bool {
	term = normalizeTerm(term)
	if term == "" {
		return false
	}
	if !strings.Contains(term, " ") {
		return q.forms[term] || q.forms[inflection.Singular(term)]
	}
	padded := " " + term + " "
	singular := " " + singularPhrase(term) + " "
	return strings.Contains(q.text, padded) || strings.Contains(q.singularText, padded) ||
		strings.Contains(q.singularText, singular)
}

// containsTerm reports whether the term appears anywhere in the question text,
// including inside a longer token.
func (q *question) containsTerm(term string) bool {
	term = normalizeTerm(term)
	if len(term) < minSubstringLen {
		return false
	}
	return strings.Contains(q.text, term) || strings.Contains(q.singularText, inflection.Singular(term))
}

// without returns a question with tokens equal to one of the words removed.
// Tokens that only contain a word stay, so "vendorgroups" remains available
// to property matching after the concept "vendor" matched inside it.
func (q *question) without(words map[string]bool) *question {
	if len(words) == 0 {
		return q
	}
	remaining := make([]string, 0, len(q.tokens))
	for _, tok := range q.tokens {
		if !words[tok] && !words[inflection.Singular(tok)] {
			remaining = append(remaining, tok)
		}
	}
	return fromTokens(remaining)
}

// covers reports whether a token is accounted for by any matched word.
func covers(words map[string]bool, token string) bool {
	if words[token] || words[inflection.Singular(token)] {
		return true
	}
	for w := range words {
		if len(w) >= minSubstringLen && strings.Contains(token, w) {
			return true
		}
	}
	return false
}

func singularPhrase(term string) string {
	words := strings.Fields(term)
	if len(words) == 0 {
		return ""
	}
	words[len(words)-1] = inflection.Singular(words[len(words)-1])
	return strings.Join(words, " ")
}

func termWords(term string) []string {
	words := strings.Fields(normalizeTerm(term))
	for i, w := range words {
		words[i] = inflection.Singular(w)
	}
	return words
}

// Terms returns the distinct singular content words of text, stop words removed.
// Used to compare questions with each other.
func Terms(text string) []string {
	var out []string
	seen := make(map[string]bool)
	for _, tok := range tokenize(text) {
		if stopWords[tok] {
			continue
		}
		s := inflection.Singular(tok)
		if seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out
}
