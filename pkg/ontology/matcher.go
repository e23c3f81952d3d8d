package ontology

import "github.com/ekaya-inc/ekaya-ask/pkg/models"

// Match weights per match kind. Structural matches carry full weight because
// dynamic-mode mappings are exact schema names, not semantic guesses.
const (
	WeightExact      = 1.0
	WeightSynonym    = 0.85
	WeightSubstring  = 0.6
	WeightStructural = 1.0
)

// Matcher is one term tagged with how it may match a question.
type Matcher struct {
	Kind models.MatchKind
	Term string
}

// MatchResult is the outcome of evaluating a Matcher against a question.
type MatchResult struct {
	Matched     bool
	Kind        models.MatchKind
	Confidence  float64
	Specificity int
	Words       []string
}

// Evaluate checks the matcher against a question.
func (m Matcher) Evaluate(q *question) MatchResult {
	var (
		matched bool
		weight  float64
	)
	switch m.Kind {
	case models.MatchExactKeyword:
		matched, weight = q.hasTerm(m.Term), WeightExact
	case models.MatchSynonym:
		matched, weight = q.hasTerm(m.Term), WeightSynonym
	case models.MatchSubstring:
		matched, weight = q.containsTerm(m.Term), WeightSubstring
	case models.MatchStructural:
		matched, weight = q.hasTerm(m.Term) || q.containsTerm(m.Term), WeightStructural
	}
	if !matched {
		return MatchResult{}
	}
	return MatchResult{
		Matched:     true,
		Kind:        m.Kind,
		Confidence:  weight,
		Specificity: m.Kind.Specificity(),
		Words:       termWords(m.Term),
	}
}

// better reports whether a outranks b: higher confidence, then higher specificity.
func (a MatchResult) better(b MatchResult) bool {
	if !b.Matched {
		return a.Matched
	}
	if a.Confidence != b.Confidence {
		return a.Confidence > b.Confidence
	}
	return a.Specificity > b.Specificity
}

// bestMatch evaluates all matchers and returns the strongest result. Words
// collects the terms of every matcher that hit, not only the strongest.
func bestMatch(matchers []Matcher, q *question) MatchResult {
	var (
		best  MatchResult
		words []string
	)
	for _, m := range matchers {
		r := m.Evaluate(q)
		if !r.Matched {
			continue
		}
		words = append(words, r.Words...)
		if r.better(best) {
			best = r
		}
	}
	best.Words = words
	return best
}

// conceptMatchers builds matchers for a concept name and its synonyms.
// In dynamic mode every term is structural.
func conceptMatchers(c *models.Concept, dynamic bool) []Matcher {
	return termMatchers([]string{c.Name}, c.Synonyms, dynamic)
}

// propertyMatchers builds matchers for a property name and its keywords.
// The property name and keywords are exact terms.
func propertyMatchers(name string, p models.PropertyDefinition, dynamic bool) []Matcher {
	primary := append([]string{name}, p.Keywords...)
	return termMatchers(primary, nil, dynamic)
}

func termMatchers(primary, synonyms []string, dynamic bool) []Matcher {
	matchers := make([]Matcher, 0, 2*(len(primary)+len(synonyms)))
	if dynamic {
		for _, t := range append(append([]string{}, primary...), synonyms...) {
			matchers = append(matchers, Matcher{Kind: models.MatchStructural, Term: t})
		}
		return matchers
	}
	for _, t := range primary {
		matchers = append(matchers, Matcher{Kind: models.MatchExactKeyword, Term: t})
	}
	for _, t := range synonyms {
		matchers = append(matchers, Matcher{Kind: models.MatchSynonym, Term: t})
	}
	for _, t := range primary {
		matchers = append(matchers, Matcher{Kind: models.MatchSubstring, Term: t})
	}
	for _, t := range synonyms {
		matchers = append(matchers, Matcher{Kind: models.MatchSubstring, Term: t})
	}
	return matchers
}
