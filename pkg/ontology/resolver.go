package ontology

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-ask/pkg/models"
)

// DefaultConfidenceThreshold separates accepted mappings from low-confidence diagnostics.
const DefaultConfidenceThreshold = 0.7

// Resolver grounds a question in an ontology and schema snapshot.
// A Resolver holds no mutable state and is safe for concurrent use.
type Resolver struct {
	threshold float64
	logger    *zap.Logger
}

// NewResolver creates a resolver. A non-positive threshold uses DefaultConfidenceThreshold.
func NewResolver(threshold float64, logger *zap.Logger) *Resolver {
	if threshold <= 0 || threshold > 1 {
		threshold = DefaultConfidenceThreshold
	}
	return &Resolver{
		threshold: threshold,
		logger:    logger.Named("ontology-resolver"),
	}
}

// Threshold returns the acceptance threshold in use.
func (r *Resolver) Threshold() float64 {
	return r.threshold
}

type candidate struct {
	mapping     models.ColumnMapping
	specificity int
}

// Resolve matches the question against the ontology, restricted to columns present
// in the snapshot. It never fails: with nothing to match it returns an empty resolution.
func (r *Resolver) Resolve(questionText string, o *models.Ontology, snapshot *models.SchemaSnapshot) *models.Resolution {
	res := &models.Resolution{
		Concepts:       []string{},
		Properties:     []models.PropertyRef{},
		ColumnMappings: []models.ColumnMapping{},
	}
	q := newQuestion(questionText)

	if o == nil || snapshot == nil {
		res.Warnings = append(res.Warnings, "no ontology or schema snapshot available; using raw schema context")
		res.UnresolvedTokens = contentTokens(q.tokens, nil)
		return res
	}
	res.Structural = o.Dynamic

	consumed := make(map[string]bool)
	candidates := make(map[string]candidate)

	for i := range o.Concepts {
		concept := &o.Concepts[i]
		cm := bestMatch(conceptMatchers(concept, o.Dynamic), q)
		if !cm.Matched {
			continue
		}
		res.Concepts = append(res.Concepts, concept.Name)
		conceptWords := wordSet(cm.Words)
		for w := range conceptWords {
			consumed[w] = true
		}
		remaining := q.without(conceptWords)

		for _, propName := range sortedPropertyNames(concept) {
			prop := concept.Properties[propName]
			pm := bestMatch(propertyMatchers(propName, prop, o.Dynamic), remaining)
			if !pm.Matched {
				continue
			}
			res.Properties = append(res.Properties, models.PropertyRef{
				Concept:  concept.Name,
				Property: propName,
				Match:    pm.Kind,
			})
			for _, w := range pm.Words {
				consumed[w] = true
			}

			combined := weaker(cm, pm)
			for _, link := range linksFor(o, concept.Name, propName, prop) {
				tbl, col, ok := snapshot.FindColumn(link.Table, link.Column)
				if !ok {
					res.Warnings = append(res.Warnings, fmt.Sprintf(
						"mapping %s.%s references %s.%s which is not in schema %q",
						concept.Name, propName, link.Table, link.Column, snapshot.Name))
					continue
				}
				kind := models.MappingKindSemantic
				if o.Dynamic {
					kind = models.MappingKindStructural
				}
				c := candidate{
					mapping: models.ColumnMapping{
						Table:      tbl.Name,
						Column:     col.Name,
						Concept:    concept.Name,
						Property:   propName,
						Confidence: clamp01(combined.Confidence * link.Confidence),
						Kind:       kind,
						MatchedBy:  combined.Kind,
					},
					specificity: combined.Specificity,
				}
				key := strings.ToLower(tbl.Name) + "." + strings.ToLower(col.Name)
				if existing, ok := candidates[key]; !ok || outranks(c, existing) {
					candidates[key] = c
				}
			}
		}
	}

	ordered := make([]candidate, 0, len(candidates))
	for _, c := range candidates {
		ordered = append(ordered, c)
	}
	sort.Slice(ordered, func(i, j int) bool {
		return outranks(ordered[i], ordered[j])
	})

	var sum float64
	for _, c := range ordered {
		if c.mapping.Confidence >= r.threshold {
			res.ColumnMappings = append(res.ColumnMappings, c.mapping)
			sum += c.mapping.Confidence
		} else {
			res.LowConfidence = append(res.LowConfidence, c.mapping)
		}
	}
	if n := len(res.ColumnMappings); n > 0 {
		res.Confidence = sum / float64(n)
	}
	res.UnresolvedTokens = contentTokens(q.tokens, consumed)

	switch {
	case len(res.ColumnMappings) == 0 && len(res.LowConfidence) > 0:
		res.Warnings = append(res.Warnings, fmt.Sprintf(
			"only low-confidence mappings found (below %.2f); using raw schema context", r.threshold))
	case len(res.ColumnMappings) == 0:
		res.Warnings = append(res.Warnings, "no ontology mappings matched; using raw schema context")
	}

	r.logger.Debug("Resolved question",
		zap.Int("concepts", len(res.Concepts)),
		zap.Int("mappings", len(res.ColumnMappings)),
		zap.Int("low_confidence", len(res.LowConfidence)),
		zap.Float64("confidence", res.Confidence),
		zap.Bool("structural", res.Structural))

	return res
}

// outranks orders candidates: confidence desc, specificity desc, table asc, column asc.
func outranks(a, b candidate) bool {
	if a.mapping.Confidence != b.mapping.Confidence {
		return a.mapping.Confidence > b.mapping.Confidence
	}
	if a.specificity != b.specificity {
		return a.specificity > b.specificity
	}
	if a.mapping.Table != b.mapping.Table {
		return a.mapping.Table < b.mapping.Table
	}
	return a.mapping.Column < b.mapping.Column
}

// weaker returns the lower-ranked of two matches; a mapping is only as strong
// as the weaker of its concept and property matches.
func weaker(a, b MatchResult) MatchResult {
	if a.better(b) {
		return b
	}
	return a
}

// linksFor returns authored mappings for (concept, property) plus the property's
// explicit column binding, which counts as a full-confidence link.
func linksFor(o *models.Ontology, concept, property string, prop models.PropertyDefinition) []models.OntologyLink {
	var links []models.OntologyLink
	for _, l := range o.Mappings {
		if strings.EqualFold(l.Concept, concept) && strings.EqualFold(l.Property, property) {
			links = append(links, l)
		}
	}
	if prop.Column != nil {
		bound := false
		for _, l := range links {
			if strings.EqualFold(l.Table, prop.Column.Table) && strings.EqualFold(l.Column, prop.Column.Column) {
				bound = true
				break
			}
		}
		if !bound {
			links = append(links, models.OntologyLink{
				Table:      prop.Column.Table,
				Column:     prop.Column.Column,
				Concept:    concept,
				Property:   property,
				Confidence: 1.0,
			})
		}
	}
	return links
}

func sortedPropertyNames(c *models.Concept) []string {
	names := make([]string, 0, len(c.Properties))
	for name := range c.Properties {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func wordSet(words []string) map[string]bool {
	set := make(map[string]bool, len(words))
	for _, w := range words {
		set[w] = true
	}
	return set
}

// contentTokens returns tokens that are neither stop words nor covered by a match.
func contentTokens(tokens []string, consumed map[string]bool) []string {
	var out []string
	seen := make(map[string]bool)
	for _, tok := range tokens {
		if stopWords[tok] || seen[tok] || covers(consumed, tok) {
			continue
		}
		seen[tok] = true
		out = append(out, tok)
	}
	return out
}

func clamp01(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}
