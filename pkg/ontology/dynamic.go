package ontology

import (
	"strings"

	"github.com/jinzhu/inflection"

	"github.com/ekaya-inc/ekaya-ask/pkg/models"
)

// Synthesize derives an ontology from a schema snapshot: every table or view becomes
// a concept and every column a property bound to itself. Names are split into
// word tokens to produce synonyms and keywords.
func Synthesize(snapshot *models.SchemaSnapshot) *models.Ontology {
	o := &models.Ontology{
		Dynamic:       true,
		SchemaName:    snapshot.Name,
		SchemaVersion: snapshot.Version,
	}
	for _, t := range snapshot.AllTables() {
		concept := models.Concept{
			Name:       t.Name,
			Synonyms:   nameVariants(t.Name),
			Properties: make(map[string]models.PropertyDefinition, len(t.Columns)),
		}
		if t.IsView {
			concept.Description = "view"
		}
		for _, col := range t.Columns {
			concept.Properties[col.Name] = models.PropertyDefinition{
				SemanticType: InferSemanticType(col),
				Keywords:     nameVariants(col.Name),
				Column:       &models.ColumnBinding{Table: t.Name, Column: col.Name},
			}
		}
		o.Concepts = append(o.Concepts, concept)
	}
	return o
}

// nameVariants returns the spaced phrase of an identifier, its plural form, and
// each word long enough to be meaningful on its own.
//
//	nameVariants("purchase_order") // ["purchase order", "purchase orders", "purchase", "order"]
func nameVariants(name string) []string {
	phrase := normalizeTerm(name)
	if phrase == "" {
		return nil
	}
	seen := map[string]bool{strings.ToLower(name): true}
	var out []string
	add := func(v string) {
		if v != "" && !seen[v] {
			seen[v] = true
			out = append(out, v)
		}
	}
	add(phrase)
	words := strings.Fields(phrase)
	words[len(words)-1] = inflection.Plural(words[len(words)-1])
	add(strings.Join(words, " "))
	if parts := strings.Fields(phrase); len(parts) > 1 {
		for _, p := range parts {
			if len(p) >= minSubstringLen {
				add(p)
			}
		}
	}
	return out
}

// InferSemanticType guesses a semantic type from a column's name and storage type.
func InferSemanticType(col models.SchemaColumn) models.SemanticType {
	name := strings.ToLower(col.Name)
	dataType := strings.ToLower(col.DataType)

	switch {
	case col.IsPrimaryKey || name == "id" || strings.HasSuffix(name, "_id") || strings.HasSuffix(name, "_uuid"):
		return models.SemanticTypeIdentifier
	case strings.Contains(dataType, "bool") || dataType == "bit":
		return models.SemanticTypeBoolean
	case strings.Contains(dataType, "date") || strings.Contains(dataType, "time"):
		return models.SemanticTypeTemporal
	case containsAny(name, "price", "amount", "cost", "total", "revenue", "salary", "balance", "fee"):
		return models.SemanticTypeCurrency
	case containsAny(name, "country", "city", "state", "region", "address", "zip", "postal", "latitude", "longitude"):
		return models.SemanticTypeGeography
	case containsAny(name, "name", "title", "label"):
		return models.SemanticTypeName
	case containsAny(name, "status", "type", "category", "kind", "group", "tier"):
		return models.SemanticTypeCategory
	case containsAny(dataType, "int", "numeric", "decimal", "float", "double", "real", "money"):
		return models.SemanticTypeQuantity
	case containsAny(dataType, "char", "text", "string"):
		return models.SemanticTypeText
	default:
		return models.SemanticTypeUnknown
	}
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
