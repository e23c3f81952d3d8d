package models

// ============================================================================
// Ontology definitions
// ============================================================================

// SemanticType classifies what a property means, independent of its storage type.
type SemanticType string

const (
	SemanticTypeIdentifier SemanticType = "identifier"
	SemanticTypeName       SemanticType = "name"
	SemanticTypeCurrency   SemanticType = "currency"
	SemanticTypeQuantity   SemanticType = "quantity"
	SemanticTypeGeography  SemanticType = "geography"
	SemanticTypeTemporal   SemanticType = "temporal"
	SemanticTypeCategory   SemanticType = "category"
	SemanticTypeText       SemanticType = "text"
	SemanticTypeBoolean    SemanticType = "boolean"
	SemanticTypeUnknown    SemanticType = "unknown"
)

// Ontology is the full set of concepts and column mappings used to ground a question.
// An Ontology value is treated as immutable once it is published to a store.
type Ontology struct {
	Concepts []Concept      `json:"concepts" yaml:"concepts"`
	Mappings []OntologyLink `json:"mappings,omitempty" yaml:"mappings,omitempty"`

	// Dynamic is true when the ontology was synthesized from a schema snapshot
	// rather than authored by hand.
	Dynamic bool `json:"dynamic,omitempty" yaml:"-"`
	// SchemaName and SchemaVersion identify the snapshot a dynamic ontology was built from.
	SchemaName    string `json:"schema_name,omitempty" yaml:"-"`
	SchemaVersion uint64 `json:"schema_version,omitempty" yaml:"-"`
}

// Concept is a named domain entity (e.g. Vendor) with synonyms and properties.
type Concept struct {
	Name        string                        `json:"name" yaml:"name"`
	Description string                        `json:"description,omitempty" yaml:"description,omitempty"`
	Synonyms    []string                      `json:"synonyms,omitempty" yaml:"synonyms,omitempty"`
	Properties  map[string]PropertyDefinition `json:"properties,omitempty" yaml:"properties,omitempty"`
}

// PropertyDefinition describes a named attribute of a concept.
type PropertyDefinition struct {
	SemanticType SemanticType   `json:"semantic_type,omitempty" yaml:"semantic_type,omitempty"`
	Keywords     []string       `json:"keywords,omitempty" yaml:"keywords,omitempty"`
	Column       *ColumnBinding `json:"column,omitempty" yaml:"column,omitempty"`
}

// ColumnBinding is an explicit (table, column) binding declared on a property.
type ColumnBinding struct {
	Table  string `json:"table" yaml:"table"`
	Column string `json:"column" yaml:"column"`
}

// OntologyLink is an authored mapping from (concept, property) to a column.
// It is the stored form of a ColumnMapping before any question is matched.
type OntologyLink struct {
	Table      string  `json:"table" yaml:"table"`
	Column     string  `json:"column" yaml:"column"`
	Concept    string  `json:"concept" yaml:"concept"`
	Property   string  `json:"property" yaml:"property"`
	Confidence float64 `json:"confidence" yaml:"confidence"`
}

// FindConcept returns the concept with the given name (exact match).
func (o *Ontology) FindConcept(name string) (*Concept, bool) {
	if o == nil {
		return nil, false
	}
	for i := range o.Concepts {
		if o.Concepts[i].Name == name {
			return &o.Concepts[i], true
		}
	}
	return nil, false
}

// ============================================================================
// Resolution
// ============================================================================

// MappingKind distinguishes authored (semantic) mappings from schema-derived ones.
type MappingKind string

const (
	MappingKindSemantic   MappingKind = "semantic"
	MappingKindStructural MappingKind = "structural"
)

// MatchKind records how a question term matched the ontology.
// Higher Specificity wins confidence ties.
type MatchKind string

const (
	MatchExactKeyword MatchKind = "exact_keyword"
	MatchSynonym      MatchKind = "synonym"
	MatchSubstring    MatchKind = "substring"
	MatchStructural   MatchKind = "structural"
)

// Specificity ranks match kinds for tie-breaking: exact > synonym > substring > structural.
func (k MatchKind) Specificity() int {
	switch k {
	case MatchExactKeyword:
		return 3
	case MatchSynonym:
		return 2
	case MatchSubstring:
		return 1
	default:
		return 0
	}
}

// ColumnMapping is a confidence-scored binding from (concept, property) to a column
// that exists in the schema snapshot used to build it.
type ColumnMapping struct {
	Table      string      `json:"table"`
	Column     string      `json:"column"`
	Concept    string      `json:"concept"`
	Property   string      `json:"property"`
	Confidence float64     `json:"confidence"`
	Kind       MappingKind `json:"kind,omitempty"`
	MatchedBy  MatchKind   `json:"matched_by,omitempty"`
}

// PropertyRef names a matched (concept, property) pair.
type PropertyRef struct {
	Concept  string    `json:"concept"`
	Property string    `json:"property"`
	Match    MatchKind `json:"match"`
}

// Resolution is the set of matches computed for one question against one
// schema snapshot and ontology pair.
type Resolution struct {
	Concepts   []string      `json:"concepts"`
	Properties []PropertyRef `json:"properties"`

	// ColumnMappings holds mappings at or above the confidence threshold,
	// ordered by descending confidence.
	ColumnMappings []ColumnMapping `json:"column_mappings"`

	// LowConfidence holds mappings below the threshold. They are diagnostics only
	// and never drive generation.
	LowConfidence []ColumnMapping `json:"low_confidence,omitempty"`

	UnresolvedTokens []string `json:"unresolved_tokens,omitempty"`
	Confidence       float64  `json:"confidence"`
	Structural       bool     `json:"structural,omitempty"`
	Warnings         []string `json:"warnings,omitempty"`
}

// IsEmpty reports whether the resolution carries no usable mapping.
func (r *Resolution) IsEmpty() bool {
	return r == nil || len(r.ColumnMappings) == 0
}

// TableConfidence returns the best confidence for any mapping that references the table,
// considering accepted mappings before low-confidence diagnostics.
func (r *Resolution) TableConfidence(table string) float64 {
	if r == nil {
		return 0
	}
	best := 0.0
	for _, m := range r.ColumnMappings {
		if m.Table == table && m.Confidence > best {
			best = m.Confidence
		}
	}
	if best > 0 {
		return best
	}
	for _, m := range r.LowConfidence {
		if m.Table == table && m.Confidence > best {
			best = m.Confidence
		}
	}
	return best
}
