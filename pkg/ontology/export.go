package ontology

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/ekaya-inc/ekaya-ask/pkg/models"
)

// Export formats.
const (
	FormatDocument = "document"
	FormatFlat     = "flat"
)

// Export renders an ontology as a YAML document or as sorted key=value lines.
func Export(o *models.Ontology, format string) ([]byte, error) {
	if o == nil {
		return nil, fmt.Errorf("no ontology to export")
	}
	switch format {
	case FormatDocument, "":
		out, err := yaml.Marshal(o)
		if err != nil {
			return nil, fmt.Errorf("marshal ontology: %w", err)
		}
		return out, nil
	case FormatFlat:
		return []byte(strings.Join(flatten(o), "\n") + "\n"), nil
	default:
		return nil, fmt.Errorf("unknown export format %q", format)
	}
}

func flatten(o *models.Ontology) []string {
	var lines []string
	add := func(key, value string) {
		lines = append(lines, key+"="+value)
	}
	for _, c := range o.Concepts {
		prefix := "concept." + c.Name
		if c.Description != "" {
			add(prefix+".description", c.Description)
		}
		if len(c.Synonyms) > 0 {
			add(prefix+".synonyms", strings.Join(c.Synonyms, ","))
		}
		for name, p := range c.Properties {
			pp := prefix + ".property." + name
			if p.SemanticType != "" {
				add(pp+".semantic_type", string(p.SemanticType))
			}
			if len(p.Keywords) > 0 {
				add(pp+".keywords", strings.Join(p.Keywords, ","))
			}
			if p.Column != nil {
				add(pp+".column", p.Column.Table+"."+p.Column.Column)
			}
		}
	}
	for _, m := range o.Mappings {
		key := fmt.Sprintf("mapping.%s.%s.%s.%s", m.Concept, m.Property, m.Table, m.Column)
		add(key, strconv.FormatFloat(m.Confidence, 'f', -1, 64))
	}
	sort.Strings(lines)
	return lines
}
