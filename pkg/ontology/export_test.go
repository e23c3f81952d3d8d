package ontology

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/ekaya-inc/ekaya-ask/pkg/models"
)

func TestExport_Document(t *testing.T) {
	o := purchasingOntology()

	out, err := Export(o, FormatDocument)
	require.NoError(t, err)

	var decoded models.Ontology
	require.NoError(t, yaml.Unmarshal(out, &decoded))
	assert.Equal(t, o.Concepts, decoded.Concepts)
	assert.Equal(t, o.Mappings, decoded.Mappings)
}

func TestExport_Flat(t *testing.T) {
	out, err := Export(purchasingOntology(), FormatFlat)
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(string(out)), "\n")
	assert.Equal(t, []string{
		"concept.PurchaseOrder.property.total.keywords=amount,spend",
		"concept.PurchaseOrder.property.total.semantic_type=currency",
		"concept.PurchaseOrder.synonyms=po",
		"concept.Vendor.property.name.semantic_type=name",
		"mapping.PurchaseOrder.total.purchase_order.total_amount=0.9",
		"mapping.Vendor.name.purchase_order.vendorgroup=0.95",
	}, lines)
}

func TestExport_Errors(t *testing.T) {
	_, err := Export(nil, FormatFlat)
	assert.Error(t, err)

	_, err = Export(purchasingOntology(), "xml")
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unknown export format "xml"`)
}
