package hub

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestInstanceStringFormatsNumbersWithoutExponent(t *testing.T) {
	inst := Instance{Properties: map[string]any{
		"Float":  float64(2199023255553),
		"Number": json.Number("2199023255553"),
		"Int":    7,
		"Text":   "cs1",
		"Mixed":  []any{float64(2199023255553), "3"},
	}}

	assert.Equal(t, "2199023255553", inst.String("Float"))
	assert.Equal(t, "2199023255553", inst.String("Number"))
	assert.Equal(t, "7", inst.String("Int"))
	assert.Equal(t, "cs1", inst.String("Text"))
	assert.Equal(t, "", inst.String("Missing"))
	assert.Equal(t, []string{"2199023255553", "3"}, inst.Strings("Mixed"))
}
