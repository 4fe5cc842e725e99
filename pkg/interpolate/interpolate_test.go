package interpolate

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestInterpolate(t *testing.T) {
	t.Parallel()

	vars := map[string]any{
		"a":     map[string]any{"b": "x"},
		"nome":  "Maria",
		"nota":  4,
		"items": []any{map[string]any{"sku": "A1"}, map[string]any{"sku": "B2"}},
		"ok":    true,
	}

	tests := []struct {
		name     string
		text     string
		expected string
	}{
		{name: "nested path", text: "{a.b}", expected: "x"},
		{name: "missing is untouched", text: "{missing}", expected: "{missing}"},
		{name: "mixed text", text: "Olá, {nome}! Nota {nota}.", expected: "Olá, Maria! Nota 4."},
		{name: "array index", text: "{items[1].sku}", expected: "B2"},
		{name: "boolean", text: "{ok}", expected: "true"},
		{name: "missing nested", text: "{a.c}", expected: "{a.c}"},
		{name: "no placeholders", text: "plain text", expected: "plain text"},
		{name: "not an identifier", text: "{ json }", expected: "{ json }"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.expected, Interpolate(tt.text, vars))
		})
	}
}

func TestInterpolate_EmptyVars(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "{missing}", Interpolate("{missing}", map[string]any{}))
	assert.Equal(t, "{missing}", Interpolate("{missing}", nil))
}

func TestLookup(t *testing.T) {
	t.Parallel()

	vars := map[string]any{
		"cliente": map[string]any{"plano": "gold"},
		"idade":   30,
	}

	value, ok := Lookup(vars, "cliente.plano")
	assert.True(t, ok)
	assert.Equal(t, "gold", value)

	value, ok = Lookup(vars, "{idade}")
	assert.True(t, ok)
	assert.Equal(t, 30, value)

	_, ok = Lookup(vars, "cliente.limite")
	assert.False(t, ok)
}

func TestToGJSONPath(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "data.items.0.name", ToGJSONPath("data.items[0].name"))
	assert.Equal(t, "data.id", ToGJSONPath("$.data.id"))
	assert.Equal(t, "0.id", ToGJSONPath("[0].id"))
}
