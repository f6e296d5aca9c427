package util

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type planArgs struct {
	Steps []struct {
		Title       string `json:"title"`
		Description string `json:"description"`
	} `json:"steps" jsonschema:"description=Ordered plan steps"`
	Note string `json:"note,omitempty"`
}

func TestCreateSchema(t *testing.T) {
	s := CreateSchema(planArgs{})
	assert.Equal(t, "object", s["type"])
	assert.NotContains(t, s, "$schema")

	props, ok := s["properties"].(map[string]any)
	require.True(t, ok)
	steps, ok := props["steps"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "array", steps["type"])
	assert.Equal(t, "Ordered plan steps", steps["description"])

	assert.ElementsMatch(t, []any{"steps"}, s["required"])
}

func TestValidateParameters(t *testing.T) {
	schema := CreateSchema(planArgs{})

	err := ValidateParameters(map[string]any{}, schema)
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "steps", verr.Field)

	err = ValidateParameters(map[string]any{"steps": "nope"}, schema)
	require.ErrorAs(t, err, &verr)
	assert.Contains(t, verr.Message, "expected type array")

	require.NoError(t, ValidateParameters(map[string]any{"steps": []any{}, "extra": 1}, schema))
}

func TestValidateParametersStringRequired(t *testing.T) {
	schema := map[string]any{
		"required":   []string{"prompt"},
		"properties": map[string]any{"prompt": map[string]any{"type": "string"}, "n": map[string]any{"type": "integer"}},
	}
	require.Error(t, ValidateParameters(map[string]any{}, schema))
	require.NoError(t, ValidateParameters(map[string]any{"prompt": "cat", "n": float64(2)}, schema))
	require.Error(t, ValidateParameters(map[string]any{"prompt": "cat", "n": 2.5}, schema))
}

func TestRenderTemplate(t *testing.T) {
	out, err := RenderTemplate("plain text", nil)
	require.NoError(t, err)
	assert.Equal(t, "plain text", out)

	out, err = RenderTemplate(`canvas {{ .canvas_id }} / {{ default "none" .brand }}`, map[string]any{"canvas_id": "c1"})
	require.NoError(t, err)
	assert.Equal(t, "canvas c1 / none", out)

	_, err = RenderTemplate("{{ .broken", nil)
	require.Error(t, err)
}
