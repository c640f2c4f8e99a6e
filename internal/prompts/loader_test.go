package prompts

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGet_SourcingPrompts(t *testing.T) {
	prompt, err := Get("sourcing.json", "find-companies")
	require.NoError(t, err)
	assert.Contains(t, prompt, "{{.Industries}}")
	assert.Contains(t, prompt, "{{.MaxCompanies}}")

	keys, err := Keys("sourcing.json")
	require.NoError(t, err)
	assert.Equal(t, []string{"describe-company", "find-companies"}, keys)
}

func TestGet_Errors(t *testing.T) {
	_, err := Get("nonexistent.json", "some-key")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read prompt file")

	_, err = Get("sourcing.json", "nonexistent-key")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
}

func TestFields(t *testing.T) {
	assert.Equal(t, []string{"A", "B"}, Fields("{{.A}} then {{.B}} and {{.A}} again"))
	assert.Empty(t, Fields("no placeholders {{ .Spaced }} here"))

	prompt, err := Get("sourcing.json", "describe-company")
	require.NoError(t, err)
	assert.Equal(t, []string{"Text"}, Fields(prompt))
}

func TestFormat(t *testing.T) {
	tests := []struct {
		name     string
		template string
		data     map[string]string
		expected string
	}{
		{"single", "Hello {{.Name}}", map[string]string{"Name": "Acme"}, "Hello Acme"},
		{"repeated", "{{.A}} and {{.A}}", map[string]string{"A": "x"}, "x and x"},
		{"unknown left alone", "{{.A}} {{.B}}", map[string]string{"A": "x"}, "x {{.B}}"},
		{"value not re-expanded", "{{.A}}", map[string]string{"A": "{{.B}}", "B": "y"}, "{{.B}}"},
		{"no data", "plain", nil, "plain"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, Format(tt.template, tt.data))
		})
	}
}

func TestRender(t *testing.T) {
	out, err := Render("sourcing.json", "describe-company", map[string]string{"Text": "We build rockets. {{.Text}}"})
	require.NoError(t, err)
	assert.Contains(t, out, "We build rockets.")
	assert.Equal(t, 1, strings.Count(out, "{{.Text}}"), "placeholder text inside a value survives verbatim")
}

func TestRender_MissingFields(t *testing.T) {
	_, err := Render("sourcing.json", "find-companies", map[string]string{"Industries": "Fintech"})
	var missing *MissingFieldsError
	require.ErrorAs(t, err, &missing)
	assert.Equal(t, "find-companies", missing.Key)
	assert.Contains(t, missing.Fields, "MaxCompanies")
	assert.NotContains(t, missing.Fields, "Industries")
}
