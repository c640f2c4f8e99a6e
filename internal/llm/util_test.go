package llm

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCleanJSONBlock(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{"json fence", "```json\n{\"companies\": []}\n```", `{"companies": []}`},
		{"bare fence", "```\n{\"companies\": []}\n```", `{"companies": []}`},
		{"other language tag", "```javascript\n{\"a\": 1}\n```", `{"a": 1}`},
		{"plain object", `{"a": 1}`, `{"a": 1}`},
		{"plain array", `[1, 2]`, `[1, 2]`},
		{"surrounding whitespace", "\n\n  {\"a\": 1}  \n", `{"a": 1}`},
		{"preamble", "Here are the companies:\n{\"companies\": [{\"name\": \"Acme\"}]}", `{"companies": [{"name": "Acme"}]}`},
		{"preamble and trailer", "Sure! {\"a\": 1} Let me know.", `{"a": 1}`},
		{"no json at all", "I could not find any companies.", "I could not find any companies."},
		{"empty", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, CleanJSONBlock(tt.input))
		})
	}
}
