package stages

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExtractJSON(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"bare object", `{"a": 1}`, `{"a": 1}`},
		{"surrounding prose", `Here you go: {"a": 1} hope that helps`, `{"a": 1}`},
		{"fenced", "```json\n{\"a\": 1}\n```", `{"a": 1}`},
		{"fence without tag", "```\n[1, 2]\n```", `[1, 2]`},
		{"nested braces", `{"a": {"b": 2}}`, `{"a": {"b": 2}}`},
		{"brace inside string", `{"a": "}"}`, `{"a": "}"}`},
		{"escaped quote", `{"a": "\""}`, `{"a": "\""}`},
		{"array", `notes [1, {"b": 2}] end`, `[1, {"b": 2}]`},
		{"no json", "just prose", ""},
		{"unclosed", `{"a": 1`, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, extractJSON(tt.in))
		})
	}
}

func TestFirstLine(t *testing.T) {
	assert.Equal(t, "grid storage", firstLine("  \"grid storage\"\nsecond line\n"))
	assert.Equal(t, "plain", firstLine("plain"))
	assert.Equal(t, "", firstLine("   \n\n"))
}
