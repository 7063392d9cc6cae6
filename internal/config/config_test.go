package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "quill.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadFileDefaults(t *testing.T) {
	cfg, err := LoadFile(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err, "a missing file falls back to defaults")

	assert.Equal(t, 3, cfg.Workflow.MaxLiteratureLoops)
	assert.Equal(t, 2, cfg.Workflow.MaxRevisionLoops)
	assert.Equal(t, 0.7, cfg.Workflow.ValidationThreshold)
	assert.Equal(t, "APA", cfg.Workflow.CitationStyle)
	assert.Equal(t, "quill-research", cfg.Temporal.TaskQueue)
	assert.Equal(t, 2048, cfg.LLM.MaxTokens)
}

func TestLoadFileOverrides(t *testing.T) {
	path := writeConfig(t, `
workflow:
  max_literature_loops: 1
  max_revision_loops: 0
  validation_threshold: 0.9
  citation_style: IEEE
llm:
  max_tokens: 512
  call_timeout: 45s
search:
  max_results: 2
`)
	cfg, err := LoadFile(path)
	require.NoError(t, err)

	assert.Equal(t, 1, cfg.Workflow.MaxLiteratureLoops)
	assert.Equal(t, 0, cfg.Workflow.MaxRevisionLoops)
	assert.Equal(t, "IEEE", cfg.Workflow.CitationStyle)
	assert.Equal(t, 512, cfg.LLM.MaxTokens)
	assert.Equal(t, 2, cfg.Search.MaxResults)

	r := cfg.Routing()
	assert.Equal(t, 1, r.MaxLiteratureLoops)
	assert.Equal(t, 0.9, r.ValidationThreshold)
}

func TestLoadFileRejectsInvalid(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"negative literature loops", "workflow:\n  max_literature_loops: -1\n"},
		{"threshold above one", "workflow:\n  validation_threshold: 1.5\n"},
		{"zero gaps per cycle", "workflow:\n  max_gaps_per_cycle: 0\n"},
		{"zero max tokens", "llm:\n  max_tokens: 0\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadFile(writeConfig(t, tt.body))
			assert.Error(t, err)
		})
	}
}

func TestEnvOverride(t *testing.T) {
	t.Setenv("QUILL_WORKFLOW_MAX_LITERATURE_LOOPS", "7")
	cfg, err := LoadFile(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)
	assert.Equal(t, 7, cfg.Workflow.MaxLiteratureLoops)
}

func TestSearchAPIKey(t *testing.T) {
	t.Setenv("MY_SEARCH_KEY", "sk-123")
	cfg := &Config{Search: SearchConfig{APIKeyEnv: "MY_SEARCH_KEY"}}
	assert.Equal(t, "sk-123", cfg.SearchAPIKey())
}
