package catalog_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/modelfleet/controld/internal/catalog"
)

func TestEntriesNonEmpty(t *testing.T) {
	entries := catalog.Entries()
	require.NotEmpty(t, entries)
	for _, e := range entries {
		require.NotEmpty(t, e.Value)
		require.NotEmpty(t, e.Label)
	}
}

func TestProvider(t *testing.T) {
	require.Equal(t, "bedrock", catalog.Provider("bedrock/anthropic.claude-3-haiku-20240307-v1:0"))
	require.Equal(t, "ollama", catalog.Provider("ollama/llama3:8b"))
	require.Equal(t, "", catalog.Provider("llama3:8b"))
}

func TestIsCloudHosted(t *testing.T) {
	require.True(t, catalog.IsCloudHosted("bedrock/amazon.titan-text-express-v1"))
	require.False(t, catalog.IsCloudHosted("ollama/llama3:8b"))
	require.False(t, catalog.IsCloudHosted("llama3:8b"))
	require.False(t, catalog.IsCloudHosted("unknown/provider-model"))
}

func TestLocalName(t *testing.T) {
	require.Equal(t, "llama3:8b", catalog.LocalName("ollama/llama3:8b"))
	require.Equal(t, "llama3:8b", catalog.LocalName("llama3:8b"))
}
