// Package catalog holds the static enterprise model catalog. These models
// are served by cloud providers and never pulled locally.
package catalog

import "strings"

// Entry is one selectable model as presented to clients.
type Entry struct {
	Value string `json:"value"`
	Label string `json:"label"`
}

// models maps provider to its catalog entries. Static by design; the
// control plane has no say over what the enterprise gateway serves.
var models = map[string][]Entry{
	"bedrock": {
		{Value: "bedrock/anthropic.claude-3-5-sonnet-20240620-v1:0", Label: "bedrock (claude-3.5-sonnet)"},
		{Value: "bedrock/anthropic.claude-3-haiku-20240307-v1:0", Label: "bedrock (claude-3-haiku)"},
		{Value: "bedrock/meta.llama3-70b-instruct-v1:0", Label: "bedrock (llama3-70b-instruct)"},
		{Value: "bedrock/amazon.titan-text-express-v1", Label: "bedrock (titan-text-express)"},
	},
}

// Entries returns every enterprise model across providers.
func Entries() []Entry {
	var out []Entry
	for _, list := range models {
		out = append(out, list...)
	}
	return out
}

// Provider returns the provider prefix of a model name ("bedrock/x" ->
// "bedrock"), or empty when the name carries no prefix.
func Provider(model string) string {
	if i := strings.Index(model, "/"); i > 0 {
		return model[:i]
	}
	return ""
}

// IsCloudHosted reports whether the model is served by an enterprise
// provider rather than pulled into the local backend.
func IsCloudHosted(model string) bool {
	p := Provider(model)
	if p == "" || p == "ollama" {
		return false
	}
	_, ok := models[p]
	return ok
}

// LocalName strips the "ollama/" prefix clients use to address the local
// backend; other names pass through unchanged.
func LocalName(model string) string {
	return strings.TrimPrefix(model, "ollama/")
}
