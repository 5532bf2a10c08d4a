package marketsdk

import "strings"

// ProviderUnknown is returned when no resolver rule matches a model name.
// Callers must handle it; resolution never fails.
const ProviderUnknown = "unknown"

// providerRule classifies a model name by prefix or substring.
type providerRule struct {
	prefix   string
	contains string
	provider string
}

// providerRules are evaluated top to bottom; the first match wins, so
// specific rules must precede catch-alls. Rule order is covered by tests.
var providerRules = []providerRule{
	{prefix: "gpt-", provider: "openai"},
	{prefix: "o1", provider: "openai"},
	{contains: "claude", provider: "anthropic"},
	{contains: "gemini", provider: "google"},
	{contains: "command", provider: "cohere"},
	{contains: "mistral", provider: "mistral"},
	{contains: "mixtral", provider: "mistral"},
	{contains: "deepseek", provider: "deepseek"},
	{contains: "llama", provider: "ollama"},
}

// ResolveProvider maps a model identifier to its provider name.
// Pure function: matching is case-insensitive and ordered, and unmatched
// models resolve to ProviderUnknown rather than an error.
func ResolveProvider(model string) string {
	m := strings.ToLower(model)
	for _, r := range providerRules {
		if r.prefix != "" && strings.HasPrefix(m, r.prefix) {
			return r.provider
		}
		if r.contains != "" && strings.Contains(m, r.contains) {
			return r.provider
		}
	}
	return ProviderUnknown
}
