// Package agent assembles completion clients for agent roles.
//
// Structure:
//   - llm: the LLMClient interface, request/response types and middleware chaining
//   - llmerrors: classified provider errors (rate limit, transient, auth, ...)
//   - middleware: telemetry, retry, timeout and empty-response layers
//   - internal/llmimpl: provider adapters (Anthropic, OpenAI, Gemini, Ollama)
//
// LLMClientFactory builds one middleware chain per role and CompletionClient
// exposes the role-level Invoke contract used by the agents.
package agent
