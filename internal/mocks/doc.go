// Package mocks provides shared test doubles.
//
//	client := mocks.NewMockLLMClient()
//	client.RespondWith(`{"actions":[]}`)
//
// Available mocks:
//
//   - MockLLMClient: llm.LLMClient with scripted responses and call capture
//   - MockCompletion: agent.CompletionClient keyed by role
//   - MockExecutor: exec.Executor with per-command results
//   - ScriptedAgent: roles.Agent returning queued responses
package mocks
