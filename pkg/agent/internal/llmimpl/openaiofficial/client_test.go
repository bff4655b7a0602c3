package openaiofficial

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/openai/openai-go/option"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"agentflow/pkg/agent/llm"
	"agentflow/pkg/agent/llmerrors"
)

func newTestClient(t *testing.T, model string, handler http.HandlerFunc) llm.LLMClient {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewOfficialClientWithModel("test-key", model, option.WithBaseURL(srv.URL))
}

func TestCompleteSendsInstructionsAndReadsUsage(t *testing.T) {
	var body map[string]any
	client := newTestClient(t, "gpt-5", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/responses", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"resp_1","object":"response","created_at":0,"model":"gpt-5","status":"completed",
			"output":[{"type":"message","id":"m1","role":"assistant","status":"completed",
			"content":[{"type":"output_text","text":"{\"actions\":[]}","annotations":[]}]}],
			"usage":{"input_tokens":40,"output_tokens":9,"total_tokens":49,
			"input_tokens_details":{"cached_tokens":0},"output_tokens_details":{"reasoning_tokens":0}}}`))
	})

	req := llm.NewCompletionRequest([]llm.CompletionMessage{
		llm.NewSystemMessage("plan only"),
		llm.NewUserMessage("change a.ts"),
	})
	req.MaxTokens = 100000
	resp, err := client.Complete(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, `{"actions":[]}`, resp.Content)
	assert.Equal(t, llm.Usage{InputTokens: 40, OutputTokens: 9, Reported: true}, resp.Usage)
	assert.Equal(t, "plan only", body["instructions"])
	assert.Equal(t, "change a.ts", body["input"])
	assert.InDelta(t, 4096, body["max_output_tokens"], 0, "capped to the model limit")
}

func TestCompleteClassifiesAuth(t *testing.T) {
	client := newTestClient(t, "gpt-5", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":{"message":"bad key","type":"invalid_request_error"}}`))
	})
	_, err := client.Complete(context.Background(), llm.NewCompletionRequest([]llm.CompletionMessage{llm.NewUserMessage("x")}))
	require.Error(t, err)
	assert.True(t, llmerrors.Is(err, llmerrors.ErrorTypeAuth))
}
