package agent

import (
	"fmt"
	"sync"

	"agentflow/pkg/agent/internal/llmimpl/anthropic"
	"agentflow/pkg/agent/internal/llmimpl/google"
	"agentflow/pkg/agent/internal/llmimpl/ollama"
	"agentflow/pkg/agent/internal/llmimpl/openaiofficial"
	"agentflow/pkg/agent/llm"
	"agentflow/pkg/agent/middleware/metrics"
	"agentflow/pkg/agent/middleware/resilience/retry"
	"agentflow/pkg/agent/middleware/resilience/timeout"
	"agentflow/pkg/agent/middleware/validation"
	"agentflow/pkg/config"
	"agentflow/pkg/logx"
	"agentflow/pkg/telemetry"
)

// ProviderFunc builds a raw client for a model. apiKey is the provider's
// key (or host URL for Ollama).
type ProviderFunc func(apiKey, model string) llm.LLMClient

// DefaultProviders maps provider names to their adapters.
func DefaultProviders() map[string]ProviderFunc {
	return map[string]ProviderFunc{
		config.ProviderAnthropic: func(key, model string) llm.LLMClient {
			return anthropic.NewClaudeClientWithModel(key, model)
		},
		config.ProviderOpenAI: func(key, model string) llm.LLMClient {
			return openaiofficial.NewOfficialClientWithModel(key, model)
		},
		config.ProviderGoogle: google.NewGeminiClientWithModel,
		config.ProviderOllama: ollama.NewOllamaClientWithModel,
	}
}

// FactoryOption customizes an LLMClientFactory.
type FactoryOption func(*LLMClientFactory)

// WithRecorder sets the Prometheus recorder shared by all clients.
func WithRecorder(r telemetry.Recorder) FactoryOption {
	return func(f *LLMClientFactory) { f.recorder = r }
}

// WithSink sets where successful-call records are appended.
func WithSink(s telemetry.Sink) FactoryOption {
	return func(f *LLMClientFactory) { f.sink = s }
}

// WithProvider overrides the adapter for one provider.
func WithProvider(name string, fn ProviderFunc) FactoryOption {
	return func(f *LLMClientFactory) { f.providers[name] = fn }
}

// WithSleep replaces the retry sleep, used by tests.
func WithSleep(fn retry.SleepFunc) FactoryOption {
	return func(f *LLMClientFactory) { f.sleep = fn }
}

// WithLogger sets the logger used by the middleware.
func WithLogger(l *logx.Logger) FactoryOption {
	return func(f *LLMClientFactory) { f.logger = l }
}

// LLMClientFactory creates LLM clients with properly configured middleware chains.
type LLMClientFactory struct {
	config    *config.Config
	recorder  telemetry.Recorder
	sink      telemetry.Sink
	providers map[string]ProviderFunc
	sleep     retry.SleepFunc
	logger    *logx.Logger
	clients   map[string]llm.LLMClient
	mu        sync.Mutex
}

// NewLLMClientFactory creates a new LLM client factory with the given configuration.
func NewLLMClientFactory(cfg *config.Config, opts ...FactoryOption) *LLMClientFactory {
	f := &LLMClientFactory{
		config:    cfg,
		recorder:  telemetry.Nop(),
		providers: DefaultProviders(),
		logger:    logx.NewLogger("llm"),
		clients:   map[string]llm.LLMClient{},
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// CreateClient returns the client for role, building it on first use.
// The API key is resolved from decrypted secrets or the environment based on
// the model's provider.
func (f *LLMClientFactory) CreateClient(role string) (llm.LLMClient, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if c, ok := f.clients[role]; ok {
		return c, nil
	}

	modelName := f.config.ModelFor(role)
	if modelName == "" {
		return nil, fmt.Errorf("no model configured for role %s", role)
	}
	provider, err := config.GetModelProvider(modelName)
	if err != nil {
		return nil, fmt.Errorf("failed to determine provider for model %s: %w", modelName, err)
	}
	build, ok := f.providers[provider]
	if !ok {
		return nil, fmt.Errorf("unsupported provider: %s", provider)
	}
	apiKey, err := config.GetAPIKey(provider)
	if err != nil {
		return nil, fmt.Errorf("failed to get API key for provider %s: %w", provider, err)
	}

	policy := retry.NewPolicy(retry.Config{
		MaxAttempts: f.config.Resilience.MaxAttempts,
		BaseDelay:   f.config.Resilience.BaseDelay(),
		MaxDelay:    f.config.Resilience.MaxDelay(),
	})
	if f.sleep != nil {
		policy.WithSleep(f.sleep)
	}

	// Telemetry -> Retry -> Timeout -> EmptyResponse -> RawClient
	client := llm.Chain(build(apiKey, modelName),
		metrics.Middleware(metrics.Options{
			Role:     role,
			Recorder: f.recorder,
			Sink:     f.sink,
			Price:    f.config.CostFor,
			Logger:   f.logger,
		}),
		retry.Middleware(policy, f.logger),
		timeout.Middleware(f.config.Resilience.RequestTimeout()),
		validation.EmptyResponse(),
	)
	f.clients[role] = client
	config.LogInfo("🤖 %s → %s (%s)", role, modelName, provider)
	return client, nil
}
