package ai

import (
	"context"
	"fmt"
	"sync"
)

// MockClient is a deterministic, in-process Client used by tests and by
// STORYFORGE_AI_MOCK=true deployments (smoke environments with no
// provider credentials). Each call increments Calls and echoes the prompt
// back, prefixed, so tests can assert on what was asked for without
// depending on real generation content.
type MockClient struct {
	mu       sync.Mutex
	Calls    int
	Prompts  []string
	Response func(prompt string, options *Options) (*Response, error)
}

// NewMockClient returns a MockClient with the default echo behavior.
func NewMockClient() *MockClient {
	return &MockClient{}
}

func (m *MockClient) GenerateResponse(_ context.Context, prompt string, options *Options) (*Response, error) {
	m.mu.Lock()
	m.Calls++
	m.Prompts = append(m.Prompts, prompt)
	m.mu.Unlock()

	if m.Response != nil {
		return m.Response(prompt, options)
	}
	options = applyDefaults(options)
	return &Response{
		Content: fmt.Sprintf("[mock:%s] %s", options.Model, prompt),
		Model:   options.Model,
		Usage:   TokenUsage{PromptTokens: len(prompt) / 4, CompletionTokens: 32, TotalTokens: len(prompt)/4 + 32},
	}, nil
}
