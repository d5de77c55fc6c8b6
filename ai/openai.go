package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/storyforge/pipeline/platform"
	"github.com/storyforge/pipeline/resilience"
)

// OpenAIClient implements Client against OpenAI's chat-completions API
// (and any OpenAI-compatible endpoint reachable via WithBaseURL), adapted
// directly from the teacher's ai/client.go OpenAIClient.
type OpenAIClient struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
	retry      *resilience.RetryConfig
	logger     platform.Logger
}

// NewOpenAIClient builds an OpenAIClient. A nil logger falls back to
// platform.NoOpLogger, and a nil retry to resilience.DefaultRetryConfig.
func NewOpenAIClient(apiKey, baseURL string, retry *resilience.RetryConfig, logger platform.Logger) *OpenAIClient {
	if logger == nil {
		logger = platform.NoOpLogger{}
	}
	if retry == nil {
		retry = resilience.DefaultRetryConfig()
	}
	if baseURL == "" {
		baseURL = "https://api.openai.com/v1"
	}
	return &OpenAIClient{
		apiKey:     apiKey,
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		retry:      retry,
		logger:     logger,
	}
}

func (c *OpenAIClient) GenerateResponse(ctx context.Context, prompt string, options *Options) (*Response, error) {
	if c.apiKey == "" {
		return nil, fmt.Errorf("%w: openai api key not configured", platform.ErrInvalidConfiguration)
	}
	options = applyDefaults(options)

	var messages []map[string]string
	if options.SystemPrompt != "" {
		messages = append(messages, map[string]string{"role": "system", "content": options.SystemPrompt})
	}
	messages = append(messages, map[string]string{"role": "user", "content": prompt})

	reqBody := map[string]interface{}{
		"model":       options.Model,
		"messages":    messages,
		"temperature": options.Temperature,
		"max_tokens":  options.MaxTokens,
	}
	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	c.logger.DebugWithContext(ctx, "ai: dispatching openai request", map[string]interface{}{"model": options.Model})
	var body []byte
	err = resilience.Retry(ctx, c.retry, func() error {
		req, reqErr := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewBuffer(jsonData))
		if reqErr != nil {
			return fmt.Errorf("build request: %w", reqErr)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
		resp, doErr := c.httpClient.Do(req)
		if doErr != nil {
			return fmt.Errorf("%w: %v", platform.ErrUpstreamFailure, doErr)
		}
		defer resp.Body.Close()
		readBody, readErr := io.ReadAll(resp.Body)
		if readErr != nil {
			return fmt.Errorf("%w: read response: %v", platform.ErrUpstreamFailure, readErr)
		}
		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("%w: openai status %d: %s", platform.ErrUpstreamFailure, resp.StatusCode, string(readBody))
		}
		body = readBody
		return nil
	})
	if err != nil {
		return nil, err
	}

	var out struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
		Usage struct {
			PromptTokens     int `json:"prompt_tokens"`
			CompletionTokens int `json:"completion_tokens"`
			TotalTokens      int `json:"total_tokens"`
		} `json:"usage"`
		Model string `json:"model"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("%w: parse response: %v", platform.ErrUpstreamFailure, err)
	}
	if len(out.Choices) == 0 {
		return nil, fmt.Errorf("%w: no choices in openai response", platform.ErrUpstreamFailure)
	}

	return &Response{
		Content: out.Choices[0].Message.Content,
		Model:   out.Model,
		Usage: TokenUsage{
			PromptTokens:     out.Usage.PromptTokens,
			CompletionTokens: out.Usage.CompletionTokens,
			TotalTokens:      out.Usage.TotalTokens,
		},
	}, nil
}
