// Package groq provides a completion service adapter using the Groq API.
package groq

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/stevenmcsorley/sec-filing-intelligence/internal/core/domain"
	"github.com/stevenmcsorley/sec-filing-intelligence/internal/core/ports/driven"
)

// Ensure CompletionService implements the interface.
var _ driven.CompletionService = (*CompletionService)(nil)

// Default configuration values.
const (
	DefaultBaseURL = "https://api.groq.com/openai/v1"
	DefaultModel   = "llama-3.3-70b-versatile"
	DefaultTimeout = 120 * time.Second
)

// Config holds configuration for the Groq completion service.
type Config struct {
	// APIKey is the Groq API key (required).
	APIKey string

	// BaseURL is the API base URL (default: https://api.groq.com/openai/v1).
	// Can be changed for any OpenAI-compatible endpoint.
	BaseURL string

	// Model is the model to use (default: llama-3.3-70b-versatile).
	Model string

	// Timeout is the request timeout (default: 120s).
	Timeout time.Duration
}

// CompletionService runs chat completions against the Groq API.
type CompletionService struct {
	client  *http.Client
	baseURL string
	apiKey  string
	model   string
}

// chatCompletionRequest is the OpenAI-compatible /chat/completions request.
type chatCompletionRequest struct {
	Model       string              `json:"model"`
	Messages    []chatCompletionMsg `json:"messages"`
	MaxTokens   int                 `json:"max_tokens,omitempty"`
	Temperature float64             `json:"temperature,omitempty"`
}

type chatCompletionMsg struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// chatCompletionResponse is the OpenAI-compatible /chat/completions response.
type chatCompletionResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error,omitempty"`
}

// NewCompletionService creates a new Groq completion service.
func NewCompletionService(cfg Config) (*CompletionService, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("groq: API key is required")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultTimeout
	}

	return &CompletionService{
		client: &http.Client{
			Timeout: cfg.Timeout,
		},
		baseURL: cfg.BaseURL,
		apiKey:  cfg.APIKey,
		model:   cfg.Model,
	}, nil
}

// Complete runs one completion call and reports actual token usage.
func (s *CompletionService) Complete(ctx context.Context, req driven.CompletionRequest) (*driven.CompletionResult, error) {
	messages := make([]chatCompletionMsg, len(req.Messages))
	for i, msg := range req.Messages {
		messages[i] = chatCompletionMsg{Role: msg.Role, Content: msg.Content}
	}

	model := req.Model
	if model == "" {
		model = s.model
	}
	reqBody := chatCompletionRequest{
		Model:    model,
		Messages: messages,
	}
	if req.MaxTokens > 0 {
		reqBody.MaxTokens = req.MaxTokens
	}
	if req.Temperature > 0 {
		reqBody.Temperature = req.Temperature
	}

	jsonBody, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(
		ctx,
		http.MethodPost,
		s.baseURL+"/chat/completions",
		bytes.NewReader(jsonBody),
	)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+s.apiKey)

	resp, err := s.client.Do(httpReq)
	if err != nil {
		// Transport failures and timeouts are worth another delivery.
		if errors.Is(err, context.Canceled) {
			return nil, err
		}
		return nil, fmt.Errorf("send request: %w: %w", domain.ErrRetryable, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w: %w", domain.ErrRetryable, err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, classifyStatus(resp.StatusCode, body)
	}

	var chatResp chatCompletionResponse
	if err := json.Unmarshal(body, &chatResp); err != nil {
		return nil, fmt.Errorf("decode response: %w: %w", domain.ErrFatal, err)
	}
	if chatResp.Error != nil {
		return nil, fmt.Errorf("groq error: %s: %w", chatResp.Error.Message, domain.ErrFatal)
	}
	if len(chatResp.Choices) == 0 {
		return nil, fmt.Errorf("groq: no response choices returned: %w", domain.ErrFatal)
	}

	respModel := chatResp.Model
	if respModel == "" {
		respModel = model
	}
	return &driven.CompletionResult{
		Content:          chatResp.Choices[0].Message.Content,
		Model:            respModel,
		PromptTokens:     chatResp.Usage.PromptTokens,
		CompletionTokens: chatResp.Usage.CompletionTokens,
		TotalTokens:      chatResp.Usage.TotalTokens,
	}, nil
}

// classifyStatus maps an HTTP error status onto the domain error taxonomy.
// Throttling, timeouts and server trouble are transient; any other client
// error means the request itself is bad and a retry cannot help.
func classifyStatus(status int, body []byte) error {
	switch {
	case status == http.StatusTooManyRequests,
		status == http.StatusRequestTimeout,
		status >= 500:
		return fmt.Errorf("groq error (status %d): %s: %w", status, string(body), domain.ErrRetryable)
	default:
		return fmt.Errorf("groq error (status %d): %s: %w", status, string(body), domain.ErrFatal)
	}
}

// ModelName returns the model the service is configured for.
func (s *CompletionService) ModelName() string {
	return s.model
}

// Close releases resources.
func (s *CompletionService) Close() error {
	// HTTP client doesn't need explicit cleanup
	return nil
}
