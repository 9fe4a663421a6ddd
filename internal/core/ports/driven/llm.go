package driven

import "context"

// ChatMessage represents a single message in a completion request.
type ChatMessage struct {
	// Role is one of "system", "user", or "assistant".
	Role string

	// Content is the message text.
	Content string
}

// CompletionRequest configures one external analysis call.
type CompletionRequest struct {
	// Model overrides the service's configured default when set, so
	// handlers with different model choices can share one service.
	Model string

	Messages    []ChatMessage
	MaxTokens   int
	Temperature float64
}

// CompletionResult is the normalised provider response with token accounting.
type CompletionResult struct {
	Content          string
	Model            string
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// CompletionService is the black-box external analysis call.
//
// Failures are classified through the domain error taxonomy: errors wrapping
// domain.ErrRetryable (429, 5xx, timeouts) leave the job on the queue for
// redelivery; errors wrapping domain.ErrFatal (other 4xx, malformed payload)
// acknowledge the job as permanently failed.
type CompletionService interface {
	// Complete runs one completion call and reports actual token usage.
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResult, error)

	// ModelName returns the model the service is configured for.
	ModelName() string

	// Close releases resources.
	Close() error
}
