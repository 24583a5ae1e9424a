// Package llm defines the chat-completion provider interface and the
// role-tagged message types exchanged with it. Providers classify failures
// with ai.ErrRecoverable and ai.ErrFatal.
package llm

import "context"

// MessageRole represents the role of a message in a chat conversation.
type MessageRole string

const (
	RoleSystem    MessageRole = "system"
	RoleUser      MessageRole = "user"
	RoleAssistant MessageRole = "assistant"
)

// Message represents a single message in a chat conversation.
type Message struct {
	Role    MessageRole
	Content string
}

// ChatRequest contains parameters for a chat completion request.
type ChatRequest struct {
	Model            string
	Messages         []Message
	MaxTokens        int
	Temperature      float32
	PresencePenalty  float32
	FrequencyPenalty float32
}

// ChatResponse contains the response from a chat completion request.
type ChatResponse struct {
	Message      Message
	TokensUsed   int
	FinishReason string
}

// ChatStream delivers a reply incrementally.
type ChatStream interface {
	// Recv returns the next content delta. It returns io.EOF once the
	// provider sent its terminating sentinel.
	Recv() (string, error)

	// Close releases the underlying connection.
	Close() error
}

// LLMCapabilities is what a provider reports about itself.
type LLMCapabilities struct {
	SupportsStreaming  bool
	MaxTokens          int
	SupportedModels    []string
	SupportsSystemRole bool
}

// LLM is a chat-completion backend. The assistant streams replies; Chat
// returns the whole reply in one response.
type LLM interface {
	// Chat performs a single-shot chat completion request.
	Chat(ctx context.Context, req ChatRequest) (ChatResponse, error)

	// ChatStream starts a streaming chat completion.
	ChatStream(ctx context.Context, req ChatRequest) (ChatStream, error)

	// Capabilities returns the provider's capabilities.
	Capabilities() LLMCapabilities
}
