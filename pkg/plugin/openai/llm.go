package openai

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/chriscow/simon-go/pkg/ai/llm"
)

// DefaultChatModel is used when neither the config nor the request names one.
const DefaultChatModel = openai.GPT4o

// OpenAILLM implements the LLM interface using OpenAI GPT models
type OpenAILLM struct {
	client *openai.Client
	model  string
	logger *slog.Logger
}

// newOpenAILLM creates a new OpenAI LLM instance
func newOpenAILLM(cfg map[string]any) (any, error) {
	config, err := clientConfig(cfg)
	if err != nil {
		return nil, err
	}
	return NewLLM(config, stringOption(cfg, "model", DefaultChatModel)), nil
}

// NewLLM creates an OpenAI chat provider.
func NewLLM(config openai.ClientConfig, model string) *OpenAILLM {
	return &OpenAILLM{
		client: openai.NewClientWithConfig(config),
		model:  model,
		logger: slog.Default().With(slog.String("component", "openai_llm")),
	}
}

func (o *OpenAILLM) request(req llm.ChatRequest, stream bool) openai.ChatCompletionRequest {
	messages := make([]openai.ChatCompletionMessage, len(req.Messages))
	for i, msg := range req.Messages {
		messages[i] = openai.ChatCompletionMessage{
			Role:    string(msg.Role),
			Content: msg.Content,
		}
	}

	model := req.Model
	if model == "" {
		model = o.model
	}
	return openai.ChatCompletionRequest{
		Model:            model,
		Messages:         messages,
		MaxTokens:        req.MaxTokens,
		Temperature:      req.Temperature,
		PresencePenalty:  req.PresencePenalty,
		FrequencyPenalty: req.FrequencyPenalty,
		Stream:           stream,
	}
}

// Chat performs chat completion with conversation history
func (o *OpenAILLM) Chat(ctx context.Context, req llm.ChatRequest) (llm.ChatResponse, error) {
	start := time.Now()
	resp, err := o.client.CreateChatCompletion(ctx, o.request(req, false))
	if err != nil {
		return llm.ChatResponse{}, fmt.Errorf("chat completion request failed: %w", classifyError(err))
	}
	if len(resp.Choices) == 0 {
		return llm.ChatResponse{}, fmt.Errorf("no chat completion choices returned")
	}

	choice := resp.Choices[0]
	o.logger.Debug("chat completion",
		slog.Int("messages", len(req.Messages)),
		slog.Int("tokens", resp.Usage.TotalTokens),
		slog.Duration("duration", time.Since(start)))

	return llm.ChatResponse{
		Message: llm.Message{
			Role:    llm.MessageRole(choice.Message.Role),
			Content: choice.Message.Content,
		},
		TokensUsed:   resp.Usage.TotalTokens,
		FinishReason: string(choice.FinishReason),
	}, nil
}

// ChatStream starts a server-sent-events completion.
func (o *OpenAILLM) ChatStream(ctx context.Context, req llm.ChatRequest) (llm.ChatStream, error) {
	stream, err := o.client.CreateChatCompletionStream(ctx, o.request(req, true))
	if err != nil {
		return nil, fmt.Errorf("chat stream request failed: %w", classifyError(err))
	}
	return &chatStream{stream: stream}, nil
}

type chatStream struct {
	stream *openai.ChatCompletionStream
}

// Recv skips chunks without content such as the role preamble.
func (s *chatStream) Recv() (string, error) {
	for {
		resp, err := s.stream.Recv()
		if errors.Is(err, io.EOF) {
			return "", io.EOF
		}
		if err != nil {
			return "", fmt.Errorf("chat stream failed: %w", classifyError(err))
		}
		if len(resp.Choices) == 0 || resp.Choices[0].Delta.Content == "" {
			continue
		}
		return resp.Choices[0].Delta.Content, nil
	}
}

func (s *chatStream) Close() error {
	return s.stream.Close()
}

// Capabilities returns the OpenAI provider's capabilities
func (o *OpenAILLM) Capabilities() llm.LLMCapabilities {
	return llm.LLMCapabilities{
		SupportsStreaming:  true,
		MaxTokens:          128000,
		SupportedModels:    []string{openai.GPT4o, openai.GPT4oMini, openai.GPT4Turbo, openai.GPT3Dot5Turbo},
		SupportsSystemRole: true,
	}
}
