// Package openai provides OpenAI-based AI providers (STT, TTS, LLM).
// Chat completions are streamed, speech is returned as raw PCM and Whisper
// backs a microphone recognizer.
package openai

import (
	"errors"
	"fmt"
	"os"

	openai "github.com/sashabaranov/go-openai"

	"github.com/chriscow/simon-go/pkg/ai"
	"github.com/chriscow/simon-go/pkg/plugin"
)

// clientConfig builds the API client settings shared by every provider.
// api_key falls back to OPENAI_API_KEY; base_url points the client at a
// compatible endpoint.
func clientConfig(cfg map[string]any) (openai.ClientConfig, error) {
	apiKey, _ := cfg["api_key"].(string)
	if apiKey == "" {
		apiKey = os.Getenv("OPENAI_API_KEY")
	}
	if apiKey == "" {
		return openai.ClientConfig{}, fmt.Errorf("OpenAI API key is required (set OPENAI_API_KEY environment variable or provide api_key in config)")
	}

	config := openai.DefaultConfig(apiKey)
	if baseURL, ok := cfg["base_url"].(string); ok && baseURL != "" {
		config.BaseURL = baseURL
	}
	return config, nil
}

func stringOption(cfg map[string]any, key, def string) string {
	if v, ok := cfg[key].(string); ok && v != "" {
		return v
	}
	return def
}

// classifyError maps client errors onto the recoverable/fatal split.
func classifyError(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return ai.ClassifyStatus(apiErr.HTTPStatusCode, apiErr.Message)
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return ai.ClassifyStatus(reqErr.HTTPStatusCode, string(reqErr.Body))
	}
	// Transport failures never reached the API.
	return ai.NewRecoverableError(err, "openai request failed")
}

func init() {
	plugin.RegisterWithMetadata(&plugin.Plugin{
		Kind:        plugin.KindSTT,
		Name:        "openai",
		Factory:     newWhisperRecognizer,
		Description: "OpenAI Whisper transcription of microphone utterances",
		Version:     "1.0.0",
		Config: map[string]any{
			"api_key":  "OpenAI API key (or set OPENAI_API_KEY env var)",
			"base_url": "Override the API endpoint",
			"model":    openai.Whisper1,
			"frames":   "<-chan rtc.AudioFrame microphone source (required)",
		},
	})

	plugin.RegisterWithMetadata(&plugin.Plugin{
		Kind:        plugin.KindLLM,
		Name:        "openai",
		Factory:     newOpenAILLM,
		Description: "OpenAI GPT streaming chat completion service",
		Version:     "1.0.0",
		Config: map[string]any{
			"api_key":  "OpenAI API key (or set OPENAI_API_KEY env var)",
			"base_url": "Override the API endpoint",
			"model":    DefaultChatModel,
		},
	})

	plugin.RegisterWithMetadata(&plugin.Plugin{
		Kind:        plugin.KindTTS,
		Name:        "openai",
		Factory:     newOpenAITTS,
		Description: "OpenAI text-to-speech service",
		Version:     "1.0.0",
		Config: map[string]any{
			"api_key":  "OpenAI API key (or set OPENAI_API_KEY env var)",
			"base_url": "Override the API endpoint",
			"model":    DefaultSpeechModel,
			"voice":    DefaultSpeechVoice,
		},
	})
}
