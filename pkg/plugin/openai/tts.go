package openai

import (
	"context"
	"fmt"
	"io"
	"slices"

	openai "github.com/sashabaranov/go-openai"

	"github.com/chriscow/simon-go/pkg/ai/tts"
)

const (
	DefaultSpeechModel = string(openai.TTSModel1)
	DefaultSpeechVoice = string(openai.VoiceNova)

	// speechSampleRate is the rate of the API's raw pcm response format.
	speechSampleRate = 24000
)

var speechVoices = []string{
	string(openai.VoiceAlloy), string(openai.VoiceEcho), string(openai.VoiceFable),
	string(openai.VoiceOnyx), string(openai.VoiceNova), string(openai.VoiceShimmer),
}

// OpenAITTS implements the TTS interface using OpenAI's text-to-speech API
type OpenAITTS struct {
	client *openai.Client
	model  string
	voice  string
}

// newOpenAITTS creates a new OpenAI TTS instance
func newOpenAITTS(cfg map[string]any) (any, error) {
	config, err := clientConfig(cfg)
	if err != nil {
		return nil, err
	}
	return NewTTS(config, stringOption(cfg, "model", DefaultSpeechModel), stringOption(cfg, "voice", DefaultSpeechVoice)), nil
}

// NewTTS creates an OpenAI speech provider.
func NewTTS(config openai.ClientConfig, model, voice string) *OpenAITTS {
	return &OpenAITTS{
		client: openai.NewClientWithConfig(config),
		model:  model,
		voice:  voice,
	}
}

// Synthesize requests 24 kHz mono PCM. Voice IDs this provider does not
// know, such as another vendor's, fall back to the configured voice; the
// request's model ID and voice settings are ignored.
func (o *OpenAITTS) Synthesize(ctx context.Context, req tts.SynthesizeRequest) (io.ReadCloser, error) {
	resp, err := o.client.CreateSpeech(ctx, openai.CreateSpeechRequest{
		Model:          openai.SpeechModel(o.model),
		Input:          req.Text,
		Voice:          openai.SpeechVoice(o.getVoice(req.Voice)),
		ResponseFormat: openai.SpeechResponseFormatPcm,
	})
	if err != nil {
		return nil, fmt.Errorf("speech request failed: %w", classifyError(err))
	}
	return resp, nil
}

// getVoice returns the voice to use, preferring request voice over default
func (o *OpenAITTS) getVoice(requestVoice string) string {
	if slices.Contains(speechVoices, requestVoice) {
		return requestVoice
	}
	return o.voice
}

// Capabilities returns the OpenAI TTS provider's capabilities
func (o *OpenAITTS) Capabilities() tts.TTSCapabilities {
	return tts.TTSCapabilities{
		Streaming:       true,
		SupportedVoices: speechVoices,
		OutputFormat:    fmt.Sprintf("pcm_%d", speechSampleRate),
	}
}
