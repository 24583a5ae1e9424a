// Package tts defines the speech-synthesis provider interface. Providers
// classify failures with ai.ErrRecoverable and ai.ErrFatal.
package tts

import (
	"context"
	"io"
	"strconv"
	"strings"
)

// VoiceSettings tunes the synthesized voice.
type VoiceSettings struct {
	Stability       float64
	SimilarityBoost float64
	Style           float64
	UseSpeakerBoost bool
}

// DefaultVoiceSettings are tuned for a natural Latin-American Spanish voice.
var DefaultVoiceSettings = VoiceSettings{
	Stability:       0.4,
	SimilarityBoost: 0.7,
	Style:           0.4,
	UseSpeakerBoost: true,
}

// SynthesizeRequest contains parameters for text-to-speech synthesis.
type SynthesizeRequest struct {
	Text     string
	Voice    string
	ModelID  string
	Settings VoiceSettings
}

// TTSCapabilities describes the capabilities of a TTS provider.
type TTSCapabilities struct {
	Streaming       bool
	SupportedVoices []string
	OutputFormat    string
}

// TTS is the main interface for text-to-speech providers.
type TTS interface {
	// Synthesize starts synthesis and returns once the response headers are
	// in. The returned reader yields the encoded audio; callers must close it.
	Synthesize(ctx context.Context, req SynthesizeRequest) (io.ReadCloser, error)

	// Capabilities returns the provider's capabilities.
	Capabilities() TTSCapabilities
}

// SampleRate extracts the rate from a "pcm_<rate>" output format. It returns
// 0 for encoded formats.
func SampleRate(format string) int {
	rate, ok := strings.CutPrefix(format, "pcm_")
	if !ok {
		return 0
	}
	n, err := strconv.Atoi(rate)
	if err != nil || n <= 0 {
		return 0
	}
	return n
}
