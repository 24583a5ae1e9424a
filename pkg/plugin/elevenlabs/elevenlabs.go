// Package elevenlabs provides the ElevenLabs text-to-speech provider.
package elevenlabs

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"time"

	"github.com/bytedance/sonic"

	"github.com/chriscow/simon-go/pkg/ai"
	"github.com/chriscow/simon-go/pkg/ai/tts"
	"github.com/chriscow/simon-go/pkg/plugin"
	"github.com/chriscow/simon-go/pkg/version"
)

const (
	DefaultBaseURL      = "https://api.elevenlabs.io"
	DefaultVoice        = "N2lVS1w4EtoT3dr4eOWO"
	DefaultModelID      = "eleven_multilingual_v2"
	DefaultOutputFormat = "pcm_16000"

	// DefaultTimeout bounds a request until its headers arrive.
	DefaultTimeout = 15 * time.Second
)

// Config holds configuration for the ElevenLabs client.
type Config struct {
	APIKey       string
	BaseURL      string
	Voice        string
	ModelID      string
	OutputFormat string
	Timeout      time.Duration
	HTTPClient   *http.Client
}

// Client synthesizes speech with the ElevenLabs HTTP API.
type Client struct {
	cfg  Config
	http *http.Client
}

type voiceSettings struct {
	Stability       float64 `json:"stability"`
	SimilarityBoost float64 `json:"similarity_boost"`
	Style           float64 `json:"style"`
	UseSpeakerBoost bool    `json:"use_speaker_boost"`
}

type synthesizeBody struct {
	Text          string        `json:"text"`
	ModelID       string        `json:"model_id"`
	VoiceSettings voiceSettings `json:"voice_settings"`
}

// New creates an ElevenLabs client.
func New(cfg Config) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("ElevenLabs API key is required")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Voice == "" {
		cfg.Voice = DefaultVoice
	}
	if cfg.ModelID == "" {
		cfg.ModelID = DefaultModelID
	}
	if cfg.OutputFormat == "" {
		cfg.OutputFormat = DefaultOutputFormat
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{}
	}
	return &Client{cfg: cfg, http: client}, nil
}

func newElevenLabsTTS(cfg map[string]any) (any, error) {
	config := Config{
		APIKey: os.Getenv("ELEVENLABS_API_KEY"),
	}
	if v, ok := cfg["api_key"].(string); ok && v != "" {
		config.APIKey = v
	}
	if v, ok := cfg["base_url"].(string); ok {
		config.BaseURL = v
	}
	if v, ok := cfg["voice"].(string); ok {
		config.Voice = v
	}
	if v, ok := cfg["model"].(string); ok {
		config.ModelID = v
	}
	if v, ok := cfg["output_format"].(string); ok {
		config.OutputFormat = v
	}
	if config.APIKey == "" {
		return nil, fmt.Errorf("ElevenLabs API key is required (set ELEVENLABS_API_KEY environment variable or provide api_key in config)")
	}
	return New(config)
}

// Synthesize posts the text and returns once the response headers are in;
// the body streams the audio.
func (c *Client) Synthesize(ctx context.Context, req tts.SynthesizeRequest) (io.ReadCloser, error) {
	voice := req.Voice
	if voice == "" {
		voice = c.cfg.Voice
	}
	modelID := req.ModelID
	if modelID == "" {
		modelID = c.cfg.ModelID
	}

	payload, err := sonic.Marshal(synthesizeBody{
		Text:    req.Text,
		ModelID: modelID,
		VoiceSettings: voiceSettings{
			Stability:       req.Settings.Stability,
			SimilarityBoost: req.Settings.SimilarityBoost,
			Style:           req.Settings.Style,
			UseSpeakerBoost: req.Settings.UseSpeakerBoost,
		},
	})
	if err != nil {
		return nil, ai.NewFatalError(err, "failed to encode synthesis request")
	}

	u := c.cfg.BaseURL + "/v1/text-to-speech/" + url.PathEscape(voice) +
		"?" + url.Values{"output_format": {c.cfg.OutputFormat}}.Encode()

	// The timeout covers the wait for headers only; the caller's context
	// governs reading the body.
	hctx, cancel := context.WithCancel(ctx)
	timer := time.AfterFunc(c.cfg.Timeout, cancel)

	httpReq, err := http.NewRequestWithContext(hctx, http.MethodPost, u, bytes.NewReader(payload))
	if err != nil {
		timer.Stop()
		cancel()
		return nil, ai.NewFatalError(err, "failed to build synthesis request")
	}
	httpReq.Header.Set("xi-api-key", c.cfg.APIKey)
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "audio/*")
	httpReq.Header.Set("User-Agent", version.UserAgent())

	resp, err := c.http.Do(httpReq)
	if !timer.Stop() && err == nil {
		// the deadline fired just as headers arrived
		resp.Body.Close()
		err = context.DeadlineExceeded
	}
	if err != nil {
		cancel()
		return nil, ai.NewRecoverableError(err, "elevenlabs request failed")
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		resp.Body.Close()
		cancel()
		return nil, ai.ClassifyStatus(resp.StatusCode, string(b))
	}
	return &streamBody{ReadCloser: resp.Body, cancel: cancel}, nil
}

// Capabilities returns the provider's capabilities.
func (c *Client) Capabilities() tts.TTSCapabilities {
	return tts.TTSCapabilities{
		Streaming:       true,
		SupportedVoices: []string{c.cfg.Voice},
		OutputFormat:    c.cfg.OutputFormat,
	}
}

// streamBody releases the request context together with the response.
type streamBody struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (b *streamBody) Close() error {
	err := b.ReadCloser.Close()
	b.cancel()
	return err
}

func init() {
	plugin.RegisterWithMetadata(&plugin.Plugin{
		Kind:        plugin.KindTTS,
		Name:        "elevenlabs",
		Factory:     newElevenLabsTTS,
		Description: "ElevenLabs multilingual text-to-speech",
		Version:     "1.0.0",
		Config: map[string]any{
			"api_key":       "ElevenLabs API key (or set ELEVENLABS_API_KEY env var)",
			"base_url":      DefaultBaseURL,
			"voice":         DefaultVoice,
			"model":         DefaultModelID,
			"output_format": DefaultOutputFormat,
		},
	})
}
