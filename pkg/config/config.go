// Package config loads assistant configuration from defaults, an optional
// YAML file, a .env file and SIMON_* environment variables.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override, e.g. SIMON_HUB_ADDR.
const EnvPrefix = "SIMON"

// Config holds all application configuration.
type Config struct {
	OpenAI     OpenAIConfig     `mapstructure:"openai"`
	ElevenLabs ElevenLabsConfig `mapstructure:"elevenlabs"`
	Providers  ProvidersConfig  `mapstructure:"providers"`
	Cache      CacheConfig      `mapstructure:"cache"`
	Agent      AgentConfig      `mapstructure:"agent"`
	Hub        HubConfig        `mapstructure:"hub"`
	Log        LogConfig        `mapstructure:"log"`
}

// OpenAIConfig configures chat completion and OpenAI speech.
type OpenAIConfig struct {
	APIKey           string  `mapstructure:"api_key"`
	BaseURL          string  `mapstructure:"base_url"`
	Model            string  `mapstructure:"model"`
	MaxTokens        int     `mapstructure:"max_tokens"`
	Temperature      float32 `mapstructure:"temperature"`
	PresencePenalty  float32 `mapstructure:"presence_penalty"`
	FrequencyPenalty float32 `mapstructure:"frequency_penalty"`
	SpeechModel      string  `mapstructure:"speech_model"`
	SpeechVoice      string  `mapstructure:"speech_voice"`
}

// ElevenLabsConfig configures the default speech provider.
type ElevenLabsConfig struct {
	APIKey          string  `mapstructure:"api_key"`
	BaseURL         string  `mapstructure:"base_url"`
	VoiceID         string  `mapstructure:"voice_id"`
	ModelID         string  `mapstructure:"model_id"`
	OutputFormat    string  `mapstructure:"output_format"`
	Stability       float64 `mapstructure:"stability"`
	SimilarityBoost float64 `mapstructure:"similarity_boost"`
	Style           float64 `mapstructure:"style"`
	SpeakerBoost    bool    `mapstructure:"speaker_boost"`
}

// ProvidersConfig names registry entries for each provider kind.
type ProvidersConfig struct {
	LLM string `mapstructure:"llm"`
	TTS string `mapstructure:"tts"`
	STT string `mapstructure:"stt"`
}

// CacheConfig configures the synthesized-audio cache.
type CacheConfig struct {
	Capacity int           `mapstructure:"capacity"`
	TTL      time.Duration `mapstructure:"ttl"`
}

// AgentConfig configures turn taking.
type AgentConfig struct {
	ListenDebounce          time.Duration `mapstructure:"listen_debounce"`
	MinTranscriptChars      int           `mapstructure:"min_transcript_chars"`
	NoSpeechRestart         time.Duration `mapstructure:"no_speech_restart"`
	ErrorRestart            time.Duration `mapstructure:"error_restart"`
	PermissionCooldown      time.Duration `mapstructure:"permission_cooldown"`
	BargeInThreshold        float64       `mapstructure:"barge_in_threshold"`
	BargeInSamples          int           `mapstructure:"barge_in_samples"`
	Language                string        `mapstructure:"language"`
	ListenTimeout           time.Duration `mapstructure:"listen_timeout"`
	DeferredPlaybackTimeout time.Duration `mapstructure:"deferred_playback_timeout"`
	MaxTurns                int           `mapstructure:"max_turns"`
	SystemPrompt            string        `mapstructure:"system_prompt"`
}

// HubConfig configures the websocket hub.
type HubConfig struct {
	Addr string `mapstructure:"addr"`
}

// LogConfig configures the process logger.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

var defaults = map[string]any{
	"openai.model":             "gpt-4o",
	"openai.max_tokens":        150,
	"openai.temperature":       0.3,
	"openai.presence_penalty":  0.2,
	"openai.frequency_penalty": 0.3,
	"openai.speech_model":      "tts-1",
	"openai.speech_voice":      "nova",

	"elevenlabs.voice_id":         "N2lVS1w4EtoT3dr4eOWO",
	"elevenlabs.model_id":         "eleven_multilingual_v2",
	"elevenlabs.output_format":    "pcm_16000",
	"elevenlabs.stability":        0.4,
	"elevenlabs.similarity_boost": 0.7,
	"elevenlabs.style":            0.4,
	"elevenlabs.speaker_boost":    true,

	"providers.llm": "openai",
	"providers.tts": "elevenlabs",
	"providers.stt": "console",

	"cache.capacity": 20,
	"cache.ttl":      30 * time.Minute,

	"agent.listen_debounce":           300 * time.Millisecond,
	"agent.min_transcript_chars":      2,
	"agent.no_speech_restart":         300 * time.Millisecond,
	"agent.error_restart":             1500 * time.Millisecond,
	"agent.permission_cooldown":       5 * time.Second,
	"agent.barge_in_threshold":        0.15,
	"agent.barge_in_samples":          3,
	"agent.language":                  "es-ES",
	"agent.listen_timeout":            15 * time.Second,
	"agent.deferred_playback_timeout": 10 * time.Second,
	"agent.max_turns":                 5,

	"hub.addr":   ":8089",
	"log.level":  "info",
	"log.format": "json",
}

// New returns a viper instance with defaults and environment bindings.
// Callers bind command-line flags onto it before calling Load.
func New() *viper.Viper {
	v := viper.New()
	for key, value := range defaults {
		v.SetDefault(key, value)
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Provider SDK conventions work without the prefix too.
	_ = v.BindEnv("openai.api_key", EnvPrefix+"_OPENAI_API_KEY", "OPENAI_API_KEY")
	_ = v.BindEnv("elevenlabs.api_key", EnvPrefix+"_ELEVENLABS_API_KEY", "ELEVENLABS_API_KEY")
	return v
}

// Options selects the files Load reads. Empty paths are skipped.
type Options struct {
	File    string // YAML config file
	EnvFile string // dotenv file; a missing file is not an error
}

// Load reads opts into v and decodes the result. Environment variables set
// by the process win over the .env file.
func Load(v *viper.Viper, opts Options) (*Config, error) {
	if opts.EnvFile != "" {
		if err := godotenv.Load(opts.EnvFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("failed to load %s: %w", opts.EnvFile, err)
		}
	}

	if opts.File != "" {
		v.SetConfigFile(opts.File)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects values no component can work with.
func (c *Config) Validate() error {
	if c.Cache.Capacity <= 0 {
		return fmt.Errorf("cache.capacity must be positive, got %d", c.Cache.Capacity)
	}
	if c.Agent.BargeInThreshold <= 0 || c.Agent.BargeInThreshold > 1 {
		return fmt.Errorf("agent.barge_in_threshold must be in (0, 1], got %v", c.Agent.BargeInThreshold)
	}
	if c.Agent.BargeInSamples <= 0 {
		return fmt.Errorf("agent.barge_in_samples must be positive, got %d", c.Agent.BargeInSamples)
	}
	for key, name := range map[string]string{
		"providers.llm": c.Providers.LLM,
		"providers.tts": c.Providers.TTS,
		"providers.stt": c.Providers.STT,
	} {
		if name == "" {
			return fmt.Errorf("%s is required", key)
		}
	}
	return nil
}
