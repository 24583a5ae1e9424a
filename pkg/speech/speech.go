// Package speech turns reply text into audio through a speech-synthesis
// provider, consulting the response cache first and degrading to a
// pre-synthesized "technical difficulty" clip when the provider keeps failing.
package speech

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http/httptrace"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/chriscow/simon-go/pkg/ai"
	"github.com/chriscow/simon-go/pkg/ai/tts"
	"github.com/chriscow/simon-go/pkg/cache"
)

const (
	DefaultVoice    = "N2lVS1w4EtoT3dr4eOWO"
	DefaultModelID  = "eleven_multilingual_v2"
	DefaultMaxChars = 250

	// FallbackPhrase is primed at startup and played when synthesis fails.
	FallbackPhrase = "Lo siento, estoy teniendo dificultades técnicas. Por favor, inténtalo de nuevo en un momento."
)

// Stage is a coarse synthesis milestone.
type Stage string

const (
	StageStarted   Stage = "started"
	StageSent      Stage = "sent"
	StageHeaders   Stage = "headers"
	StageStreaming Stage = "streaming"
	StageComplete  Stage = "complete"
	StageFallback  Stage = "fallback"
)

// Progress is reported through a ProgressFunc.
type Progress struct {
	Stage   Stage
	Percent int
	Bytes   int
	Attempt int
	Cached  bool
}

// ProgressFunc receives synthesis milestones.
type ProgressFunc func(Progress)

// Config holds Client settings.
type Config struct {
	TTS   tts.TTS
	Cache *cache.Cache

	Voice    string
	ModelID  string
	Settings *tts.VoiceSettings // nil means tts.DefaultVoiceSettings
	MaxChars int

	Retry ai.RetryConfig
	Sleep ai.Sleeper

	Logger *slog.Logger
}

// Client synthesizes speech. It is safe for concurrent use.
type Client struct {
	tts      tts.TTS
	cache    *cache.Cache
	voice    string
	modelID  string
	settings tts.VoiceSettings
	maxChars int
	retry    ai.RetryConfig
	sleep    ai.Sleeper
	logger   *slog.Logger

	mu       sync.RWMutex
	fallback []byte
}

// New creates a speech client. A nil Cache gets a default-sized one.
func New(cfg Config) (*Client, error) {
	if cfg.TTS == nil {
		return nil, fmt.Errorf("TTS is required")
	}
	if cfg.Cache == nil {
		cfg.Cache = cache.New(cache.Config{Capacity: cache.DefaultCapacity, TTL: cache.DefaultTTL})
	}
	if cfg.Voice == "" {
		cfg.Voice = DefaultVoice
	}
	if cfg.ModelID == "" {
		cfg.ModelID = DefaultModelID
	}
	settings := tts.DefaultVoiceSettings
	if cfg.Settings != nil {
		settings = *cfg.Settings
	}
	if cfg.MaxChars <= 0 {
		cfg.MaxChars = DefaultMaxChars
	}
	if cfg.Retry == (ai.RetryConfig{}) {
		cfg.Retry = ai.DefaultRetryConfig
	}
	if cfg.Sleep == nil {
		cfg.Sleep = ai.Sleep
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	return &Client{
		tts:      cfg.TTS,
		cache:    cfg.Cache,
		voice:    cfg.Voice,
		modelID:  cfg.ModelID,
		settings: settings,
		maxChars: cfg.MaxChars,
		retry:    cfg.Retry,
		sleep:    cfg.Sleep,
		logger:   cfg.Logger.With(slog.String("component", "speech")),
	}, nil
}

// Synthesize returns audio for text, or nil when synthesis failed and no
// fallback clip is primed. An empty voice uses the configured one.
// onProgress may be nil.
func (c *Client) Synthesize(ctx context.Context, text, voice string, onProgress ProgressFunc) []byte {
	report := func(p Progress) {
		if onProgress != nil {
			onProgress(p)
		}
	}

	if n := c.cache.PurgeExpired(); n > 0 {
		c.logger.Debug("purged expired audio", slog.Int("entries", n))
	}
	if audio, ok := c.cache.Get(text); ok {
		c.logger.Debug("audio cache hit", slog.Int("bytes", len(audio)))
		report(Progress{Stage: StageComplete, Percent: 100, Bytes: len(audio), Cached: true})
		return audio
	}

	prepared := Prepare(text, c.maxChars)
	if prepared == "" {
		return nil
	}

	audio, err := c.synthesizeWithRetry(ctx, prepared, voice, report)
	if err != nil {
		c.logger.Error("speech synthesis failed", slog.String("error", err.Error()))
		if fb := c.Fallback(); fb != nil {
			report(Progress{Stage: StageFallback, Percent: 100, Bytes: len(fb)})
			return fb
		}
		return nil
	}

	c.cache.Put(text, audio)
	return audio
}

// Prime synthesizes the fallback clip so it is available when the provider
// fails later. The clip lives outside the response cache.
func (c *Client) Prime(ctx context.Context, phrase string) error {
	if phrase == "" {
		phrase = FallbackPhrase
	}
	audio, err := c.synthesizeWithRetry(ctx, Prepare(phrase, c.maxChars), "", nil)
	if err != nil {
		return fmt.Errorf("failed to prime fallback audio: %w", err)
	}
	c.SetFallback(audio)
	c.logger.Info("fallback audio primed", slog.Int("bytes", len(audio)))
	return nil
}

// SetFallback installs a fallback clip directly.
func (c *Client) SetFallback(audio []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.fallback = append([]byte(nil), audio...)
}

// Fallback returns the primed fallback clip, if any.
func (c *Client) Fallback() []byte {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.fallback
}

// ClearCache empties the response cache.
func (c *Client) ClearCache() {
	c.cache.Clear()
	c.logger.Info("audio cache cleared")
}

// Cache returns the response cache.
func (c *Client) Cache() *cache.Cache {
	return c.cache
}

func (c *Client) synthesizeWithRetry(ctx context.Context, text, voice string, report func(Progress)) ([]byte, error) {
	if report == nil {
		report = func(Progress) {}
	}
	if voice == "" {
		voice = c.voice
	}
	req := tts.SynthesizeRequest{
		Text:     text,
		Voice:    voice,
		ModelID:  c.modelID,
		Settings: c.settings,
	}

	var lastErr error
	for attempt := 0; attempt <= c.retry.MaxRetries; attempt++ {
		if attempt > 0 {
			delay := c.retry.Delay(attempt)
			c.logger.Warn("retrying speech synthesis",
				slog.Int("attempt", attempt+1),
				slog.Duration("delay", delay),
				slog.String("error", lastErr.Error()))
			if err := c.sleep(ctx, delay); err != nil {
				return nil, err
			}
		}

		audio, err := c.attempt(ctx, req, attempt+1, report)
		if err == nil {
			return audio, nil
		}
		lastErr = err
		if ctx.Err() != nil || ai.IsFatal(err) {
			break
		}
	}
	return nil, lastErr
}

func (c *Client) attempt(ctx context.Context, req tts.SynthesizeRequest, attempt int, report func(Progress)) ([]byte, error) {
	report(Progress{Stage: StageStarted, Percent: 0, Attempt: attempt})

	// HTTP providers report sent once the request is on the wire; others
	// once Synthesize returns.
	var sent sync.Once
	sentStage := func() {
		sent.Do(func() { report(Progress{Stage: StageSent, Percent: 10, Attempt: attempt}) })
	}
	ctx = httptrace.WithClientTrace(ctx, &httptrace.ClientTrace{
		WroteRequest: func(info httptrace.WroteRequestInfo) {
			if info.Err == nil {
				sentStage()
			}
		},
	})

	body, err := c.tts.Synthesize(ctx, req)
	if err != nil {
		return nil, err
	}
	defer body.Close()
	sentStage()
	report(Progress{Stage: StageHeaders, Percent: 30, Attempt: attempt})

	var (
		buf   bytes.Buffer
		chunk = make([]byte, 16*1024)
	)
	for {
		n, err := body.Read(chunk)
		if n > 0 {
			buf.Write(chunk[:n])
			report(Progress{
				Stage:   StageStreaming,
				Percent: min(90, 30+buf.Len()/4096),
				Bytes:   buf.Len(),
				Attempt: attempt,
			})
		}
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, ai.NewRecoverableError(err, "reading synthesized audio")
		}
	}

	if buf.Len() == 0 {
		return nil, ai.NewRecoverableError(nil, "provider returned no audio")
	}
	report(Progress{Stage: StageComplete, Percent: 100, Bytes: buf.Len(), Attempt: attempt})
	return buf.Bytes(), nil
}

// Prepare collapses whitespace and cuts text longer than maxChars runes,
// appending an ellipsis.
func Prepare(text string, maxChars int) string {
	text = strings.Join(strings.Fields(text), " ")
	if maxChars <= 0 || utf8.RuneCountInString(text) <= maxChars {
		return text
	}
	return string([]rune(text)[:maxChars]) + "..."
}
