package openai

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/chriscow/simon-go/pkg/ai/stt"
	"github.com/chriscow/simon-go/pkg/audio/wav"
	"github.com/chriscow/simon-go/pkg/rtc"
	"github.com/chriscow/simon-go/pkg/voice"
)

// Endpointing defaults for WhisperRecognizer.
const (
	DefaultSpeechThreshold = 0.02
	DefaultEndSilence      = 700 * time.Millisecond
	DefaultMaxUtterance    = 15 * time.Second
	DefaultNoSpeechTimeout = 8 * time.Second

	// Whisper rejects clips shorter than this.
	minUtterance = 100 * time.Millisecond
)

// RecognizerConfig holds configuration for the Whisper recognizer.
type RecognizerConfig struct {
	Client *openai.Client
	Model  string // Default: whisper-1

	// Frames is the microphone. A closed channel is reported as an
	// audio-capture error.
	Frames <-chan rtc.AudioFrame

	// SpeechThreshold is the normalized RMS above which a frame counts as
	// speech.
	SpeechThreshold float64
	EndSilence      time.Duration
	MaxUtterance    time.Duration
	NoSpeechTimeout time.Duration

	Logger *slog.Logger
}

// WhisperRecognizer turns microphone audio into transcripts. It buffers an
// utterance between the first loud frame and EndSilence of quiet, then
// transcribes it in one request. Whisper has no interim results.
type WhisperRecognizer struct {
	cfg    RecognizerConfig
	events chan stt.Event
	logger *slog.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

func newWhisperRecognizer(cfg map[string]any) (any, error) {
	config, err := clientConfig(cfg)
	if err != nil {
		return nil, err
	}
	frames, ok := cfg["frames"].(<-chan rtc.AudioFrame)
	if !ok {
		return nil, fmt.Errorf("frames (<-chan rtc.AudioFrame) is required")
	}
	return NewRecognizer(RecognizerConfig{
		Client: openai.NewClientWithConfig(config),
		Model:  stringOption(cfg, "model", openai.Whisper1),
		Frames: frames,
	})
}

// NewRecognizer creates a Whisper-backed recognizer.
func NewRecognizer(cfg RecognizerConfig) (*WhisperRecognizer, error) {
	if cfg.Client == nil {
		return nil, fmt.Errorf("OpenAI client is required")
	}
	if cfg.Frames == nil {
		return nil, fmt.Errorf("frames is required")
	}
	if cfg.Model == "" {
		cfg.Model = openai.Whisper1
	}
	if cfg.SpeechThreshold <= 0 {
		cfg.SpeechThreshold = DefaultSpeechThreshold
	}
	if cfg.EndSilence <= 0 {
		cfg.EndSilence = DefaultEndSilence
	}
	if cfg.MaxUtterance <= 0 {
		cfg.MaxUtterance = DefaultMaxUtterance
	}
	if cfg.NoSpeechTimeout <= 0 {
		cfg.NoSpeechTimeout = DefaultNoSpeechTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &WhisperRecognizer{
		cfg:    cfg,
		events: make(chan stt.Event, 16),
		logger: cfg.Logger.With(slog.String("component", "whisper")),
	}, nil
}

// Start begins a capture session.
func (w *WhisperRecognizer) Start(ctx context.Context, cfg stt.Config) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.cancel != nil {
		return stt.ErrAlreadyStarted
	}

	sctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	w.cancel = cancel
	w.done = done
	go w.capture(sctx, cfg, done)
	return nil
}

// Stop ends the current session. The end event follows asynchronously.
func (w *WhisperRecognizer) Stop() error {
	w.mu.Lock()
	cancel := w.cancel
	w.cancel = nil
	w.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	return nil
}

// Events returns the channel all sessions report on.
func (w *WhisperRecognizer) Events() <-chan stt.Event {
	return w.events
}

type utterance struct {
	pcm        bytes.Buffer
	sampleRate int
	channels   int
	speaking   bool
	silence    time.Duration
}

func (u *utterance) duration() time.Duration {
	return rtc.PCMDuration(u.pcm.Len(), u.sampleRate, u.channels)
}

func (u *utterance) reset() {
	u.pcm.Reset()
	u.speaking = false
	u.silence = 0
}

// capture runs one session. It always finishes with an end event.
func (w *WhisperRecognizer) capture(ctx context.Context, cfg stt.Config, done chan struct{}) {
	defer func() {
		w.mu.Lock()
		if w.done == done {
			w.cancel = nil
		}
		w.mu.Unlock()
		close(done)
		w.emit(stt.Event{Type: stt.EventEnd})
	}()
	w.emit(stt.Event{Type: stt.EventStart})

	language, _, _ := strings.Cut(cfg.Language, "-")
	noSpeech := time.NewTimer(w.cfg.NoSpeechTimeout)
	defer noSpeech.Stop()

	var u utterance
	for {
		select {
		case <-ctx.Done():
			return

		case <-noSpeech.C:
			if !u.speaking {
				w.fail(stt.CodeNoSpeech, fmt.Errorf("no speech within %s", w.cfg.NoSpeechTimeout))
				return
			}

		case f, ok := <-w.cfg.Frames:
			if !ok {
				w.fail(stt.CodeAudioCapture, fmt.Errorf("microphone stream closed"))
				return
			}
			if !w.push(&u, f) {
				continue
			}
			if u.duration() < minUtterance {
				u.reset()
				continue
			}

			text, err := w.transcribe(ctx, &u, language)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				w.fail(stt.CodeOther, err)
				return
			}
			if text == "" {
				w.fail(stt.CodeNoSpeech, fmt.Errorf("empty transcription"))
				return
			}
			w.emit(stt.Event{Type: stt.EventResult, Text: text, Final: true})
			if !cfg.Continuous {
				return
			}
			u.reset()
			noSpeech.Reset(w.cfg.NoSpeechTimeout)
		}
	}
}

// push adds a frame and reports whether the utterance is complete.
func (w *WhisperRecognizer) push(u *utterance, f rtc.AudioFrame) bool {
	loud := voice.RMS(f.Data) >= w.cfg.SpeechThreshold
	if !u.speaking {
		if !loud {
			return false
		}
		u.speaking = true
		u.sampleRate = f.SampleRate
		u.channels = f.NumChannels
	}

	u.pcm.Write(f.Data)
	if loud {
		u.silence = 0
	} else {
		u.silence += f.Duration()
	}
	return u.silence >= w.cfg.EndSilence || u.duration() >= w.cfg.MaxUtterance
}

func (w *WhisperRecognizer) transcribe(ctx context.Context, u *utterance, language string) (string, error) {
	var buf bytes.Buffer
	if err := wav.Encode(&buf, u.pcm.Bytes(), uint32(u.sampleRate), uint16(u.channels)); err != nil {
		return "", fmt.Errorf("failed to encode utterance: %w", err)
	}

	start := time.Now()
	resp, err := w.cfg.Client.CreateTranscription(ctx, openai.AudioRequest{
		Model:    w.cfg.Model,
		FilePath: "utterance.wav",
		Reader:   &buf,
		Language: language,
		Format:   openai.AudioResponseFormatJSON,
	})
	if err != nil {
		return "", fmt.Errorf("transcription failed: %w", classifyError(err))
	}

	text := strings.TrimSpace(resp.Text)
	w.logger.Debug("transcribed utterance",
		slog.String("text", text),
		slog.Duration("audio", u.duration()),
		slog.Duration("latency", time.Since(start)))
	return text, nil
}

func (w *WhisperRecognizer) fail(code stt.ErrorCode, err error) {
	w.logger.Debug("recognition error", slog.String("code", string(code)), slog.String("error", err.Error()))
	w.emit(stt.Event{Type: stt.EventError, Code: code, Err: err})
}

func (w *WhisperRecognizer) emit(e stt.Event) {
	e.Timestamp = time.Now()
	w.events <- e
}
