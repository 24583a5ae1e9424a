// Package console provides a recognizer that reads typed lines instead of
// listening to a microphone. Each line is one final transcript.
package console

import (
	"bufio"
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/chriscow/simon-go/pkg/ai/stt"
	"github.com/chriscow/simon-go/pkg/plugin"
)

// ErrInputClosed is reported once the input reached EOF.
var ErrInputClosed = errors.New("console input closed")

// Recognizer turns lines from a reader into recognition results. Lines
// typed while no session runs are delivered when the next one starts.
type Recognizer struct {
	events chan stt.Event
	logger *slog.Logger

	mu      sync.Mutex
	started bool
	interim bool
	eof     bool
	pending []string
}

// New starts reading lines from in.
func New(in io.Reader, logger *slog.Logger) *Recognizer {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Recognizer{
		events: make(chan stt.Event, 64),
		logger: logger.With(slog.String("component", "console_stt")),
	}
	go r.read(in)
	return r
}

func newConsoleRecognizer(cfg map[string]any) (any, error) {
	in, ok := cfg["input"].(io.Reader)
	if !ok {
		in = os.Stdin
	}
	logger, _ := cfg["logger"].(*slog.Logger)
	return New(in, logger), nil
}

func (r *Recognizer) read(in io.Reader) {
	scanner := bufio.NewScanner(in)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		r.mu.Lock()
		if r.started {
			r.deliverLocked(line)
		} else {
			r.pending = append(r.pending, line)
		}
		r.mu.Unlock()
	}
	if err := scanner.Err(); err != nil {
		r.logger.Warn("console read failed", slog.String("error", err.Error()))
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.eof = true
	if r.started {
		r.failLocked()
	}
}

// Start begins a session and flushes lines typed in the meantime.
func (r *Recognizer) Start(ctx context.Context, cfg stt.Config) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.started {
		return stt.ErrAlreadyStarted
	}
	r.started = true
	r.interim = cfg.InterimResults
	r.emitLocked(stt.Event{Type: stt.EventStart})

	pending := r.pending
	r.pending = nil
	for _, line := range pending {
		r.deliverLocked(line)
	}
	if r.eof && r.started {
		r.failLocked()
	}
	return nil
}

// Stop ends the session.
func (r *Recognizer) Stop() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.started {
		return nil
	}
	r.started = false
	r.emitLocked(stt.Event{Type: stt.EventEnd})
	return nil
}

// Events returns the channel all sessions report on.
func (r *Recognizer) Events() <-chan stt.Event {
	return r.events
}

// Request implements session.Microphone: the console is available until
// its input closes.
func (r *Recognizer) Request(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.eof {
		return ErrInputClosed
	}
	return nil
}

func (r *Recognizer) deliverLocked(line string) {
	if r.interim {
		words := strings.Fields(line)
		for i := 1; i < len(words); i++ {
			r.emitLocked(stt.Event{Type: stt.EventResult, Text: strings.Join(words[:i], " ")})
		}
	}
	r.emitLocked(stt.Event{Type: stt.EventResult, Text: line, Final: true})
}

func (r *Recognizer) failLocked() {
	r.emitLocked(stt.Event{Type: stt.EventError, Code: stt.CodeAudioCapture, Err: ErrInputClosed})
	r.started = false
	r.emitLocked(stt.Event{Type: stt.EventEnd})
}

func (r *Recognizer) emitLocked(e stt.Event) {
	e.Timestamp = time.Now()
	select {
	case r.events <- e:
	default:
		r.logger.Warn("dropping recognition event", slog.String("type", e.Type.String()))
	}
}

func init() {
	plugin.RegisterWithMetadata(&plugin.Plugin{
		Kind:        plugin.KindSTT,
		Name:        "console",
		Factory:     newConsoleRecognizer,
		Description: "Reads transcripts from standard input, one per line",
		Version:     "1.0.0",
		Config: map[string]any{
			"input": "io.Reader to read from (default stdin)",
		},
	})
}
