package fake

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/chriscow/simon-go/pkg/ai/stt"
)

// FakeRecognizer is a scripted recognizer for tests. Transcripts are injected
// with Say and errors with Fail; both are only delivered while started.
type FakeRecognizer struct {
	mu       sync.Mutex
	events   chan stt.Event
	started  bool
	starts   int
	stops    int
	startErr error
	cfg      stt.Config
}

// NewFakeRecognizer creates a fake recognizer.
func NewFakeRecognizer() *FakeRecognizer {
	return &FakeRecognizer{events: make(chan stt.Event, 64)}
}

// Start begins a session and emits a start event.
func (f *FakeRecognizer) Start(ctx context.Context, cfg stt.Config) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.startErr != nil {
		return f.startErr
	}
	if f.started {
		return stt.ErrAlreadyStarted
	}
	f.started = true
	f.starts++
	f.cfg = cfg
	f.emitLocked(stt.Event{Type: stt.EventStart})
	return nil
}

// Stop ends the session and emits an end event.
func (f *FakeRecognizer) Stop() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.started {
		return nil
	}
	f.started = false
	f.stops++
	f.emitLocked(stt.Event{Type: stt.EventEnd})
	return nil
}

// Events returns the event channel.
func (f *FakeRecognizer) Events() <-chan stt.Event {
	return f.events
}

// FailStart makes subsequent Start calls return err (nil clears it).
func (f *FakeRecognizer) FailStart(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.startErr = err
}

// Say emits interim results word by word followed by the final transcript.
// It returns false when the recognizer is not listening.
func (f *FakeRecognizer) Say(text string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.started {
		return false
	}
	words := strings.Fields(text)
	for i := 1; i < len(words); i++ {
		f.emitLocked(stt.Event{Type: stt.EventResult, Text: strings.Join(words[:i], " ")})
	}
	f.emitLocked(stt.Event{Type: stt.EventResult, Text: text, Final: true})
	return true
}

// Fail emits a classified error followed by an end event, as browsers do.
func (f *FakeRecognizer) Fail(code stt.ErrorCode) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.started {
		return false
	}
	f.emitLocked(stt.Event{Type: stt.EventError, Code: code, Err: errors.New(string(code))})
	f.started = false
	f.emitLocked(stt.Event{Type: stt.EventEnd})
	return true
}

// Listening reports whether a session is running.
func (f *FakeRecognizer) Listening() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.started
}

// Starts returns how many sessions were started.
func (f *FakeRecognizer) Starts() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.starts
}

// Config returns the configuration of the last started session.
func (f *FakeRecognizer) Config() stt.Config {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.cfg
}

func (f *FakeRecognizer) emitLocked(e stt.Event) {
	e.Timestamp = time.Now()
	select {
	case f.events <- e:
	default:
		// drop when nobody drains; tests size the buffer generously
	}
}
