// Package stt provides interfaces and types for speech recognizers.
// A recognizer is started and stopped imperatively and reports its progress
// as a stream of start, result, error and end events.
package stt

import (
	"context"
	"errors"
	"time"
)

// ErrAlreadyStarted is returned by Start while a session is running.
var ErrAlreadyStarted = errors.New("recognizer already started")

// EventType represents the type of recognizer event.
type EventType int

const (
	// EventStart is emitted when the recognizer begins capturing.
	EventStart EventType = iota
	// EventResult carries an interim or final transcript.
	EventResult
	// EventError reports a classified recognition failure.
	EventError
	// EventEnd is emitted when the capture session is over.
	EventEnd
)

func (t EventType) String() string {
	switch t {
	case EventStart:
		return "start"
	case EventResult:
		return "result"
	case EventError:
		return "error"
	case EventEnd:
		return "end"
	default:
		return "unknown"
	}
}

// ErrorCode is the small fixed vocabulary recognizers classify errors into.
type ErrorCode string

const (
	CodeNotAllowed   ErrorCode = "not-allowed"
	CodeAudioCapture ErrorCode = "audio-capture"
	CodeNoSpeech     ErrorCode = "no-speech"
	CodeOther        ErrorCode = "other"
)

// IsPermission reports whether the code means the microphone cannot be used.
func (c ErrorCode) IsPermission() bool {
	return c == CodeNotAllowed || c == CodeAudioCapture
}

// Utterance is a transcript with its arrival time and finality.
type Utterance struct {
	Text  string
	At    time.Time
	Final bool
}

// Event represents a recognizer event.
type Event struct {
	Type      EventType
	Text      string    // Transcript for result events
	Final     bool      // True if the result won't change
	Code      ErrorCode // Classification for error events
	Err       error     // Error details (only set for error events)
	Timestamp time.Time
}

// Utterance converts a result event.
func (e Event) Utterance() Utterance {
	return Utterance{Text: e.Text, At: e.Timestamp, Final: e.Final}
}

// Config controls a recognition session.
type Config struct {
	Language       string
	InterimResults bool
	Continuous     bool
}

// Recognizer is the main interface for speech-to-text capture. Every
// session ends with exactly one end event, including sessions that
// reported an error.
type Recognizer interface {
	// Start begins a capture session.
	Start(ctx context.Context, cfg Config) error

	// Stop ends the current session. Stopping an idle recognizer is a no-op.
	Stop() error

	// Events returns the channel all sessions report on.
	Events() <-chan Event
}
