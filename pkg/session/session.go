// Package session tracks the resources a conversation needs: microphone
// access and permission to play audio. Retrying a refused prompt is left to
// the caller, which waits Cooldown between requests.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

var (
	// ErrPermissionDenied means the user refused microphone access.
	ErrPermissionDenied = errors.New("microphone permission denied")

	// ErrMicrophoneUnavailable means no usable capture device exists.
	ErrMicrophoneUnavailable = errors.New("microphone unavailable")
)

// DefaultCooldown separates permission prompts.
const DefaultCooldown = 5 * time.Second

// Microphone requests capture access.
type Microphone interface {
	Request(ctx context.Context) error
}

// MicrophoneFunc adapts a function to Microphone.
type MicrophoneFunc func(ctx context.Context) error

func (f MicrophoneFunc) Request(ctx context.Context) error { return f(ctx) }

// AudioUnlocker enables audio output after a user gesture.
type AudioUnlocker interface {
	Unlock(ctx context.Context) error
}

// Config configures a Session.
type Config struct {
	Microphone Microphone
	Unlocker   AudioUnlocker // optional

	Cooldown time.Duration // Default: DefaultCooldown
	Logger   *slog.Logger
}

// Session tracks microphone and audio-output readiness.
type Session struct {
	mic      Microphone
	unlocker AudioUnlocker
	cooldown time.Duration
	logger   *slog.Logger

	mu       sync.RWMutex
	granted  bool
	unlocked bool
	lastErr  error
}

// New creates a session.
func New(cfg Config) (*Session, error) {
	if cfg.Microphone == nil {
		return nil, fmt.Errorf("microphone is required")
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = DefaultCooldown
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Session{
		mic:      cfg.Microphone,
		unlocker: cfg.Unlocker,
		cooldown: cfg.Cooldown,
		logger:   cfg.Logger.With(slog.String("component", "session")),
		unlocked: cfg.Unlocker == nil,
	}, nil
}

// Request asks for microphone access once.
func (s *Session) Request(ctx context.Context) error {
	err := s.mic.Request(ctx)

	s.mu.Lock()
	s.granted = err == nil
	s.lastErr = err
	s.mu.Unlock()

	if err != nil {
		s.logger.Warn("microphone request failed", slog.String("error", err.Error()))
		return err
	}
	s.logger.Info("microphone access granted")
	return nil
}

// Granted reports whether the microphone may be used.
func (s *Session) Granted() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.granted
}

// Revoke marks access as lost, for example after a recognizer reported
// not-allowed.
func (s *Session) Revoke(reason error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.granted {
		s.logger.Warn("microphone access revoked", slog.Any("reason", reason))
	}
	s.granted = false
	s.lastErr = reason
}

// LastError returns the most recent failure.
func (s *Session) LastError() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastErr
}

// Cooldown returns the delay between permission prompts.
func (s *Session) Cooldown() time.Duration {
	return s.cooldown
}

// UnlockAudio enables playback. Call it from a user gesture.
func (s *Session) UnlockAudio(ctx context.Context) error {
	if s.unlocker == nil {
		return nil
	}
	if err := s.unlocker.Unlock(ctx); err != nil {
		return fmt.Errorf("failed to unlock audio: %w", err)
	}
	s.mu.Lock()
	s.unlocked = true
	s.mu.Unlock()
	return nil
}

// AudioUnlocked reports whether playback has been unlocked.
func (s *Session) AudioUnlocked() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.unlocked
}
