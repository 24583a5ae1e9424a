// Package playback plays synthesized replies. The conversation loop owns the
// single audio output and drives it only through these interfaces.
package playback

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrAutoplayBlocked is returned by Play until the host reports a user
	// gesture. The caller keeps the audio and retries after the gesture.
	ErrAutoplayBlocked = errors.New("playback blocked until a user gesture")

	// ErrStopped is delivered on Done when playback was paused.
	ErrStopped = errors.New("playback stopped")
)

// Playback is one in-progress clip.
type Playback interface {
	// Done receives exactly one value: nil when the clip ended naturally,
	// ErrStopped after Pause, or the failure that ended it.
	Done() <-chan error

	// Pause stops the clip immediately. Pausing twice is a no-op.
	Pause()

	// Position is how much audio has been played.
	Position() time.Duration

	// Duration is the total length of the clip.
	Duration() time.Duration
}

// Player starts clips.
type Player interface {
	Play(ctx context.Context, audio []byte) (Playback, error)
}

// Progress returns Position/Duration in [0, 1].
func Progress(p Playback) float64 {
	d := p.Duration()
	if d <= 0 {
		return 0
	}
	return min(1, float64(p.Position())/float64(d))
}
