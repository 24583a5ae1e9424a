package fake

import (
	"context"
	"sync"
	"time"

	"github.com/chriscow/simon-go/pkg/playback"
)

// FakePlayer hands out manually driven clips. Tests advance a clip with
// SetPosition and end it with Finish or Fail.
type FakePlayer struct {
	mu       sync.Mutex
	blocked  bool
	duration time.Duration
	clips    []*FakePlayback
	started  chan *FakePlayback
}

// NewFakePlayer creates a player whose clips last duration.
func NewFakePlayer(duration time.Duration) *FakePlayer {
	return &FakePlayer{duration: duration, started: make(chan *FakePlayback, 16)}
}

// BlockAutoplay makes Play fail with ErrAutoplayBlocked until Unlock.
func (f *FakePlayer) BlockAutoplay() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.blocked = true
}

// Unlock lifts the autoplay block.
func (f *FakePlayer) Unlock(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.blocked = false
	return nil
}

// Play starts a clip.
func (f *FakePlayer) Play(ctx context.Context, audio []byte) (playback.Playback, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.blocked {
		return nil, playback.ErrAutoplayBlocked
	}
	clip := &FakePlayback{
		Audio:    append([]byte(nil), audio...),
		done:     make(chan error, 1),
		duration: f.duration,
	}
	f.clips = append(f.clips, clip)
	select {
	case f.started <- clip:
	default:
	}
	return clip, nil
}

// Started delivers each clip as it begins.
func (f *FakePlayer) Started() <-chan *FakePlayback {
	return f.started
}

// Clips returns every clip played so far.
func (f *FakePlayer) Clips() []*FakePlayback {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*FakePlayback(nil), f.clips...)
}

// FakePlayback is a clip controlled by the test.
type FakePlayback struct {
	Audio []byte

	mu       sync.Mutex
	done     chan error
	ended    bool
	paused   bool
	position time.Duration
	duration time.Duration
}

func (p *FakePlayback) Done() <-chan error { return p.done }

func (p *FakePlayback) Pause() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.paused = true
	p.endLocked(playback.ErrStopped)
}

func (p *FakePlayback) Position() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.position
}

func (p *FakePlayback) Duration() time.Duration { return p.duration }

// SetPosition moves the playhead.
func (p *FakePlayback) SetPosition(d time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.position = d
}

// Finish ends the clip naturally.
func (p *FakePlayback) Finish() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.position = p.duration
	p.endLocked(nil)
}

// Fail ends the clip with err.
func (p *FakePlayback) Fail(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.endLocked(err)
}

// Paused reports whether Pause was called.
func (p *FakePlayback) Paused() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.paused
}

func (p *FakePlayback) endLocked(err error) {
	if p.ended {
		return
	}
	p.ended = true
	p.done <- err
}
