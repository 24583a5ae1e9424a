package playback

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/chriscow/simon-go/pkg/audio/wav"
	"github.com/chriscow/simon-go/pkg/rtc"
)

// PCMConfig configures a PCMPlayer.
type PCMConfig struct {
	// SampleRate and NumChannels describe raw PCM input. WAV input carries
	// its own format.
	SampleRate  int
	NumChannels int

	// Sink receives frames in real time. Frames are dropped when the sink
	// is not ready. A nil sink discards frames but still keeps time.
	Sink chan<- rtc.AudioFrame

	// RequireGesture blocks Play with ErrAutoplayBlocked until Unlock.
	RequireGesture bool

	Logger *slog.Logger
}

// PCMPlayer plays PCM16 or WAV audio paced by a 10ms ticker.
type PCMPlayer struct {
	cfg      PCMConfig
	unlocked atomic.Bool
	logger   *slog.Logger
}

// NewPCMPlayer creates a player.
func NewPCMPlayer(cfg PCMConfig) *PCMPlayer {
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = 16000
	}
	if cfg.NumChannels <= 0 {
		cfg.NumChannels = 1
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &PCMPlayer{cfg: cfg, logger: cfg.Logger.With(slog.String("component", "playback"))}
}

// Unlock records the user gesture that allows audio output.
func (p *PCMPlayer) Unlock(ctx context.Context) error {
	if !p.unlocked.Swap(true) {
		p.logger.Info("audio output unlocked")
	}
	return nil
}

// Unlocked reports whether output is allowed.
func (p *PCMPlayer) Unlocked() bool {
	return !p.cfg.RequireGesture || p.unlocked.Load()
}

// Play starts audio. It returns once the clip is queued.
func (p *PCMPlayer) Play(ctx context.Context, audio []byte) (Playback, error) {
	if !p.Unlocked() {
		return nil, ErrAutoplayBlocked
	}

	pcm, rate, channels := audio, p.cfg.SampleRate, p.cfg.NumChannels
	if wav.IsWAV(audio) {
		decoded, err := wav.DecodeBytes(audio)
		if err != nil {
			return nil, fmt.Errorf("failed to decode reply audio: %w", err)
		}
		pcm = decoded.PCM
		rate = int(decoded.Header.SampleRate)
		channels = int(decoded.Header.NumChannels)
	}

	frames, err := rtc.Split(pcm, rate, channels)
	if err != nil {
		return nil, err
	}

	pb := &pcmPlayback{
		done:     make(chan error, 1),
		stop:     make(chan struct{}),
		duration: rtc.PCMDuration(len(pcm), rate, channels),
	}
	go pb.run(ctx, frames, p.cfg.Sink)
	return pb, nil
}

type pcmPlayback struct {
	done     chan error
	stop     chan struct{}
	stopOnce sync.Once
	played   atomic.Int64
	duration time.Duration
}

func (pb *pcmPlayback) run(ctx context.Context, frames []rtc.AudioFrame, sink chan<- rtc.AudioFrame) {
	ticker := time.NewTicker(rtc.FrameDuration)
	defer ticker.Stop()

	for i := range frames {
		select {
		case <-ctx.Done():
			pb.done <- ctx.Err()
			return
		case <-pb.stop:
			pb.done <- ErrStopped
			return
		case <-ticker.C:
		}

		if sink != nil {
			select {
			case sink <- frames[i]:
			default:
			}
		}
		pb.played.Add(1)
	}
	pb.done <- nil
}

func (pb *pcmPlayback) Done() <-chan error { return pb.done }

func (pb *pcmPlayback) Pause() {
	pb.stopOnce.Do(func() { close(pb.stop) })
}

func (pb *pcmPlayback) Position() time.Duration {
	return min(pb.duration, time.Duration(pb.played.Load())*rtc.FrameDuration)
}

func (pb *pcmPlayback) Duration() time.Duration { return pb.duration }
