// Package voice measures microphone energy and decides when the user is
// talking over the assistant.
package voice

import (
	"context"
	"encoding/binary"
	"math"
	"time"

	"github.com/chriscow/simon-go/pkg/rtc"
)

const (
	// DefaultWindow is how often a level sample is produced.
	DefaultWindow = 50 * time.Millisecond
	// DefaultGain scales normalized RMS so conversational speech lands
	// in the middle of the 0..1 range.
	DefaultGain = 4.0
)

// RMS returns the root-mean-square of PCM16 data normalized to 0..1.
func RMS(data []byte) float64 {
	samples := len(data) / 2
	if samples == 0 {
		return 0
	}
	var sum float64
	for i := 0; i < samples; i++ {
		s := float64(int16(binary.LittleEndian.Uint16(data[i*2:])))
		sum += s * s
	}
	return math.Sqrt(sum/float64(samples)) / 32768.0
}

// LevelMeter folds 10ms frames into one level sample per window.
type LevelMeter struct {
	window  time.Duration
	gain    float64
	sum     float64
	samples int
	elapsed time.Duration
}

// NewLevelMeter creates a meter. Non-positive arguments take the defaults.
func NewLevelMeter(window time.Duration, gain float64) *LevelMeter {
	if window <= 0 {
		window = DefaultWindow
	}
	if gain <= 0 {
		gain = DefaultGain
	}
	return &LevelMeter{window: window, gain: gain}
}

// Push adds a frame. When the frame completes a window it returns the
// window's level and true.
func (m *LevelMeter) Push(f rtc.AudioFrame) (float64, bool) {
	n := f.NumSamples()
	for i := 0; i < n; i++ {
		s := float64(f.Sample(i))
		m.sum += s * s
	}
	m.samples += n
	m.elapsed += f.Duration()
	if m.elapsed < m.window {
		return 0, false
	}

	level := 0.0
	if m.samples > 0 {
		level = math.Sqrt(m.sum/float64(m.samples)) / 32768.0 * m.gain
	}
	m.sum, m.samples, m.elapsed = 0, 0, 0
	return min(1, level), true
}

// Meter converts a frame stream into a level stream. The output channel is
// closed when frames closes or ctx is done. Slow readers miss samples.
func Meter(ctx context.Context, frames <-chan rtc.AudioFrame, m *LevelMeter) <-chan float64 {
	out := make(chan float64, 8)
	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case f, ok := <-frames:
				if !ok {
					return
				}
				level, ready := m.Push(f)
				if !ready {
					continue
				}
				select {
				case out <- level:
				default:
				}
			}
		}
	}()
	return out
}

// BargeInDetector fires when the level stays above a threshold for a run
// of consecutive samples. It fires once per run.
type BargeInDetector struct {
	threshold float64
	sustain   int
	run       int
}

// NewBargeInDetector creates a detector.
func NewBargeInDetector(threshold float64, sustain int) *BargeInDetector {
	if sustain < 1 {
		sustain = 1
	}
	return &BargeInDetector{threshold: threshold, sustain: sustain}
}

// Observe feeds one level sample and reports whether barge-in just triggered.
func (d *BargeInDetector) Observe(level float64) bool {
	if level <= d.threshold {
		d.run = 0
		return false
	}
	d.run++
	return d.run == d.sustain
}

// Active reports whether the last sample was above the threshold.
func (d *BargeInDetector) Active() bool {
	return d.run > 0
}

// Reset clears the current run.
func (d *BargeInDetector) Reset() {
	d.run = 0
}

// Threshold returns the level a sample must exceed.
func (d *BargeInDetector) Threshold() float64 {
	return d.threshold
}
