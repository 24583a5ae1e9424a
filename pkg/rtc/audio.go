// Package rtc holds the PCM audio unit shared by microphone capture,
// level metering and playback.
package rtc

import (
	"encoding/binary"
	"fmt"
	"time"
)

// FrameDuration is the length of every AudioFrame.
const FrameDuration = 10 * time.Millisecond

// AudioFrame represents exactly 10 ms of PCM audio.
// Len(Data) == SamplesPerChannel * NumChannels * 2.
//
// Timestamp is the frame's offset from the start of its stream.
type AudioFrame struct {
	Data              []byte // 16-bit PCM, little-endian
	SampleRate        int
	SamplesPerChannel int // SampleRate / 100
	NumChannels       int
	Timestamp         time.Duration
}

// NewAudioFrame creates an AudioFrame, validating that data holds exactly
// 10 ms of audio for the given format.
func NewAudioFrame(data []byte, sampleRate, numChannels int, timestamp time.Duration) (*AudioFrame, error) {
	if sampleRate <= 0 || sampleRate%100 != 0 {
		return nil, fmt.Errorf("sample rate %dHz cannot be split into 10ms frames", sampleRate)
	}
	samplesPerChannel := sampleRate / 100
	expectedLen := samplesPerChannel * numChannels * 2
	if len(data) != expectedLen {
		return nil, fmt.Errorf("AudioFrame data length mismatch: got %d bytes, expected %d bytes for %dHz %d-channel 10ms audio",
			len(data), expectedLen, sampleRate, numChannels)
	}

	return &AudioFrame{
		Data:              data,
		SampleRate:        sampleRate,
		SamplesPerChannel: samplesPerChannel,
		NumChannels:       numChannels,
		Timestamp:         timestamp,
	}, nil
}

// Clone creates a deep copy of the AudioFrame.
func (f *AudioFrame) Clone() *AudioFrame {
	c := *f
	c.Data = append([]byte(nil), f.Data...)
	return &c
}

// Duration returns the duration represented by this frame (always 10ms).
func (f *AudioFrame) Duration() time.Duration {
	return FrameDuration
}

// Sample returns the i-th interleaved sample.
func (f *AudioFrame) Sample(i int) int16 {
	return int16(binary.LittleEndian.Uint16(f.Data[i*2:]))
}

// NumSamples returns the number of interleaved samples in the frame.
func (f *AudioFrame) NumSamples() int {
	return len(f.Data) / 2
}

// Split cuts a PCM16 buffer into consecutive 10 ms frames. The final frame
// is zero-padded.
func Split(pcm []byte, sampleRate, numChannels int) ([]AudioFrame, error) {
	if sampleRate <= 0 || sampleRate%100 != 0 {
		return nil, fmt.Errorf("sample rate %dHz cannot be split into 10ms frames", sampleRate)
	}
	if numChannels <= 0 {
		return nil, fmt.Errorf("invalid channel count %d", numChannels)
	}

	samplesPerChannel := sampleRate / 100
	frameLen := samplesPerChannel * numChannels * 2
	frames := make([]AudioFrame, 0, (len(pcm)+frameLen-1)/frameLen)

	for off, idx := 0, 0; off < len(pcm); off, idx = off+frameLen, idx+1 {
		data := make([]byte, frameLen)
		copy(data, pcm[off:min(off+frameLen, len(pcm))])
		frames = append(frames, AudioFrame{
			Data:              data,
			SampleRate:        sampleRate,
			SamplesPerChannel: samplesPerChannel,
			NumChannels:       numChannels,
			Timestamp:         time.Duration(idx) * FrameDuration,
		})
	}
	return frames, nil
}

// PCMDuration returns how long a PCM16 buffer plays for.
func PCMDuration(byteLen, sampleRate, numChannels int) time.Duration {
	if sampleRate <= 0 || numChannels <= 0 {
		return 0
	}
	samples := byteLen / (2 * numChannels)
	return time.Duration(samples) * time.Second / time.Duration(sampleRate)
}
