package fake

import (
	"bytes"
	"context"
	"encoding/binary"
	"io"
	"math"
	"sync"

	"github.com/chriscow/simon-go/pkg/ai/tts"
)

// SampleRate of the PCM audio produced by FakeTTS.
const SampleRate = 16000

// FakeTTS is a fake TTS implementation for testing. It renders a short sine
// tone per character as 16-bit mono PCM.
type FakeTTS struct {
	mu        sync.Mutex
	failures  int
	failErr   error
	requests  []tts.SynthesizeRequest
	msPerRune int
}

// NewFakeTTS creates a new fake TTS provider.
func NewFakeTTS() *FakeTTS {
	return &FakeTTS{msPerRune: 10}
}

// FailNext makes the next n calls fail with err.
func (f *FakeTTS) FailNext(n int, err error) *FakeTTS {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures = n
	f.failErr = err
	return f
}

// Requests returns the requests received so far, failed ones included.
func (f *FakeTTS) Requests() []tts.SynthesizeRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]tts.SynthesizeRequest(nil), f.requests...)
}

// Synthesize generates fake audio (sine wave) for the given text.
func (f *FakeTTS) Synthesize(ctx context.Context, req tts.SynthesizeRequest) (io.ReadCloser, error) {
	f.mu.Lock()
	f.requests = append(f.requests, req)
	if f.failures > 0 {
		f.failures--
		err := f.failErr
		f.mu.Unlock()
		return nil, err
	}
	msPerRune := f.msPerRune
	f.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return io.NopCloser(bytes.NewReader(Tone(len([]rune(req.Text)) * msPerRune))), nil
}

// Tone renders durationMs of a 440 Hz tone as PCM16LE mono at SampleRate.
func Tone(durationMs int) []byte {
	samples := SampleRate * durationMs / 1000
	data := make([]byte, samples*2)
	for i := 0; i < samples; i++ {
		sample := math.Sin(2*math.Pi*440*float64(i)/float64(SampleRate)) * 0.3
		binary.LittleEndian.PutUint16(data[i*2:], uint16(int16(sample*32767)))
	}
	return data
}

// Capabilities returns the fake TTS capabilities.
func (f *FakeTTS) Capabilities() tts.TTSCapabilities {
	return tts.TTSCapabilities{
		Streaming:       true,
		SupportedVoices: []string{"fake-voice-1", "fake-voice-2"},
		OutputFormat:    "pcm_16000",
	}
}
