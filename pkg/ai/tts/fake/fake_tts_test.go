package fake

import (
	"context"
	"errors"
	"io"
	"testing"

	"github.com/chriscow/simon-go/pkg/ai/tts"
)

func TestFakeTTSCapabilities(t *testing.T) {
	caps := NewFakeTTS().Capabilities()

	if !caps.Streaming {
		t.Error("Expected Streaming to be true")
	}

	if len(caps.SupportedVoices) == 0 {
		t.Error("Expected SupportedVoices to be non-empty")
	}

	if caps.OutputFormat == "" {
		t.Error("Expected OutputFormat to be set")
	}
}

func TestFakeTTSSynthesize(t *testing.T) {
	provider := NewFakeTTS()

	req := tts.SynthesizeRequest{
		Text:  "Hola mundo",
		Voice: "fake-voice-1",
	}

	body, err := provider.Synthesize(context.Background(), req)
	if err != nil {
		t.Fatalf("Synthesize() error = %v", err)
	}
	defer body.Close()

	data, err := io.ReadAll(body)
	if err != nil {
		t.Fatalf("ReadAll() error = %v", err)
	}

	// 10 runes * 10ms at 16 kHz, 2 bytes per sample
	if want := 10 * 160 * 2; len(data) != want {
		t.Errorf("Expected %d bytes, got %d", want, len(data))
	}

	if got := provider.Requests(); len(got) != 1 || got[0].Text != req.Text {
		t.Errorf("Expected request to be recorded, got %+v", got)
	}
}

func TestFakeTTSFailNext(t *testing.T) {
	boom := errors.New("boom")
	provider := NewFakeTTS().FailNext(1, boom)

	if _, err := provider.Synthesize(context.Background(), tts.SynthesizeRequest{Text: "x"}); !errors.Is(err, boom) {
		t.Fatalf("expected injected failure, got %v", err)
	}
	if _, err := provider.Synthesize(context.Background(), tts.SynthesizeRequest{Text: "x"}); err != nil {
		t.Fatalf("second call should succeed, got %v", err)
	}
}

func TestFakeTTSContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := NewFakeTTS().Synthesize(ctx, tts.SynthesizeRequest{Text: "x"}); !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}
