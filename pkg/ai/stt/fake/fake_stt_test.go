package fake

import (
	"context"
	"errors"
	"testing"

	"github.com/chriscow/simon-go/pkg/ai/stt"
)

func drain(ch <-chan stt.Event) []stt.Event {
	var out []stt.Event
	for {
		select {
		case e := <-ch:
			out = append(out, e)
		default:
			return out
		}
	}
}

func TestFakeRecognizerSay(t *testing.T) {
	rec := NewFakeRecognizer()

	if rec.Say("ignored") {
		t.Fatal("Say() should be ignored while stopped")
	}

	if err := rec.Start(context.Background(), stt.Config{Language: "es-ES"}); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if err := rec.Start(context.Background(), stt.Config{}); !errors.Is(err, stt.ErrAlreadyStarted) {
		t.Errorf("second Start() should fail with ErrAlreadyStarted, got %v", err)
	}

	rec.Say("Hola, ¿cómo estás?")
	events := drain(rec.Events())

	// start, one interim per word prefix ("Hola," and "Hola, ¿cómo"), final
	if len(events) != 4 {
		t.Fatalf("Expected start + 2 interims + final, got %d events", len(events))
	}
	if events[0].Type != stt.EventStart {
		t.Errorf("Expected start event first, got %v", events[0].Type)
	}
	for i, want := range []string{"Hola,", "Hola, ¿cómo"} {
		if e := events[1+i]; e.Final || e.Text != want {
			t.Errorf("interim %d = %+v, want non-final %q", i, e, want)
		}
	}
	final := events[3]
	if !final.Final || final.Text != "Hola, ¿cómo estás?" {
		t.Errorf("Unexpected final event %+v", final)
	}
	if final.Utterance().At.IsZero() {
		t.Error("Expected utterance timestamp")
	}
	if rec.Config().Language != "es-ES" {
		t.Errorf("Expected config to be recorded, got %+v", rec.Config())
	}
}

func TestFakeRecognizerFail(t *testing.T) {
	rec := NewFakeRecognizer()
	_ = rec.Start(context.Background(), stt.Config{})
	drain(rec.Events())

	rec.Fail(stt.CodeNoSpeech)
	events := drain(rec.Events())

	if len(events) != 2 || events[0].Code != stt.CodeNoSpeech || events[1].Type != stt.EventEnd {
		t.Fatalf("Unexpected events %+v", events)
	}
	if rec.Listening() {
		t.Error("Recognizer should stop after an error")
	}
}

func TestErrorCodeIsPermission(t *testing.T) {
	tests := []struct {
		code stt.ErrorCode
		want bool
	}{
		{stt.CodeNotAllowed, true},
		{stt.CodeAudioCapture, true},
		{stt.CodeNoSpeech, false},
		{stt.CodeOther, false},
	}
	for _, tt := range tests {
		if got := tt.code.IsPermission(); got != tt.want {
			t.Errorf("%s.IsPermission() = %v, want %v", tt.code, got, tt.want)
		}
	}
}
