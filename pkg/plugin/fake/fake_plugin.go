// Package fake registers the fake providers so the assistant can run
// end-to-end without network access.
package fake

import (
	llmfake "github.com/chriscow/simon-go/pkg/ai/llm/fake"
	sttfake "github.com/chriscow/simon-go/pkg/ai/stt/fake"
	ttsfake "github.com/chriscow/simon-go/pkg/ai/tts/fake"
	"github.com/chriscow/simon-go/pkg/plugin"
)

func newFakeRecognizer(cfg map[string]any) (any, error) {
	return sttfake.NewFakeRecognizer(), nil
}

func newFakeTTS(cfg map[string]any) (any, error) {
	return ttsfake.NewFakeTTS(), nil
}

// newFakeLLM accepts "responses" as []string or, from config files, []any.
func newFakeLLM(cfg map[string]any) (any, error) {
	var responses []string
	switch r := cfg["responses"].(type) {
	case []string:
		responses = r
	case []any:
		for _, v := range r {
			if s, ok := v.(string); ok {
				responses = append(responses, s)
			}
		}
	}
	return llmfake.NewFakeLLM(responses...), nil
}

func init() {
	plugin.RegisterWithMetadata(&plugin.Plugin{
		Kind:        plugin.KindSTT,
		Name:        "fake",
		Factory:     newFakeRecognizer,
		Description: "Scripted recognizer for tests",
		Version:     "1.0.0",
		Config:      map[string]any{},
	})

	plugin.RegisterWithMetadata(&plugin.Plugin{
		Kind:        plugin.KindTTS,
		Name:        "fake",
		Factory:     newFakeTTS,
		Description: "Sine-tone TTS for testing and development",
		Version:     "1.0.0",
		Config:      map[string]any{},
	})

	plugin.RegisterWithMetadata(&plugin.Plugin{
		Kind:        plugin.KindLLM,
		Name:        "fake",
		Factory:     newFakeLLM,
		Description: "Canned-response LLM for testing and development",
		Version:     "1.0.0",
		Config: map[string]any{
			"responses": []string{"List of predefined responses"},
		},
	})
}
