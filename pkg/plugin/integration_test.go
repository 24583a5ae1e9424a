package plugin_test

import (
	"context"
	"io"
	"slices"
	"strings"
	"testing"

	"github.com/matryer/is"

	"github.com/chriscow/simon-go/pkg/ai/llm"
	"github.com/chriscow/simon-go/pkg/ai/stt"
	"github.com/chriscow/simon-go/pkg/ai/tts"
	"github.com/chriscow/simon-go/pkg/plugin"
	_ "github.com/chriscow/simon-go/pkg/plugin/console"    // Register console recognizer
	_ "github.com/chriscow/simon-go/pkg/plugin/elevenlabs" // Register ElevenLabs TTS
	_ "github.com/chriscow/simon-go/pkg/plugin/fake"       // Register fake plugins
	_ "github.com/chriscow/simon-go/pkg/plugin/openai"     // Register OpenAI plugins
)

func pluginNames(kind string) []string {
	var names []string
	for _, p := range plugin.List(kind) {
		names = append(names, p.Name)
	}
	slices.Sort(names)
	return names
}

func TestPluginIntegration_Registered(t *testing.T) {
	is := is.New(t)

	kinds := plugin.ListKinds()
	slices.Sort(kinds)
	is.Equal(kinds, []string{plugin.KindLLM, plugin.KindSTT, plugin.KindTTS})

	is.Equal(pluginNames(plugin.KindLLM), []string{"fake", "openai"})
	is.Equal(pluginNames(plugin.KindTTS), []string{"elevenlabs", "fake", "openai"})
	is.Equal(pluginNames(plugin.KindSTT), []string{"console", "fake", "openai"})
}

func TestPluginIntegration_FakeLLM(t *testing.T) {
	is := is.New(t)
	provider, err := plugin.Create[llm.LLM](plugin.KindLLM, "fake", map[string]any{
		"responses": []any{"Hola, soy Simón."},
	})
	is.NoErr(err)

	resp, err := provider.Chat(context.Background(), llm.ChatRequest{
		Messages: []llm.Message{{Role: llm.RoleUser, Content: "hola"}},
	})
	is.NoErr(err)
	is.Equal(resp.Message.Content, "Hola, soy Simón.")
}

func TestPluginIntegration_FakeTTS(t *testing.T) {
	is := is.New(t)
	provider, err := plugin.Create[tts.TTS](plugin.KindTTS, "fake", nil)
	is.NoErr(err)

	rc, err := provider.Synthesize(context.Background(), tts.SynthesizeRequest{Text: "Hola"})
	is.NoErr(err)
	defer rc.Close()
	audio, err := io.ReadAll(rc)
	is.NoErr(err)
	is.True(len(audio) > 0)
	is.True(tts.SampleRate(provider.Capabilities().OutputFormat) > 0)
}

func TestPluginIntegration_ConsoleSTT(t *testing.T) {
	is := is.New(t)
	recognizer, err := plugin.Create[stt.Recognizer](plugin.KindSTT, "console", map[string]any{
		"input": strings.NewReader("buenos días\n"),
	})
	is.NoErr(err)

	is.NoErr(recognizer.Start(context.Background(), stt.Config{Language: "es-ES"}))
	var final string
	for e := range recognizer.Events() {
		if e.Type == stt.EventResult && e.Final {
			final = e.Text
		}
		if e.Type == stt.EventEnd {
			break
		}
	}
	is.Equal(final, "buenos días")
}

func TestPluginIntegration_WrongKind(t *testing.T) {
	_, err := plugin.Create[llm.LLM](plugin.KindTTS, "fake", nil)
	if err == nil {
		t.Fatal("expected an error creating an LLM from a TTS factory")
	}
}

func TestPluginIntegration_UnknownProvider(t *testing.T) {
	is := is.New(t)
	_, err := plugin.Create[tts.TTS](plugin.KindTTS, "polly", nil)
	is.True(err != nil)
	is.True(strings.Contains(err.Error(), "elevenlabs"))
}

func TestPluginIntegration_NetworkProvidersNeedKeys(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "")
	t.Setenv("ELEVENLABS_API_KEY", "")

	for _, tc := range []struct{ kind, name string }{
		{plugin.KindLLM, "openai"},
		{plugin.KindTTS, "openai"},
		{plugin.KindTTS, "elevenlabs"},
	} {
		factory, ok := plugin.Get(tc.kind, tc.name)
		if !ok {
			t.Fatalf("%s/%s not registered", tc.kind, tc.name)
		}
		if _, err := factory(map[string]any{}); err == nil {
			t.Errorf("%s/%s: expected missing key error, got %v", tc.kind, tc.name, err)
		}
	}
}
