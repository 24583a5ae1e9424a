package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/chriscow/simon-go/internal/hub"
	"github.com/chriscow/simon-go/pkg/agent"
	"github.com/chriscow/simon-go/pkg/ai/llm"
	"github.com/chriscow/simon-go/pkg/ai/stt"
	"github.com/chriscow/simon-go/pkg/ai/tts"
	"github.com/chriscow/simon-go/pkg/audio/wav"
	"github.com/chriscow/simon-go/pkg/avatar"
	"github.com/chriscow/simon-go/pkg/cache"
	"github.com/chriscow/simon-go/pkg/chat"
	"github.com/chriscow/simon-go/pkg/config"
	"github.com/chriscow/simon-go/pkg/playback"
	"github.com/chriscow/simon-go/pkg/plugin"
	"github.com/chriscow/simon-go/pkg/rtc"
	"github.com/chriscow/simon-go/pkg/session"
	"github.com/chriscow/simon-go/pkg/speech"
	"github.com/chriscow/simon-go/pkg/version"
	"github.com/chriscow/simon-go/pkg/voice"
)

// fakeReplies keep `--llm fake` conversations in character.
var fakeReplies = []any{
	"¡Hola! Soy Simón, el asistente virtual de Nexa Digital. ¿En qué puedo ayudarte?",
	"Claro, con gusto te explico. Cuéntame un poco más.",
	"Entiendo. ¿Hay algo más en lo que te pueda ayudar?",
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start the assistant and its avatar hub",
	Long: `Start a conversation. With the console recognizer every line typed on stdin
is one utterance; --mic plays a WAV file as the microphone for level metering
and the Whisper recognizer. Avatar clients connect to ws://<addr>/ws.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		micPath, _ := cmd.Flags().GetString("mic")
		requireGesture, _ := cmd.Flags().GetBool("require-gesture")

		logger.Info("Starting assistant",
			slog.String("service", "simon"),
			slog.String("version", version.Version),
			slog.String("commit", version.GitCommit),
			slog.String("llm", cfg.Providers.LLM),
			slog.String("tts", cfg.Providers.TTS),
			slog.String("stt", cfg.Providers.STT),
			slog.String("addr", cfg.Hub.Addr))

		ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer cancel()

		return runAssistant(ctx, cfg, micPath, requireGesture, logger)
	},
}

func runAssistant(ctx context.Context, cfg *config.Config, micPath string, requireGesture bool, logger *slog.Logger) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var recFrames, meterFrames <-chan rtc.AudioFrame
	if micPath != "" {
		mic, err := wavMicrophone(ctx, micPath)
		if err != nil {
			return err
		}
		outs := fanOut(ctx, mic, 2)
		recFrames, meterFrames = outs[0], outs[1]
	}

	llmProvider, err := plugin.Create[llm.LLM](plugin.KindLLM, cfg.Providers.LLM, providerOptions(cfg, plugin.KindLLM, cfg.Providers.LLM))
	if err != nil {
		return err
	}
	ttsProvider, err := plugin.Create[tts.TTS](plugin.KindTTS, cfg.Providers.TTS, providerOptions(cfg, plugin.KindTTS, cfg.Providers.TTS))
	if err != nil {
		return err
	}
	recOpts := providerOptions(cfg, plugin.KindSTT, cfg.Providers.STT)
	if recFrames != nil {
		recOpts["frames"] = recFrames
	}
	recognizer, err := plugin.Create[stt.Recognizer](plugin.KindSTT, cfg.Providers.STT, recOpts)
	if err != nil {
		return err
	}

	chatClient, err := chat.New(chat.Config{
		LLM:              llmProvider,
		Model:            cfg.OpenAI.Model,
		MaxTokens:        cfg.OpenAI.MaxTokens,
		Temperature:      cfg.OpenAI.Temperature,
		PresencePenalty:  cfg.OpenAI.PresencePenalty,
		FrequencyPenalty: cfg.OpenAI.FrequencyPenalty,
		Logger:           logger,
	})
	if err != nil {
		return fmt.Errorf("failed to create chat client: %w", err)
	}

	speechClient, err := newSpeechClient(cfg, ttsProvider, logger)
	if err != nil {
		return err
	}
	go func() {
		primeCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
		defer cancel()
		if err := speechClient.Prime(primeCtx, speech.FallbackPhrase); err != nil {
			logger.Warn("Fallback audio unavailable", slog.String("error", err.Error()))
		}
	}()

	// Reply audio is played by the connected avatar clients.
	h := hub.New(hub.Config{Logger: logger})
	speaker := make(chan rtc.AudioFrame, 64)
	go h.StreamAudio(ctx, speaker)

	player := playback.NewPCMPlayer(playback.PCMConfig{
		SampleRate:     outputSampleRate(ttsProvider),
		Sink:           speaker,
		RequireGesture: requireGesture,
		Logger:         logger,
	})

	var mic session.Microphone = session.MicrophoneFunc(func(context.Context) error { return nil })
	if m, ok := recognizer.(session.Microphone); ok {
		mic = m
	}
	sess, err := session.New(session.Config{
		Microphone: mic,
		Unlocker:   player,
		Cooldown:   cfg.Agent.PermissionCooldown,
		Logger:     logger,
	})
	if err != nil {
		return fmt.Errorf("failed to create session: %w", err)
	}

	bridge := avatar.New(avatar.Config{
		Scene:  h,
		Idle:   &avatar.IdleConfig{},
		Logger: logger,
	})
	defer bridge.Close()

	var levels <-chan float64
	if meterFrames != nil {
		levels = voice.Meter(ctx, meterFrames, voice.NewLevelMeter(0, 0))
	}

	a, err := agent.New(agent.Config{
		Recognizer: recognizer,
		Chat:       chatClient,
		Speech:     speechClient,
		Player:     player,
		Session:    sess,
		Avatar:     bridge,
		Levels:     levels,

		OnState: func(s agent.State) { h.State(s.String()) },
		OnTranscript: func(text string, final bool) {
			h.Transcript(text, final)
		},
		OnReply: func(text string, final bool) {
			h.Reply(text, final)
			if final {
				fmt.Printf("Simón: %s\n", text)
			}
		},

		SystemPrompt:            cfg.Agent.SystemPrompt,
		MaxTurns:                cfg.Agent.MaxTurns,
		Voice:                   speechVoice(cfg),
		Language:                cfg.Agent.Language,
		ListenDebounce:          cfg.Agent.ListenDebounce,
		NoSpeechRestart:         cfg.Agent.NoSpeechRestart,
		ErrorRestart:            cfg.Agent.ErrorRestart,
		ListenTimeout:           cfg.Agent.ListenTimeout,
		DeferredPlaybackTimeout: cfg.Agent.DeferredPlaybackTimeout,
		MinTranscriptChars:      cfg.Agent.MinTranscriptChars,
		BargeInThreshold:        cfg.Agent.BargeInThreshold,
		BargeInSamples:          cfg.Agent.BargeInSamples,
		Logger:                  logger,
	})
	if err != nil {
		return fmt.Errorf("failed to create agent: %w", err)
	}
	defer a.Close()
	h.SetController(a)

	a.Metrics().Publish("simon.agent")
	h.Metrics().Publish("simon.hub")

	hubDone := make(chan error, 1)
	go func() {
		hubDone <- h.Run(ctx, cfg.Hub.Addr)
	}()

	agentDone := make(chan error, 1)
	go func() {
		agentDone <- a.Start(ctx)
	}()

	select {
	case err := <-hubDone:
		cancel()
		<-agentDone
		return err
	case err := <-agentDone:
		cancel()
		if hubErr := <-hubDone; hubErr != nil {
			logger.Error("Hub failed", slog.String("error", hubErr.Error()))
		}
		logger.Info("Assistant stopped")
		return err
	}
}

// providerOptions builds the factory config for a registry entry from the
// loaded configuration.
func providerOptions(cfg *config.Config, kind, name string) map[string]any {
	opts := map[string]any{}
	switch kind + "/" + name {
	case "llm/openai":
		opts["api_key"] = cfg.OpenAI.APIKey
		opts["base_url"] = cfg.OpenAI.BaseURL
		opts["model"] = cfg.OpenAI.Model
	case "llm/fake":
		opts["responses"] = fakeReplies
	case "tts/openai":
		opts["api_key"] = cfg.OpenAI.APIKey
		opts["base_url"] = cfg.OpenAI.BaseURL
		opts["model"] = cfg.OpenAI.SpeechModel
		opts["voice"] = cfg.OpenAI.SpeechVoice
	case "tts/elevenlabs":
		opts["api_key"] = cfg.ElevenLabs.APIKey
		opts["voice"] = cfg.ElevenLabs.VoiceID
		opts["model"] = cfg.ElevenLabs.ModelID
		opts["output_format"] = cfg.ElevenLabs.OutputFormat
		if cfg.ElevenLabs.BaseURL != "" {
			opts["base_url"] = cfg.ElevenLabs.BaseURL
		}
	case "stt/openai":
		opts["api_key"] = cfg.OpenAI.APIKey
		opts["base_url"] = cfg.OpenAI.BaseURL
	case "stt/console":
		opts["input"] = os.Stdin
	}
	return opts
}

func newSpeechClient(cfg *config.Config, provider tts.TTS, logger *slog.Logger) (*speech.Client, error) {
	client, err := speech.New(speech.Config{
		TTS:     provider,
		Cache:   cache.New(cache.Config{Capacity: cfg.Cache.Capacity, TTL: cfg.Cache.TTL}),
		Voice:   speechVoice(cfg),
		ModelID: cfg.ElevenLabs.ModelID,
		Settings: &tts.VoiceSettings{
			Stability:       cfg.ElevenLabs.Stability,
			SimilarityBoost: cfg.ElevenLabs.SimilarityBoost,
			Style:           cfg.ElevenLabs.Style,
			UseSpeakerBoost: cfg.ElevenLabs.SpeakerBoost,
		},
		Logger: logger,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create speech client: %w", err)
	}
	return client, nil
}

func speechVoice(cfg *config.Config) string {
	if cfg.Providers.TTS == "openai" {
		return cfg.OpenAI.SpeechVoice
	}
	return cfg.ElevenLabs.VoiceID
}

// outputSampleRate is the rate of the provider's raw PCM. Encoded formats
// carry their own and fall back to 16 kHz.
func outputSampleRate(provider tts.TTS) int {
	if rate := tts.SampleRate(provider.Capabilities().OutputFormat); rate > 0 {
		return rate
	}
	return 16000
}

// wavMicrophone plays a WAV file in real time and then keeps the stream
// alive with silence until ctx ends.
func wavMicrophone(ctx context.Context, path string) (<-chan rtc.AudioFrame, error) {
	audio, err := wav.ReadFile(path)
	if err != nil {
		return nil, err
	}
	frames, err := audio.Frames()
	if err != nil {
		return nil, err
	}
	if len(frames) == 0 {
		return nil, fmt.Errorf("%s contains no audio", path)
	}

	silence := frames[0]
	silence.Data = make([]byte, len(frames[0].Data))

	out := make(chan rtc.AudioFrame, 16)
	go func() {
		defer close(out)
		ticker := time.NewTicker(10 * time.Millisecond)
		defer ticker.Stop()

		for i := 0; ; i++ {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
			f := silence
			if i < len(frames) {
				f = frames[i]
			}
			f.Timestamp = time.Duration(i) * 10 * time.Millisecond
			select {
			case out <- f:
			default:
			}
		}
	}()
	return out, nil
}

// fanOut copies every frame to n outputs. A slow output misses frames
// rather than stalling the others.
func fanOut(ctx context.Context, in <-chan rtc.AudioFrame, n int) []<-chan rtc.AudioFrame {
	outs := make([]chan rtc.AudioFrame, n)
	result := make([]<-chan rtc.AudioFrame, n)
	for i := range outs {
		outs[i] = make(chan rtc.AudioFrame, 32)
		result[i] = outs[i]
	}

	go func() {
		defer func() {
			for _, out := range outs {
				close(out)
			}
		}()
		for {
			select {
			case <-ctx.Done():
				return
			case f, ok := <-in:
				if !ok {
					return
				}
				for _, out := range outs {
					select {
					case out <- f:
					default:
					}
				}
			}
		}
	}()
	return result
}
