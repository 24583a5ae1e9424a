package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/chriscow/simon-go/pkg/ai/tts"
	"github.com/chriscow/simon-go/pkg/audio/wav"
	"github.com/chriscow/simon-go/pkg/plugin"
	"github.com/chriscow/simon-go/pkg/speech"
)

var sayCmd = &cobra.Command{
	Use:   "say <text>",
	Short: "Synthesize one phrase to a file",
	Long: `Synthesize text through the speech client (length limit, retries and
fallback included) and write it as WAV, or as the provider's raw bytes with --raw.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		out, _ := cmd.Flags().GetString("out")
		raw, _ := cmd.Flags().GetBool("raw")
		voice, _ := cmd.Flags().GetString("voice")
		if voice == "" {
			voice = speechVoice(cfg)
		}
		text := strings.Join(args, " ")

		provider, err := plugin.Create[tts.TTS](plugin.KindTTS, cfg.Providers.TTS, providerOptions(cfg, plugin.KindTTS, cfg.Providers.TTS))
		if err != nil {
			return err
		}
		client, err := newSpeechClient(cfg, provider, logger)
		if err != nil {
			return err
		}

		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()

		start := time.Now()
		audio := client.Synthesize(ctx, text, voice, func(p speech.Progress) {
			logger.Debug("Synthesis progress",
				slog.String("stage", string(p.Stage)),
				slog.Int("percent", p.Percent),
				slog.Int("attempt", p.Attempt))
		})
		if audio == nil {
			return fmt.Errorf("synthesis failed for %q", speech.Prepare(text, speech.DefaultMaxChars))
		}

		rate := tts.SampleRate(provider.Capabilities().OutputFormat)
		if raw || rate == 0 || wav.IsWAV(audio) {
			err = os.WriteFile(out, audio, 0o644)
		} else {
			err = wav.WriteFile(out, audio, uint32(rate), 1)
		}
		if err != nil {
			return fmt.Errorf("failed to write %s: %w", out, err)
		}

		logger.Info("Synthesized phrase",
			slog.String("provider", cfg.Providers.TTS),
			slog.String("file", out),
			slog.Int("bytes", len(audio)),
			slog.Duration("duration", time.Since(start)))
		return nil
	},
}
