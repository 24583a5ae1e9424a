package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/chriscow/simon-go/pkg/config"
	"github.com/chriscow/simon-go/pkg/plugin"
	_ "github.com/chriscow/simon-go/pkg/plugin/console"    // Register console recognizer
	_ "github.com/chriscow/simon-go/pkg/plugin/elevenlabs" // Register ElevenLabs TTS
	_ "github.com/chriscow/simon-go/pkg/plugin/fake"       // Register fake plugins
	_ "github.com/chriscow/simon-go/pkg/plugin/openai"     // Register OpenAI plugins
	"github.com/chriscow/simon-go/pkg/version"
)

// v collects defaults, the config file, the environment and bound flags.
var v = config.New()

var rootCmd = &cobra.Command{
	Use:   "simon",
	Short: "Simón - a Spanish-speaking voice assistant",
	Long: `simon runs a turn-taking voice assistant: it listens, asks a chat model
for a short reply, speaks it and drives an animated avatar over a websocket.`,
	SilenceUsage: true,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println(version.GetVersionInfo())
	},
}

var providersCmd = &cobra.Command{
	Use:   "providers [kind]",
	Short: "List registered providers",
	Long: `List all registered providers or those of a specific kind.
Available kinds: llm, tts, stt`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		kind := ""
		if len(args) > 0 {
			kind = args[0]
		}

		plugins := plugin.List(kind)
		if len(plugins) == 0 {
			if kind == "" {
				fmt.Println("No providers registered")
			} else {
				fmt.Printf("No providers registered for kind: %s\n", kind)
			}
			return nil
		}

		fmt.Printf("%-6s %-12s %-8s %s\n", "KIND", "NAME", "VERSION", "DESCRIPTION")
		fmt.Println(strings.Repeat("-", 60))
		for _, p := range plugins {
			ver := p.Version
			if ver == "" {
				ver = "N/A"
			}
			fmt.Printf("%-6s %-12s %-8s %s\n", p.Kind, p.Name, ver, p.Description)
		}
		return nil
	},
}

// loadConfig binds the running command's flags, reads the configuration
// selected by the persistent flags and installs the logger it describes.
func loadConfig(cmd *cobra.Command) (*config.Config, *slog.Logger, error) {
	for key, flag := range commandFlags[cmd] {
		if err := v.BindPFlag(key, cmd.Flags().Lookup(flag)); err != nil {
			return nil, nil, fmt.Errorf("bind --%s: %w", flag, err)
		}
	}

	file, _ := cmd.Flags().GetString("config")
	envFile, _ := cmd.Flags().GetString("env-file")

	cfg, err := config.Load(v, config.Options{File: file, EnvFile: envFile})
	if err != nil {
		return nil, nil, err
	}
	return cfg, setupLogger(cfg.Log), nil
}

func setupLogger(lc config.LogConfig) *slog.Logger {
	opts := &slog.HandlerOptions{}

	switch lc.Level {
	case "debug":
		opts.Level = slog.LevelDebug
	case "warn":
		opts.Level = slog.LevelWarn
	case "error":
		opts.Level = slog.LevelError
	default:
		opts.Level = slog.LevelInfo
	}

	// Logs go to stderr; stdout carries transcripts and command output.
	var handler slog.Handler
	if lc.Format == "console" {
		handler = slog.NewTextHandler(os.Stderr, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	}

	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}

// commandFlags holds each command's flag-to-key bindings. Viper keeps one
// flag per key, and run and say share keys, so loadConfig binds only the
// flags of the command being executed.
var commandFlags = map[*cobra.Command]map[string]string{}

// bindFlag maps a flag onto a config key so the flag wins when set.
func bindFlag(cmd *cobra.Command, key, flag string) {
	if cmd.Flags().Lookup(flag) == nil {
		panic(fmt.Sprintf("bind %s: no such flag on %s", flag, cmd.Name()))
	}
	if commandFlags[cmd] == nil {
		commandFlags[cmd] = map[string]string{}
	}
	commandFlags[cmd][key] = flag
}

func init() {
	rootCmd.PersistentFlags().String("config", "", "YAML config file")
	rootCmd.PersistentFlags().String("env-file", ".env", "dotenv file loaded before the environment is read")
	rootCmd.PersistentFlags().String("log-level", "", "debug, info, warn or error")
	rootCmd.PersistentFlags().String("log-format", "", "json or console")
	bindPersistent("log.level", "log-level")
	bindPersistent("log.format", "log-format")

	runCmd.Flags().String("addr", "", "hub listen address")
	runCmd.Flags().String("llm", "", "chat provider")
	runCmd.Flags().String("tts", "", "speech provider")
	runCmd.Flags().String("stt", "", "recognizer")
	runCmd.Flags().String("mic", "", "WAV file played as the microphone")
	runCmd.Flags().Bool("require-gesture", false, "hold replies until a client reports a user gesture")
	bindFlag(runCmd, "hub.addr", "addr")
	bindFlag(runCmd, "providers.llm", "llm")
	bindFlag(runCmd, "providers.tts", "tts")
	bindFlag(runCmd, "providers.stt", "stt")

	sayCmd.Flags().StringP("out", "o", "reply.wav", "output file")
	sayCmd.Flags().Bool("raw", false, "write the provider's audio bytes without a WAV header")
	sayCmd.Flags().String("tts", "", "speech provider")
	sayCmd.Flags().String("voice", "", "voice ID")
	bindFlag(sayCmd, "providers.tts", "tts")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(providersCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(sayCmd)
}

func bindPersistent(key, flag string) {
	if err := v.BindPFlag(key, rootCmd.PersistentFlags().Lookup(flag)); err != nil {
		panic(fmt.Sprintf("bind %s: %v", flag, err))
	}
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
