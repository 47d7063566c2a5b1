// Package main provides the komatachid daemon entry point: a persistent
// conversational entity that speaks komatachi's wire protocol over
// stdin/stdout.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/komatachi/komatachi/config"
	"github.com/komatachi/komatachi/internal/logging"
	"github.com/komatachi/komatachi/llm"
	"github.com/komatachi/komatachi/message"
	"github.com/komatachi/komatachi/storage"
	"github.com/komatachi/komatachi/tools"
	"github.com/komatachi/komatachi/turn"
	"github.com/komatachi/komatachi/wire"
)

var (
	// Persistent flags mirror the KOMATACHI_*/ANTHROPIC_API_KEY
	// environment variables: an explicitly set flag overrides the
	// environment, which in turn overrides config's built-in defaults.
	apiKeyFlag        string
	dataDirFlag       string
	homeDirFlag       string
	modelFlag         string
	maxTokensFlag     int
	contextWindowFlag int
)

func main() {
	if err := godotenv.Load(); err != nil {
		if !os.IsNotExist(err) {
			fmt.Fprintf(os.Stderr, "Warning: failed to load .env file: %v\n", err)
		}
	}

	rootCmd := &cobra.Command{
		Use:   "komatachid",
		Short: "Run the komatachi persistent conversational entity",
		Long: `komatachid speaks newline-delimited JSON on stdin/stdout: it reads
{"type":"input","text":"..."} lines and replies with {"type":"output",...} or
{"type":"error",...}, persisting every message to an append-only transcript
as it goes.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd)
		},
	}

	rootCmd.PersistentFlags().StringVar(&apiKeyFlag, "api-key", "", "Anthropic API key (overrides ANTHROPIC_API_KEY)")
	rootCmd.PersistentFlags().StringVar(&dataDirFlag, "data-dir", "", "Transcript storage directory (overrides KOMATACHI_DATA_DIR)")
	rootCmd.PersistentFlags().StringVar(&homeDirFlag, "home-dir", "", "Identity files directory (overrides KOMATACHI_HOME_DIR)")
	rootCmd.PersistentFlags().StringVar(&modelFlag, "model", "", "Model ID (overrides KOMATACHI_MODEL)")
	rootCmd.PersistentFlags().IntVar(&maxTokensFlag, "max-tokens", 0, "Max tokens per model call (overrides KOMATACHI_MAX_TOKENS)")
	rootCmd.PersistentFlags().IntVar(&contextWindowFlag, "context-window", 0, "Model context window (overrides KOMATACHI_CONTEXT_WINDOW)")

	rootCmd.AddCommand(toolsCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// toolsCmd lists the default tool registry without requiring a live
// conversation or model credentials.
func toolsCmd() *cobra.Command {
	var verboseTools bool

	cmd := &cobra.Command{
		Use:   "tools",
		Short: "List the default tool registry",
		RunE: func(cmd *cobra.Command, args []string) error {
			registry, err := tools.WithDefaults(message.NewFileOperations())
			if err != nil {
				return fmt.Errorf("komatachid: failed to build tool registry: %w", err)
			}
			if verboseTools {
				fmt.Println(registry.Description())
				return nil
			}
			for _, name := range registry.Names() {
				fmt.Println(name)
			}
			return nil
		},
	}

	cmd.Flags().BoolVarP(&verboseTools, "verbose", "V", false, "Show tool parameters")

	return cmd
}

func applyFlagOverrides(cmd *cobra.Command, settings config.Settings) config.Settings {
	if cmd.Flags().Changed("api-key") {
		settings.AnthropicAPIKey = apiKeyFlag
	}
	if cmd.Flags().Changed("data-dir") {
		settings.DataDir = dataDirFlag
	}
	if cmd.Flags().Changed("home-dir") {
		settings.HomeDir = homeDirFlag
	}
	if cmd.Flags().Changed("model") {
		settings.Model = modelFlag
	}
	if cmd.Flags().Changed("max-tokens") {
		settings.MaxTokens = maxTokensFlag
	}
	if cmd.Flags().Changed("context-window") {
		settings.ContextWindow = contextWindowFlag
	}
	return settings
}

func run(cmd *cobra.Command) error {
	settings, err := config.New()
	if err != nil {
		return fmt.Errorf("komatachid: %w", err)
	}
	settings = applyFlagOverrides(cmd, settings)

	log, err := logging.New()
	if err != nil {
		return fmt.Errorf("komatachid: failed to initialize logging: %w", err)
	}
	defer log.Sync()
	log = log.Named("komatachid")

	fs, err := storage.New(settings.DataDir)
	if err != nil {
		return fmt.Errorf("komatachid: failed to open data directory: %w", err)
	}
	conv := storage.Open(fs, "", log)

	if _, _, err := conv.Load(); err != nil {
		if !errors.Is(err, storage.ErrKind(storage.KindNotFound)) {
			return fmt.Errorf("komatachid: failed to load conversation: %w", err)
		}
		model := settings.Model
		if err := conv.Initialize(time.Now().UnixMilli(), &model); err != nil {
			return fmt.Errorf("komatachid: failed to initialize conversation: %w", err)
		}
		if _, _, err := conv.Load(); err != nil {
			return fmt.Errorf("komatachid: failed to load freshly initialized conversation: %w", err)
		}
	}

	fileOps := message.NewFileOperations()
	registry, err := tools.WithDefaults(fileOps)
	if err != nil {
		return fmt.Errorf("komatachid: failed to build tool registry: %w", err)
	}

	provider := llm.NewAnthropicProvider(settings.AnthropicAPIKey, settings.Model)

	loop := &turn.Loop{
		Conv:          conv,
		Provider:      provider,
		Model:         settings.Model,
		MaxTokens:     settings.MaxTokens,
		ContextWindow: settings.ContextWindow,
		HomeDir:       settings.HomeDir,
		Registry:      registry,
		FileOps:       fileOps,
		Log:           log,
	}

	return serve(context.Background(), loop, os.Stdin, os.Stdout, log)
}

// serve drives the wire protocol: emit ready once, then process input
// lines to completion, tolerating malformed lines and per-turn failures
// without exiting. It returns nil once the reader stops (EOF, or an
// input read error the reader does not report) and an error on a
// transport write failure (fatal).
func serve(ctx context.Context, loop *turn.Loop, stdin *os.File, stdout *os.File, log *logging.Logger) error {
	reader := wire.NewReader(stdin)
	writer := wire.NewWriter(stdout)

	if err := writer.Write(wire.Ready()); err != nil {
		return fmt.Errorf("komatachid: failed to write ready message: %w", err)
	}

	for {
		res, ok := reader.Next()
		if !ok {
			return nil
		}
		if res.Err != nil {
			log.Warn("malformed input line", "error", res.Err)
			if err := writer.Write(wire.ErrorMessage(res.Err.Error())); err != nil {
				return fmt.Errorf("komatachid: failed to write error message: %w", err)
			}
			continue
		}
		if res.Message.Type != wire.InTypeInput {
			continue
		}

		out, err := loop.ProcessTurn(ctx, res.Message.Text)
		if err != nil {
			log.Error("turn failed", "error", err)
			if err := writer.Write(wire.ErrorMessage(err.Error())); err != nil {
				return fmt.Errorf("komatachid: failed to write error message: %w", err)
			}
			continue
		}

		if err := writer.Write(wire.Output(out)); err != nil {
			return fmt.Errorf("komatachid: failed to write output message: %w", err)
		}
	}
}
