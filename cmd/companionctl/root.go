package main

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/ashureev/persona-companion/internal/config"
	"github.com/ashureev/persona-companion/internal/domain"
	"github.com/ashureev/persona-companion/internal/llm"
	"github.com/ashureev/persona-companion/internal/logging"
)

// app holds what every subcommand needs once configuration is loaded.
type app struct {
	cfg       *config.Config
	logger    *slog.Logger
	completer llm.Completer
}

func newRootCmd() *cobra.Command {
	a := &app{}
	var verbose bool

	root := &cobra.Command{
		Use:   "companionctl",
		Short: "Run memory extraction and personality replies from the terminal",
		Long: `companionctl drives the companion pipeline without the server.

Conversations are read as a JSON array of {"role","content"} objects.
Without OPENAI_API_KEY / ANTHROPIC_API_KEY (or with USE_MOCK_RESPONSES=true)
every command uses the local keyword and template heuristics.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			_ = godotenv.Load()

			cfg, err := config.Load()
			if err != nil {
				return err
			}
			level := cfg.Log.Level
			if verbose {
				level = "debug"
			}
			a.cfg = cfg
			a.logger = logging.New(cmd.ErrOrStderr(), "text", level)

			a.completer, err = llm.New(cfg.LLM, a.logger)
			return err
		},
	}
	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")

	root.AddCommand(
		newExtractCmd(a),
		newGenerateCmd(a),
		newTransformCmd(a),
		newPersonalitiesCmd(),
		newSampleCmd(a),
	)
	return root
}

// readConversation decodes messages from path, or stdin when path is "-".
func readConversation(cmd *cobra.Command, path string) ([]domain.Message, error) {
	var r io.Reader
	if path == "-" {
		r = cmd.InOrStdin()
	} else {
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("open conversation: %w", err)
		}
		defer f.Close()
		r = f
	}

	var msgs []domain.Message
	if err := json.NewDecoder(r).Decode(&msgs); err != nil {
		return nil, fmt.Errorf("decode conversation: %w", err)
	}
	for i, m := range msgs {
		if !m.Role.Valid() {
			return nil, fmt.Errorf("message %d: invalid role %q", i, m.Role)
		}
	}
	return msgs, nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
