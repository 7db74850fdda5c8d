// Command llmflow runs the LLM workflows from the command line or serves
// them over HTTP.
package main

import (
	"os"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/dshills/llm-workflows/internal/config"
	"github.com/dshills/llm-workflows/internal/logging"
)

// settings is loaded before any subcommand runs.
var settings *config.Config

var rootCmd = &cobra.Command{
	Use:           "llmflow",
	Short:         "Run LLM routing, SQL, dataframe and retrieval workflows",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		path, _ := cmd.Flags().GetString("config")
		cfg, err := config.Load(viper.New(), path, cmd.Flags())
		if err != nil {
			return err
		}
		if verbose, _ := cmd.Flags().GetBool("verbose"); verbose && cfg.Log.Level != "trace" {
			cfg.Log.Level = "debug"
		}
		if err := logging.Init(logging.Config{
			Level:      cfg.Log.Level,
			Format:     cfg.Log.Format,
			File:       cfg.Log.File,
			WithCaller: cfg.Log.WithCaller,
		}); err != nil {
			return err
		}
		settings = cfg
		return nil
	},
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.String("config", "", "Path to config file (default ./llmflow.yaml, ~/.llmflow/llmflow.yaml)")
	flags.String("log-level", "info", "Log level (trace, debug, info, warn, error, fatal)")
	flags.String("log-format", "text", "Log format (json, text)")
	flags.String("log-file", "", "Also write logs to this rotating file")
	flags.Bool("with-caller", false, "Log caller")
	flags.Bool("verbose", false, "Shorthand for --log-level debug")
	flags.String("provider", "openai", "Chat model provider (openai, anthropic, google)")
	flags.String("model", "", "Chat model name (default: the provider's default)")
	flags.String("store", "memory", "Run step store (memory, sqlite, mysql)")
	flags.String("store-dsn", "", "Store DSN: sqlite file path or mysql DSN")
	flags.Bool("trace", false, "Export engine events as OpenTelemetry spans")

	rootCmd.AddCommand(
		newRouteCmd(),
		newSQLCmd(),
		newDataframeCmd(),
		newIngestCmd(),
		newSearchCmd(),
		newServeCmd(),
	)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		log.Error().Err(err).Msg("llmflow failed")
		os.Exit(1)
	}
}
