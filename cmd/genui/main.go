package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"genui/internal/config"
	"genui/internal/logging"
)

var (
	// Global flags
	configPath  string
	verbose     bool
	timeout     time.Duration
	metricsAddr string
	provider    string
	scriptPath  string

	// Loaded in PersistentPreRunE
	cfg *config.Config
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "genui",
	Short: "genui - generated UI components behind a trust boundary",
	Long: `genui turns a natural-language request into a small interactive UI component.

Every generated component is extracted, gated, rewritten and rendered once inside
a sandbox before it is delivered. Components that fail at render time are answered
with a generic view of the data instead.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		loaded, err := config.Load(configPath)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		if provider != "" {
			loaded.Engine.Provider = provider
		}
		if metricsAddr != "" {
			loaded.Metrics.Addr = metricsAddr
		}
		if err := loaded.Validate(); err != nil {
			return err
		}
		cfg = loaded

		logCfg := cfg.Logging.Logging()
		if verbose {
			logCfg.Level = "debug"
			logCfg.Format = "console"
		} else if !cfg.Logging.DebugMode {
			// Quiet by default on a terminal; errors still surface.
			logCfg.Level = "error"
		}
		if err := logging.Initialize(logCfg); err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		logging.Sync()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", ".genui/config.yaml", "Config file")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose logging")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 10*time.Minute, "Overall timeout per command")
	rootCmd.PersistentFlags().StringVar(&metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address")
	rootCmd.PersistentFlags().StringVar(&provider, "engine", "", "Engine provider: cli, gemini or scripted")
	rootCmd.PersistentFlags().StringVar(&scriptPath, "script", "", "YAML replies for the scripted engine")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(batchCmd)
	rootCmd.AddCommand(validateCmd)
	rootCmd.AddCommand(renderCmd)
	rootCmd.AddCommand(catalogCmd)
	rootCmd.AddCommand(tracesCmd)
	rootCmd.AddCommand(watchCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, errorStyle.Render("error: ")+err.Error())
		os.Exit(1)
	}
}
