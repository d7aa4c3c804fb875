package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/pfrederiksen/hockeygamebot/internal/config"
)

const (
	ExitSuccess = 0
	ExitError   = 1
)

var (
	flagDataDir   string
	flagStore     string
	flagFormat    string
	flagSort      string
	flagDryRun    bool
	flagLocalData string
	flagHTTPAddr  string
	flagVerbose   bool
	flagGameID    string
)

// Version is reported by --version.
var Version = "dev"

// NewRootCmd creates the root command
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "hockeygamebot",
		Short: "Follow live hockey games and post what happens",
		Long: `A bot that follows live hockey games through the NHL play-by-play feed.
Announces goals, penalties, period changes and scoring corrections exactly once,
and survives restarts without repeating itself.

Configuration is read from HGB_* environment variables; flags override them.`,
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVar(&flagDataDir, "data-dir", "", "Data directory for game state (env: HGB_DATA_DIR)")
	cmd.PersistentFlags().StringVar(&flagStore, "store", "", "State store: file, sqlite or postgres (env: HGB_STORE)")
	cmd.PersistentFlags().BoolVar(&flagVerbose, "verbose", false, "Enable verbose logging")

	cmd.AddCommand(newTrackCmd(), newStateCmd(), newReplayCmd())
	return cmd
}

// loadConfig reads the environment and applies flags the user set.
func loadConfig(cmd *cobra.Command) (config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return config.Config{}, err
	}

	flags := cmd.Flags()
	if flags.Changed("data-dir") {
		cfg.DataDir = flagDataDir
	}
	if flags.Changed("store") {
		cfg.Store = flagStore
	}
	if flags.Lookup("dry-run") != nil && flags.Changed("dry-run") {
		cfg.DryRun = flagDryRun
	}
	if flags.Lookup("local-data") != nil && flags.Changed("local-data") {
		cfg.LocalData = flagLocalData
	}
	if flags.Lookup("http-addr") != nil && flags.Changed("http-addr") {
		cfg.HTTPAddr = flagHTTPAddr
	}
	if flagVerbose {
		cfg.LogLevel = "debug"
	}

	if err := cfg.Validate(); err != nil {
		return config.Config{}, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Execute runs the CLI
func Execute() {
	if err := NewRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(ExitError)
	}
	os.Exit(ExitSuccess)
}
