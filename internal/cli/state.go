package cli

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/pfrederiksen/hockeygamebot/internal/storage"
)

func newStateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "state GAME_ID",
		Short: "Show the recorded state of a tracked game",
		Args:  cobra.ExactArgs(1),
		RunE:  runState,
	}

	cmd.Flags().StringVar(&flagFormat, "format", "text", "Output format: text or json")
	cmd.Flags().StringVar(&flagSort, "sort", "time", "Sort emitted occurrences by: time, kind or team")
	return cmd
}

func runState(cmd *cobra.Command, args []string) error {
	format, err := ParseFormat(flagFormat)
	if err != nil {
		return err
	}
	order, err := ParseSortOrder(flagSort)
	if err != nil {
		return err
	}

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	store, closeStore, err := cfg.OpenStore()
	if err != nil {
		return err
	}
	defer closeStore()

	gs, err := store.Load(cmd.Context(), args[0])
	if errors.Is(err, storage.ErrNotFound) {
		return fmt.Errorf("no active state for game %s", args[0])
	}
	if err != nil {
		return fmt.Errorf("loading state: %w", err)
	}

	if err := WriteOutput(os.Stdout, NewOutputResult(gs, order), format, flagVerbose); err != nil {
		return fmt.Errorf("writing output: %w", err)
	}
	return nil
}
