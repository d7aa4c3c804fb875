package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/pfrederiksen/hockeygamebot/internal/dedup"
	"github.com/pfrederiksen/hockeygamebot/internal/dispatch"
	"github.com/pfrederiksen/hockeygamebot/internal/feed"
	"github.com/pfrederiksen/hockeygamebot/internal/logger"
	"github.com/pfrederiksen/hockeygamebot/internal/notifier"
	"github.com/pfrederiksen/hockeygamebot/internal/render"
	"github.com/pfrederiksen/hockeygamebot/internal/state"
	"github.com/pfrederiksen/hockeygamebot/internal/storage"
	"github.com/pfrederiksen/hockeygamebot/internal/tracker"
)

func newReplayCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "replay DIR",
		Short: "Replay recorded feed documents offline",
		Long: `Run one tracker against the play-by-play documents in DIR, in file name
order, and print every message it would post. Nothing is published and no
state is kept.`,
		Args: cobra.ExactArgs(1),
		RunE: runReplay,
	}

	cmd.Flags().StringVar(&flagGameID, "game-id", "replay", "Game id used for the replayed game")
	cmd.Flags().StringVar(&flagFormat, "format", "text", "Output format: text or json")
	return cmd
}

// replayOptions polls as fast as possible, once per recorded document.
func replayOptions(documents int) tracker.Options {
	return tracker.Options{
		Policy: state.Policy{
			PreviewInterval:      time.Millisecond,
			PregameInterval:      time.Millisecond,
			LiveInterval:         time.Millisecond,
			IntermissionInterval: time.Millisecond,
			FinalInterval:        time.Millisecond,
		},
		InitialBackoff:          time.Millisecond,
		MaxBackoff:              time.Millisecond,
		RetractionConfirmations: dedup.DefaultRetractionConfirmations,
		MaxCycles:               documents,
	}
}

func runReplay(cmd *cobra.Command, args []string) error {
	format, err := ParseFormat(flagFormat)
	if err != nil {
		return err
	}
	return replay(cmd.Context(), args[0], flagGameID, format, os.Stdout, os.Stderr)
}

func replay(ctx context.Context, dir, gameID string, format OutputFormat, stdout, stderr io.Writer) error {
	level := logger.LevelWarn
	if flagVerbose {
		level = logger.LevelDebug
	}
	log := logger.New(level, stderr)

	rp, err := feed.NewReplay(dir)
	if err != nil {
		return err
	}

	store, err := storage.OpenSQL("sqlite", ":memory:")
	if err != nil {
		return err
	}
	defer store.Close()

	// Keep stdout clean for JSON output.
	messages := stdout
	if format == FormatJSON {
		messages = stderr
	}
	d := dispatch.New(render.NewText(), []dispatch.Route{
		{Publisher: notifier.NewDryRunNotifier(messages)},
	}, dispatch.DefaultOptions(), log)

	board := tracker.NewBoard()
	t := tracker.New(gameID, tracker.Deps{
		Feed:       rp,
		Store:      store,
		Dispatcher: d,
		Board:      board,
		Log:        log,
	}, replayOptions(rp.Len()))

	if err := t.Run(ctx); err != nil {
		return fmt.Errorf("replaying %s: %w", dir, err)
	}

	st, ok := board.Get(gameID)
	if !ok || st.Game == nil {
		return fmt.Errorf("replaying %s: no document was accepted", dir)
	}

	result := NewOutputResult(st.Game, SortByTime)
	result.Documents = rp.Len()
	result.Dispatched = st.Emitted
	return WriteOutput(stdout, result, format, flagVerbose)
}
