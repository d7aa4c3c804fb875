package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/pfrederiksen/hockeygamebot/internal/config"
	"github.com/pfrederiksen/hockeygamebot/internal/dispatch"
	"github.com/pfrederiksen/hockeygamebot/internal/logger"
	"github.com/pfrederiksen/hockeygamebot/internal/notifier"
	"github.com/pfrederiksen/hockeygamebot/internal/render"
	"github.com/pfrederiksen/hockeygamebot/internal/server"
	"github.com/pfrederiksen/hockeygamebot/internal/telemetry"
	"github.com/pfrederiksen/hockeygamebot/internal/tracker"
)

func newTrackCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "track GAME_ID...",
		Short: "Track games until they are final",
		Long: `Track one or more games, each in its own poll loop, until every game is
final and its correction window has passed. Interrupting the process lets the
current poll cycle of every game finish before exiting.`,
		Args: cobra.MinimumNArgs(1),
		RunE: runTrack,
	}

	cmd.Flags().BoolVar(&flagDryRun, "dry-run", false, "Print messages instead of posting them (env: HGB_DRY_RUN)")
	cmd.Flags().StringVar(&flagLocalData, "local-data", "", "Read recorded feed documents from this directory (env: HGB_LOCAL_DATA)")
	cmd.Flags().StringVar(&flagHTTPAddr, "http-addr", "", "Serve the status API on this address, e.g. :8080 (env: HGB_HTTP_ADDR)")
	return cmd
}

func runTrack(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	log, err := cfg.Logger(os.Stderr)
	if err != nil {
		return err
	}
	logger.SetDefault(log)

	if flagVerbose {
		fmt.Fprintf(os.Stderr, "Tracking games: %v\n", args)
		fmt.Fprintf(os.Stderr, "Configuration: %s\n", cfg.Summary())
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdown, err := telemetry.Setup(ctx, cfg.OTelEndpoint)
	if err != nil {
		return fmt.Errorf("initializing telemetry: %w", err)
	}
	defer shutdown(context.Background())

	store, closeStore, err := cfg.OpenStore()
	if err != nil {
		return err
	}
	defer closeStore()

	fc, err := cfg.Feed()
	if err != nil {
		return fmt.Errorf("initializing feed: %w", err)
	}

	pubs, closePubs, err := cfg.Publishers(os.Stdout)
	if err != nil {
		return err
	}
	defer closePubs()
	routes := config.Routes(pubs)

	// The status server runs until every tracker is done.
	srvCtx, stopServer := context.WithCancel(ctx)
	defer stopServer()
	var background errgroup.Group

	board := tracker.NewBoard()
	if cfg.HTTPAddr != "" {
		hub := server.NewHub(log)
		background.Go(func() error {
			hub.Run(srvCtx)
			return nil
		})
		routes = append(routes, dispatch.Route{Publisher: hub})

		srv := server.New(cfg.HTTPAddr, board, hub, log)
		background.Go(func() error {
			return srv.Run(srvCtx)
		})
	}

	if len(routes) == 0 {
		log.Warn("No publishers configured - printing messages instead", nil)
		routes = append(routes, dispatch.Route{Publisher: notifier.NewDryRunNotifier(os.Stdout)})
	}

	dopts, err := cfg.DispatchOptions()
	if err != nil {
		return err
	}
	d := dispatch.New(render.NewText(cfg.Hashtags...), routes, dopts, log)

	sup := tracker.NewSupervisor(tracker.Deps{
		Feed:       fc,
		Store:      store,
		Dispatcher: d,
		Board:      board,
		Log:        log,
	}, cfg.TrackerOptions())
	sup.MaxGames = cfg.MaxGames

	trackErr := sup.Run(ctx, args)

	stopServer()
	if err := background.Wait(); err != nil {
		log.Error("Status server failed", nil, err)
	}

	if trackErr != nil {
		return fmt.Errorf("tracking failed: %w", trackErr)
	}
	if flagVerbose {
		fmt.Fprintf(os.Stderr, "All games finished\n")
	}
	return nil
}
