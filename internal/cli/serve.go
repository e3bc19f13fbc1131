package cli

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"broker-assistant/internal/api"
	"broker-assistant/internal/scheduler"
)

func newServeCmd(app *App) *cobra.Command {
	var (
		host     string
		port     int
		withCron bool
		noCron   bool
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		Long: `Serve exposes predictions, verification and accuracy reports over HTTP
under /api/analysis, with /health and Prometheus /metrics alongside. With
the scheduler enabled, expired predictions are verified on verify_spec and
the watchlist is scanned on scan_spec.`,
		Example: "  assistant serve --port 9090 --scheduler",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			cfg := app.Config
			if cmd.Flags().Changed("host") {
				cfg.Server.Host = host
			}
			if cmd.Flags().Changed("port") {
				cfg.Server.Port = port
			}
			runCron := (cfg.Scheduler.Enabled || withCron) && !noCron

			engine, err := app.Engine(ctx)
			if err != nil {
				return err
			}

			if runCron {
				sched, err := scheduler.New(engine.Service, cfg.Scheduler, app.Logger)
				if err != nil {
					return err
				}
				sched.Start()
				defer sched.Stop()
			}

			server := api.NewServer(engine.Service, cfg.Server, engine.Metrics, engine.Breakers, app.Logger)
			return server.Run(ctx)
		},
	}
	cmd.Flags().StringVar(&host, "host", "", "listen address (overrides server.host)")
	cmd.Flags().IntVar(&port, "port", 0, "listen port (overrides server.port)")
	cmd.Flags().BoolVar(&withCron, "scheduler", false, "run scheduled jobs even if scheduler.enabled is false")
	cmd.Flags().BoolVar(&noCron, "no-scheduler", false, "do not run scheduled jobs")
	return cmd
}
