// Package cli provides the command-line interface of the broker assistant.
package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"broker-assistant/internal/advisor"
	"broker-assistant/internal/config"
	"broker-assistant/internal/logging"
)

// Version information
const (
	Version   = "0.1.0"
	BuildDate = "2026-10-01"
)

// skipConfig marks commands that run without loading config.toml.
const skipConfig = "skip-config"

// App holds the application dependencies. The engine is built on first use
// so that config commands never touch storage or market data.
type App struct {
	Config *config.Config
	Logger zerolog.Logger

	engine *advisor.App
}

// Service returns the wired advisor, building it on first call.
func (a *App) Service(ctx context.Context) (*advisor.Service, error) {
	engine, err := a.Engine(ctx)
	if err != nil {
		return nil, err
	}
	return engine.Service, nil
}

// Engine returns the advisor with the resources it owns.
func (a *App) Engine(ctx context.Context) (*advisor.App, error) {
	if a.engine != nil {
		return a.engine, nil
	}
	if a.Config == nil {
		return nil, fmt.Errorf("configuration not loaded")
	}
	engine, err := advisor.Build(ctx, a.Config.Engine(), a.Logger)
	if err != nil {
		return nil, err
	}
	a.engine = engine
	return engine, nil
}

// Close releases the engine if one was built.
func (a *App) Close() error {
	if a.engine == nil {
		return nil
	}
	err := a.engine.Close()
	a.engine = nil
	return err
}

// NewRootCmd creates the root command for the CLI.
func NewRootCmd(app *App) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "assistant",
		Short: "Broker Assistant - explainable trading signals",
		Long: `Broker Assistant turns price history, valuation metrics and news sentiment
into BUY, SELL or HOLD predictions with the weighted factors behind them.

Every prediction is kept in an append-only ledger and can later be marked
executed and verified against the realized price, so accuracy is measurable.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Annotations[skipConfig] == "true" {
				return nil
			}
			return app.load(cmd)
		},
	}

	rootCmd.PersistentFlags().String("config-dir", "", "config directory (default: ~/.config/broker-assistant)")
	rootCmd.PersistentFlags().Bool("json", false, "output in JSON format")
	rootCmd.PersistentFlags().String("log-level", "", "override logging.level (debug, info, warn, error)")

	rootCmd.AddCommand(newVersionCmd())
	rootCmd.AddCommand(newConfigCmd(app))
	addAnalysisCommands(rootCmd, app)
	addLedgerCommands(rootCmd, app)
	rootCmd.AddCommand(newServeCmd(app))

	return rootCmd
}

// load reads the configuration and builds the logger.
func (a *App) load(cmd *cobra.Command) error {
	dir, _ := cmd.Flags().GetString("config-dir")
	cfg, err := config.Load(dir)
	if err != nil {
		return err
	}
	if level, _ := cmd.Flags().GetString("log-level"); level != "" {
		cfg.Logging.Level = level
	}
	a.Config = cfg
	a.Logger = logging.NewLoggerWithConfig(cfg.Logging)
	return nil
}

// Execute runs the CLI and returns the process exit code.
func Execute(ctx context.Context) int {
	app := &App{Logger: zerolog.Nop()}
	rootCmd := NewRootCmd(app)
	err := rootCmd.ExecuteContext(ctx)
	if cerr := app.Close(); cerr != nil && err == nil {
		err = cerr
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, color.RedString("Error: %v", err))
		return 1
	}
	return 0
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:         "version",
		Short:       "Print version information",
		Annotations: map[string]string{skipConfig: "true"},
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			if output.IsJSON() {
				return output.JSON(map[string]string{
					"version":    Version,
					"build_date": BuildDate,
				})
			}
			output.Printf("Broker Assistant v%s\n", Version)
			output.Dim("Build date: %s", BuildDate)
			return nil
		},
	}
}

func newConfigCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Configuration management",
		Long:  "View and validate the configuration. A commented config.toml is written on first use.",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Show current configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			if output.IsJSON() {
				return output.JSON(app.Config.Redacted())
			}
			showConfig(output, app.Config)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "path",
		Short: "Show configuration file path",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			if output.IsJSON() {
				return output.JSON(map[string]string{"path": app.Config.Path()})
			}
			output.Println(app.Config.Path())
			return nil
		},
	})

	// Load already validates, so reaching RunE means the file is valid.
	cmd.AddCommand(&cobra.Command{
		Use:   "validate",
		Short: "Validate the configuration file",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			if output.IsJSON() {
				return output.JSON(map[string]bool{"valid": true})
			}
			output.Success("✓ Configuration is valid")
			return nil
		},
	})

	return cmd
}

func showConfig(output *Output, cfg *config.Config) {
	output.Bold("Signals")
	output.Printf("  RSI:             period %d, oversold %.0f, overbought %.0f\n",
		cfg.Indicators.RSIPeriod, cfg.Indicators.RSIOversold, cfg.Indicators.RSIOverbought)
	output.Printf("  MACD:            %d/%d/%d\n", cfg.Indicators.MACDFast, cfg.Indicators.MACDSlow, cfg.Indicators.MACDSignal)
	output.Printf("  Pattern cutoff:  %.2f within %d candles\n", cfg.Patterns.ConfidenceThreshold, cfg.Patterns.RecentWindow)
	output.Printf("  Decision margin: %.2f\n", cfg.Aggregator.Margin)
	output.Printf("  Horizon:         %s\n", cfg.Aggregator.Horizon)
	output.Println()

	output.Bold("Ledger")
	output.Printf("  Store:           %s\n", cfg.Store.Driver)
	output.Printf("  Noise threshold: %s\n", FormatPercent(cfg.Ledger.NoiseThreshold*100))
	output.Printf("  Events:          %s\n", cfg.Events.Backend)
	output.Println()

	output.Bold("Market Data")
	output.Printf("  Source:          %s\n", cfg.Providers.Source)
	output.Printf("  Cache:           %s\n", cfg.Cache.Backend)
	output.Printf("  Lookback:        %d candles\n", cfg.Providers.Lookback)
	output.Printf("  Max concurrent:  %d\n", cfg.Scan.MaxConcurrent)
	output.Println()

	output.Bold("Server")
	output.Printf("  Listen:          %s:%d\n", cfg.Server.Host, cfg.Server.Port)
	output.Printf("  Scheduler:       %v\n", cfg.Scheduler.Enabled)
}
