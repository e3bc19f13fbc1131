package cli

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"broker-assistant/internal/ledger"
	"broker-assistant/internal/models"
)

func addLedgerCommands(rootCmd *cobra.Command, app *App) {
	rootCmd.AddCommand(newShowCmd(app))
	rootCmd.AddCommand(newExecuteCmd(app))
	rootCmd.AddCommand(newVerifyCmd(app))
	rootCmd.AddCommand(newAccuracyCmd(app))
	rootCmd.AddCommand(newHistoryCmd(app))
}

// filterFlags are shared by accuracy and history.
type filterFlags struct {
	symbol string
	signal string
	from   string
	to     string
	limit  int
}

func (f *filterFlags) register(cmd *cobra.Command, withLimit bool) {
	cmd.Flags().StringVarP(&f.symbol, "symbol", "s", "", "only this symbol")
	cmd.Flags().StringVar(&f.signal, "signal", "", "only BUY, SELL or HOLD")
	cmd.Flags().StringVar(&f.from, "from", "", "created at or after (YYYY-MM-DD or RFC3339)")
	cmd.Flags().StringVar(&f.to, "to", "", "created at or before (YYYY-MM-DD or RFC3339)")
	if withLimit {
		cmd.Flags().IntVarP(&f.limit, "limit", "n", 0, "maximum predictions (default from ledger.history_limit)")
	}
}

func (f *filterFlags) filter() (ledger.Filter, error) {
	out := ledger.Filter{Symbol: f.symbol, Limit: f.limit}
	if f.signal != "" {
		out.SignalType = models.SignalType(strings.ToUpper(f.signal))
		if !out.SignalType.Valid() {
			return out, fmt.Errorf("invalid --signal %q: use BUY, SELL or HOLD", f.signal)
		}
	}
	var err error
	if out.From, err = parseDate(f.from); err != nil {
		return out, fmt.Errorf("invalid --from: %w", err)
	}
	if out.To, err = parseDate(f.to); err != nil {
		return out, fmt.Errorf("invalid --to: %w", err)
	}
	return out, nil
}

// parseDate accepts RFC3339 or a plain date. Empty input is the zero time.
func parseDate(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02", s)
}

func newShowCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "show <prediction-id>",
		Short: "Show one prediction",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			svc, err := app.Service(cmd.Context())
			if err != nil {
				return err
			}
			p, err := svc.Get(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if output.IsJSON() {
				return output.JSON(p)
			}
			printPrediction(output, p)
			return nil
		},
	}
}

func newExecuteCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "execute <prediction-id>",
		Short: "Mark a prediction as acted on",
		Long:  "Execute records that a prediction was traded. A prediction can be executed once.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			svc, err := app.Service(cmd.Context())
			if err != nil {
				return err
			}
			p, err := svc.RecordExecution(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if output.IsJSON() {
				return output.JSON(p)
			}
			output.Success("✓ %s %s marked executed at %s", p.Symbol, p.SignalType, FormatDateTime(*p.ExecutedAt))
			return nil
		},
	}
}

func newVerifyCmd(app *App) *cobra.Command {
	var (
		price   float64
		asOf    string
		expired bool
	)
	cmd := &cobra.Command{
		Use:   "verify [prediction-id]",
		Short: "Record the outcome of a prediction",
		Long: `Verify compares the realized price with the price at prediction time and
marks the prediction correct or incorrect. With --expired every pending
prediction past its horizon is verified against the latest close.`,
		Example: "  assistant verify 0b6e... --price 104.2\n  assistant verify --expired",
		Args:    cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			if expired == (len(args) == 1) {
				return fmt.Errorf("give either a prediction ID or --expired")
			}
			svc, err := app.Service(cmd.Context())
			if err != nil {
				return err
			}

			if expired {
				results, err := svc.VerifyExpired(cmd.Context())
				if err != nil {
					return err
				}
				if output.IsJSON() {
					return output.JSON(results)
				}
				printVerifyResults(output, results)
				return nil
			}

			if !cmd.Flags().Changed("price") {
				return fmt.Errorf("--price is required")
			}
			at, err := parseDate(asOf)
			if err != nil {
				return fmt.Errorf("invalid --as-of: %w", err)
			}
			p, err := svc.VerifyPrediction(cmd.Context(), args[0], price, at)
			if err != nil {
				return err
			}
			if output.IsJSON() {
				return output.JSON(p)
			}
			output.Printf("%s %s at %s, realized %s: %s\n", p.Symbol, output.Signal(p.SignalType),
				FormatPrice(p.PriceAtPrediction), FormatPrice(price), output.Outcome(p.Outcome))
			return nil
		},
	}
	cmd.Flags().Float64VarP(&price, "price", "p", 0, "realized price")
	cmd.Flags().StringVar(&asOf, "as-of", "", "verification time (default now)")
	cmd.Flags().BoolVar(&expired, "expired", false, "verify every expired pending prediction")
	return cmd
}

func printVerifyResults(output *Output, results []ledger.VerifyResult) {
	if len(results) == 0 {
		output.Dim("No expired predictions pending")
		return
	}
	table := NewTable(output, "ID", "SYMBOL", "OUTCOME")
	failed := 0
	for _, r := range results {
		if r.Prediction == nil {
			failed++
			table.AddRow(r.ID, r.Symbol, output.Red("error: "+TruncateString(r.Error, 50)))
			continue
		}
		table.AddRow(r.ID, r.Symbol, output.Outcome(r.Prediction.Outcome))
	}
	table.Render()
	if failed > 0 {
		output.Warning("%d of %d could not be verified", failed, len(results))
	}
}

func newAccuracyCmd(app *App) *cobra.Command {
	var flags filterFlags
	cmd := &cobra.Command{
		Use:     "accuracy",
		Short:   "Report how often verified predictions were right",
		Example: "  assistant accuracy\n  assistant accuracy --symbol ACME --from 2026-01-01",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			f, err := flags.filter()
			if err != nil {
				return err
			}
			svc, err := app.Service(cmd.Context())
			if err != nil {
				return err
			}
			stats, err := svc.AccuracyReport(cmd.Context(), f)
			if err != nil {
				return err
			}
			if output.IsJSON() {
				return output.JSON(stats)
			}
			printAccuracy(output, stats)
			return nil
		},
	}
	flags.register(cmd, false)
	return cmd
}

func printAccuracy(output *Output, stats *models.AccuracyStats) {
	output.Bold("Accuracy %s", FormatConfidence(stats.AccuracyRate))
	output.Printf("  Verified: %d (%d correct, %d incorrect)\n", stats.Total, stats.Correct, stats.Incorrect)
	output.Printf("  Pending:  %d\n", stats.Pending)
	if len(stats.BySignal) == 0 {
		return
	}
	output.Println()
	table := NewTable(output, "SIGNAL", "VERIFIED", "CORRECT", "ACCURACY")
	for _, s := range []models.SignalType{models.SignalBuy, models.SignalSell, models.SignalHold} {
		sa, ok := stats.BySignal[s]
		if !ok {
			continue
		}
		table.AddRow(output.Signal(s), fmt.Sprintf("%d", sa.Total), fmt.Sprintf("%d", sa.Correct), FormatConfidence(sa.AccuracyRate))
	}
	table.Render()
}

func newHistoryCmd(app *App) *cobra.Command {
	var flags filterFlags
	cmd := &cobra.Command{
		Use:     "history",
		Short:   "List recorded predictions, newest first",
		Example: "  assistant history --symbol ACME -n 10",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			f, err := flags.filter()
			if err != nil {
				return err
			}
			svc, err := app.Service(cmd.Context())
			if err != nil {
				return err
			}
			preds, err := svc.History(cmd.Context(), f)
			if err != nil {
				return err
			}
			if output.IsJSON() {
				return output.JSON(preds)
			}
			if len(preds) == 0 {
				output.Dim("No predictions recorded")
				return nil
			}
			table := NewTable(output, "ID", "CREATED", "SYMBOL", "SIGNAL", "CONFIDENCE", "PRICE", "OUTCOME")
			for _, p := range preds {
				table.AddRow(p.ID, FormatDateTime(p.CreatedAt), p.Symbol, output.Signal(p.SignalType),
					FormatConfidence(p.ConfidenceScore), FormatPrice(p.PriceAtPrediction), output.Outcome(p.Outcome))
			}
			table.Render()
			return nil
		},
	}
	flags.register(cmd, true)
	return cmd
}
