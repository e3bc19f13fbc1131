package cli

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"broker-assistant/internal/advisor"
	"broker-assistant/internal/models"
	"broker-assistant/internal/scanner"
)

func addAnalysisCommands(rootCmd *cobra.Command, app *App) {
	rootCmd.AddCommand(newEvaluateCmd(app))
	rootCmd.AddCommand(newPredictCmd(app))
	rootCmd.AddCommand(newScanCmd(app))
	rootCmd.AddCommand(newScreenCmd(app))
}

func newEvaluateCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "evaluate <symbol>",
		Short: "Show indicator readings and recent patterns",
		Long: `Evaluate computes RSI, Bollinger Bands, Stochastic and MACD on the latest
candles and lists candlestick and chart patterns found near the last bar.
Nothing is recorded.`,
		Example: "  assistant evaluate ACME",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			svc, err := app.Service(cmd.Context())
			if err != nil {
				return err
			}
			eval, err := svc.Evaluate(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if output.IsJSON() {
				return output.JSON(eval)
			}
			printEvaluation(output, eval)
			return nil
		},
	}
}

func printEvaluation(output *Output, eval *advisor.Evaluation) {
	output.Bold("%s  last close %s  (%d candles)", eval.Symbol, FormatPrice(eval.LastClose), eval.Candles)
	output.Println()

	table := NewTable(output, "INDICATOR", "VALUE", "SIGNAL", "PERIOD")
	for _, r := range eval.Indicators {
		table.AddRow(r.Name, fmt.Sprintf("%.2f", r.Value), output.Reading(r.Signal)+" ("+string(r.Signal)+")", fmt.Sprintf("%d", r.Period))
	}
	table.Render()
	if len(eval.Missing) > 0 {
		output.Warning("Not enough history for: %s", strings.Join(eval.Missing, ", "))
	}
	output.Println()

	if len(eval.Patterns) == 0 {
		output.Dim("No recent patterns")
		return
	}
	patterns := NewTable(output, "PATTERN", "DIRECTION", "CONFIDENCE", "BAR", "METHOD")
	for _, p := range eval.Patterns {
		patterns.AddRow(p.Name, output.Direction(p.Direction), FormatConfidence(p.Confidence), fmt.Sprintf("%d", p.Index), string(p.Method))
	}
	patterns.Render()
}

func newPredictCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "predict <symbol>",
		Short: "Record a new prediction with its contributing factors",
		Long: `Predict combines technical, fundamental and sentiment signals into a BUY,
SELL or HOLD call and appends it to the ledger. Fundamentals and sentiment
are optional: when either source fails the prediction uses what is left.`,
		Example: "  assistant predict ACME\n  assistant predict ACME --json",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			svc, err := app.Service(cmd.Context())
			if err != nil {
				return err
			}
			p, err := svc.Predict(cmd.Context(), args[0])
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

func printPrediction(output *Output, p *models.Prediction) {
	output.Bold("%s  %s  confidence %s", p.Symbol, output.Signal(p.SignalType), FormatConfidence(p.ConfidenceScore))
	output.Printf("  ID:          %s\n", p.ID)
	output.Printf("  Created:     %s\n", FormatDateTime(p.CreatedAt))
	output.Printf("  Price:       %s\n", FormatPrice(p.PriceAtPrediction))
	if p.TargetPrice > 0 {
		output.Printf("  Target:      %s\n", FormatPrice(p.TargetPrice))
	}
	if p.StopLoss > 0 {
		output.Printf("  Stop loss:   %s\n", FormatPrice(p.StopLoss))
	}
	output.Printf("  Horizon:     %s (expires %s)\n", p.TimeHorizon, FormatDateTime(p.ExpiresAt))
	output.Printf("  Market:      %s, %s analysis\n", p.MarketCondition, p.AnalysisType)
	output.Printf("  Weights:     bullish %s / bearish %s\n", FormatWeight(p.BullishWeight), FormatWeight(p.BearishWeight))
	output.Printf("  Status:      %s", output.Outcome(p.Outcome))
	if p.Executed {
		output.Printf(", executed %s", FormatDateTime(*p.ExecutedAt))
	}
	if p.RealizedPrice != nil {
		output.Printf(", realized %s", FormatPrice(*p.RealizedPrice))
	}
	output.Println()
	output.Println()

	if len(p.Factors) == 0 {
		output.Dim("No contributing factors")
		return
	}
	table := NewTable(output, "FACTOR", "SOURCE", "DIRECTION", "WEIGHT", "DETAIL")
	for _, f := range p.Factors {
		table.AddRow(f.Name, string(f.Source), output.Direction(f.Direction), FormatWeight(f.Weight), TruncateString(f.Description, 60))
	}
	table.Render()
}

func newScanCmd(app *App) *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "scan [symbols...]",
		Short: "Predict many symbols concurrently",
		Long: `Scan records one prediction per symbol. Symbols come from the arguments,
from --file (one per line, # starts a comment) or both. A failing symbol
is reported without stopping the others.`,
		Example: "  assistant scan ACME GLOBEX INITECH\n  assistant scan --file watchlist.txt",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			symbols := append([]string(nil), args...)
			if file != "" {
				fromFile, err := readSymbols(file)
				if err != nil {
					return err
				}
				symbols = append(symbols, fromFile...)
			}
			if len(symbols) == 0 {
				return fmt.Errorf("no symbols given")
			}
			if len(symbols) > scanner.DefaultMaxConcurrent {
				return fmt.Errorf("at most %d symbols per scan, got %d", scanner.DefaultMaxConcurrent, len(symbols))
			}

			svc, err := app.Service(cmd.Context())
			if err != nil {
				return err
			}
			results := svc.Scan(cmd.Context(), symbols)
			if output.IsJSON() {
				return output.JSON(results)
			}
			printScan(output, results)
			return nil
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "read symbols from a file")
	return cmd
}

func readSymbols(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening symbol file: %w", err)
	}
	defer f.Close()

	var symbols []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := sc.Text()
		if i := strings.IndexByte(line, '#'); i >= 0 {
			line = line[:i]
		}
		for _, field := range strings.FieldsFunc(line, func(r rune) bool { return r == ',' || r == ' ' || r == '\t' }) {
			symbols = append(symbols, field)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("reading symbol file: %w", err)
	}
	return symbols, nil
}

func printScan(output *Output, results []scanner.Result) {
	table := NewTable(output, "SYMBOL", "SIGNAL", "CONFIDENCE", "PRICE", "TOP FACTOR")
	failed := 0
	for _, r := range results {
		if r.Prediction == nil {
			failed++
			table.AddRow(r.Symbol, output.Red("error"), "-", "-", TruncateString(r.Error, 60))
			continue
		}
		p := r.Prediction
		top := "-"
		if len(p.Factors) > 0 {
			top = p.Factors[0].Name
		}
		table.AddRow(p.Symbol, output.Signal(p.SignalType), FormatConfidence(p.ConfidenceScore), FormatPrice(p.PriceAtPrediction), top)
	}
	table.Render()
	output.Println()
	if failed > 0 {
		output.Warning("%d of %d symbols failed", failed, len(results))
	} else {
		output.Success("✓ %d predictions recorded", len(results))
	}
}

func newScreenCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:     "screen <symbol>",
		Short:   "Check valuation metrics against the value thresholds",
		Example: "  assistant screen ACME",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			svc, err := app.Service(cmd.Context())
			if err != nil {
				return err
			}
			flags, err := svc.ScreenFundamentals(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if output.IsJSON() {
				return output.JSON(flags)
			}
			if len(flags) == 0 {
				output.Dim("No screening rule applies: metrics are unknown or rules disabled")
				return nil
			}
			table := NewTable(output, "METRIC", "VALUE", "THRESHOLD", "RULE", "RESULT")
			for _, f := range flags {
				result := output.Red("✗ fail")
				if f.Passed {
					result = output.Green("✓ pass")
				}
				table.AddRow(f.Metric, fmt.Sprintf("%.2f", f.Value), fmt.Sprintf("%.2f", f.Threshold), f.Rule, result)
			}
			table.Render()
			return nil
		},
	}
}
