// Command reqstat aggregates request workbooks and prints the sine spectrum
// from the command line.
package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/reqstat/backend/internal/service"
	"github.com/reqstat/backend/internal/spectrum"
)

const defaultSpectrumPoints = 64

func main() {
	rootCmd := newRootCmd(os.Stderr)
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd(logOut io.Writer) *cobra.Command {
	var (
		logLevel string
		indent   bool
		logger   zerolog.Logger
	)

	rootCmd := &cobra.Command{
		Use:           "reqstat",
		Short:         "Request workbook statistics",
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			level, err := zerolog.ParseLevel(logLevel)
			if err != nil {
				return fmt.Errorf("invalid log level %q: %w", logLevel, err)
			}
			logger = zerolog.New(zerolog.ConsoleWriter{Out: logOut, TimeFormat: time.Kitchen}).
				Level(level).With().Timestamp().Logger()
			return nil
		},
	}
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().BoolVar(&indent, "indent", false, "indent JSON output")

	rootCmd.AddCommand(newAggregateCmd(&logger, &indent))
	rootCmd.AddCommand(newSpectrumCmd(&indent))
	return rootCmd
}

func newAggregateCmd(logger *zerolog.Logger, indent *bool) *cobra.Command {
	var strict, verbose bool

	cmd := &cobra.Command{
		Use:   "aggregate <file.xlsx>",
		Short: "Monthly closure rates and department/status/month counts",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("failed to read workbook: %w", err)
			}

			report, err := service.AggregateWorkbook(data, service.Options{Strict: strict})
			if err != nil {
				return err
			}
			for _, issue := range report.Issues {
				logger.Warn().Int("row", issue.Row).Str("kind", issue.Kind).Str("reason", issue.Reason).Str("value", issue.Value).Msg("row skipped")
			}
			logger.Info().
				Str("file", args[0]).
				Int("rows_read", report.RowsRead).
				Int("rows_skipped", report.RowsSkipped).
				Msg("aggregation complete")

			if verbose {
				return writeJSON(cmd.OutOrStdout(), report, *indent)
			}
			return writeJSON(cmd.OutOrStdout(), report.Result, *indent)
		},
	}
	cmd.Flags().BoolVar(&strict, "strict", false, "fail on the first malformed row")
	cmd.Flags().BoolVar(&verbose, "verbose", false, "print the report with skipped rows")
	return cmd
}

func newSpectrumCmd(indent *bool) *cobra.Command {
	var n int

	cmd := &cobra.Command{
		Use:   "spectrum",
		Short: "Magnitude spectrum of sin(0..n-1)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			points, err := spectrum.Compute(n)
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), points, *indent)
		},
	}
	cmd.Flags().IntVar(&n, "n", defaultSpectrumPoints, "number of points")
	return cmd
}

func writeJSON(w io.Writer, v any, indent bool) error {
	enc := json.NewEncoder(w)
	if indent {
		enc.SetIndent("", "  ")
	}
	return enc.Encode(v)
}
