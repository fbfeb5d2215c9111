package cli

import (
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/roach88/sheetdb/internal/api"
	"github.com/roach88/sheetdb/internal/engine"
)

// NewCheckCommand creates the check command.
func NewCheckCommand(rootOpts *RootOptions) *cobra.Command {
	var dbOpts DBOptions

	cmd := &cobra.Command{
		Use:   "check <junction>",
		Short: "Repair a junction table",
		Long: `Scan a junction table for rows whose ids are malformed or point at
records that no longer exist, and move those rows to history.

Exits with status 1 when rows were moved, so scheduled runs can alert.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCheck(rootOpts, &dbOpts, args[0], cmd)
		},
	}

	addDBFlags(cmd, &dbOpts)
	return cmd
}

func runCheck(opts *RootOptions, dbOpts *DBOptions, junction string, cmd *cobra.Command) error {
	formatter := newFormatter(opts, cmd)
	ctx := commandContext(cmd)

	db, _, err := setup(ctx, opts, dbOpts, nil)
	if err != nil {
		return failSetup(formatter, err)
	}
	defer func() {
		if closeErr := db.Close(); closeErr != nil {
			slog.Error("error closing database", "error", closeErr)
		}
	}()

	svc := api.NewService(db, api.UUIDv7Generator{})
	resp, err := svc.CheckTableIntegrity(ctx, junction)
	if err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeUnknownTable, err.Error(), nil)
	}
	if !resp.OK() {
		return writeEnvelope(formatter, resp)
	}

	report := resp.Data.(*engine.IntegrityReport)
	if len(report.Moved) > 0 {
		if formatter.JSON() {
			_ = formatter.Error(ErrCodeIntegrity, resp.Message, report)
		} else {
			fmt.Fprintf(formatter.Writer, "✗ %s: %s\n", junction, resp.Message)
			for _, e := range report.Errors {
				fmt.Fprintf(formatter.Writer, "  row %d %s: %s\n", e.RowID, e.Field, e.Message)
			}
		}
		return NewExitError(ExitFailure, resp.Message)
	}

	return formatter.Success(report, func(w io.Writer) {
		fmt.Fprintf(w, "✓ %s: %d row(s) checked, no problems\n", junction, report.Checked)
	})
}
