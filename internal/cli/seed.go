package cli

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/roach88/sheetdb/internal/seed"
)

// SeedOutput is the output of the seed command.
type SeedOutput struct {
	*seed.Result
	Mismatches []seed.Mismatch `json:"mismatches,omitempty"`
}

// NewSeedCommand creates the seed command.
func NewSeedCommand(rootOpts *RootOptions) *cobra.Command {
	var dbOpts DBOptions

	cmd := &cobra.Command{
		Use:   "seed <fixture.yaml>",
		Short: "Load a YAML fixture into the database",
		Long: `Apply the steps of a YAML fixture in order, then check its expectations.

When the fixture names schema directories they replace --schema.

Example:
  sheetdb seed --db ./shop.db fixtures/shop.yaml`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSeed(rootOpts, &dbOpts, args[0], cmd)
		},
	}

	addDBFlags(cmd, &dbOpts)
	return cmd
}

func runSeed(opts *RootOptions, dbOpts *DBOptions, path string, cmd *cobra.Command) error {
	formatter := newFormatter(opts, cmd)
	ctx := commandContext(cmd)

	fixture, err := seed.Load(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return formatter.Fail(ExitCommandError, ErrCodeNotFound, fmt.Sprintf("fixture not found: %s", path), nil)
		}
		return formatter.Fail(ExitCommandError, ErrCodeGeneric, err.Error(), nil)
	}

	cfg, err := loadSettings(opts, dbOpts)
	if err != nil {
		return failSetup(formatter, err)
	}

	tables, err := fixture.Tables()
	if err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeSchema, err.Error(), nil)
	}
	if len(tables) == 0 {
		if tables, err = loadTables(cfg.Engine.SchemaDir); err != nil {
			return failSetup(formatter, err)
		}
	}

	db, err := openDatabase(ctx, cfg, tables, nil)
	if err != nil {
		return failSetup(formatter, err)
	}
	defer func() {
		if closeErr := db.Close(); closeErr != nil {
			slog.Error("error closing database", "error", closeErr)
		}
	}()

	formatter.VerboseLog("applying %d step(s) from %s", len(fixture.Steps), path)
	res, err := seed.Apply(ctx, db, fixture)
	if err != nil {
		var stepErr *seed.StepError
		if errors.As(err, &stepErr) {
			return formatter.Fail(ExitFailure, ErrCodeSeedFailed, err.Error(), res)
		}
		return formatter.Fail(ExitCommandError, ErrCodeGeneric, err.Error(), res)
	}

	mismatches, err := seed.Verify(ctx, db, fixture)
	if err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeGeneric, err.Error(), nil)
	}
	out := SeedOutput{Result: res, Mismatches: mismatches}

	if len(mismatches) > 0 {
		if formatter.JSON() {
			_ = formatter.Error(ErrCodeSeedMismatch, fmt.Sprintf("%d expectation(s) not met", len(mismatches)), out)
		} else {
			fmt.Fprintf(formatter.Writer, "✗ Fixture %s: %d expectation(s) not met\n", fixture.Name, len(mismatches))
			for _, m := range mismatches {
				fmt.Fprintf(formatter.Writer, "  %s\n", m)
			}
		}
		return NewExitError(ExitFailure, fmt.Sprintf("%d expectation(s) not met", len(mismatches)))
	}

	return formatter.Success(out, func(w io.Writer) {
		created := 0
		for _, ids := range res.Created {
			created += len(ids)
		}
		fmt.Fprintf(w, "✓ Fixture %s applied: %d created, %d updated, %d removed\n",
			fixture.Name, created, res.Updated, res.Removed)
		if len(fixture.Expect) > 0 {
			fmt.Fprintf(w, "✓ %d expectation(s) met\n", len(fixture.Expect))
		}
	})
}
