package cli

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/spf13/cobra"

	"github.com/roach88/sheetdb/internal/config"
	"github.com/roach88/sheetdb/internal/engine"
	"github.com/roach88/sheetdb/internal/metrics"
	"github.com/roach88/sheetdb/internal/schema"
)

// CLI error codes.
const (
	ErrCodeGeneric      = "E001" // Generic/unknown error
	ErrCodeConfig       = "E002" // Settings could not be loaded
	ErrCodeSchema       = "E003" // Schema files do not compile
	ErrCodeNoTables     = "E004" // Schema declares no tables
	ErrCodeNotFound     = "E005" // Path not found
	ErrCodeDatabase     = "E006" // Database could not be opened
	ErrCodeUnknownTable = "E007" // Table not in the schema
	ErrCodeSeedFailed   = "E008" // A seed step failed
	ErrCodeSeedMismatch = "E009" // Seed expectations not met
	ErrCodeIntegrity    = "E010" // Junction rows were repaired
)

// LoadError is a setup failure with its CLI error code.
type LoadError struct {
	Code    string
	Message string
	Err     error
}

func (e *LoadError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *LoadError) Unwrap() error {
	return e.Err
}

// DBOptions are the flags of commands that open a database. Empty values
// fall back to the loaded settings.
type DBOptions struct {
	Driver    string
	DSN       string
	SchemaDir string
}

func addDBFlags(cmd *cobra.Command, o *DBOptions) {
	cmd.Flags().StringVar(&o.Driver, "driver", "", "database driver (sqlite3|mysql)")
	cmd.Flags().StringVar(&o.DSN, "db", "", "database file (sqlite3) or DSN (mysql)")
	cmd.Flags().StringVar(&o.SchemaDir, "schema", "", "directory holding the CUE schema")
}

// loadSettings reads settings and applies flag overrides.
func loadSettings(root *RootOptions, o *DBOptions) (*config.AppConfig, error) {
	cfg, err := config.Load(root.EnvFile)
	if err != nil {
		return nil, &LoadError{Code: ErrCodeConfig, Message: "loading settings", Err: err}
	}
	if o == nil {
		return cfg, nil
	}
	if o.Driver != "" {
		cfg.DB.Driver = o.Driver
	}
	if o.DSN != "" {
		cfg.DB.DSN = o.DSN
	}
	if o.SchemaDir != "" {
		cfg.Engine.SchemaDir = o.SchemaDir
	}
	if err := cfg.Check(); err != nil {
		return nil, &LoadError{Code: ErrCodeConfig, Message: "invalid settings", Err: err}
	}
	return cfg, nil
}

// loadTables compiles the schema directory.
func loadTables(dir string) ([]schema.TableConfig, error) {
	if _, err := os.Stat(dir); errors.Is(err, fs.ErrNotExist) {
		return nil, &LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("schema directory not found: %s", dir)}
	}
	tables, err := schema.LoadDir(dir)
	if err != nil {
		return nil, &LoadError{Code: ErrCodeSchema, Message: "compiling schema", Err: err}
	}
	if len(tables) == 0 {
		return nil, &LoadError{Code: ErrCodeNoTables, Message: fmt.Sprintf("no tables declared in %s", dir)}
	}
	return tables, nil
}

// openDatabase opens the configured backend with tables registered.
func openDatabase(ctx context.Context, cfg *config.AppConfig, tables []schema.TableConfig, m metrics.Backend) (*engine.Database, error) {
	ec := cfg.EngineOptions()
	ec.Metrics = m
	db, err := engine.Init(ctx, ec, tables...)
	if err != nil {
		return nil, &LoadError{Code: ErrCodeDatabase, Message: "opening database", Err: err}
	}
	return db, nil
}

// setup loads settings, the schema and the database in one step.
func setup(ctx context.Context, root *RootOptions, o *DBOptions, m metrics.Backend) (*engine.Database, *config.AppConfig, error) {
	cfg, err := loadSettings(root, o)
	if err != nil {
		return nil, nil, err
	}
	tables, err := loadTables(cfg.Engine.SchemaDir)
	if err != nil {
		return nil, nil, err
	}
	db, err := openDatabase(ctx, cfg, tables, m)
	if err != nil {
		return nil, nil, err
	}
	return db, cfg, nil
}

// failSetup reports a setup error as a command error.
func failSetup(f *OutputFormatter, err error) error {
	var le *LoadError
	if errors.As(err, &le) {
		msg := le.Message
		if le.Err != nil {
			msg = fmt.Sprintf("%s: %v", le.Message, le.Err)
		}
		return f.Fail(ExitCommandError, le.Code, msg, nil)
	}
	return f.Fail(ExitCommandError, ErrCodeGeneric, err.Error(), nil)
}

func newFormatter(opts *RootOptions, cmd *cobra.Command) *OutputFormatter {
	return &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}
}

func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
