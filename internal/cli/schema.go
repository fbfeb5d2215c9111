package cli

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/sheetdb/internal/schema"
)

// SchemaResult is the output of schema validate.
type SchemaResult struct {
	Valid  bool           `json:"valid"`
	Tables []TableSummary `json:"tables"`
}

// TableSummary describes one compiled table.
type TableSummary struct {
	Name     string   `json:"name"`
	History  string   `json:"history"`
	Fields   []string `json:"fields"`
	Junction []string `json:"junction,omitempty"` // linked tables
}

// NewSchemaCommand creates the schema command group.
func NewSchemaCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "schema",
		Short: "Inspect CUE table schemas",
	}
	cmd.AddCommand(newSchemaValidateCommand(rootOpts))
	return cmd
}

func newSchemaValidateCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "validate <schema-dir>",
		Short: "Compile a schema directory and report its tables",
		Long: `Compile the CUE schema in a directory without opening a database.

Checks field types, defaults, null policies and junction links, and that
every table name is unique.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSchemaValidate(rootOpts, args[0], cmd)
		},
	}
}

func runSchemaValidate(opts *RootOptions, dir string, cmd *cobra.Command) error {
	formatter := newFormatter(opts, cmd)

	tables, err := loadTables(dir)
	if err != nil {
		le, ok := err.(*LoadError)
		if ok && le.Code == ErrCodeSchema {
			// the schema exists but is wrong: a data failure, not a usage error
			_ = formatter.Error(le.Code, fmt.Sprintf("%s: %v", le.Message, le.Err), nil)
			return NewExitError(ExitFailure, "schema invalid")
		}
		return failSetup(formatter, err)
	}
	formatter.VerboseLog("compiled %d table(s) from %s", len(tables), dir)

	reg := schema.NewRegistry()
	for _, t := range tables {
		if err := reg.Register(t); err != nil {
			_ = formatter.Error(ErrCodeSchema, err.Error(), nil)
			return NewExitError(ExitFailure, "schema invalid")
		}
	}

	result := SchemaResult{Valid: true}
	for _, t := range reg.Tables() {
		s := TableSummary{Name: t.Name, History: t.History(), Fields: t.FieldNames()}
		if t.IsJunction() {
			for _, l := range t.Junction.Links() {
				s.Junction = append(s.Junction, l.Table)
			}
		}
		result.Tables = append(result.Tables, s)
	}

	return formatter.Success(result, func(w io.Writer) {
		fmt.Fprintf(w, "✓ Schema valid: %d table(s)\n", len(result.Tables))
		for _, t := range result.Tables {
			line := fmt.Sprintf("  %s (%s)", t.Name, strings.Join(t.Fields, ", "))
			if len(t.Junction) > 0 {
				line += " junction " + strings.Join(t.Junction, " x ")
			}
			fmt.Fprintln(w, line)
		}
	})
}
