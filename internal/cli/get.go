package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/sheetdb/internal/api"
	"github.com/roach88/sheetdb/internal/query"
)

// GetOptions holds flags for the get command.
type GetOptions struct {
	*RootOptions
	DB      DBOptions
	History bool
	Query   query.Options
}

// NewGetCommand creates the get command.
func NewGetCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &GetOptions{RootOptions: rootOpts}
	var order string

	cmd := &cobra.Command{
		Use:   "get <table> [id]",
		Short: "Read one record or list a table",
		Long: `Read a record by id, or list a table with optional sorting and paging.

Output is the same envelope the HTTP API returns.

Example:
  sheetdb get PRODUCT 3
  sheetdb get PRODUCT --sort-by price --order desc --page-size 20 --page 2
  sheetdb get PRODUCT 3 --history`,
		Args:          cobra.RangeArgs(1, 2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.Query.SortOrder = query.SortOrder(order)
			return runGet(opts, args, cmd)
		},
	}

	addDBFlags(cmd, &opts.DB)
	cmd.Flags().BoolVar(&opts.History, "history", false, "read the removed record from history")
	cmd.Flags().IntVar(&opts.Query.Page, "page", 0, "page number, 1-based")
	cmd.Flags().IntVar(&opts.Query.PageSize, "page-size", 0, "records per page (0 lists everything)")
	cmd.Flags().StringVar(&opts.Query.SortBy, "sort-by", "", "field to sort by")
	cmd.Flags().StringVar(&order, "order", "", "sort order (asc|desc)")

	return cmd
}

func runGet(opts *GetOptions, args []string, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd)
	ctx := commandContext(cmd)
	table := args[0]

	var id int64
	if len(args) == 2 {
		n, err := strconv.ParseInt(args[1], 10, 64)
		if err != nil || n <= 0 {
			return formatter.Fail(ExitCommandError, ErrCodeGeneric, fmt.Sprintf("id must be a positive integer, got %q", args[1]), nil)
		}
		id = n
	} else if opts.History {
		return formatter.Fail(ExitCommandError, ErrCodeGeneric, "--history needs an id", nil)
	}

	db, _, err := setup(ctx, opts.RootOptions, &opts.DB, nil)
	if err != nil {
		return failSetup(formatter, err)
	}
	defer func() {
		if closeErr := db.Close(); closeErr != nil {
			slog.Error("error closing database", "error", closeErr)
		}
	}()

	svc := api.NewService(db, api.UUIDv7Generator{})
	var resp api.Response
	switch {
	case id > 0 && opts.History:
		resp, err = svc.ReadHistory(ctx, table, id)
	case id > 0:
		resp, err = svc.Read(ctx, table, id)
	default:
		resp, err = svc.GetAll(ctx, table, opts.Query, false)
	}
	if err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeUnknownTable, err.Error(), nil)
	}

	return writeEnvelope(formatter, resp)
}

// writeEnvelope prints a service response. A non-2xx status fails the
// command with ExitFailure.
func writeEnvelope(f *OutputFormatter, resp api.Response) error {
	if !resp.OK() {
		code, _ := resp.Metadata["error"].(string)
		return f.Fail(ExitFailure, code, resp.Message, resp.Data)
	}
	return f.Success(resp, func(w io.Writer) {
		printData(w, resp.Data)
		if total, ok := resp.Metadata["total"]; ok {
			fmt.Fprintf(w, "-- %v record(s), page %v of %v\n",
				total, resp.Metadata["page"], resp.Metadata["pageCount"])
		}
	})
}

// printData writes one JSON object per line.
func printData(w io.Writer, data any) {
	rows, err := asRows(data)
	if err != nil {
		fmt.Fprintln(w, data)
		return
	}
	for _, row := range rows {
		fmt.Fprintln(w, strings.TrimSpace(string(row)))
	}
}

func asRows(data any) ([]json.RawMessage, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	var rows []json.RawMessage
	if err := json.Unmarshal(raw, &rows); err == nil {
		return rows, nil
	}
	return []json.RawMessage{raw}, nil
}
