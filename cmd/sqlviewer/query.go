package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/tomyedwab/sqlviewer/sqlproxy/types"
)

const queryUsage = `Usage: sqlviewer query [options] <sql> [params...]

Description:
  Run one SQL statement against a database and print its rows. Rows are
  fetched from the worker in batches of --batch. Positional params bind to
  '?' placeholders; integers and floats are passed as numbers and NULL as
  null.

Examples:
  sqlviewer query --href https://example.com/data.db "SELECT * FROM users LIMIT 10"
  sqlviewer query -f ./local.db "SELECT * FROM users WHERE id = ?" 42
  sqlviewer query -f ./local.db --exec "UPDATE users SET name = 'x' WHERE id = 1"
  sqlviewer query --connect unix:/tmp/sqlviewer.sock -f /srv/data.db --json "SELECT * FROM t"
`

func (a *app) runQuery(ctx context.Context, args []string) int {
	cmd := a.newCommand("query", queryUsage)
	var dbFlags databaseFlags
	dbFlags.bind(cmd.fs)
	asJSON := cmd.fs.Bool("json", false, "Print one JSON object per row")
	useExec := cmd.fs.Bool("exec", false, "Run the statement to completion in one request instead of stepping it")
	limit := cmd.fs.Int("limit", 0, "Stop after this many rows (0 for all)")

	cfg, logger, code, ok := a.parse(cmd, args)
	if !ok {
		return code
	}
	positional := cmd.fs.Args()
	if len(positional) == 0 {
		fmt.Fprintf(a.stderr, "Error: SQL argument required\n")
		cmd.fs.Usage()
		return ExitUsage
	}
	query, params := positional[0], parseParams(positional[1:])

	s, err := a.openSession(ctx, cfg, cmd.configPath, dbFlags, logger)
	if err != nil {
		fmt.Fprintf(a.stderr, "Error: %v\n", err)
		return exitCodeFor(err)
	}
	defer s.Close()

	out := newRowPrinter(a.stdout, *asJSON)
	if *useExec {
		results, err := s.db.Exec(ctx, query, params...)
		if err != nil {
			fmt.Fprintf(a.stderr, "Error: %v\n", err)
			return exitCodeFor(err)
		}
		for _, rs := range results {
			for _, values := range rs.Values {
				if err := out.print(types.Row{Columns: rs.Columns, Values: values}); err != nil {
					fmt.Fprintf(a.stderr, "Error: %v\n", err)
					return ExitError
				}
			}
		}
		return a.finish(out)
	}

	stmt, err := s.db.Prepare(ctx, query, params...)
	if err != nil {
		fmt.Fprintf(a.stderr, "Error: %v\n", err)
		return exitCodeFor(err)
	}
	printed := 0
	for {
		batch := cfg.Client.BatchSize
		if *limit > 0 && *limit-printed < batch {
			batch = *limit - printed
		}
		result, err := stmt.Step(ctx, 0, batch)
		if err != nil {
			fmt.Fprintf(a.stderr, "Error: %v\n", err)
			return exitCodeFor(err)
		}
		for _, row := range result.Rows {
			if err := out.print(row); err != nil {
				fmt.Fprintf(a.stderr, "Error: %v\n", err)
				return ExitError
			}
		}
		printed += len(result.Rows)
		if result.Done {
			break
		}
		if *limit > 0 && printed >= *limit {
			if err := stmt.Delete(ctx); err != nil {
				logger.Warn("Failed to release statement", "error", err)
			}
			break
		}
	}
	return a.finish(out)
}

func (a *app) finish(out *rowPrinter) int {
	if err := out.flush(); err != nil {
		fmt.Fprintf(a.stderr, "Error: %v\n", err)
		return ExitError
	}
	return ExitOK
}

// parseParams converts positional arguments into statement parameters.
func parseParams(args []string) []any {
	params := make([]any, len(args))
	for i, arg := range args {
		if arg == "NULL" {
			params[i] = nil
		} else if n, err := strconv.ParseInt(arg, 10, 64); err == nil {
			params[i] = n
		} else if f, err := strconv.ParseFloat(arg, 64); err == nil {
			params[i] = f
		} else {
			params[i] = arg
		}
	}
	return params
}

// rowPrinter writes rows as an aligned table or as JSON lines. The table
// header is taken from the first row.
type rowPrinter struct {
	asJSON  bool
	enc     *json.Encoder
	tw      *tabwriter.Writer
	columns []string
}

func newRowPrinter(w io.Writer, asJSON bool) *rowPrinter {
	if asJSON {
		return &rowPrinter{asJSON: true, enc: json.NewEncoder(w)}
	}
	return &rowPrinter{tw: tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)}
}

func (p *rowPrinter) print(row types.Row) error {
	if p.asJSON {
		return p.enc.Encode(row)
	}
	if p.columns == nil {
		p.columns = row.Columns
		fmt.Fprintln(p.tw, strings.Join(row.Columns, "\t"))
	}
	cells := make([]string, len(row.Values))
	for i, v := range row.Values {
		cells[i] = formatValue(v)
	}
	_, err := fmt.Fprintln(p.tw, strings.Join(cells, "\t"))
	return err
}

func (p *rowPrinter) flush() error {
	if p.tw != nil {
		return p.tw.Flush()
	}
	return nil
}

func formatValue(v any) string {
	switch v := v.(type) {
	case nil:
		return "NULL"
	case []byte:
		return fmt.Sprintf("x'%x'", v)
	case float64:
		return strconv.FormatFloat(v, 'g', -1, 64)
	default:
		return fmt.Sprint(v)
	}
}
