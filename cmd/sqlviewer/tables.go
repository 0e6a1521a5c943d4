package main

import (
	"context"
	"fmt"
)

const tablesUsage = `Usage: sqlviewer tables [options]

Description:
  List the tables and views of a database, one per line.

Examples:
  sqlviewer tables --href s3://bucket/data.db
  sqlviewer tables -f ./local.db
`

func (a *app) runTables(ctx context.Context, args []string) int {
	cmd := a.newCommand("tables", tablesUsage)
	var dbFlags databaseFlags
	dbFlags.bind(cmd.fs)

	cfg, logger, code, ok := a.parse(cmd, args)
	if !ok {
		return code
	}

	s, err := a.openSession(ctx, cfg, cmd.configPath, dbFlags, logger)
	if err != nil {
		fmt.Fprintf(a.stderr, "Error: %v\n", err)
		return exitCodeFor(err)
	}
	defer s.Close()

	names, err := s.db.Tables(ctx)
	if err != nil {
		fmt.Fprintf(a.stderr, "Error: %v\n", err)
		return exitCodeFor(err)
	}
	for _, name := range names {
		fmt.Fprintln(a.stdout, name)
	}
	return ExitOK
}
