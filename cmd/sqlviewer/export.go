package main

import (
	"context"
	"fmt"
)

const exportUsage = `Usage: sqlviewer export [options] --out <ref> [sql...]

Description:
  Open a database, run any given statements against it, and write the
  resulting database file to a local path, file:// URL or s3:// object.
  The source database is never modified.

Examples:
  sqlviewer export --href https://example.com/data.db --out ./copy.db
  sqlviewer export -f ./data.db --out s3://bucket/trimmed.db "DELETE FROM logs"
`

func (a *app) runExport(ctx context.Context, args []string) int {
	cmd := a.newCommand("export", exportUsage)
	var dbFlags databaseFlags
	dbFlags.bind(cmd.fs)
	out := cmd.fs.StringP("out", "o", "", "Destination path or s3:// reference (required)")

	cfg, logger, code, ok := a.parse(cmd, args)
	if !ok {
		return code
	}
	if *out == "" {
		fmt.Fprintf(a.stderr, "Error: --out is required\n")
		cmd.fs.Usage()
		return ExitUsage
	}

	s, err := a.openSession(ctx, cfg, cmd.configPath, dbFlags, logger)
	if err != nil {
		fmt.Fprintf(a.stderr, "Error: %v\n", err)
		return exitCodeFor(err)
	}
	defer s.Close()

	for _, statement := range cmd.fs.Args() {
		if _, err := s.db.Exec(ctx, statement); err != nil {
			fmt.Fprintf(a.stderr, "Error: %v\n", err)
			return exitCodeFor(err)
		}
	}

	data, err := s.db.Buffer(ctx)
	if err != nil {
		fmt.Fprintf(a.stderr, "Error: %v\n", err)
		return exitCodeFor(err)
	}
	if err := newFetcher(cfg, logger).Store(ctx, *out, data); err != nil {
		fmt.Fprintf(a.stderr, "Error: %v\n", err)
		return ExitError
	}
	logger.Info("Exported database", "destination", *out, "bytes", len(data))
	return ExitOK
}
