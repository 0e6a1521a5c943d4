// Command sqlviewer opens SQLite databases in an isolated worker and queries
// them.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
)

// Exit codes.
const (
	ExitOK     = 0
	ExitError  = 1
	ExitUsage  = 2
	ExitConfig = 3
	ExitWorker = 4
	ExitQuery  = 5
)

// app carries the output streams so commands can be run from tests.
type app struct {
	stdout io.Writer
	stderr io.Writer
	// self is the executable spawned for "worker" when no --connect address
	// is given.
	self string
}

func main() {
	self, err := os.Executable()
	if err != nil {
		self = os.Args[0]
	}
	a := &app{stdout: os.Stdout, stderr: os.Stderr, self: self}

	ctx, cancel := signalContext()
	defer cancel()
	os.Exit(a.run(ctx, os.Args[1:]))
}

// signalContext returns a context cancelled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		select {
		case <-sigChan:
			cancel()
		case <-ctx.Done():
		}
		signal.Stop(sigChan)
	}()
	return ctx, cancel
}

func (a *app) run(ctx context.Context, args []string) int {
	if len(args) == 0 {
		a.usage()
		return ExitUsage
	}
	command, rest := args[0], args[1:]
	switch command {
	case "serve":
		return a.runServe(ctx, rest)
	case "worker":
		return a.runWorker(ctx, rest)
	case "query":
		return a.runQuery(ctx, rest)
	case "tables":
		return a.runTables(ctx, rest)
	case "export":
		return a.runExport(ctx, rest)
	case "help", "-h", "--help":
		a.usage()
		return ExitOK
	default:
		fmt.Fprintf(a.stderr, "Error: unknown command %q\n\n", command)
		a.usage()
		return ExitUsage
	}
}

func (a *app) usage() {
	fmt.Fprint(a.stderr, `Usage: sqlviewer <command> [options]

Commands:
  query    Run a SQL statement against a database and print the rows
  tables   List the tables and views of a database
  export   Write a database, after any statements, to a file or s3:// object
  serve    Accept worker connections on a socket
  worker   Serve the worker protocol on stdin and stdout

Run 'sqlviewer <command> --help' for the options of a command.
`)
}
