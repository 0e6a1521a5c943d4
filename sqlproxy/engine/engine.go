// Package engine defines the database capability a worker executes requests
// against, and provides its SQLite implementation.
package engine

import (
	"context"

	"github.com/tomyedwab/sqlviewer/sqlproxy/types"
)

// Engine constructs databases.
type Engine interface {
	// Open creates a database from the serialized bytes in data. A nil or
	// empty data yields a new empty database.
	Open(ctx context.Context, data []byte) (Database, error)
}

// Database is a live engine database.
type Database interface {
	// Prepare compiles query with params and returns a cursor positioned
	// before the first row.
	Prepare(ctx context.Context, query string, params []any) (Cursor, error)

	// Exec runs each statement in query in turn, binding params to every
	// one, and returns one result set per statement that produced rows. It
	// stops at the first failing statement; earlier ones stay applied.
	Exec(ctx context.Context, query string, params []any) ([]types.ResultSet, error)

	// Export serializes the whole database.
	Export(ctx context.Context) ([]byte, error)

	Close() error
}

// Cursor is a step-once iterator over a statement's result rows.
type Cursor interface {
	// Step advances to the next row. It returns false once the rows are
	// exhausted.
	Step() (bool, error)

	// Row materializes the current row.
	Row() (types.Row, error)

	Close() error
}
