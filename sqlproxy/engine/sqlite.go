package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3" // SQLite driver

	"github.com/tomyedwab/sqlviewer/sqlproxy/types"
)

const driverName = "sqlite3"

// dsnParams enables WAL so that open cursors on one pooled connection do not
// block writes issued through another.
const dsnParams = "?_journal_mode=WAL&_busy_timeout=5000"

// SQLiteConfig holds configuration options for the SQLite engine.
type SQLiteConfig struct {
	ScratchDir string       // Optional, defaults to a fresh temporary directory
	Logger     *slog.Logger // Optional, defaults to slog.Default()
}

// SQLite is an Engine backed by github.com/mattn/go-sqlite3. Every database
// lives in its own scratch file, so the bytes it was opened from are never
// modified.
type SQLite struct {
	dir     string
	ownsDir bool
	logger  *slog.Logger
}

// NewSQLite creates a SQLite engine.
func NewSQLite(config SQLiteConfig) (*SQLite, error) {
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}

	e := &SQLite{dir: config.ScratchDir, logger: logger}
	if e.dir == "" {
		dir, err := os.MkdirTemp("", "sqlviewer-*")
		if err != nil {
			return nil, fmt.Errorf("failed to create scratch directory: %w", err)
		}
		e.dir = dir
		e.ownsDir = true
	} else if err := os.MkdirAll(e.dir, 0o700); err != nil {
		return nil, fmt.Errorf("failed to create scratch directory %s: %w", e.dir, err)
	}
	return e, nil
}

// Dir returns the scratch directory.
func (e *SQLite) Dir() string {
	return e.dir
}

// Close removes the scratch directory if the engine created it. Databases
// must be closed first.
func (e *SQLite) Close() error {
	if !e.ownsDir {
		return nil
	}
	return os.RemoveAll(e.dir)
}

// Open implements Engine.
func (e *SQLite) Open(ctx context.Context, data []byte) (Database, error) {
	path := filepath.Join(e.dir, uuid.NewString()+".db")
	if len(data) > 0 {
		if err := os.WriteFile(path, data, 0o600); err != nil {
			return nil, fmt.Errorf("failed to write database file: %w", err)
		}
	}

	db, err := sqlx.ConnectContext(ctx, driverName, path+dsnParams)
	if err != nil {
		removeDatabaseFiles(path)
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// A connection succeeds on arbitrary bytes; reading the catalog is what
	// detects a file that is not a database.
	var count int
	if err := db.GetContext(ctx, &count, "SELECT count(*) FROM sqlite_master"); err != nil {
		db.Close()
		removeDatabaseFiles(path)
		return nil, fmt.Errorf("failed to read database: %w", err)
	}

	e.logger.Debug("Opened database", "path", path, "bytes", len(data), "objects", count)
	return &sqliteDatabase{db: db, path: path, logger: e.logger}, nil
}

type sqliteDatabase struct {
	db     *sqlx.DB
	path   string
	logger *slog.Logger
}

func (d *sqliteDatabase) Prepare(ctx context.Context, query string, params []any) (Cursor, error) {
	// The cursor outlives the request that created it.
	ctx = context.WithoutCancel(ctx)

	stmt, err := d.db.PreparexContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("prepare failed: %w", err)
	}
	rows, err := stmt.QueryxContext(ctx, params...)
	if err != nil {
		stmt.Close()
		return nil, fmt.Errorf("query failed: %w", err)
	}
	columns, err := rows.Columns()
	if err != nil {
		rows.Close()
		stmt.Close()
		return nil, fmt.Errorf("failed to get columns: %w", err)
	}
	return &sqliteCursor{stmt: stmt, rows: rows, columns: columns}, nil
}

func (d *sqliteDatabase) Exec(ctx context.Context, query string, params []any) ([]types.ResultSet, error) {
	statements := splitStatements(query)
	results := []types.ResultSet{}
	if len(statements) == 0 {
		return results, nil
	}

	// One connection keeps TEMP objects visible to later statements.
	conn, err := d.db.Connx(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get connection: %w", err)
	}
	defer conn.Close()

	for i, statement := range statements {
		result, err := execStatement(ctx, conn, statement, params)
		if err != nil {
			if len(statements) > 1 {
				return nil, fmt.Errorf("statement %d: %w", i+1, err)
			}
			return nil, err
		}
		if len(result.Columns) > 0 && len(result.Values) > 0 {
			results = append(results, result)
		}
	}
	return results, nil
}

// execStatement runs a single statement, binding params to it as a whole.
func execStatement(ctx context.Context, conn *sqlx.Conn, statement string, params []any) (types.ResultSet, error) {
	rows, err := conn.QueryxContext(ctx, statement, params...)
	if err != nil {
		return types.ResultSet{}, fmt.Errorf("exec failed: %w", err)
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return types.ResultSet{}, fmt.Errorf("failed to get columns: %w", err)
	}

	var values [][]any
	for rows.Next() {
		raw, err := rows.SliceScan()
		if err != nil {
			return types.ResultSet{}, fmt.Errorf("failed to scan row: %w", err)
		}
		values = append(values, processRowValues(raw))
	}
	if err := rows.Err(); err != nil {
		return types.ResultSet{}, fmt.Errorf("error iterating rows: %w", err)
	}
	return types.ResultSet{Columns: columns, Values: values}, nil
}

func (d *sqliteDatabase) Export(ctx context.Context) ([]byte, error) {
	target := filepath.Join(filepath.Dir(d.path), uuid.NewString()+".export.db")
	defer os.Remove(target)

	if _, err := d.db.ExecContext(ctx, "VACUUM INTO ?", target); err != nil {
		return nil, fmt.Errorf("export failed: %w", err)
	}
	data, err := os.ReadFile(target)
	if err != nil {
		return nil, fmt.Errorf("failed to read export: %w", err)
	}
	return data, nil
}

func (d *sqliteDatabase) Close() error {
	err := d.db.Close()
	removeDatabaseFiles(d.path)
	d.logger.Debug("Closed database", "path", d.path)
	return err
}

type sqliteCursor struct {
	stmt    *sqlx.Stmt
	rows    *sqlx.Rows
	columns []string
}

func (c *sqliteCursor) Step() (bool, error) {
	if c.rows.Next() {
		return true, nil
	}
	if err := c.rows.Err(); err != nil {
		return false, fmt.Errorf("step failed: %w", err)
	}
	return false, nil
}

func (c *sqliteCursor) Row() (types.Row, error) {
	raw, err := c.rows.SliceScan()
	if err != nil {
		return types.Row{}, fmt.Errorf("failed to scan row: %w", err)
	}
	columns := make([]string, len(c.columns))
	copy(columns, c.columns)
	return types.Row{Columns: columns, Values: processRowValues(raw)}, nil
}

func (c *sqliteCursor) Close() error {
	return errors.Join(c.rows.Close(), c.stmt.Close())
}

func processRowValues(rawRow []any) []any {
	processedRow := make([]any, len(rawRow))
	for i, val := range rawRow {
		switch v := val.(type) {
		case time.Time:
			processedRow[i] = v.Format(time.RFC3339Nano)
		default:
			processedRow[i] = v
		}
	}
	return processedRow
}

func removeDatabaseFiles(path string) {
	for _, suffix := range []string{"", "-wal", "-shm", "-journal"} {
		os.Remove(path + suffix)
	}
}
