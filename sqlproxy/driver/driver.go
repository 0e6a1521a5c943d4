package driver

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/tomyedwab/sqlviewer/sqlproxy/client"
	"github.com/tomyedwab/sqlviewer/sqlproxy/types"
)

const driverName = "sqlproxy"

// ErrNoTransactions is returned by Begin.
var ErrNoTransactions = errors.New("sqlproxy: transactions are not supported")

func init() {
	sql.Register(driverName, &Driver{})
}

// --- Driver implementation ---

// Driver is the SQL driver for worker databases. Connections need a live
// database handle, so they are made through a Connector rather than a DSN.
type Driver struct{}

// Open always fails; use sql.OpenDB(NewConnector(db)).
func (d *Driver) Open(name string) (driver.Conn, error) {
	return nil, fmt.Errorf("sqlproxy: open by name is not supported, use sql.OpenDB(driver.NewConnector(db))")
}

// --- Connector implementation ---

// ConnectorOption configures a Connector.
type ConnectorOption func(*Connector)

// WithBatchSize sets how many rows each step fetches while iterating rows.
func WithBatchSize(n int) ConnectorOption {
	return func(c *Connector) {
		if n > 0 {
			c.batchSize = n
		}
	}
}

// Connector hands out connections to one worker database.
type Connector struct {
	db        *client.Database
	batchSize int
}

// NewConnector creates a Connector for db.
func NewConnector(db *client.Database, options ...ConnectorOption) *Connector {
	c := &Connector{db: db, batchSize: client.DefaultBatchSize}
	for _, option := range options {
		option(c)
	}
	return c
}

// Connect implements driver.Connector.
func (c *Connector) Connect(ctx context.Context) (driver.Conn, error) {
	return &Conn{db: c.db, batchSize: c.batchSize}, nil
}

// Driver implements driver.Connector.
func (c *Connector) Driver() driver.Driver {
	return &Driver{}
}

// --- Connection implementation ---

// Conn implements the driver.Conn interface. All connections from one
// Connector share the worker database.
type Conn struct {
	db        *client.Database
	batchSize int
}

// Prepare returns a statement that compiles query in the worker each time it
// is queried.
func (c *Conn) Prepare(query string) (driver.Stmt, error) {
	return &Stmt{conn: c, query: query}, nil
}

// PrepareContext implements driver.ConnPrepareContext.
func (c *Conn) PrepareContext(ctx context.Context, query string) (driver.Stmt, error) {
	return c.Prepare(query)
}

// Close releases nothing; the database lives until its worker stops.
func (c *Conn) Close() error {
	return nil
}

// Begin implements driver.Conn.
func (c *Conn) Begin() (driver.Tx, error) {
	return nil, ErrNoTransactions
}

// Ping implements driver.Pinger.
func (c *Conn) Ping(ctx context.Context) error {
	if _, err := c.db.Exec(ctx, "SELECT 1"); err != nil {
		return fmt.Errorf("sqlproxy: ping failed: %w", err)
	}
	return nil
}

// QueryContext implements driver.QueryerContext.
func (c *Conn) QueryContext(ctx context.Context, query string, args []driver.NamedValue) (driver.Rows, error) {
	params, err := convertNamedValues(args)
	if err != nil {
		return nil, err
	}
	stmt, err := c.db.Prepare(ctx, query, params...)
	if err != nil {
		return nil, err
	}
	rows := &Rows{ctx: ctx, stmt: stmt, batchSize: c.batchSize}
	if err := rows.fetch(); err != nil {
		return nil, err
	}
	return rows, nil
}

// ExecContext implements driver.ExecerContext.
func (c *Conn) ExecContext(ctx context.Context, query string, args []driver.NamedValue) (driver.Result, error) {
	params, err := convertNamedValues(args)
	if err != nil {
		return nil, err
	}
	if _, err := c.db.Exec(ctx, query, params...); err != nil {
		return nil, err
	}
	return result{}, nil
}

func convertNamedValues(args []driver.NamedValue) ([]any, error) {
	params := make([]any, len(args))
	for i, arg := range args {
		if arg.Name != "" {
			return nil, fmt.Errorf("sqlproxy: named parameter %q is not supported", arg.Name)
		}
		switch v := arg.Value.(type) {
		case time.Time:
			params[i] = v.Format(time.RFC3339Nano)
		default:
			params[i] = v
		}
	}
	return params, nil
}

func namedValues(args []driver.Value) []driver.NamedValue {
	named := make([]driver.NamedValue, len(args))
	for i, v := range args {
		named[i] = driver.NamedValue{Ordinal: i + 1, Value: v}
	}
	return named
}

// --- Statement implementation ---

// Stmt implements the driver.Stmt interface.
type Stmt struct {
	conn  *Conn
	query string
}

// Close implements driver.Stmt.
func (s *Stmt) Close() error {
	return nil
}

// NumInput returns -1; the worker checks the parameter count.
func (s *Stmt) NumInput() int {
	return -1
}

// Exec implements driver.Stmt.
func (s *Stmt) Exec(args []driver.Value) (driver.Result, error) {
	return s.ExecContext(context.Background(), namedValues(args))
}

// ExecContext implements driver.StmtExecContext.
func (s *Stmt) ExecContext(ctx context.Context, args []driver.NamedValue) (driver.Result, error) {
	return s.conn.ExecContext(ctx, s.query, args)
}

// Query implements driver.Stmt.
func (s *Stmt) Query(args []driver.Value) (driver.Rows, error) {
	return s.QueryContext(context.Background(), namedValues(args))
}

// QueryContext implements driver.StmtQueryContext.
func (s *Stmt) QueryContext(ctx context.Context, args []driver.NamedValue) (driver.Rows, error) {
	return s.conn.QueryContext(ctx, s.query, args)
}

// --- Result implementation ---

type result struct{}

func (result) LastInsertId() (int64, error) {
	return 0, errors.New("sqlproxy: LastInsertId is not supported")
}

func (result) RowsAffected() (int64, error) {
	return 0, errors.New("sqlproxy: RowsAffected is not supported")
}

// --- Rows implementation ---

// Rows implements the driver.Rows interface by stepping a worker statement
// one batch at a time.
type Rows struct {
	ctx       context.Context
	stmt      *client.Statement
	batchSize int

	columns []string
	batch   []types.Row
	index   int
	done    bool
}

func (r *Rows) fetch() error {
	result, err := r.stmt.Step(r.ctx, 0, r.batchSize)
	if err != nil {
		return err
	}
	r.batch = result.Rows
	r.index = 0
	r.done = result.Done
	if r.columns == nil && len(r.batch) > 0 {
		r.columns = r.batch[0].Columns
	}
	return nil
}

// Columns returns the column names, learned from the first row.
func (r *Rows) Columns() []string {
	if r.columns == nil {
		return []string{}
	}
	return r.columns
}

// Close releases the worker statement if it was not exhausted.
func (r *Rows) Close() error {
	if r.done {
		return nil
	}
	r.done = true
	r.batch = nil
	return r.stmt.Delete(context.WithoutCancel(r.ctx))
}

// Next is called to populate the next row of data into the provided slice.
func (r *Rows) Next(dest []driver.Value) error {
	for r.index >= len(r.batch) {
		if r.done {
			return io.EOF
		}
		if err := r.fetch(); err != nil {
			return err
		}
	}

	row := r.batch[r.index]
	if len(row.Values) != len(dest) {
		return fmt.Errorf("sqlproxy: column count mismatch. Expected %d, got %d", len(dest), len(row.Values))
	}
	for i, v := range row.Values {
		dest[i] = v
	}
	r.index++
	return nil
}
