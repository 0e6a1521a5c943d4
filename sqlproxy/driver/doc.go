// Package driver implements a database/sql/driver on top of a worker
// database handle.
//
// Queries run in the worker that owns the database. Result rows are not
// fetched all at once: each *sql.Rows holds a worker statement and steps it
// in batches as the caller iterates, deleting it when the rows are closed
// early.
//
// Usage:
//
//	c := client.New(t)
//	db, err := c.Open(ctx, client.Descriptor{Href: "https://example.com/test.db"})
//	if err != nil {
//	    // handle error
//	}
//	sqlDB := sql.OpenDB(driver.NewConnector(db))
//	defer sqlDB.Close()
//
// The resulting *sql.DB can also be wrapped with sqlx.NewDb(sqlDB, "sqlproxy").
//
// Limitations:
//
//   - Transactions are not supported; Begin returns an error.
//   - Exec results do not report LastInsertId or RowsAffected.
//   - Parameters are positional; named arguments are rejected.
//   - A query that produces no rows reports no columns.
//   - Blob values read through a stream transport arrive as base64 strings.
package driver
