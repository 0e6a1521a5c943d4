// Package registry maps opaque handles to the databases and statements a
// worker owns.
//
// A Registry is owned by exactly one worker and is not safe for concurrent
// use; the worker's sequential message loop is what serialises access.
package registry

import (
	"errors"
	"fmt"

	"github.com/tomyedwab/sqlviewer/sqlproxy/engine"
	"github.com/tomyedwab/sqlviewer/sqlproxy/types"
)

// ErrNotFound is returned when a handle does not refer to a live resource.
var ErrNotFound = errors.New("handle not found")

// Statement is a registered prepared statement and the database it belongs to.
type Statement struct {
	Database types.Handle
	Cursor   engine.Cursor
}

// Registry holds the live databases and statements of one worker.
type Registry struct {
	databases  arena[engine.Database]
	statements arena[*Statement]
}

// New creates an empty Registry.
func New() *Registry {
	return &Registry{}
}

// AddDatabase registers db and returns its handle.
func (r *Registry) AddDatabase(db engine.Database) types.Handle {
	return r.databases.insert(db)
}

// Database resolves a database handle.
func (r *Registry) Database(h types.Handle) (engine.Database, error) {
	db, ok := r.databases.get(h)
	if !ok {
		return nil, fmt.Errorf("database %s: %w", h, ErrNotFound)
	}
	return db, nil
}

// AddStatement registers a cursor owned by the database db. The database must
// be live.
func (r *Registry) AddStatement(db types.Handle, cursor engine.Cursor) (types.Handle, error) {
	if _, ok := r.databases.get(db); !ok {
		return 0, fmt.Errorf("database %s: %w", db, ErrNotFound)
	}
	return r.statements.insert(&Statement{Database: db, Cursor: cursor}), nil
}

// Statement resolves a statement handle.
func (r *Registry) Statement(h types.Handle) (*Statement, error) {
	stmt, ok := r.statements.get(h)
	if !ok {
		return nil, fmt.Errorf("statement %s: %w", h, ErrNotFound)
	}
	return stmt, nil
}

// RemoveStatement unregisters a statement and returns it so the caller can
// release its cursor. It reports false if the handle was not live.
func (r *Registry) RemoveStatement(h types.Handle) (*Statement, bool) {
	return r.statements.remove(h)
}

// Len returns the number of live databases and statements.
func (r *Registry) Len() (databases, statements int) {
	return r.databases.live, r.statements.live
}

// Close releases every statement and then every database. The registry is
// empty afterwards.
func (r *Registry) Close() error {
	var errs []error
	var stmts []types.Handle
	r.statements.each(func(h types.Handle, _ *Statement) {
		stmts = append(stmts, h)
	})
	for _, h := range stmts {
		if stmt, ok := r.statements.remove(h); ok {
			if err := stmt.Cursor.Close(); err != nil {
				errs = append(errs, fmt.Errorf("close statement %s: %w", h, err))
			}
		}
	}

	var dbs []types.Handle
	r.databases.each(func(h types.Handle, _ engine.Database) {
		dbs = append(dbs, h)
	})
	for _, h := range dbs {
		if db, ok := r.databases.remove(h); ok {
			if err := db.Close(); err != nil {
				errs = append(errs, fmt.Errorf("close database %s: %w", h, err))
			}
		}
	}
	return errors.Join(errs...)
}
