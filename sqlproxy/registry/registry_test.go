package registry

import (
	"context"
	"errors"
	"testing"

	"github.com/tomyedwab/sqlviewer/sqlproxy/engine"
	"github.com/tomyedwab/sqlviewer/sqlproxy/types"
)

type fakeDatabase struct {
	closed bool
}

func (d *fakeDatabase) Prepare(ctx context.Context, query string, params []any) (engine.Cursor, error) {
	return &fakeCursor{}, nil
}

func (d *fakeDatabase) Exec(ctx context.Context, query string, params []any) ([]types.ResultSet, error) {
	return nil, nil
}

func (d *fakeDatabase) Export(ctx context.Context) ([]byte, error) {
	return nil, nil
}

func (d *fakeDatabase) Close() error {
	d.closed = true
	return nil
}

type fakeCursor struct {
	closed bool
}

func (c *fakeCursor) Step() (bool, error)     { return false, nil }
func (c *fakeCursor) Row() (types.Row, error) { return types.Row{}, nil }
func (c *fakeCursor) Close() error            { c.closed = true; return nil }

func TestAddAndResolve(t *testing.T) {
	r := New()
	db := &fakeDatabase{}
	dbh := r.AddDatabase(db)
	if dbh == 0 {
		t.Fatal("AddDatabase returned the zero handle")
	}

	got, err := r.Database(dbh)
	if err != nil {
		t.Fatalf("Database returned error: %v", err)
	}
	if got != db {
		t.Fatal("Database resolved to a different instance")
	}

	cursor := &fakeCursor{}
	sh, err := r.AddStatement(dbh, cursor)
	if err != nil {
		t.Fatalf("AddStatement returned error: %v", err)
	}
	stmt, err := r.Statement(sh)
	if err != nil {
		t.Fatalf("Statement returned error: %v", err)
	}
	if stmt.Database != dbh || stmt.Cursor != cursor {
		t.Errorf("unexpected statement entry: %+v", stmt)
	}

	dbs, stmts := r.Len()
	if dbs != 1 || stmts != 1 {
		t.Errorf("Len() = %d, %d; want 1, 1", dbs, stmts)
	}
}

func TestZeroHandleNeverResolves(t *testing.T) {
	r := New()
	r.AddDatabase(&fakeDatabase{})
	if _, err := r.Database(0); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound for the zero handle, got %v", err)
	}
	if _, err := r.Statement(0); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound for the zero statement handle, got %v", err)
	}
}

func TestStatementRequiresLiveDatabase(t *testing.T) {
	r := New()
	if _, err := r.AddStatement(types.Handle(1<<32), &fakeCursor{}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if _, stmts := r.Len(); stmts != 0 {
		t.Errorf("expected no statements, got %d", stmts)
	}
}

func TestRemovedHandleIsNotReused(t *testing.T) {
	r := New()
	dbh := r.AddDatabase(&fakeDatabase{})

	first, err := r.AddStatement(dbh, &fakeCursor{})
	if err != nil {
		t.Fatalf("AddStatement returned error: %v", err)
	}
	if _, ok := r.RemoveStatement(first); !ok {
		t.Fatal("RemoveStatement reported the statement missing")
	}
	if _, ok := r.RemoveStatement(first); ok {
		t.Fatal("second RemoveStatement should report false")
	}

	second, err := r.AddStatement(dbh, &fakeCursor{})
	if err != nil {
		t.Fatalf("AddStatement returned error: %v", err)
	}
	if second == first {
		t.Fatal("a freed handle was handed out again")
	}
	if uint32(second) != uint32(first) {
		t.Errorf("expected the slot to be reused, got %s after %s", second, first)
	}

	if _, err := r.Statement(first); !errors.Is(err, ErrNotFound) {
		t.Errorf("stale handle resolved: %v", err)
	}
	if _, err := r.Statement(second); err != nil {
		t.Errorf("live handle failed to resolve: %v", err)
	}
}

func TestClose(t *testing.T) {
	r := New()
	db1, db2 := &fakeDatabase{}, &fakeDatabase{}
	h1 := r.AddDatabase(db1)
	r.AddDatabase(db2)
	c1, c2 := &fakeCursor{}, &fakeCursor{}
	if _, err := r.AddStatement(h1, c1); err != nil {
		t.Fatal(err)
	}
	if _, err := r.AddStatement(h1, c2); err != nil {
		t.Fatal(err)
	}

	if err := r.Close(); err != nil {
		t.Fatalf("Close returned error: %v", err)
	}
	if !db1.closed || !db2.closed || !c1.closed || !c2.closed {
		t.Error("Close did not release every resource")
	}
	dbs, stmts := r.Len()
	if dbs != 0 || stmts != 0 {
		t.Errorf("Len() after Close = %d, %d", dbs, stmts)
	}
}
