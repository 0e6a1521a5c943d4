// Package sqlproxytest provides fixtures for tests that talk to a worker.
package sqlproxytest

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3" // SQLite driver

	"github.com/tomyedwab/sqlviewer/sqlproxy/engine"
	"github.com/tomyedwab/sqlviewer/sqlproxy/host"
	"github.com/tomyedwab/sqlviewer/sqlproxy/transport"
)

// SampleRows is the number of rows in sample_table.
const SampleRows = 6

// WriteSampleDatabase creates a database file holding sample_table (id
// INTEGER, content TEXT) with rows 1..SampleRows whose content is "line N",
// and a view sample_view over it. It returns the file path.
func WriteSampleDatabase(t testing.TB) string {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "sample.db")
	db := sqlx.MustConnect("sqlite3", dbPath)
	defer db.Close()

	db.MustExec(`CREATE TABLE sample_table (id INTEGER, content TEXT)`)
	for i := 1; i <= SampleRows; i++ {
		db.MustExec(`INSERT INTO sample_table (id, content) VALUES ($1, $2)`, i, fmt.Sprintf("line %d", i))
	}
	db.MustExec(`CREATE VIEW sample_view AS SELECT id FROM sample_table`)
	return dbPath
}

// SampleDatabase returns the bytes of the database written by
// WriteSampleDatabase.
func SampleDatabase(t testing.TB) []byte {
	t.Helper()
	data, err := os.ReadFile(WriteSampleDatabase(t))
	if err != nil {
		t.Fatalf("Failed to read sample database: %v", err)
	}
	return data
}

// StartWorker runs a worker on a goroutine behind an in-process pipe and
// returns the client end. config.Engine defaults to a SQLite engine with
// scratch files under a test directory. Everything is torn down when the
// test ends.
func StartWorker(t testing.TB, config host.Config) transport.Transport {
	t.Helper()
	if config.Engine == nil {
		eng, err := engine.NewSQLite(engine.SQLiteConfig{ScratchDir: t.TempDir()})
		if err != nil {
			t.Fatalf("NewSQLite returned error: %v", err)
		}
		config.Engine = eng
	}

	clientEnd, workerEnd := transport.Pipe(16)
	worker := host.NewWorker(config)
	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		worker.Serve(context.Background(), workerEnd)
	}()

	t.Cleanup(func() {
		clientEnd.Close()
		select {
		case <-stopped:
		case <-time.After(5 * time.Second):
			t.Errorf("worker did not stop")
		}
		worker.Close()
	})
	return clientEnd
}
