package driver

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tomyedwab/sqlviewer/sqlproxy/client"
	"github.com/tomyedwab/sqlviewer/sqlproxy/host"
	"github.com/tomyedwab/sqlviewer/sqlproxy/sqlproxytest"
)

type sampleRow struct {
	ID      int64  `db:"id"`
	Content string `db:"content"`
}

func openSample(t *testing.T, options ...ConnectorOption) *sqlx.DB {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	c := client.New(sqlproxytest.StartWorker(t, host.Config{}))
	require.NoError(t, c.Ready(ctx))
	db, err := c.Open(ctx, client.Descriptor{File: sqlproxytest.WriteSampleDatabase(t)})
	require.NoError(t, err)

	sqlDB := sqlx.NewDb(sql.OpenDB(NewConnector(db, options...)), driverName)
	t.Cleanup(func() { sqlDB.Close() })
	return sqlDB
}

func TestSelectAcrossBatches(t *testing.T) {
	db := openSample(t, WithBatchSize(4))

	var rows []sampleRow
	require.NoError(t, db.Select(&rows, "SELECT id, content FROM sample_table ORDER BY id"))
	require.Len(t, rows, sqlproxytest.SampleRows)
	for i, row := range rows {
		assert.Equal(t, int64(i+1), row.ID)
	}
	assert.Equal(t, "line 6", rows[5].Content)
}

func TestGetWithParameter(t *testing.T) {
	db := openSample(t)

	var row sampleRow
	require.NoError(t, db.Get(&row, "SELECT id, content FROM sample_table WHERE id = ?", 3))
	assert.Equal(t, sampleRow{ID: 3, Content: "line 3"}, row)

	var count int
	require.NoError(t, db.Get(&count, "SELECT count(*) FROM sample_table"))
	assert.Equal(t, 6, count)

	err := db.Get(&row, "SELECT id, content FROM sample_table WHERE id = ?", 100)
	assert.ErrorIs(t, err, sql.ErrNoRows)
}

func TestExecThenQuery(t *testing.T) {
	db := openSample(t)

	_, err := db.Exec("INSERT INTO sample_table (id, content) VALUES (?, ?)", 7, "line 7")
	require.NoError(t, err)

	var count int
	require.NoError(t, db.Get(&count, "SELECT count(*) FROM sample_table"))
	assert.Equal(t, 7, count)

	res, err := db.Exec("DELETE FROM sample_table WHERE id = 7")
	require.NoError(t, err)
	_, err = res.RowsAffected()
	assert.Error(t, err)
}

func TestRowsClosedEarly(t *testing.T) {
	db := openSample(t, WithBatchSize(2))

	rows, err := db.Queryx("SELECT id FROM sample_table ORDER BY id")
	require.NoError(t, err)
	require.True(t, rows.Next())
	var id int64
	require.NoError(t, rows.Scan(&id))
	assert.Equal(t, int64(1), id)
	require.NoError(t, rows.Close())

	require.NoError(t, db.Ping())
}

func TestUnsupportedFeatures(t *testing.T) {
	db := openSample(t)

	_, err := db.Begin()
	assert.ErrorIs(t, err, ErrNoTransactions)

	_, err = db.Exec("SELECT * FROM sample_table WHERE id = :id", sql.Named("id", 1))
	assert.Error(t, err)

	_, err = sql.Open(driverName, "anything")
	require.NoError(t, err, "sql.Open defers connecting")
}

func TestQueryErrors(t *testing.T) {
	db := openSample(t)

	_, err := db.Query("SELECT * FROM missing_table")
	require.Error(t, err)
	assert.True(t, client.IsPrepareError(err), "%v", err)
}
