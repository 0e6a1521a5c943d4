package host_test

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tomyedwab/sqlviewer/sqlproxy/engine"
	"github.com/tomyedwab/sqlviewer/sqlproxy/host"
	"github.com/tomyedwab/sqlviewer/sqlproxy/source"
	"github.com/tomyedwab/sqlviewer/sqlproxy/sqlproxytest"
	"github.com/tomyedwab/sqlviewer/sqlproxy/transport"
	"github.com/tomyedwab/sqlviewer/sqlproxy/types"
)

// fakeSource serves fixed bytes for every href, reporting the given progress
// first.
type fakeSource struct {
	data     []byte
	progress []types.Progress
	panics   bool
}

func (f *fakeSource) Fetch(ctx context.Context, ref string, progress source.ProgressFunc) ([]byte, error) {
	if f.panics {
		panic("fetch exploded")
	}
	for _, p := range f.progress {
		progress(p)
	}
	return f.data, nil
}

func (f *fakeSource) ReadFile(ctx context.Context, path string) ([]byte, error) {
	return os.ReadFile(path)
}

func newTestWorker(t *testing.T, config host.Config) *host.Worker {
	t.Helper()
	if config.Engine == nil {
		eng, err := engine.NewSQLite(engine.SQLiteConfig{ScratchDir: t.TempDir()})
		require.NoError(t, err)
		config.Engine = eng
	}
	w := host.NewWorker(config)
	t.Cleanup(func() { w.Close() })
	return w
}

// call handles req and returns the progress replies and the terminal reply.
func call(t *testing.T, w *host.Worker, req types.Request) ([]types.Message, types.Message) {
	t.Helper()
	m := types.NewRequest("mid-"+string(req.Kind()), req)
	var replies []types.Message
	w.Handle(context.Background(), m, func(reply types.Message) {
		replies = append(replies, reply)
	})

	require.NotEmpty(t, replies)
	var terminals int
	for _, r := range replies {
		assert.Equal(t, m.CorrelationID, r.CorrelationID)
		assert.Equal(t, m.Kind, r.Kind)
		if r.IsTerminal() {
			terminals++
		}
	}
	require.Equal(t, 1, terminals, "exactly one terminal reply")
	last := replies[len(replies)-1]
	require.True(t, last.IsTerminal(), "terminal reply comes last")
	return replies[:len(replies)-1], last
}

func mustSucceed(t *testing.T, w *host.Worker, req types.Request) types.Response {
	t.Helper()
	_, reply := call(t, w, req)
	require.Empty(t, reply.Error)
	return reply.Response
}

func mustFail(t *testing.T, w *host.Worker, req types.Request) string {
	t.Helper()
	_, reply := call(t, w, req)
	require.NotEmpty(t, reply.Error)
	assert.Nil(t, reply.Response)
	return reply.Error
}

func openSample(t *testing.T, w *host.Worker) types.Handle {
	t.Helper()
	resp := mustSucceed(t, w, &types.OpenRequest{File: sqlproxytest.WriteSampleDatabase(t)})
	return resp.(*types.OpenResponse).ID
}

func prepare(t *testing.T, w *host.Worker, db types.Handle, query string, params ...any) types.Handle {
	t.Helper()
	resp := mustSucceed(t, w, &types.PrepareRequest{DatabaseID: db, Statement: query, Params: params})
	return resp.(*types.PrepareResponse).ID
}

func step(t *testing.T, w *host.Worker, stmt types.Handle, start, end int) *types.StepResponse {
	t.Helper()
	return mustSucceed(t, w, &types.StepRequest{StatementID: stmt, Start: start, End: end}).(*types.StepResponse)
}

func ids(t *testing.T, rows []types.Row) []int64 {
	t.Helper()
	out := make([]int64, 0, len(rows))
	for _, row := range rows {
		v, ok := row.Get("id")
		require.True(t, ok)
		out = append(out, v.(int64))
	}
	return out
}

func TestStepWholeTable(t *testing.T) {
	w := newTestWorker(t, host.Config{})
	db := openSample(t, w)
	stmt := prepare(t, w, db, "SELECT * FROM sample_table")

	resp := step(t, w, stmt, 0, 60)
	assert.True(t, resp.Done)
	require.Len(t, resp.Results, sqlproxytest.SampleRows)
	assert.Equal(t, []int64{1, 2, 3, 4, 5, 6}, ids(t, resp.Results))
	assert.Equal(t, []string{"id", "content"}, resp.Results[0].Columns)
	content, _ := resp.Results[2].Get("content")
	assert.Equal(t, "line 3", content)

	_, stmts := w.Registry().Len()
	assert.Equal(t, 0, stmts, "exhausted statement is released")

	msg := mustFail(t, w, &types.StepRequest{StatementID: stmt, Start: 0, End: 60})
	assert.Contains(t, msg, "not found")
}

func TestStepBatchesPreserveOrder(t *testing.T) {
	w := newTestWorker(t, host.Config{})
	db := openSample(t, w)
	stmt := prepare(t, w, db, "SELECT id FROM sample_table ORDER BY id")

	var all []int64
	for {
		resp := step(t, w, stmt, 0, 4)
		all = append(all, ids(t, resp.Results)...)
		if resp.Done {
			break
		}
		assert.Len(t, resp.Results, 4)
	}
	assert.Equal(t, []int64{1, 2, 3, 4, 5, 6}, all)
}

func TestStepZeroEndDoesNotAdvance(t *testing.T) {
	w := newTestWorker(t, host.Config{})
	db := openSample(t, w)
	stmt := prepare(t, w, db, "SELECT id FROM sample_table ORDER BY id")

	resp := step(t, w, stmt, 0, 0)
	assert.False(t, resp.Done)
	assert.Empty(t, resp.Results)
	assert.NotNil(t, resp.Results)

	resp = step(t, w, stmt, 0, 1)
	assert.Equal(t, []int64{1}, ids(t, resp.Results))
}

func TestStepStartPastEndWarmsCursor(t *testing.T) {
	w := newTestWorker(t, host.Config{})
	db := openSample(t, w)
	stmt := prepare(t, w, db, "SELECT id FROM sample_table ORDER BY id")

	resp := step(t, w, stmt, 5, 3)
	assert.Empty(t, resp.Results)
	assert.False(t, resp.Done)

	resp = step(t, w, stmt, 0, 1)
	assert.Equal(t, []int64{4}, ids(t, resp.Results))

	resp = step(t, w, stmt, 1, 3)
	assert.Equal(t, []int64{6}, ids(t, resp.Results), "rows before start are skipped")
	assert.True(t, resp.Done)
}

func TestStepRejectsNegativeRange(t *testing.T) {
	w := newTestWorker(t, host.Config{})
	db := openSample(t, w)
	stmt := prepare(t, w, db, "SELECT id FROM sample_table ORDER BY id")

	mustFail(t, w, &types.StepRequest{StatementID: stmt, Start: -1, End: 2})
	mustFail(t, w, &types.StepRequest{StatementID: stmt, Start: 0, End: -2})

	resp := step(t, w, stmt, 0, 1)
	assert.Equal(t, []int64{1}, ids(t, resp.Results), "rejected range leaves the cursor untouched")
}

func TestPrepareWithParams(t *testing.T) {
	w := newTestWorker(t, host.Config{})
	db := openSample(t, w)
	stmt := prepare(t, w, db, "SELECT id FROM sample_table WHERE id > ? ORDER BY id", int64(4))

	resp := step(t, w, stmt, 0, 60)
	assert.Equal(t, []int64{5, 6}, ids(t, resp.Results))
	assert.True(t, resp.Done)
}

func TestPrepareInvalidSQLAllocatesNothing(t *testing.T) {
	w := newTestWorker(t, host.Config{})
	db := openSample(t, w)
	before, stmtsBefore := w.Registry().Len()

	mustFail(t, w, &types.PrepareRequest{DatabaseID: db, Statement: "SELEC nonsense FROM"})

	after, stmtsAfter := w.Registry().Len()
	assert.Equal(t, before, after)
	assert.Equal(t, stmtsBefore, stmtsAfter)
}

func TestPrepareUnknownDatabase(t *testing.T) {
	w := newTestWorker(t, host.Config{})
	msg := mustFail(t, w, &types.PrepareRequest{DatabaseID: 12345, Statement: "SELECT 1"})
	assert.Contains(t, msg, "not found")
}

func TestDeleteIsIdempotent(t *testing.T) {
	w := newTestWorker(t, host.Config{})
	db := openSample(t, w)
	stmt := prepare(t, w, db, "SELECT * FROM sample_table")

	mustSucceed(t, w, &types.DeleteRequest{StatementID: stmt})
	mustSucceed(t, w, &types.DeleteRequest{StatementID: stmt})
	mustSucceed(t, w, &types.DeleteRequest{StatementID: 999})

	mustFail(t, w, &types.StepRequest{StatementID: stmt, Start: 0, End: 1})
	_, stmts := w.Registry().Len()
	assert.Equal(t, 0, stmts)
}

func TestExec(t *testing.T) {
	w := newTestWorker(t, host.Config{})
	db := openSample(t, w)

	resp := mustSucceed(t, w, &types.ExecRequest{DatabaseID: db, Statement: "SELECT count(*) AS n FROM sample_table"})
	results := resp.(*types.ExecResponse).Results
	require.Len(t, results, 1)
	assert.Equal(t, []string{"n"}, results[0].Columns)
	assert.Equal(t, [][]any{{int64(6)}}, results[0].Values)

	resp = mustSucceed(t, w, &types.ExecRequest{DatabaseID: db, Statement: "CREATE TABLE extra (x INTEGER)"})
	assert.NotNil(t, resp.(*types.ExecResponse).Results)
	assert.Empty(t, resp.(*types.ExecResponse).Results)

	mustFail(t, w, &types.ExecRequest{DatabaseID: db, Statement: "SELECT * FROM no_such_table"})
}

func TestBufferRoundTrip(t *testing.T) {
	w := newTestWorker(t, host.Config{})
	db := openSample(t, w)
	mustSucceed(t, w, &types.ExecRequest{DatabaseID: db, Statement: "INSERT INTO sample_table (id, content) VALUES (7, 'line 7')"})

	resp := mustSucceed(t, w, &types.BufferRequest{DatabaseID: db})
	data := resp.(*types.BufferResponse).Buffer
	require.NotEmpty(t, data)

	path := filepath.Join(t.TempDir(), "export.db")
	require.NoError(t, os.WriteFile(path, data, 0o600))
	copyID := mustSucceed(t, w, &types.OpenRequest{File: path}).(*types.OpenResponse).ID
	assert.NotEqual(t, db, copyID)

	stmt := prepare(t, w, copyID, "SELECT id FROM sample_table ORDER BY id")
	assert.Equal(t, []int64{1, 2, 3, 4, 5, 6, 7}, ids(t, step(t, w, stmt, 0, 60).Results))
}

func TestOpenEmptyDatabase(t *testing.T) {
	w := newTestWorker(t, host.Config{})
	db := mustSucceed(t, w, &types.OpenRequest{}).(*types.OpenResponse).ID

	resp := mustSucceed(t, w, &types.ExecRequest{DatabaseID: db, Statement: "SELECT name FROM sqlite_master"})
	assert.Empty(t, resp.(*types.ExecResponse).Results)
}

func TestOpenHrefReportsProgressBeforeReply(t *testing.T) {
	src := &fakeSource{
		data: sqlproxytest.SampleDatabase(t),
		progress: []types.Progress{
			{Loaded: 10, Total: 30},
			{Loaded: 20, Total: 30},
			{Loaded: 30, Total: 30},
		},
	}
	w := newTestWorker(t, host.Config{Source: src})

	progress, reply := call(t, w, &types.OpenRequest{Href: "https://example.invalid/test.db"})
	require.Empty(t, reply.Error)
	require.Len(t, progress, 3)
	for i, p := range progress {
		assert.True(t, p.IsProgress())
		assert.Equal(t, src.progress[i], *p.Progress)
	}
}

func TestOpenUnreachableHref(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	w := newTestWorker(t, host.Config{})
	progress, reply := call(t, w, &types.OpenRequest{Href: url + "/test.db"})
	assert.NotEmpty(t, reply.Error)
	assert.Empty(t, progress)

	dbs, _ := w.Registry().Len()
	assert.Equal(t, 0, dbs)
}

func TestOpenGarbageFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "garbage.db")
	require.NoError(t, os.WriteFile(path, []byte("this is a text file and not a database at all, sorry"), 0o600))

	w := newTestWorker(t, host.Config{})
	mustFail(t, w, &types.OpenRequest{File: path})
	mustFail(t, w, &types.OpenRequest{File: filepath.Join(t.TempDir(), "missing.db")})
	mustFail(t, w, &types.OpenRequest{File: path, Href: "https://example.invalid/x.db"})

	dbs, _ := w.Registry().Len()
	assert.Equal(t, 0, dbs)
}

func TestPanicBecomesErrorReply(t *testing.T) {
	w := newTestWorker(t, host.Config{Source: &fakeSource{panics: true}})

	msg := mustFail(t, w, &types.OpenRequest{Href: "https://example.invalid/boom.db"})
	assert.Contains(t, msg, "internal error")

	mustSucceed(t, w, &types.OpenRequest{})
}

func TestMissingPayload(t *testing.T) {
	w := newTestWorker(t, host.Config{})
	var replies []types.Message
	w.Handle(context.Background(), types.Message{CorrelationID: "x", Kind: types.KindStep}, func(m types.Message) {
		replies = append(replies, m)
	})
	require.Len(t, replies, 1)
	assert.Contains(t, replies[0].Error, "missing step request payload")
}

func TestServe(t *testing.T) {
	w := newTestWorker(t, host.Config{})
	clientEnd, workerEnd := transport.Pipe(4)

	served := make(chan error, 1)
	go func() { served <- w.Serve(context.Background(), workerEnd) }()

	ctx := context.Background()
	ready, err := clientEnd.Receive(ctx)
	require.NoError(t, err)
	assert.Equal(t, types.KindReady, ready.Kind)

	require.NoError(t, clientEnd.Send(ctx, types.NewRequest("a", &types.OpenRequest{})))
	reply, err := clientEnd.Receive(ctx)
	require.NoError(t, err)
	assert.Equal(t, "a", reply.CorrelationID)
	assert.IsType(t, &types.OpenResponse{}, reply.Response)

	require.NoError(t, clientEnd.Close())
	assert.NoError(t, <-served)
}

// sizeLimitedTransport refuses buffer replies larger than limit the way a
// stream refuses an over-long line.
type sizeLimitedTransport struct {
	transport.Transport
	limit int
}

func (l sizeLimitedTransport) Send(ctx context.Context, m types.Message) error {
	if resp, ok := m.Response.(*types.BufferResponse); ok && len(resp.Buffer) > l.limit {
		return fmt.Errorf("%w: %d bytes", transport.ErrMessageTooLarge, len(resp.Buffer))
	}
	return l.Transport.Send(ctx, m)
}

func TestServeFailsOnlyTheOversizedReply(t *testing.T) {
	w := newTestWorker(t, host.Config{})
	clientEnd, workerEnd := transport.Pipe(4)

	served := make(chan error, 1)
	go func() { served <- w.Serve(context.Background(), sizeLimitedTransport{Transport: workerEnd, limit: 16}) }()

	ctx := context.Background()
	_, err := clientEnd.Receive(ctx)
	require.NoError(t, err)

	require.NoError(t, clientEnd.Send(ctx, types.NewRequest("open", &types.OpenRequest{File: sqlproxytest.WriteSampleDatabase(t)})))
	opened, err := clientEnd.Receive(ctx)
	require.NoError(t, err)
	require.Empty(t, opened.Error)
	db := opened.Response.(*types.OpenResponse).ID

	require.NoError(t, clientEnd.Send(ctx, types.NewRequest("big", &types.BufferRequest{DatabaseID: db})))
	reply, err := clientEnd.Receive(ctx)
	require.NoError(t, err)
	assert.Equal(t, "big", reply.CorrelationID)
	assert.True(t, reply.IsTerminal())
	assert.Contains(t, reply.Error, "message too large")

	require.NoError(t, clientEnd.Send(ctx, types.NewRequest("next", &types.ExecRequest{DatabaseID: db, Statement: "SELECT 1"})))
	reply, err = clientEnd.Receive(ctx)
	require.NoError(t, err)
	assert.Equal(t, "next", reply.CorrelationID)
	assert.Empty(t, reply.Error)

	require.NoError(t, clientEnd.Close())
	assert.NoError(t, <-served)
}

func TestMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := host.NewMetrics(reg)
	w := newTestWorker(t, host.Config{Metrics: metrics})

	db := openSample(t, w)
	prepare(t, w, db, "SELECT * FROM sample_table")
	mustFail(t, w, &types.PrepareRequest{DatabaseID: db, Statement: "nonsense"})

	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.Requests().WithLabelValues("open", host.Succeeded)))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.Requests().WithLabelValues("prepare", host.Succeeded)))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.Requests().WithLabelValues("prepare", host.Failed)))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.Handles().WithLabelValues("database")))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.Handles().WithLabelValues("statement")))

	require.NoError(t, w.Close())
	assert.Equal(t, 0.0, testutil.ToFloat64(metrics.Handles().WithLabelValues("database")))
	assert.Equal(t, 0.0, testutil.ToFloat64(metrics.Handles().WithLabelValues("statement")))
}
