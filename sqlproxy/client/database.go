package client

import (
	"context"
	"fmt"

	"github.com/tomyedwab/sqlviewer/sqlproxy/types"
)

// DefaultBatchSize is the number of rows requested per step when no batch
// size is given.
const DefaultBatchSize = 60

// tablesQuery lists user tables and views in name order.
const tablesQuery = `SELECT name FROM sqlite_master WHERE type IN ('table', 'view') AND name NOT LIKE 'sqlite_%' ORDER BY 1`

// Database is a handle to a database living in the worker. It stays valid
// until the worker stops.
type Database struct {
	client *Client
	id     types.Handle
}

// ID returns the worker-side handle.
func (d *Database) ID() types.Handle {
	return d.id
}

// Prepare compiles query and returns a statement positioned before the first
// row.
func (d *Database) Prepare(ctx context.Context, query string, params ...any) (*Statement, error) {
	resp, err := d.client.call(ctx, &types.PrepareRequest{DatabaseID: d.id, Statement: query, Params: params}, nil)
	if err != nil {
		return nil, err
	}
	return &Statement{client: d.client, db: d, id: resp.(*types.PrepareResponse).ID}, nil
}

// Exec runs every statement in query to completion and returns one result
// set per statement that produced rows.
func (d *Database) Exec(ctx context.Context, query string, params ...any) ([]types.ResultSet, error) {
	resp, err := d.client.call(ctx, &types.ExecRequest{DatabaseID: d.id, Statement: query, Params: params}, nil)
	if err != nil {
		return nil, err
	}
	return resp.(*types.ExecResponse).Results, nil
}

// Tables returns the names of the tables and views in the database.
func (d *Database) Tables(ctx context.Context) ([]string, error) {
	results, err := d.Exec(ctx, tablesQuery)
	if err != nil {
		return nil, err
	}
	names := []string{}
	for _, rs := range results {
		for _, row := range rs.Values {
			if len(row) == 0 {
				continue
			}
			switch v := row[0].(type) {
			case string:
				names = append(names, v)
			case []byte:
				names = append(names, string(v))
			default:
				names = append(names, fmt.Sprint(v))
			}
		}
	}
	return names, nil
}

// Buffer exports the whole database as SQLite file bytes.
func (d *Database) Buffer(ctx context.Context) ([]byte, error) {
	resp, err := d.client.call(ctx, &types.BufferRequest{DatabaseID: d.id}, nil)
	if err != nil {
		return nil, err
	}
	return resp.(*types.BufferResponse).Buffer, nil
}

// StepResult is one batch of rows. Once Done is true the statement has been
// released and further steps fail.
type StepResult struct {
	Rows []types.Row
	Done bool
}

// Statement is a handle to a prepared statement cursor in the worker.
type Statement struct {
	client *Client
	db     *Database
	id     types.Handle
}

// ID returns the worker-side handle.
func (s *Statement) ID() types.Handle {
	return s.id
}

// Database returns the database the statement belongs to.
func (s *Statement) Database() *Database {
	return s.db
}

// Step advances the cursor up to end times and returns the rows produced at
// iteration index start or later.
func (s *Statement) Step(ctx context.Context, start, end int) (StepResult, error) {
	resp, err := s.client.call(ctx, &types.StepRequest{StatementID: s.id, Start: start, End: end}, nil)
	if err != nil {
		return StepResult{}, err
	}
	step := resp.(*types.StepResponse)
	return StepResult{Rows: step.Results, Done: step.Done}, nil
}

// Delete releases the statement. Deleting a released statement succeeds.
func (s *Statement) Delete(ctx context.Context) error {
	_, err := s.client.call(ctx, &types.DeleteRequest{StatementID: s.id}, nil)
	return err
}

// Collect steps through the remaining rows in batches of batch rows. A
// batch of zero or less uses DefaultBatchSize.
func (s *Statement) Collect(ctx context.Context, batch int) ([]types.Row, error) {
	if batch <= 0 {
		batch = DefaultBatchSize
	}
	rows := []types.Row{}
	for {
		result, err := s.Step(ctx, 0, batch)
		if err != nil {
			return nil, err
		}
		rows = append(rows, result.Rows...)
		if result.Done {
			return rows, nil
		}
	}
}
