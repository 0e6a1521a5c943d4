package host

import (
	"errors"
	"fmt"

	"github.com/tomyedwab/sqlviewer/sqlproxy/engine"
	"github.com/tomyedwab/sqlviewer/sqlproxy/types"
)

var errInvalidRange = errors.New("invalid step range")

// paginate advances cursor up to end times and returns the rows produced at
// iteration index start or later. done is true when the cursor ran out, in
// which case fewer than end advances may have happened.
//
// end == 0 never touches the cursor. start > end advances end rows and
// discards them all.
func paginate(cursor engine.Cursor, start, end int) (rows []types.Row, done bool, err error) {
	if start < 0 || end < 0 {
		return nil, false, fmt.Errorf("%w: start=%d end=%d", errInvalidRange, start, end)
	}

	rows = []types.Row{}
	for i := 0; i < end; i++ {
		ok, err := cursor.Step()
		if err != nil {
			return nil, false, fmt.Errorf("failed to step statement: %w", err)
		}
		if !ok {
			return rows, true, nil
		}
		if i >= start {
			row, err := cursor.Row()
			if err != nil {
				return nil, false, fmt.Errorf("failed to read row: %w", err)
			}
			rows = append(rows, row)
		}
	}
	return rows, false, nil
}
