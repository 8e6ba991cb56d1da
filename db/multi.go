package db

import (
	"context"
	"fmt"
	"strings"
)

// MultiInserter makes it easy to construct an
// `INSERT INTO table (...) VALUES (...), (...), ...;` query that inserts
// multiple rows into the same table in one round trip.
type MultiInserter struct {
	table     string
	fields    string
	numFields int
	values    [][]interface{}
}

// NewMultiInserter creates a new MultiInserter, checking for a reasonable
// table name and list of fields.
func NewMultiInserter(table string, fields string) (*MultiInserter, error) {
	numFields := len(strings.Split(fields, ","))
	if len(table) == 0 || len(fields) == 0 || numFields == 0 {
		return nil, fmt.Errorf("empty table name or fields list")
	}
	return &MultiInserter{
		table:     table,
		fields:    fields,
		numFields: numFields,
		values:    make([][]interface{}, 0),
	}, nil
}

// Add registers another row to be included in the Insert query.
func (mi *MultiInserter) Add(row []interface{}) error {
	if len(row) != mi.numFields {
		return fmt.Errorf("field count mismatch, got %d, expected %d", len(row), mi.numFields)
	}
	mi.values = append(mi.values, row)
	return nil
}

// query returns the formatted query string and its flattened arguments.
func (mi *MultiInserter) query() (string, []interface{}) {
	questionsRow := strings.TrimRight(strings.Repeat("?,", mi.numFields), ",")

	var questionsBuf strings.Builder
	var queryArgs []interface{}
	for _, row := range mi.values {
		fmt.Fprintf(&questionsBuf, "(%s),", questionsRow)
		queryArgs = append(queryArgs, row...)
	}
	questions := strings.TrimRight(questionsBuf.String(), ",")

	query := fmt.Sprintf("INSERT INTO %s (%s) VALUES %s", mi.table, mi.fields, questions)
	return query, queryArgs
}

// Insert performs the insert represented by the accumulated rows. It is a
// no-op if no rows were added.
func (mi *MultiInserter) Insert(ctx context.Context, exec Execer) error {
	if len(mi.values) == 0 {
		return nil
	}
	query, queryArgs := mi.query()
	_, err := exec.ExecContext(ctx, query, queryArgs...)
	return err
}
