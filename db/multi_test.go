package db

import (
	"context"
	"database/sql"
	"testing"

	"github.com/letsencrypt/gsb/internal/test"
)

type fakeExecer struct {
	query string
	args  []interface{}
}

func (f *fakeExecer) ExecContext(_ context.Context, query string, args ...interface{}) (sql.Result, error) {
	f.query = query
	f.args = args
	return nil, nil
}

func TestNewMultiInserterRejectsEmptyArgs(t *testing.T) {
	_, err := NewMultiInserter("", "a,b")
	test.AssertError(t, err, "expected error for empty table name")

	_, err = NewMultiInserter("t", "")
	test.AssertError(t, err, "expected error for empty fields")
}

func TestMultiInserterAddRejectsWrongArity(t *testing.T) {
	mi, err := NewMultiInserter("t", "a,b,c")
	test.AssertNotError(t, err, "constructing inserter")

	err = mi.Add([]interface{}{1, 2})
	test.AssertError(t, err, "expected arity mismatch error")
}

func TestMultiInserterBuildsOneStatementForAllRows(t *testing.T) {
	mi, err := NewMultiInserter("widgets", "a,b")
	test.AssertNotError(t, err, "constructing inserter")

	test.AssertNotError(t, mi.Add([]interface{}{"x", 1}), "adding row 1")
	test.AssertNotError(t, mi.Add([]interface{}{"y", 2}), "adding row 2")

	fe := &fakeExecer{}
	err = mi.Insert(context.Background(), fe)
	test.AssertNotError(t, err, "inserting")
	test.AssertEquals(t, fe.query, "INSERT INTO widgets (a,b) VALUES (?,?),(?,?)")
	test.AssertDeepEquals(t, fe.args, []interface{}{"x", 1, "y", 2})
}

func TestMultiInserterNoopOnEmpty(t *testing.T) {
	mi, err := NewMultiInserter("widgets", "a,b")
	test.AssertNotError(t, err, "constructing inserter")

	fe := &fakeExecer{}
	err = mi.Insert(context.Background(), fe)
	test.AssertNotError(t, err, "inserting empty set")
	test.AssertEquals(t, fe.query, "")
}
