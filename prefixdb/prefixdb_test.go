package prefixdb

import (
	"database/sql/driver"
	"testing"
)

type fakeDriver struct {
	opened []string
}

func (d *fakeDriver) Open(name string) (driver.Conn, error) {
	d.opened = append(d.opened, name)
	return &fakeConn{}, nil
}

type fakeConn struct {
	prepared []string
}

func (c *fakeConn) Prepare(query string) (driver.Stmt, error) {
	c.prepared = append(c.prepared, query)
	return nil, nil
}

func (c *fakeConn) Close() error { return nil }

func (c *fakeConn) Begin() (driver.Tx, error) { return nil, nil }

func TestPrefixing(t *testing.T) {
	underlying := &fakeDriver{}
	d := New("/* gsb */", underlying)

	conn, err := d.Open("dsn")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if len(underlying.opened) != 1 || underlying.opened[0] != "dsn" {
		t.Fatalf("expected Open to delegate to underlying driver with dsn, got %v", underlying.opened)
	}

	if _, err := conn.Prepare("SELECT 1"); err != nil {
		t.Fatalf("Prepare: %v", err)
	}
	fc := conn.(*prefixedConn).conn.(*fakeConn)
	if len(fc.prepared) != 1 || fc.prepared[0] != "/* gsb */ SELECT 1" {
		t.Fatalf("expected prefixed statement, got %v", fc.prepared)
	}
}
