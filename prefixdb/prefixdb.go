// Package prefixdb wraps a database/sql/driver.Driver so that every
// statement it prepares is sent with a fixed prefix attached, letting a
// DBA attribute slow queries in a log to this module rather than some
// other tenant of the same MySQL instance.
package prefixdb

import "database/sql/driver"

// New clones underlying to create a new driver with the property that
// every statement executed will have prefix prepended, separated from the
// statement by a space.
func New(prefix string, underlying driver.Driver) driver.Driver {
	return &prefixedDriver{
		prefix:     prefix,
		underlying: underlying,
	}
}

type prefixedDriver struct {
	prefix     string
	underlying driver.Driver
}

func (d *prefixedDriver) Open(name string) (driver.Conn, error) {
	conn, err := d.underlying.Open(name)
	if err != nil {
		return nil, err
	}
	return &prefixedConn{
		prefix: d.prefix,
		conn:   conn,
	}, nil
}

type prefixedConn struct {
	prefix string
	conn   driver.Conn
}

func (c *prefixedConn) Prepare(query string) (driver.Stmt, error) {
	return c.conn.Prepare(c.prefix + " " + query)
}

func (c *prefixedConn) Close() error {
	return c.conn.Close()
}

func (c *prefixedConn) Begin() (driver.Tx, error) {
	return c.conn.Begin()
}
