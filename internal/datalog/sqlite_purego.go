//go:build nocgo

package datalog

import (
	"database/sql"

	_ "modernc.org/sqlite"
)

// sqlDriverName is the pure-Go alternative to the cgo-based mattn driver,
// selected with -tags nocgo for builds that cannot use cgo (cross-compiled
// containers, CGO_ENABLED=0 deployments).
const sqlDriverName = "sqlite"

func openDB(dsn string) (*sql.DB, error) {
	return sql.Open(sqlDriverName, dsn)
}
