//go:build !nocgo

package datalog

import (
	"database/sql"

	_ "github.com/mattn/go-sqlite3"
)

// sqlDriverName is the cgo-based default driver. Build with -tags nocgo to
// select the pure-Go modernc.org/sqlite driver instead (sqlite_purego.go).
const sqlDriverName = "sqlite3"

func openDB(dsn string) (*sql.DB, error) {
	return sql.Open(sqlDriverName, dsn)
}
