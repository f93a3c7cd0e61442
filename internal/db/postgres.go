package db

import (
	"database/sql"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
)

// Connection pool sizing. The session and audit repositories share one
// *sql.DB; writes are small and frequent, so a modest pool is enough.
const (
	maxOpenConns    = 16
	maxIdleConns    = 4
	connMaxIdleTime = 5 * time.Minute
)

// Open opens a Postgres connection using the given DSN and verifies it with a
// ping. Caller must call Close when done.
func Open(dsn string) (*sql.DB, error) {
	pg, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	pg.SetMaxOpenConns(maxOpenConns)
	pg.SetMaxIdleConns(maxIdleConns)
	pg.SetConnMaxIdleTime(connMaxIdleTime)
	if err := pg.Ping(); err != nil {
		_ = pg.Close()
		return nil, err
	}
	return pg, nil
}
