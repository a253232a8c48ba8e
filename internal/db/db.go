// internal/db/db.go
package db

import (
	"context"
	"database/sql"
	"strings"
	"time"

	_ "github.com/lib/pq"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"
)

const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// Open connects to the store named by driver and pings it.
func Open(ctx context.Context, driver, dsn string) (*sql.DB, error) {
	driver = strings.ToLower(strings.TrimSpace(driver))
	switch driver {
	case "", "pq", DriverPostgres:
		driver = DriverPostgres
	case "sqlite3", DriverSQLite:
		driver = DriverSQLite
	default:
		return nil, eris.Errorf("unsupported store driver %q", driver)
	}
	if dsn == "" {
		return nil, eris.New("store.database_url is empty")
	}

	conn, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, eris.Wrapf(err, "open %s", driver)
	}
	if driver == DriverSQLite {
		// sqlite serialises writers; one connection avoids SQLITE_BUSY under the worker pool
		conn.SetMaxOpenConns(1)
		if _, err := conn.ExecContext(ctx, `PRAGMA busy_timeout = 5000`); err != nil {
			_ = conn.Close()
			return nil, eris.Wrap(err, "set sqlite busy timeout")
		}
	} else {
		conn.SetMaxOpenConns(20)
		conn.SetConnMaxIdleTime(5 * time.Minute)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := conn.PingContext(pingCtx); err != nil {
		_ = conn.Close()
		return nil, eris.Wrapf(err, "ping %s", driver)
	}

	zap.L().Info("connected to database", zap.String("driver", driver))
	return conn, nil
}

// DriverName normalises a configured driver name.
func DriverName(driver string) string {
	switch strings.ToLower(strings.TrimSpace(driver)) {
	case "sqlite3", DriverSQLite:
		return DriverSQLite
	}
	return DriverPostgres
}
