package database

import (
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"
	"go.uber.org/zap"
)

const (
	connectAttempts = 10
	connectBackoff  = 2 * time.Second
)

// Connect opens the Postgres pool and verifies it with a ping, retrying while
// the database comes up alongside the service.
func Connect(url string, log *zap.Logger) (*sql.DB, error) {
	db, err := sql.Open("postgres", url)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)

	var pingErr error
	for attempt := 1; attempt <= connectAttempts; attempt++ {
		if pingErr = db.Ping(); pingErr == nil {
			return db, nil
		}
		log.Warn("database not ready",
			zap.Int("attempt", attempt),
			zap.Error(pingErr))
		time.Sleep(connectBackoff)
	}
	db.Close()
	return nil, fmt.Errorf("ping postgres: %w", pingErr)
}
