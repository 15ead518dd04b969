package database

import (
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
	_ "modernc.org/sqlite"
)

// OpenSQL opens and pings a pool for driver ("postgres" or "sqlite").
func OpenSQL(driver, dsn string) (*sql.DB, error) {
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s connection: %w", driver, err)
	}
	switch driver {
	case "sqlite":
		// One writer at a time; WAL lets readers proceed.
		db.SetMaxOpenConns(1)
	default:
		db.SetConnMaxLifetime(5 * time.Minute)
		db.SetMaxIdleConns(5)
		db.SetMaxOpenConns(10)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping %s connection: %w", driver, err)
	}
	return db, nil
}

// Open connects to postgres through lib/pq and wraps the pool with gorm, so
// the workflow store and the decision ledger share one pool.
func Open(dsn string) (*gorm.DB, error) {
	sqlDB, err := OpenSQL("postgres", dsn)
	if err != nil {
		return nil, err
	}
	db, err := gorm.Open(postgres.New(postgres.Config{Conn: sqlDB}), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("open gorm over postgres pool: %w", err)
	}
	return db, nil
}
