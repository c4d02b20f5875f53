package storage

import (
	"database/sql"
	"fmt"
	"strings"

	"videoscope/internal/config"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/mattn/go-sqlite3"
)

// Open connects to the configured database for the given driver.
func Open(dbType string, cfg *config.Config) (*sql.DB, error) {
	dbCfg, ok := cfg.Databases[dbType]
	if !ok {
		return nil, fmt.Errorf("database config for %s not found", dbType)
	}

	var (
		db  *sql.DB
		err error
	)

	switch strings.ToLower(dbType) {
	case "sqlite", "sqlite3":
		if dbCfg.DSN == "" {
			return nil, fmt.Errorf("sqlite dsn must be provided")
		}
		db, err = sql.Open("sqlite3", dbCfg.DSN)
		if err != nil {
			return nil, fmt.Errorf("open sqlite database: %w", err)
		}
	case "mysql":
		dsn := fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?%s",
			dbCfg.Username,
			dbCfg.Password,
			dbCfg.Host,
			dbCfg.Port,
			dbCfg.DBName,
			dbCfg.Params,
		)
		db, err = sql.Open("mysql", dsn)
		if err != nil {
			return nil, fmt.Errorf("open mysql database: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported driver: %s", dbType)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return db, nil
}

// Migrate ensures the required tables are present.
func Migrate(db *sql.DB, driver string) error {
	var stmts []string
	switch strings.ToLower(driver) {
	case "sqlite", "sqlite3":
		stmts = []string{
			`CREATE TABLE IF NOT EXISTS analyses (
				id TEXT PRIMARY KEY,
				filename TEXT NOT NULL,
				created_at DATETIME NOT NULL,
				transcript TEXT NOT NULL,
				scope_items TEXT NOT NULL,
				project_summary TEXT NOT NULL,
				file_size_mb REAL NOT NULL,
				documents TEXT NOT NULL
			)`,
			`CREATE INDEX IF NOT EXISTS idx_analyses_created_at ON analyses(created_at DESC)`,
		}
	case "mysql":
		stmts = []string{
			`CREATE TABLE IF NOT EXISTS analyses (
				id VARCHAR(36) NOT NULL,
				filename VARCHAR(255) NOT NULL,
				created_at DATETIME NOT NULL,
				transcript MEDIUMTEXT NOT NULL,
				scope_items MEDIUMTEXT NOT NULL,
				project_summary MEDIUMTEXT NOT NULL,
				file_size_mb DOUBLE NOT NULL,
				documents TEXT NOT NULL,
				PRIMARY KEY (id),
				INDEX idx_analyses_created_at (created_at)
			) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
		}
	default:
		return fmt.Errorf("unsupported driver for migration: %s", driver)
	}

	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("migrate (%s): %w", driver, err)
		}
	}
	return nil
}
