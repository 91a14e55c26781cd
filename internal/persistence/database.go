// Package persistence stores invoices and reads the reference companies and suppliers with GORM.
//
// PostgreSQL is the production database; its pg_trgm extension backs the supplier and company
// similarity search. SQLite serves local runs and tests, without similarity search.
package persistence

import (
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"invoiceocr/internal/config"
	"invoiceocr/internal/logger"
)

// Database holds the database connection
type Database struct {
	DB  *gorm.DB
	log zerolog.Logger
}

// NewDatabase opens the configured database and applies the pool settings
func NewDatabase(cfg config.DatabaseConfig) (*Database, error) {
	const op = "NewDatabase"

	var dialector gorm.Dialector
	switch cfg.Driver {
	case "postgres":
		dialector = postgres.Open(cfg.DSN)
	case "sqlite":
		dialector = sqlite.Open(cfg.DSN)
	default:
		return nil, WrapRepositoryError(op, ErrUnsupportedDriver, cfg.Driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger:                 gormlogger.Default.LogMode(gormlogger.Silent),
		SkipDefaultTransaction: true,
	})
	if err != nil {
		return nil, WrapRepositoryError(op, fmt.Errorf("%w: %w", ErrConnectionFailed, err), cfg.Driver)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, WrapRepositoryError(op, err, "failed to get underlying sql.DB")
	}
	if cfg.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		sqlDB.SetConnMaxLifetime(time.Duration(cfg.ConnMaxLifetime) * time.Minute)
	}

	if err := sqlDB.Ping(); err != nil {
		return nil, WrapRepositoryError(op, fmt.Errorf("%w: %w", ErrConnectionFailed, err), "ping")
	}

	return NewDatabaseFromGorm(db), nil
}

// NewDatabaseFromGorm wraps an open connection
func NewDatabaseFromGorm(db *gorm.DB) *Database {
	return &Database{
		DB:  db,
		log: logger.WithComponent("persistence"),
	}
}

// Migrate creates or updates the schema. On PostgreSQL it also enables pg_trgm.
func (d *Database) Migrate() error {
	const op = "Migrate"

	if d.IsPostgres() {
		if err := d.DB.Exec("CREATE EXTENSION IF NOT EXISTS pg_trgm").Error; err != nil {
			return WrapRepositoryError(op, err, "enable pg_trgm")
		}
	}
	if err := d.DB.AutoMigrate(AllModels()...); err != nil {
		return WrapRepositoryError(op, err, "auto migrate")
	}

	d.log.Info().Str("dialect", d.DB.Dialector.Name()).Int("tables", len(AllModels())).Msg("Schema migrated")
	return nil
}

// IsPostgres reports whether the connection uses the PostgreSQL dialect
func (d *Database) IsPostgres() bool {
	return d.DB.Dialector.Name() == "postgres"
}

// Transaction executes fn within a database transaction
func (d *Database) Transaction(fn func(tx *gorm.DB) error) error {
	return d.DB.Transaction(fn)
}

// Ping checks if the database connection is alive
func (d *Database) Ping() error {
	sqlDB, err := d.DB.DB()
	if err != nil {
		return fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}
	return sqlDB.Ping()
}

// Close closes the database connection
func (d *Database) Close() error {
	sqlDB, err := d.DB.DB()
	if err != nil {
		return fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}
	return sqlDB.Close()
}
