package db

import (
	"esm/src/config"
	"fmt"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var db *gorm.DB

func gormConfig(level logger.LogLevel) *gorm.Config {
	return &gorm.Config{
		TranslateError: true,
		// Booking tables are shared with other services; relations are not enforced with foreign keys.
		DisableForeignKeyConstraintWhenMigrating: true,
		Logger:                                   logger.Default.LogMode(level),
		NowFunc: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// Open connects using the configured driver with the pool settings used across the API.
func Open(cfg *config.Config) (*gorm.DB, error) {
	if cfg.Database.Driver == "sqlite" {
		_db, err := OpenSQLite(cfg.Database.Name)
		if err != nil {
			return nil, err
		}
		db = _db
		return _db, nil
	}
	_db, err := gorm.Open(postgres.Open(cfg.GetDSN()), gormConfig(logger.Warn))
	if err != nil {
		return nil, fmt.Errorf("connecting to database: %w", err)
	}
	sqlDB, err := _db.DB()
	if err != nil {
		return nil, fmt.Errorf("establishing connection to database: %w", err)
	}
	sqlDB.SetMaxIdleConns(10)
	sqlDB.SetMaxOpenConns(100)
	sqlDB.SetConnMaxLifetime(time.Hour)

	db = _db
	return _db, nil
}

// OpenSQLite opens a single-connection sqlite database. Row locks are not
// available; the single connection serializes writers instead.
func OpenSQLite(dsn string) (*gorm.DB, error) {
	_db, err := gorm.Open(sqlite.Open(dsn), gormConfig(logger.Silent))
	if err != nil {
		return nil, fmt.Errorf("opening sqlite database: %w", err)
	}
	sqlDB, err := _db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(1)
	return _db, nil
}

// OpenMemory returns an isolated in-memory database, used by tests.
func OpenMemory(name string) (*gorm.DB, error) {
	return OpenSQLite(fmt.Sprintf("file:%s?mode=memory&cache=shared", name))
}

func GetDb() *gorm.DB {
	return db
}

func NewDB(newdb *gorm.DB) {
	db = newdb
}
