package db

import (
	"errors"
	"log"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

func NewMockDB() (*gorm.DB, sqlmock.Sqlmock) {
	db, mock, err := sqlmock.New()
	if err != nil {
		log.Fatalf("An error '%s' was not expected when opening a stub database connection", err)
	}

	gormDB, err := gorm.Open(postgres.New(postgres.Config{
		DSN:                  "sqlmock_db_0",
		Conn:                 db,
		PreferSimpleProtocol: true,
	}), &gorm.Config{TranslateError: true})
	if err != nil {
		log.Fatalf("An error '%s' was not expected when opening gorm database", err)
	}

	return gormDB, mock
}

func TestNewDB(t *testing.T) {
	gormDB, _ := NewMockDB()
	NewDB(gormDB)

	assert.Same(t, gormDB, GetDb())
	assert.Equal(t, "postgres", GetDb().Name())
}

func TestQueryErrorsPropagate(t *testing.T) {
	gormDB, mock := NewMockDB()
	mock.ExpectQuery(`SELECT count\(\*\) FROM "payment_transactions"`).
		WillReturnError(errors.New("connection reset"))

	var n int64
	err := gormDB.Table("payment_transactions").Where("status = ?", "completed").Count(&n).Error

	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection reset")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestOpenMemoryIsIsolated(t *testing.T) {
	a, err := OpenMemory("db-test-a")
	require.NoError(t, err)
	b, err := OpenMemory("db-test-b")
	require.NoError(t, err)

	require.NoError(t, a.Exec("CREATE TABLE markers (id integer)").Error)
	assert.True(t, a.Migrator().HasTable("markers"))
	assert.False(t, b.Migrator().HasTable("markers"))
	assert.Equal(t, "sqlite", a.Name())
}
