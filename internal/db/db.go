// Package db opens the SQLite history database.
package db

import (
	"fmt"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Transfer is one finished or abandoned receive session.
type Transfer struct {
	ID           uint   `gorm:"primaryKey"`
	Sender       string `gorm:"index"`
	TransferID   string `gorm:"index"`
	Filename     string
	OutputPath   string
	DeclaredSize int64
	ReceivedSize int64
	Complete     bool
	ExtractedTo  string
	StartedAt    time.Time
	FinishedAt   time.Time `gorm:"index"`
}

// Open connects to the database at path and migrates the schema. Use
// ":memory:" for a throwaway database.
func Open(path string) (*gorm.DB, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		PrepareStmt: true,
		Logger:      logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	// Every ":memory:" connection is its own database.
	sqlDB.SetMaxOpenConns(1)

	if err := db.AutoMigrate(&Transfer{}); err != nil {
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	return db, nil
}

// Close releases the underlying connection pool.
func Close(db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
