// Package store records received transfers in the history database.
package store

import (
	"context"

	"github.com/rudransh-shrivastava/linkchat/internal/db"
	"github.com/rudransh-shrivastava/linkchat/internal/transfer"
	"gorm.io/gorm"
)

// TransferRepository defines history operations.
type TransferRepository interface {
	RecordTransfer(ctx context.Context, rec transfer.Record) error
	ListTransfers(ctx context.Context, limit int) ([]db.Transfer, error)
}

var (
	_ TransferRepository = (*TransferStore)(nil)
	_ transfer.Journal   = (*TransferStore)(nil)
)

type TransferStore struct {
	DB *gorm.DB
}

func NewTransferStore(gdb *gorm.DB) *TransferStore {
	return &TransferStore{DB: gdb}
}

func (ts *TransferStore) RecordTransfer(ctx context.Context, rec transfer.Record) error {
	row := db.Transfer{
		Sender:       rec.Sender,
		TransferID:   rec.TransferID,
		Filename:     rec.Filename,
		OutputPath:   rec.OutputPath,
		DeclaredSize: rec.DeclaredSize,
		ReceivedSize: rec.ReceivedSize,
		Complete:     rec.Complete,
		ExtractedTo:  rec.ExtractedTo,
		StartedAt:    rec.StartedAt,
		FinishedAt:   rec.FinishedAt,
	}
	return ts.DB.WithContext(ctx).Create(&row).Error
}

// ListTransfers returns the most recent transfers first. A limit of zero or
// less returns all of them.
func (ts *TransferStore) ListTransfers(ctx context.Context, limit int) ([]db.Transfer, error) {
	transfers := []db.Transfer{}
	q := ts.DB.WithContext(ctx).Order("finished_at DESC").Order("id DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&transfers).Error; err != nil {
		return nil, err
	}
	return transfers, nil
}
