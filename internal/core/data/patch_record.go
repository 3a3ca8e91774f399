package data

import (
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/dcrodman/clientpatch/internal/patch"
)

// PatchRecord is one successful run of a patch operation.
type PatchRecord struct {
	ID         uint64 `gorm:"primaryKey"`
	Kind       string `gorm:"not null; index"`
	Source     string `gorm:"not null"`
	Output     string `gorm:"not null; index"`
	OldModulus string
	Cached     bool `gorm:"default:false"`

	CreatedAt time.Time
	DeletedAt gorm.DeletedAt
}

// FindPatchRecords returns up to limit records of kind, newest first. An
// empty kind matches every record and a limit of zero or less means no limit.
func FindPatchRecords(db *gorm.DB, kind string, limit int) ([]PatchRecord, error) {
	query := db.Order("id desc")
	if kind != "" {
		query = query.Where("kind = ?", kind)
	}
	if limit > 0 {
		query = query.Limit(limit)
	}

	var records []PatchRecord
	if err := query.Find(&records).Error; err != nil {
		return nil, err
	}
	return records, nil
}

// FindPatchRecordByOutput returns the record that produced output or nil if
// there is none.
func FindPatchRecordByOutput(db *gorm.DB, output string) (*PatchRecord, error) {
	var record PatchRecord
	err := db.Where("output = ?", output).First(&record).Error

	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}

	return &record, nil
}

func CreatePatchRecord(db *gorm.DB, record *PatchRecord) error {
	return db.Create(record).Error
}

// DeletePatchRecordsBefore soft deletes every record created before t and
// returns how many were removed.
func DeletePatchRecordsBefore(db *gorm.DB, t time.Time) (int64, error) {
	result := db.Where("created_at < ?", t).Delete(&PatchRecord{})
	return result.RowsAffected, result.Error
}

// Ledger records patches as they complete.
type Ledger struct {
	DB *gorm.DB
}

func (l *Ledger) RecordPatch(kind patch.Kind, source string, result *patch.Result) error {
	return CreatePatchRecord(l.DB, &PatchRecord{
		Kind:       string(kind),
		Source:     source,
		Output:     result.OutputPath,
		OldModulus: result.OldModulus,
		Cached:     result.Cached,
	})
}
