// Package reference reads the global reference catalog shipped as a SQLite
// database alongside the service.
package reference

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/odyssey-erp/odyssey-reception/internal/catalog"
)

// Entry is one row of the reference catalog.
type Entry struct {
	ID               uint            `gorm:"primaryKey"`
	Code             string          `gorm:"size:64;index"`
	LegacyCode       string          `gorm:"size:64;index"`
	Label            string          `gorm:"size:255"`
	CategoryCode     string          `gorm:"size:32"`
	ListPrice        decimal.Decimal `gorm:"type:text"`
	Form             string          `gorm:"size:128"`
	Family           string          `gorm:"size:128"`
	Lab              string          `gorm:"size:128"`
	TherapeuticClass string          `gorm:"size:128"`
}

// TableName pins the table name.
func (Entry) TableName() string { return "reference_products" }

func (e Entry) product() catalog.GlobalProduct {
	return catalog.GlobalProduct{
		Code:             e.Code,
		LegacyCode:       e.LegacyCode,
		Label:            e.Label,
		CategoryCode:     e.CategoryCode,
		ListPrice:        e.ListPrice,
		Form:             e.Form,
		Family:           e.Family,
		Lab:              e.Lab,
		TherapeuticClass: e.TherapeuticClass,
	}
}

// Store implements catalog.GlobalStore on gorm.
type Store struct {
	db *gorm.DB
}

// Open opens the reference catalog at path.
func Open(path string) (*Store, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		return nil, fmt.Errorf("open reference catalog: %w", err)
	}
	return New(db), nil
}

// New wraps an existing gorm handle.
func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

// Migrate creates the reference table when missing.
func (s *Store) Migrate() error {
	return s.db.AutoMigrate(&Entry{})
}

// Seed inserts entries in batches.
func (s *Store) Seed(ctx context.Context, entries []Entry) error {
	if len(entries) == 0 {
		return nil
	}
	return s.db.WithContext(ctx).CreateInBatches(entries, 200).Error
}

// FindByCodes returns the entries whose primary code is in codes.
func (s *Store) FindByCodes(ctx context.Context, codes []string) ([]catalog.GlobalProduct, error) {
	return s.find(ctx, "code IN ?", codes)
}

// FindByLegacyCodes returns the entries whose legacy code is in codes.
func (s *Store) FindByLegacyCodes(ctx context.Context, codes []string) ([]catalog.GlobalProduct, error) {
	return s.find(ctx, "legacy_code IN ?", codes)
}

func (s *Store) find(ctx context.Context, where string, codes []string) ([]catalog.GlobalProduct, error) {
	if len(codes) == 0 {
		return nil, nil
	}
	var rows []Entry
	if err := s.db.WithContext(ctx).Where(where, codes).Order("id").Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]catalog.GlobalProduct, 0, len(rows))
	for _, e := range rows {
		out = append(out, e.product())
	}
	return out, nil
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
