package session

import (
	"context"
	"errors"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	pkgerrors "github.com/gbdelivering/storefront/pkg/errors"
)

var errDBRequired = errors.New("session db handle is required")

// Record is the locally persisted session: the authenticated profile plus the
// most recent delivery address. One row at most; logging in replaces it.
type Record struct {
	ID        uint   `gorm:"primaryKey"`
	UserID    string `gorm:"uniqueIndex;not null"`
	Token     string `gorm:"not null"`
	FirstName string
	LastName  string
	Email     string
	Phone     string

	AddressID        string
	Province         string
	District         string
	Sector           string
	Cell             string
	Village          string
	Street           string
	DescribedAddress string

	CreatedAt time.Time
	UpdatedAt time.Time
}

func (Record) TableName() string { return "sessions" }

// Address is the delivery address slice of the session.
type Address struct {
	ID               string
	Province         string
	District         string
	Sector           string
	Cell             string
	Village          string
	Street           string
	DescribedAddress string
}

// HasAddress reports whether a delivery address has been stored.
func (r *Record) HasAddress() bool {
	return r != nil && r.AddressID != ""
}

// Address returns the stored delivery address.
func (r *Record) Address() Address {
	return Address{
		ID:               r.AddressID,
		Province:         r.Province,
		District:         r.District,
		Sector:           r.Sector,
		Cell:             r.Cell,
		Village:          r.Village,
		Street:           r.Street,
		DescribedAddress: r.DescribedAddress,
	}
}

// Store persists the session in a local sqlite database.
type Store struct {
	db *gorm.DB
}

// Open opens (or creates) the sqlite database at path and migrates the schema.
func Open(path string) (*Store, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "opening session database")
	}
	return NewStore(db)
}

// NewStore wraps an existing gorm handle, migrating the session schema.
func NewStore(db *gorm.DB) (*Store, error) {
	if db == nil {
		return nil, errDBRequired
	}
	if err := db.AutoMigrate(&Record{}); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "migrating session schema")
	}
	return &Store{db: db}, nil
}

// Load returns the active session, or NOT_AUTHENTICATED when none exists.
func (s *Store) Load(ctx context.Context) (*Record, error) {
	var record Record
	err := s.db.WithContext(ctx).Order("id desc").First(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, pkgerrors.New(pkgerrors.CodeNotAuthenticated, "no active session")
	}
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "loading session")
	}
	return &record, nil
}

// Save replaces any existing session with the given record. A fresh login
// always supersedes whatever was stored before.
func (s *Store) Save(ctx context.Context, record Record) error {
	if record.UserID == "" || record.Token == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "session record requires user id and token")
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("1 = 1").Delete(&Record{}).Error; err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "clearing previous session")
		}
		record.ID = 0
		if err := tx.Create(&record).Error; err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "saving session")
		}
		return nil
	})
}

// SaveAddress attaches a delivery address to the active session.
func (s *Store) SaveAddress(ctx context.Context, addr Address) error {
	record, err := s.Load(ctx)
	if err != nil {
		return err
	}

	updates := map[string]any{
		"address_id":        addr.ID,
		"province":          addr.Province,
		"district":          addr.District,
		"sector":            addr.Sector,
		"cell":              addr.Cell,
		"village":           addr.Village,
		"street":            addr.Street,
		"described_address": addr.DescribedAddress,
	}
	if err := s.db.WithContext(ctx).Model(record).Updates(updates).Error; err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "saving session address")
	}
	return nil
}

// Clear removes the active session. Clearing an empty store is a no-op.
func (s *Store) Clear(ctx context.Context) error {
	if err := s.db.WithContext(ctx).Where("1 = 1").Delete(&Record{}).Error; err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "clearing session")
	}
	return nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
