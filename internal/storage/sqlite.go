package storage

import (
	"errors"
	"fmt"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/handoff-relay/handoff/internal/pkg/models"
)

// SQLiteStorage implements the Storage interface using SQLite with GORM
type SQLiteStorage struct {
	db *gorm.DB
}

// NewSQLiteStorage creates a new SQLite storage instance
func NewSQLiteStorage(dbPath string) (*SQLiteStorage, error) {
	db, err := gorm.Open(sqlite.Open(dbPath), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	return &SQLiteStorage{db: db}, nil
}

// Init initializes the database schema
func (s *SQLiteStorage) Init() error {
	if err := s.db.AutoMigrate(&models.SessionRecord{}); err != nil {
		return fmt.Errorf("failed to migrate schema: %w", err)
	}
	return nil
}

// Close closes the database connection
func (s *SQLiteStorage) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return fmt.Errorf("failed to get underlying DB: %w", err)
	}
	return sqlDB.Close()
}

// CreateSessionRecord inserts the record for a newly created session
func (s *SQLiteStorage) CreateSessionRecord(rec *models.SessionRecord) error {
	if err := s.db.Create(rec).Error; err != nil {
		return fmt.Errorf("failed to create session record: %w", err)
	}
	return nil
}

// EndSessionRecord stamps a record with its end time and reason
func (s *SQLiteStorage) EndSessionRecord(id string, endedAt time.Time, reason string, deviceCount int) error {
	result := s.db.Model(&models.SessionRecord{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"ended_at":     endedAt,
			"end_reason":   reason,
			"device_count": deviceCount,
		})

	if result.Error != nil {
		return fmt.Errorf("failed to end session record: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// GetSessionRecord retrieves a record by session ID
func (s *SQLiteStorage) GetSessionRecord(id string) (*models.SessionRecord, error) {
	var rec models.SessionRecord
	result := s.db.Where("id = ?", id).First(&rec)

	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get session record: %w", result.Error)
	}

	return &rec, nil
}

// ListSessionRecords lists records newest first
func (s *SQLiteStorage) ListSessionRecords(limit int) ([]*models.SessionRecord, error) {
	var records []*models.SessionRecord
	q := s.db.Order("created_at DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}

	if err := q.Find(&records).Error; err != nil {
		return nil, fmt.Errorf("failed to list session records: %w", err)
	}
	return records, nil
}

// PurgeEndedBefore removes ended records older than t
func (s *SQLiteStorage) PurgeEndedBefore(t time.Time) (int64, error) {
	result := s.db.Where("ended_at IS NOT NULL AND ended_at < ?", t).Delete(&models.SessionRecord{})
	if result.Error != nil {
		return 0, fmt.Errorf("failed to purge session records: %w", result.Error)
	}
	return result.RowsAffected, nil
}
