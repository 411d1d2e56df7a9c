package storage

import (
	"errors"
	"time"

	"github.com/handoff-relay/handoff/internal/pkg/models"
)

// ErrNotFound is returned when no history record matches
var ErrNotFound = errors.New("session record not found")

// Storage persists the session history audit trail. Live session state is
// never read back from it.
type Storage interface {
	// Initialize the storage (create tables, run migrations)
	Init() error

	// Close the storage connection
	Close() error

	CreateSessionRecord(rec *models.SessionRecord) error
	EndSessionRecord(id string, endedAt time.Time, reason string, deviceCount int) error
	GetSessionRecord(id string) (*models.SessionRecord, error)
	// ListSessionRecords returns the newest records first. limit <= 0 means no limit.
	ListSessionRecords(limit int) ([]*models.SessionRecord, error)
	// PurgeEndedBefore deletes ended records older than t and returns how many were removed
	PurgeEndedBefore(t time.Time) (int64, error)
}
