package webhook

import (
	"context"
	"time"

	extErrors "github.com/pkg/errors"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Store persists delivered events in Postgres. The on-conflict guard on the
// (provider, external_event_id) unique index is what makes Record race safe.
type Store struct {
	db     *gorm.DB
	logger *zap.Logger
}

var _ EventStore = (*Store)(nil)

// NewStore returns a Store backed by the given database
func NewStore(logger *zap.Logger, db *gorm.DB) (*Store, error) {
	if err := db.AutoMigrate(&Event{}); err != nil {
		return nil, extErrors.Wrap(err, "Cannot initialize webhook.Store")
	}
	return &Store{
		db:     db,
		logger: logger,
	}, nil
}

// Record inserts the event row, reporting false when the (provider, external
// event id) pair was already seen
func (s *Store) Record(ctx context.Context, event *Event) (bool, error) {
	result := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "provider"}, {Name: "external_event_id"}},
			DoNothing: true,
		}).
		Create(event)
	if result.Error != nil {
		s.logger.Error("Unable to record webhook event",
			zap.Error(result.Error),
		)
		return false, extErrors.Wrap(result.Error, "Cannot record webhook event")
	}
	return result.RowsAffected > 0, nil
}

// MarkProcessed stamps the event as handled
func (s *Store) MarkProcessed(ctx context.Context, eventID string) error {
	result := s.db.WithContext(ctx).
		Model(&Event{}).
		Where("id = ?", eventID).
		Update("processed_at", time.Now())
	if result.Error != nil {
		return extErrors.Wrap(result.Error, "Cannot mark webhook event as processed")
	}
	return nil
}
