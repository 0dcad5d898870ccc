package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"courtside-backend/internal/model"
)

// GormStore implements Store, Directory and SessionHistory using GORM.
type GormStore struct {
	db *gorm.DB
}

// NewGormStore creates a new GORM-backed store.
func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

// DB exposes the underlying connection for handlers that work on tables the
// store does not wrap (push subscriptions).
func (s *GormStore) DB() *gorm.DB {
	return s.db
}

// GetPresence returns the stored record for userID, expired or not.
func (s *GormStore) GetPresence(ctx context.Context, userID string) (*model.PresenceRecord, error) {
	var rec model.PresenceRecord
	err := s.db.WithContext(ctx).Where("user_id = ?", userID).First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to fetch presence for user %s: %w", userID, err)
	}
	return &rec, nil
}

// ListPresences returns every stored record, including logically expired ones.
func (s *GormStore) ListPresences(ctx context.Context) ([]model.PresenceRecord, error) {
	var records []model.PresenceRecord
	if err := s.db.WithContext(ctx).Find(&records).Error; err != nil {
		return nil, fmt.Errorf("failed to list presence records: %w", err)
	}
	return records, nil
}

// CreatePresence inserts the record and bumps the venue count transactionally.
func (s *GormStore) CreatePresence(ctx context.Context, rec *model.PresenceRecord) (int64, error) {
	var count int64
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing int64
		if err := tx.Model(&model.PresenceRecord{}).Where("user_id = ?", rec.UserID).Count(&existing).Error; err != nil {
			return fmt.Errorf("failed to check presence for user %s: %w", rec.UserID, err)
		}
		if existing > 0 {
			return ErrAlreadyExists
		}

		if err := tx.Create(rec).Error; err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				return ErrAlreadyExists
			}
			return fmt.Errorf("failed to create presence for user %s: %w", rec.UserID, err)
		}

		c, err := incrementOccupancy(tx, rec.VenueID, rec.CreatedAt)
		if err != nil {
			return err
		}
		count = c
		return nil
	})
	return count, err
}

// DeletePresence removes the record and decrements the venue count, floored at zero.
func (s *GormStore) DeletePresence(ctx context.Context, rec *model.PresenceRecord, now time.Time) (int64, bool, error) {
	var (
		count   int64
		clamped bool
	)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Where("user_id = ? AND id = ?", rec.UserID, rec.ID).Delete(&model.PresenceRecord{})
		if res.Error != nil {
			return fmt.Errorf("failed to delete presence for user %s: %w", rec.UserID, res.Error)
		}
		if res.RowsAffected == 0 {
			return ErrNotFound
		}

		c, cl, err := decrementOccupancy(tx, rec.VenueID, now)
		if err != nil {
			return err
		}
		count, clamped = c, cl
		return nil
	})
	return count, clamped, err
}

// GetOccupancy returns the durable count for a venue; unknown venues count zero.
func (s *GormStore) GetOccupancy(ctx context.Context, venueID string) (int64, error) {
	return readOccupancy(s.db.WithContext(ctx), venueID)
}

// ReplaceOccupancy zeroes every durable count and writes the supplied ones.
func (s *GormStore) ReplaceOccupancy(ctx context.Context, counts map[string]int64, now time.Time) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&model.VenueOccupancy{}).
			Where("active_count <> ?", 0).
			Updates(map[string]any{"active_count": 0, "updated_at": now}).Error; err != nil {
			return fmt.Errorf("failed to reset venue occupancy: %w", err)
		}

		if len(counts) == 0 {
			return nil
		}

		rows := make([]model.VenueOccupancy, 0, len(counts))
		for venueID, c := range counts {
			rows = append(rows, model.VenueOccupancy{VenueID: venueID, ActiveCount: c, UpdatedAt: now})
		}
		if err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "venue_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"active_count", "updated_at"}),
		}).Create(&rows).Error; err != nil {
			return fmt.Errorf("failed to write venue occupancy: %w", err)
		}
		return nil
	})
}

func incrementOccupancy(tx *gorm.DB, venueID string, now time.Time) (int64, error) {
	row := model.VenueOccupancy{VenueID: venueID, ActiveCount: 1, UpdatedAt: now}
	if err := tx.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "venue_id"}},
		DoUpdates: clause.Assignments(map[string]any{
			"active_count": gorm.Expr("venue_occupancies.active_count + 1"),
			"updated_at":   now,
		}),
	}).Create(&row).Error; err != nil {
		return 0, fmt.Errorf("failed to increment occupancy for venue %s: %w", venueID, err)
	}
	return readOccupancy(tx, venueID)
}

func decrementOccupancy(tx *gorm.DB, venueID string, now time.Time) (int64, bool, error) {
	res := tx.Model(&model.VenueOccupancy{}).
		Where("venue_id = ? AND active_count > 0", venueID).
		Updates(map[string]any{
			"active_count": gorm.Expr("active_count - 1"),
			"updated_at":   now,
		})
	if res.Error != nil {
		return 0, false, fmt.Errorf("failed to decrement occupancy for venue %s: %w", venueID, res.Error)
	}
	clamped := res.RowsAffected == 0
	count, err := readOccupancy(tx, venueID)
	return count, clamped, err
}

func readOccupancy(tx *gorm.DB, venueID string) (int64, error) {
	var row model.VenueOccupancy
	err := tx.Where("venue_id = ?", venueID).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read occupancy for venue %s: %w", venueID, err)
	}
	return row.ActiveCount, nil
}
