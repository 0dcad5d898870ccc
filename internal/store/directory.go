package store

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"courtside-backend/internal/model"
)

// ResolveUser looks up a user by id.
func (s *GormStore) ResolveUser(ctx context.Context, userID string) (*model.User, error) {
	var user model.User
	err := s.db.WithContext(ctx).Where("id = ?", userID).First(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to fetch user %s: %w", userID, err)
	}
	return &user, nil
}

// UpsertUser creates the user or updates its display name.
func (s *GormStore) UpsertUser(ctx context.Context, user *model.User) error {
	if err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"display_name", "updated_at"}),
	}).Create(user).Error; err != nil {
		return fmt.Errorf("failed to upsert user %s: %w", user.ID, err)
	}
	return nil
}

// ResolveVenue looks up a venue by id.
func (s *GormStore) ResolveVenue(ctx context.Context, venueID string) (*model.Venue, error) {
	var venue model.Venue
	err := s.db.WithContext(ctx).Where("id = ?", venueID).First(&venue).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to fetch venue %s: %w", venueID, err)
	}
	return &venue, nil
}

// ListVenues returns all venues ordered by name.
func (s *GormStore) ListVenues(ctx context.Context) ([]model.Venue, error) {
	var venues []model.Venue
	if err := s.db.WithContext(ctx).Order("name").Find(&venues).Error; err != nil {
		return nil, fmt.Errorf("failed to list venues: %w", err)
	}
	return venues, nil
}

// UpsertVenues batch-upserts venue metadata.
func (s *GormStore) UpsertVenues(ctx context.Context, venues []model.Venue) error {
	if len(venues) == 0 {
		return nil
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			DoUpdates: clause.AssignmentColumns([]string{"name", "lat", "lon", "updated_at"}),
		}).Create(&venues).Error
	})
}

// GetStats aggregates a user's session outcomes in a single query. Every row
// counts as scheduled; the other totals count rows by outcome.
func (s *GormStore) GetStats(ctx context.Context, userID string) (model.ReliabilityStats, error) {
	var stats model.ReliabilityStats
	err := s.db.WithContext(ctx).
		Model(&model.SessionOutcome{}).
		Select("COUNT(*) AS total_scheduled, "+
			"COALESCE(SUM(CASE WHEN status = ? THEN 1 ELSE 0 END), 0) AS total_attended, "+
			"COALESCE(SUM(CASE WHEN status = ? THEN 1 ELSE 0 END), 0) AS total_no_show, "+
			"COALESCE(SUM(CASE WHEN status = ? THEN 1 ELSE 0 END), 0) AS total_cancelled",
			model.SessionAttended, model.SessionNoShow, model.SessionCancelled).
		Where("user_id = ?", userID).
		Scan(&stats).Error
	if err != nil {
		return model.ReliabilityStats{}, fmt.Errorf("failed to aggregate sessions for user %s: %w", userID, err)
	}
	return stats, nil
}
