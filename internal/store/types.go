package store

import (
	"context"
	"errors"
	"time"

	"courtside-backend/internal/model"
)

var (
	// ErrNotFound is returned when the requested row does not exist.
	ErrNotFound = errors.New("record not found")
	// ErrAlreadyExists is returned when a presence record already exists for the user.
	ErrAlreadyExists = errors.New("record already exists")
)

// Store is the authoritative storage for presence records and the durable
// per-venue occupancy counts derived from them.
type Store interface {
	GetPresence(ctx context.Context, userID string) (*model.PresenceRecord, error)
	ListPresences(ctx context.Context) ([]model.PresenceRecord, error)
	// CreatePresence inserts rec and increments its venue's count as one unit.
	// It returns the venue's new count.
	CreatePresence(ctx context.Context, rec *model.PresenceRecord) (int64, error)
	// DeletePresence removes rec (matched by user and claim id) and decrements
	// its venue's count, never below zero. clamped is true when the count was
	// already zero.
	DeletePresence(ctx context.Context, rec *model.PresenceRecord, now time.Time) (count int64, clamped bool, err error)
	GetOccupancy(ctx context.Context, venueID string) (int64, error)
	// ReplaceOccupancy overwrites every durable count with counts; venues
	// missing from counts drop to zero.
	ReplaceOccupancy(ctx context.Context, counts map[string]int64, now time.Time) error
}

// Directory resolves users and venues.
type Directory interface {
	ResolveUser(ctx context.Context, userID string) (*model.User, error)
	UpsertUser(ctx context.Context, user *model.User) error
	ResolveVenue(ctx context.Context, venueID string) (*model.Venue, error)
	ListVenues(ctx context.Context) ([]model.Venue, error)
	UpsertVenues(ctx context.Context, venues []model.Venue) error
}

// SessionHistory reads aggregated session outcomes.
type SessionHistory interface {
	GetStats(ctx context.Context, userID string) (model.ReliabilityStats, error)
}
