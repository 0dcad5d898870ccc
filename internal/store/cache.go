package store

import (
	"context"
	"time"

	"github.com/patrickmn/go-cache"

	"courtside-backend/internal/model"
)

// CachedDirectory memoizes user and venue resolution. Misses are not cached,
// so a user registered after a failed lookup resolves on the next call.
type CachedDirectory struct {
	Directory
	cache *cache.Cache
}

// NewCachedDirectory wraps dir with an in-memory cache whose entries live for ttl.
func NewCachedDirectory(dir Directory, ttl time.Duration) *CachedDirectory {
	return &CachedDirectory{
		Directory: dir,
		cache:     cache.New(ttl, 2*ttl),
	}
}

func (d *CachedDirectory) ResolveUser(ctx context.Context, userID string) (*model.User, error) {
	key := "user:" + userID
	if v, found := d.cache.Get(key); found {
		user := v.(model.User)
		return &user, nil
	}
	user, err := d.Directory.ResolveUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	d.cache.SetDefault(key, *user)
	return user, nil
}

func (d *CachedDirectory) UpsertUser(ctx context.Context, user *model.User) error {
	if err := d.Directory.UpsertUser(ctx, user); err != nil {
		return err
	}
	d.cache.Delete("user:" + user.ID)
	return nil
}

func (d *CachedDirectory) ResolveVenue(ctx context.Context, venueID string) (*model.Venue, error) {
	key := "venue:" + venueID
	if v, found := d.cache.Get(key); found {
		venue := v.(model.Venue)
		return &venue, nil
	}
	venue, err := d.Directory.ResolveVenue(ctx, venueID)
	if err != nil {
		return nil, err
	}
	d.cache.SetDefault(key, *venue)
	return venue, nil
}

func (d *CachedDirectory) UpsertVenues(ctx context.Context, venues []model.Venue) error {
	if err := d.Directory.UpsertVenues(ctx, venues); err != nil {
		return err
	}
	for _, v := range venues {
		d.cache.Delete("venue:" + v.ID)
	}
	return nil
}
