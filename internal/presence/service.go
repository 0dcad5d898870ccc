package presence

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"

	"github.com/google/uuid"

	"courtside-backend/internal/clock"
	"courtside-backend/internal/model"
	"courtside-backend/internal/store"
)

// UserDirectory resolves a user id to its profile.
type UserDirectory interface {
	ResolveUser(ctx context.Context, userID string) (*model.User, error)
}

// VenueDirectory resolves venue ids.
type VenueDirectory interface {
	ResolveVenue(ctx context.Context, venueID string) (*model.Venue, error)
	ListVenues(ctx context.Context) ([]model.Venue, error)
}

// LocationProvider returns the caller's current coordinate, or an error
// wrapping ErrLocationUnavailable.
type LocationProvider interface {
	CurrentLocation(ctx context.Context) (model.Location, error)
}

// LocationFunc adapts a function to LocationProvider.
type LocationFunc func(ctx context.Context) (model.Location, error)

func (f LocationFunc) CurrentLocation(ctx context.Context) (model.Location, error) {
	return f(ctx)
}

// Service owns presence records and venue occupancy.
//
// Every operation on a user runs under that user's lock, and every change to
// a venue's count runs under that venue's lock (always taken after the user
// lock). Expiry is lazy: an expired record is removed by whichever read or
// write touches it next, or by the Reconciler.
//
// countsMu is held shared by every check-in and check-out from its store write
// through its index update, and exclusively by Rebuild while it swaps in the
// recomputed counts and persists them.
type Service struct {
	store  store.Store
	users  UserDirectory
	venues VenueDirectory
	clock  clock.Clock
	index  *OccupancyIndex

	userLocks  *keyedMutex
	venueLocks *keyedMutex
	countsMu   sync.RWMutex
	rebuildMu  sync.Mutex

	presence  *broker[*model.PresenceRecord]
	occupancy *broker[int64]

	newID func() string
}

// NewService wires a Service. The occupancy index starts empty; call Rebuild
// before serving traffic.
func NewService(s store.Store, users UserDirectory, venues VenueDirectory, clk clock.Clock) *Service {
	return &Service{
		store:      s,
		users:      users,
		venues:     venues,
		clock:      clk,
		index:      NewOccupancyIndex(),
		userLocks:  newKeyedMutex(),
		venueLocks: newKeyedMutex(),
		presence:   newBroker[*model.PresenceRecord]("presence", false),
		occupancy:  newBroker[int64]("occupancy", true),
		newID:      uuid.NewString,
	}
}

// Clock returns the service's time source.
func (s *Service) Clock() clock.Clock {
	return s.clock
}

// CheckIn claims that userID is at venueID. It fails with ErrAlreadyCheckedIn
// while an unexpired claim exists; nothing is written unless every
// precondition holds.
func (s *Service) CheckIn(ctx context.Context, userID, venueID string, loc model.Location) (*model.PresenceRecord, error) {
	if !loc.Valid() {
		return nil, fmt.Errorf("%w: coordinate out of range", ErrLocationUnavailable)
	}
	if err := s.resolveUser(ctx, userID); err != nil {
		return nil, err
	}
	venue, err := s.resolveVenue(ctx, venueID)
	if err != nil {
		return nil, err
	}

	unlockUser := s.userLocks.Lock(userID)
	defer unlockUser()

	now := s.clock.Now()
	existing, _, err := s.loadActiveLocked(ctx, userID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, ErrAlreadyCheckedIn
	}

	rec := &model.PresenceRecord{
		UserID:    userID,
		ID:        s.newID(),
		VenueID:   venue.ID,
		VenueName: venue.Name,
		Location:  loc,
		CreatedAt: now,
		ExpiresAt: now.Add(TTL),
	}

	unlockVenue := s.venueLocks.Lock(venue.ID)
	defer unlockVenue()
	s.countsMu.RLock()
	defer s.countsMu.RUnlock()

	if _, err := s.store.CreatePresence(ctx, rec); err != nil {
		if errors.Is(err, store.ErrAlreadyExists) {
			return nil, ErrAlreadyCheckedIn
		}
		return nil, storeError("check in", err)
	}
	count := s.index.Increment(venue.ID)

	s.publishPresence(userID, rec)
	s.occupancy.Publish(venue.ID, count)
	checkInsTotal.Inc()
	log.Printf("User %s checked in at venue %s (%d present)", userID, venue.ID, count)

	out := *rec
	return &out, nil
}

// CheckInFrom asks provider for the current location and then checks in.
// A provider failure aborts before any state is touched.
func (s *Service) CheckInFrom(ctx context.Context, userID, venueID string, provider LocationProvider) (*model.PresenceRecord, error) {
	loc, err := provider.CurrentLocation(ctx)
	if err != nil {
		if errors.Is(err, ErrLocationUnavailable) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %w", ErrLocationUnavailable, err)
	}
	return s.CheckIn(ctx, userID, venueID, loc)
}

// CheckOut ends the user's active claim.
func (s *Service) CheckOut(ctx context.Context, userID string) error {
	unlockUser := s.userLocks.Lock(userID)
	defer unlockUser()

	rec, _, err := s.loadActiveLocked(ctx, userID)
	if err != nil {
		return err
	}
	if rec == nil {
		return ErrNoActivePresence
	}

	removed, err := s.removeLocked(ctx, rec)
	if err != nil {
		return err
	}
	if !removed {
		return ErrNoActivePresence
	}
	checkOutsTotal.Inc()
	log.Printf("User %s checked out of venue %s", userID, rec.VenueID)
	return nil
}

// GetActivePresence returns the user's unexpired claim, or nil.
func (s *Service) GetActivePresence(ctx context.Context, userID string) (*model.PresenceRecord, error) {
	unlockUser := s.userLocks.Lock(userID)
	defer unlockUser()

	rec, _, err := s.loadActiveLocked(ctx, userID)
	return rec, err
}

// Occupancy returns the venue's live count.
func (s *Service) Occupancy(ctx context.Context, venueID string) (int64, error) {
	if _, err := s.resolveVenue(ctx, venueID); err != nil {
		return 0, err
	}
	return s.index.Get(venueID), nil
}

// ListVenues passes through to the venue directory.
func (s *Service) ListVenues(ctx context.Context) ([]model.Venue, error) {
	venues, err := s.venues.ListVenues(ctx)
	if err != nil {
		return nil, storeError("list venues", err)
	}
	return venues, nil
}

// SubscribeToUserPresence calls fn with the user's current claim (or nil) and
// again after every create and delete, in order, with no transition skipped.
// fn never runs concurrently with itself and never runs after unsubscribe
// returns; it must not call unsubscribe itself.
func (s *Service) SubscribeToUserPresence(ctx context.Context, userID string, fn func(*model.PresenceRecord)) (unsubscribe func(), err error) {
	unlockUser := s.userLocks.Lock(userID)
	defer unlockUser()

	rec, _, err := s.loadActiveLocked(ctx, userID)
	if err != nil {
		return nil, err
	}
	return s.presence.Subscribe(userID, rec, func(_ string, r *model.PresenceRecord) { fn(r) }), nil
}

// SubscribeToVenueOccupancy calls fn with the venue's current count and again
// after every change. A slow subscriber sees bursts coalesced to the newest
// count; otherwise the delivery rules match SubscribeToUserPresence.
func (s *Service) SubscribeToVenueOccupancy(ctx context.Context, venueID string, fn func(int64)) (unsubscribe func(), err error) {
	if _, err := s.resolveVenue(ctx, venueID); err != nil {
		return nil, err
	}

	unlockVenue := s.venueLocks.Lock(venueID)
	defer unlockVenue()

	return s.occupancy.Subscribe(venueID, s.index.Get(venueID), func(_ string, c int64) { fn(c) }), nil
}

// SubscribeToAllVenueOccupancy calls fn on every venue count change. Changes
// for one venue are delivered in order; bursts may be coalesced to the latest.
func (s *Service) SubscribeToAllVenueOccupancy(fn func(venueID string, count int64)) (unsubscribe func()) {
	return s.occupancy.SubscribeAll(fn)
}

// loadActiveLocked reads the user's record and applies lazy expiry. The
// caller holds the user lock.
func (s *Service) loadActiveLocked(ctx context.Context, userID string) (rec *model.PresenceRecord, expired bool, err error) {
	rec, err = s.store.GetPresence(ctx, userID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, storeError("load presence", err)
	}
	if !rec.IsExpired(s.clock.Now()) {
		return rec, false, nil
	}

	removed, err := s.removeLocked(ctx, rec)
	if err != nil {
		return nil, false, err
	}
	if removed {
		expiredTotal.Inc()
		log.Printf("Check-in for user %s at venue %s expired at %s", userID, rec.VenueID, rec.ExpiresAt.Format("15:04:05"))
	}
	return nil, removed, nil
}

// removeLocked deletes rec and decrements its venue. removed is false when the
// record had already been deleted elsewhere. The caller holds the user lock.
func (s *Service) removeLocked(ctx context.Context, rec *model.PresenceRecord) (removed bool, err error) {
	unlockVenue := s.venueLocks.Lock(rec.VenueID)
	defer unlockVenue()
	s.countsMu.RLock()
	defer s.countsMu.RUnlock()

	_, storeClamped, err := s.store.DeletePresence(ctx, rec, s.clock.Now())
	if errors.Is(err, store.ErrNotFound) {
		s.publishPresence(rec.UserID, nil)
		return false, nil
	}
	if err != nil {
		return false, storeError("remove presence", err)
	}

	count, clamped := s.index.DecrementFloored(rec.VenueID)
	if clamped || storeClamped {
		floorClampsTotal.Inc()
		log.Printf("Anomaly: occupancy for venue %s was already zero when removing user %s", rec.VenueID, rec.UserID)
	}

	s.publishPresence(rec.UserID, nil)
	s.occupancy.Publish(rec.VenueID, count)
	return true, nil
}

func (s *Service) publishPresence(userID string, rec *model.PresenceRecord) {
	if rec == nil {
		s.presence.Publish(userID, nil)
		return
	}
	snapshot := *rec
	s.presence.Publish(userID, &snapshot)
}

func (s *Service) resolveUser(ctx context.Context, userID string) error {
	if userID == "" {
		return ErrUnknownUser
	}
	_, err := s.users.ResolveUser(ctx, userID)
	if errors.Is(err, store.ErrNotFound) {
		return ErrUnknownUser
	}
	if err != nil {
		return storeError("resolve user", err)
	}
	return nil
}

func (s *Service) resolveVenue(ctx context.Context, venueID string) (*model.Venue, error) {
	if venueID == "" {
		return nil, ErrUnknownVenue
	}
	venue, err := s.venues.ResolveVenue(ctx, venueID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrUnknownVenue
	}
	if err != nil {
		return nil, storeError("resolve venue", err)
	}
	return venue, nil
}
