package presence

import (
	"context"
	"fmt"
	"log"
	"time"

	"golang.org/x/sync/singleflight"
)

// Rebuild recomputes the occupancy index from the stored records, persists the
// recomputed counts and notifies subscribers of every venue that moved.
// Venues with a check-in or check-out landing while the records are read keep
// their live count; the next rebuild picks them up.
func (s *Service) Rebuild(ctx context.Context) error {
	s.rebuildMu.Lock()
	defer s.rebuildMu.Unlock()

	since := s.index.Version()
	records, err := s.store.ListPresences(ctx)
	if err != nil {
		return storeError("rebuild occupancy", err)
	}

	now := s.clock.Now()
	s.countsMu.Lock()
	changed := s.index.RebuildFrom(records, now, since)
	err = s.store.ReplaceOccupancy(ctx, s.index.Snapshot(), now)
	s.countsMu.Unlock()

	for _, venueID := range changed {
		unlockVenue := s.venueLocks.Lock(venueID)
		s.occupancy.Publish(venueID, s.index.Get(venueID))
		unlockVenue()
	}
	if err != nil {
		return storeError("persist occupancy", err)
	}
	if len(changed) > 0 {
		log.Printf("Occupancy rebuilt from %d records; %d venues corrected", len(records), len(changed))
	}
	return nil
}

// ExpireStale removes every stored record whose TTL has elapsed, through the
// same path a lazy read would take. It returns how many were removed.
func (s *Service) ExpireStale(ctx context.Context) (int, error) {
	records, err := s.store.ListPresences(ctx)
	if err != nil {
		return 0, storeError("list presences", err)
	}

	now := s.clock.Now()
	removed := 0
	for i := range records {
		if !records[i].IsExpired(now) {
			continue
		}
		expired, err := s.expireUser(ctx, records[i].UserID)
		if err != nil {
			return removed, err
		}
		if expired {
			removed++
		}
	}
	return removed, nil
}

func (s *Service) expireUser(ctx context.Context, userID string) (bool, error) {
	unlockUser := s.userLocks.Lock(userID)
	defer unlockUser()

	_, expired, err := s.loadActiveLocked(ctx, userID)
	return expired, err
}

// Reconciler periodically sweeps expired check-ins and rebuilds occupancy.
// It bounds drift; correctness does not depend on it running.
type Reconciler struct {
	svc      *Service
	interval time.Duration
	group    singleflight.Group
}

// NewReconciler creates a reconciler that runs every interval.
func NewReconciler(svc *Service, interval time.Duration) *Reconciler {
	return &Reconciler{svc: svc, interval: interval}
}

// Run reconciles once immediately and then on every tick until ctx is done.
func (r *Reconciler) Run(ctx context.Context) {
	log.Printf("Starting occupancy reconciler (every %s)...", r.interval)

	if _, err := r.Trigger(ctx); err != nil {
		log.Printf("Reconcile cycle failed: %v", err)
	}

	timer := time.NewTimer(r.interval)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Println("Occupancy reconciler shutting down.")
			return
		case <-timer.C:
			if _, err := r.Trigger(ctx); err != nil {
				log.Printf("Reconcile cycle failed: %v", err)
			}
			timer.Reset(r.interval)
		}
	}
}

// Trigger runs one reconcile cycle and returns how many check-ins expired.
// Concurrent triggers share a single cycle. The cycle runs detached from any
// one caller's cancellation; a caller whose ctx ends stops waiting and gets
// ctx.Err() while the cycle finishes for everyone else.
func (r *Reconciler) Trigger(ctx context.Context) (int, error) {
	results := r.group.DoChan("reconcile", func() (any, error) {
		cycleCtx := context.WithoutCancel(ctx)
		expired, err := r.svc.ExpireStale(cycleCtx)
		if err != nil {
			return expired, fmt.Errorf("expire stale check-ins: %w", err)
		}
		if err := r.svc.Rebuild(cycleCtx); err != nil {
			return expired, err
		}
		return expired, nil
	})

	select {
	case res := <-results:
		expired, _ := res.Val.(int)
		return expired, res.Err
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}
