package presence

import (
	"sync"
	"time"

	"courtside-backend/internal/model"
)

// OccupancyIndex is the in-memory venue -> active check-in count. Counts only
// move through Increment, DecrementFloored and RebuildFrom.
//
// Every Increment and DecrementFloored stamps its venue with a new version so
// a rebuild can tell which venues moved while it was reading the store.
type OccupancyIndex struct {
	mu      sync.RWMutex
	counts  map[string]int64
	version uint64
	touched map[string]uint64
}

// NewOccupancyIndex returns an empty index.
func NewOccupancyIndex() *OccupancyIndex {
	return &OccupancyIndex{
		counts:  make(map[string]int64),
		touched: make(map[string]uint64),
	}
}

// Version returns the stamp of the most recent Increment or DecrementFloored.
func (x *OccupancyIndex) Version() uint64 {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return x.version
}

func (x *OccupancyIndex) touch(venueID string) {
	x.version++
	x.touched[venueID] = x.version
}

// Increment adds one to the venue's count and returns the new value.
func (x *OccupancyIndex) Increment(venueID string) int64 {
	x.mu.Lock()
	defer x.mu.Unlock()
	x.counts[venueID]++
	x.touch(venueID)
	return x.counts[venueID]
}

// DecrementFloored subtracts one from the venue's count unless it is already
// zero, in which case clamped is true and nothing changes.
func (x *OccupancyIndex) DecrementFloored(venueID string) (count int64, clamped bool) {
	x.mu.Lock()
	defer x.mu.Unlock()
	c := x.counts[venueID]
	if c <= 0 {
		return 0, true
	}
	c--
	x.touch(venueID)
	if c == 0 {
		delete(x.counts, venueID)
	} else {
		x.counts[venueID] = c
	}
	return c, false
}

// Get returns the venue's count; unknown venues count zero.
func (x *OccupancyIndex) Get(venueID string) int64 {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return x.counts[venueID]
}

// Snapshot copies every non-zero count.
func (x *OccupancyIndex) Snapshot() map[string]int64 {
	x.mu.RLock()
	defer x.mu.RUnlock()
	out := make(map[string]int64, len(x.counts))
	for venueID, c := range x.counts {
		out[venueID] = c
	}
	return out
}

// RebuildFrom recomputes every count from records, counting each user at most
// once and skipping records expired at now. records must have been read after
// Version returned since: a venue stamped after since was changed by a live
// check-in or check-out that records may not reflect, so it keeps its current
// count. It returns the venues whose count changed.
func (x *OccupancyIndex) RebuildFrom(records []model.PresenceRecord, now time.Time, since uint64) []string {
	seen := make(map[string]struct{}, len(records))
	fresh := make(map[string]int64)
	for i := range records {
		rec := &records[i]
		if rec.IsExpired(now) {
			continue
		}
		if _, dup := seen[rec.UserID]; dup {
			continue
		}
		seen[rec.UserID] = struct{}{}
		fresh[rec.VenueID]++
	}

	x.mu.Lock()
	defer x.mu.Unlock()
	for venueID, stamp := range x.touched {
		if stamp <= since {
			delete(x.touched, venueID)
			continue
		}
		if c, ok := x.counts[venueID]; ok {
			fresh[venueID] = c
		} else {
			delete(fresh, venueID)
		}
	}

	var changed []string
	for venueID, c := range fresh {
		if x.counts[venueID] != c {
			changed = append(changed, venueID)
		}
	}
	for venueID := range x.counts {
		if _, ok := fresh[venueID]; !ok {
			changed = append(changed, venueID)
		}
	}
	x.counts = fresh
	return changed
}
