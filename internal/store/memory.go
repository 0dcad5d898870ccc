package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"courtside-backend/internal/model"
)

// MemoryStore is an in-process implementation of Store, Directory and
// SessionHistory. It backs the "memory" database driver and the service tests.
type MemoryStore struct {
	mu        sync.Mutex
	presences map[string]model.PresenceRecord
	occupancy map[string]int64
	users     map[string]model.User
	venues    map[string]model.Venue
	sessions  []model.SessionOutcome
	fail      error
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		presences: make(map[string]model.PresenceRecord),
		occupancy: make(map[string]int64),
		users:     make(map[string]model.User),
		venues:    make(map[string]model.Venue),
	}
}

func (m *MemoryStore) GetPresence(_ context.Context, userID string) (*model.PresenceRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail != nil {
		return nil, m.fail
	}
	rec, ok := m.presences[userID]
	if !ok {
		return nil, ErrNotFound
	}
	return &rec, nil
}

func (m *MemoryStore) ListPresences(_ context.Context) ([]model.PresenceRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail != nil {
		return nil, m.fail
	}
	out := make([]model.PresenceRecord, 0, len(m.presences))
	for _, rec := range m.presences {
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out, nil
}

func (m *MemoryStore) CreatePresence(_ context.Context, rec *model.PresenceRecord) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail != nil {
		return 0, m.fail
	}
	if _, exists := m.presences[rec.UserID]; exists {
		return 0, ErrAlreadyExists
	}
	m.presences[rec.UserID] = *rec
	m.occupancy[rec.VenueID]++
	return m.occupancy[rec.VenueID], nil
}

func (m *MemoryStore) DeletePresence(_ context.Context, rec *model.PresenceRecord, _ time.Time) (int64, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail != nil {
		return 0, false, m.fail
	}
	stored, ok := m.presences[rec.UserID]
	if !ok || stored.ID != rec.ID {
		return 0, false, ErrNotFound
	}
	delete(m.presences, rec.UserID)
	if m.occupancy[rec.VenueID] <= 0 {
		return 0, true, nil
	}
	m.occupancy[rec.VenueID]--
	return m.occupancy[rec.VenueID], false, nil
}

func (m *MemoryStore) GetOccupancy(_ context.Context, venueID string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail != nil {
		return 0, m.fail
	}
	return m.occupancy[venueID], nil
}

func (m *MemoryStore) ReplaceOccupancy(_ context.Context, counts map[string]int64, _ time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail != nil {
		return m.fail
	}
	m.occupancy = make(map[string]int64, len(counts))
	for venueID, c := range counts {
		m.occupancy[venueID] = c
	}
	return nil
}

// SetFail makes every presence and occupancy call return err until reset
// with nil.
func (m *MemoryStore) SetFail(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fail = err
}

// PutPresence stores rec directly, bypassing the occupancy count. It exists to
// seed drift scenarios.
func (m *MemoryStore) PutPresence(rec model.PresenceRecord) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.presences[rec.UserID] = rec
}

func (m *MemoryStore) ResolveUser(_ context.Context, userID string) (*model.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	user, ok := m.users[userID]
	if !ok {
		return nil, ErrNotFound
	}
	return &user, nil
}

func (m *MemoryStore) UpsertUser(_ context.Context, user *model.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.users[user.ID] = *user
	return nil
}

func (m *MemoryStore) ResolveVenue(_ context.Context, venueID string) (*model.Venue, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	venue, ok := m.venues[venueID]
	if !ok {
		return nil, ErrNotFound
	}
	return &venue, nil
}

func (m *MemoryStore) ListVenues(_ context.Context) ([]model.Venue, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]model.Venue, 0, len(m.venues))
	for _, v := range m.venues {
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (m *MemoryStore) UpsertVenues(_ context.Context, venues []model.Venue) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, v := range venues {
		m.venues[v.ID] = v
	}
	return nil
}

// AddSession appends a session outcome row.
func (m *MemoryStore) AddSession(s model.SessionOutcome) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions = append(m.sessions, s)
}

func (m *MemoryStore) GetStats(_ context.Context, userID string) (model.ReliabilityStats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var stats model.ReliabilityStats
	for _, s := range m.sessions {
		if s.UserID != userID {
			continue
		}
		stats.TotalScheduled++
		switch s.Status {
		case model.SessionAttended:
			stats.TotalAttended++
		case model.SessionNoShow:
			stats.TotalNoShow++
		case model.SessionCancelled:
			stats.TotalCancelled++
		}
	}
	return stats, nil
}
