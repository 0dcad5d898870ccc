package model

import "time"

// Location is a device coordinate in decimal degrees.
type Location struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// Valid reports whether the coordinate lies within WGS84 bounds.
func (l Location) Valid() bool {
	return l.Lat >= -90 && l.Lat <= 90 && l.Lon >= -180 && l.Lon <= 180
}

// PresenceRecord is a user's time-bounded claim of being at a venue. There is
// at most one per user.
type PresenceRecord struct {
	UserID  string `gorm:"primaryKey;size:128" json:"user_id"`
	ID      string `gorm:"size:36;not null" json:"id"`
	VenueID string `gorm:"size:64;not null;index" json:"venue_id"`
	// VenueName is a snapshot taken at check-in and never re-resolved.
	VenueName string    `gorm:"size:256;not null" json:"venue_name"`
	Location  Location  `gorm:"embedded;embeddedPrefix:location_" json:"location"`
	CreatedAt time.Time `gorm:"not null" json:"created_at"`
	ExpiresAt time.Time `gorm:"not null;index" json:"expires_at"`
}

// IsExpired reports whether the record is logically deleted at now.
func (r *PresenceRecord) IsExpired(now time.Time) bool {
	return !now.Before(r.ExpiresAt)
}
