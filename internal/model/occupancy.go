package model

import "time"

// VenueOccupancy is the durable copy of a venue's live check-in count. It is
// derived from presence_records and can be rebuilt from them at any time.
type VenueOccupancy struct {
	VenueID     string    `gorm:"primaryKey;size:64"`
	ActiveCount int64     `gorm:"not null;default:0"`
	UpdatedAt   time.Time `gorm:"not null"`
}
