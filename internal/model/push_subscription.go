package model

import "time"

// PushSubscription holds the information for a browser push subscription and
// the venues it watches.
type PushSubscription struct {
	Endpoint  string    `gorm:"primaryKey"`
	P256DH    string    `gorm:"column:p256dh;not null"`
	Auth      string    `gorm:"not null"`
	CreatedAt time.Time `gorm:"not null"`

	// Associations
	Venues []*Venue `gorm:"many2many:subscription_venue_mapping;"`
}
