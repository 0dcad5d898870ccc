package model

import "time"

// User is the minimal profile the presence engine needs: an opaque id and a
// display name. Identity itself is managed elsewhere.
type User struct {
	ID          string    `gorm:"primaryKey;size:128" json:"id"`
	DisplayName string    `gorm:"size:256;not null" json:"display_name"`
	CreatedAt   time.Time `gorm:"not null" json:"-"`
	UpdatedAt   time.Time `gorm:"not null" json:"-"`
}
