package model

import "time"

// Venue represents a gym or court where players can check in.
type Venue struct {
	ID        string    `gorm:"primaryKey;size:64" json:"id"`
	Name      string    `gorm:"size:256;not null" json:"name"`
	Lat       float64   `json:"lat"`
	Lon       float64   `json:"lon"`
	CreatedAt time.Time `gorm:"not null" json:"-"`
	UpdatedAt time.Time `gorm:"not null" json:"-"`
}

// Coordinate returns the venue's known position.
func (v Venue) Coordinate() Location {
	return Location{Lat: v.Lat, Lon: v.Lon}
}
