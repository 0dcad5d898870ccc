package model

import "time"

// SessionStatus is the outcome of a scheduled pickup session for one player.
type SessionStatus string

const (
	SessionScheduled SessionStatus = "scheduled"
	SessionAttended  SessionStatus = "attended"
	SessionNoShow    SessionStatus = "no_show"
	SessionCancelled SessionStatus = "cancelled"
)

// SessionOutcome is one row of a player's session history. Rows are written
// by the scheduling side; the presence engine only aggregates them.
type SessionOutcome struct {
	ID           int64         `gorm:"primaryKey"`
	UserID       string        `gorm:"size:128;not null;index"`
	VenueID      string        `gorm:"size:64"`
	ScheduledFor time.Time     `gorm:"not null"`
	Status       SessionStatus `gorm:"size:16;not null"`
	CreatedAt    time.Time     `gorm:"not null"`
}

// ReliabilityStats is a user's tally of session outcomes.
type ReliabilityStats struct {
	TotalScheduled int64 `json:"total_scheduled"`
	TotalAttended  int64 `json:"total_attended"`
	TotalNoShow    int64 `json:"total_no_show"`
	TotalCancelled int64 `json:"total_cancelled"`
}
