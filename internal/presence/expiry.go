package presence

import (
	"fmt"
	"time"

	"courtside-backend/internal/model"
)

// TTL is how long a check-in stays valid.
const TTL = 3 * time.Hour

// Remaining is the time left on a check-in, for display.
type Remaining struct {
	Duration time.Duration
}

// TimeRemaining returns max(0, rec.ExpiresAt - now).
func TimeRemaining(rec *model.PresenceRecord, now time.Time) Remaining {
	d := rec.ExpiresAt.Sub(now)
	if d < 0 {
		d = 0
	}
	return Remaining{Duration: d}
}

// Expiring reports whether less than a whole minute is left.
func (r Remaining) Expiring() bool {
	return r.Duration < time.Minute
}

// String renders whole hours and minutes, e.g. "2h 15m", "40m", or
// "expiring" once under a minute remains.
func (r Remaining) String() string {
	if r.Expiring() {
		return "expiring"
	}
	hours := int(r.Duration / time.Hour)
	minutes := int((r.Duration % time.Hour) / time.Minute)
	switch {
	case hours > 0 && minutes > 0:
		return fmt.Sprintf("%dh %dm", hours, minutes)
	case hours > 0:
		return fmt.Sprintf("%dh", hours)
	default:
		return fmt.Sprintf("%dm", minutes)
	}
}
