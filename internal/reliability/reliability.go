// Package reliability turns a player's session history into a 0-100 score
// and a tier shown on their profile.
package reliability

import (
	"context"
	"math"

	"courtside-backend/internal/model"
)

// Scoring weights.
const (
	MaxScore            = 100
	MinScore            = 0
	NoShowPenalty       = 15
	CancellationPenalty = 5
	AttendedBonus       = 1
	AttendedBonusCap    = 5 // points, not sessions
	// UnratedScore is reported for players with no scheduled sessions.
	UnratedScore = MaxScore
)

// Tier is a discrete reliability band.
type Tier int

const (
	TierUnrated Tier = iota
	TierExcellent
	TierGood
	TierFair
	TierNeedsImprovement
)

// band is a tier and the lowest score that earns it.
type band struct {
	tier     Tier
	minScore int
}

// bands are ordered from the top; the first band whose minScore the score
// reaches wins.
var bands = []band{
	{TierExcellent, 90},
	{TierGood, 70},
	{TierFair, 50},
	{TierNeedsImprovement, MinScore},
}

// Label is the human-readable tier name.
func (t Tier) Label() string {
	switch t {
	case TierUnrated:
		return "Unrated"
	case TierExcellent:
		return "Excellent"
	case TierGood:
		return "Good"
	case TierFair:
		return "Fair"
	case TierNeedsImprovement:
		return "Needs Improvement"
	}
	return "Unknown"
}

// Color is the badge color for the tier.
func (t Tier) Color() string {
	switch t {
	case TierUnrated:
		return "#9E9E9E"
	case TierExcellent:
		return "#4CAF50"
	case TierGood:
		return "#8BC34A"
	case TierFair:
		return "#FF9800"
	case TierNeedsImprovement:
		return "#F44336"
	}
	return "#9E9E9E"
}

func (t Tier) String() string { return t.Label() }

// Score is a computed reliability score.
type Score struct {
	Score int
	Tier  Tier
}

// ComputeScore is total over all inputs: a player with no scheduled sessions
// gets UnratedScore and TierUnrated.
func ComputeScore(stats model.ReliabilityStats) Score {
	if stats.TotalScheduled <= 0 {
		return Score{Score: UnratedScore, Tier: TierUnrated}
	}

	// Counts beyond MaxScore cannot move the result further, so capping them
	// keeps the arithmetic from overflowing.
	attended := clampInt64(stats.TotalAttended, 0, MaxScore)
	noShows := clampInt64(stats.TotalNoShow, 0, MaxScore)
	cancels := clampInt64(stats.TotalCancelled, 0, MaxScore)

	bonus := min(attended*AttendedBonus, AttendedBonusCap)
	penalty := noShows*NoShowPenalty + cancels*CancellationPenalty

	score := int(clampInt64(MaxScore-penalty+bonus, MinScore, MaxScore))
	return Score{Score: score, Tier: TierFor(score)}
}

// TierFor maps a score to its band.
func TierFor(score int) Tier {
	for _, b := range bands {
		if score >= b.minScore {
			return b.tier
		}
	}
	return TierNeedsImprovement
}

// AttendanceRate is round(100 * attended / scheduled). ok is false when
// nothing has been scheduled.
func AttendanceRate(stats model.ReliabilityStats) (rate int, ok bool) {
	if stats.TotalScheduled <= 0 {
		return 0, false
	}
	return int(math.Round(100 * float64(stats.TotalAttended) / float64(stats.TotalScheduled))), true
}

// SessionHistory supplies a player's session tally.
type SessionHistory interface {
	GetStats(ctx context.Context, userID string) (model.ReliabilityStats, error)
}

// Report is everything a profile shows about reliability.
type Report struct {
	Stats          model.ReliabilityStats
	AttendanceRate *int
	Score
}

// ForUser loads the user's history and scores it.
func ForUser(ctx context.Context, history SessionHistory, userID string) (Report, error) {
	stats, err := history.GetStats(ctx, userID)
	if err != nil {
		return Report{}, err
	}
	r := Report{Stats: stats, Score: ComputeScore(stats)}
	if rate, ok := AttendanceRate(stats); ok {
		r.AttendanceRate = &rate
	}
	return r, nil
}

func clampInt64(v, lo, hi int64) int64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
