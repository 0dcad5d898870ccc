package internal

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"courtside-backend/config"
	"courtside-backend/internal/clock"
	"courtside-backend/internal/db"
	"courtside-backend/internal/model"
	"courtside-backend/internal/presence"
	"courtside-backend/internal/store"
)

// TestPresenceLifecycle_SQLite drives check-ins through the service against a
// real database, restarts the service on the same data and verifies the
// rebuilt counts and the durable occupancy table at each step.
func TestPresenceLifecycle_SQLite(t *testing.T) {
	ctx := context.Background()

	testDB, err := db.Init(&config.DatabaseConfig{
		Driver:   "sqlite",
		DSN:      "file:presence_lifecycle?mode=memory&cache=shared",
		LogLevel: "silent",
	})
	require.NoError(t, err)
	sqlDB, _ := testDB.DB()
	defer sqlDB.Close()

	gormStore := store.NewGormStore(testDB)
	require.NoError(t, gormStore.UpsertVenues(ctx, []model.Venue{
		{ID: "rucker", Name: "Rucker Park"},
		{ID: "west4", Name: "West 4th Street"},
	}))
	for _, u := range []string{"u1", "u2", "u3"} {
		require.NoError(t, gormStore.UpsertUser(ctx, &model.User{ID: u, DisplayName: u}))
	}

	start := time.Date(2026, 8, 1, 18, 0, 0, 0, time.UTC)
	clk := clock.NewFake(start)
	directory := store.NewCachedDirectory(gormStore, time.Minute)
	svc := presence.NewService(gormStore, directory, directory, clk)

	t.Run("check-ins update index and table together", func(t *testing.T) {
		_, err := svc.CheckIn(ctx, "u1", "rucker", model.Location{Lat: 40.83, Lon: -73.94})
		require.NoError(t, err)
		_, err = svc.CheckIn(ctx, "u2", "rucker", model.Location{Lat: 40.83, Lon: -73.94})
		require.NoError(t, err)
		clk.Advance(time.Hour)
		_, err = svc.CheckIn(ctx, "u3", "west4", model.Location{Lat: 40.73, Lon: -74.0})
		require.NoError(t, err)

		_, err = svc.CheckIn(ctx, "u1", "west4", model.Location{Lat: 40.73, Lon: -74.0})
		assert.ErrorIs(t, err, presence.ErrAlreadyCheckedIn)

		rucker, _ := svc.Occupancy(ctx, "rucker")
		assert.Equal(t, int64(2), rucker)

		var row model.VenueOccupancy
		require.NoError(t, testDB.First(&row, "venue_id = ?", "rucker").Error)
		assert.Equal(t, int64(2), row.ActiveCount)
	})

	t.Run("a restarted service rebuilds the same counts", func(t *testing.T) {
		restarted := presence.NewService(gormStore, directory, directory, clk)
		rucker, _ := restarted.Occupancy(ctx, "rucker")
		assert.Equal(t, int64(0), rucker, "index starts empty")

		require.NoError(t, restarted.Rebuild(ctx))
		rucker, _ = restarted.Occupancy(ctx, "rucker")
		west4, _ := restarted.Occupancy(ctx, "west4")
		assert.Equal(t, int64(2), rucker)
		assert.Equal(t, int64(1), west4)
		svc = restarted
	})

	t.Run("reconciler expires the first two check-ins", func(t *testing.T) {
		clk.Set(start.Add(presence.TTL))

		expired, err := presence.NewReconciler(svc, time.Minute).Trigger(ctx)
		require.NoError(t, err)
		assert.Equal(t, 2, expired)

		rucker, _ := svc.Occupancy(ctx, "rucker")
		west4, _ := svc.Occupancy(ctx, "west4")
		assert.Equal(t, int64(0), rucker)
		assert.Equal(t, int64(1), west4)

		var remaining int64
		testDB.Model(&model.PresenceRecord{}).Count(&remaining)
		assert.Equal(t, int64(1), remaining)

		durable, err := gormStore.GetOccupancy(ctx, "rucker")
		require.NoError(t, err)
		assert.Equal(t, int64(0), durable)
	})

	t.Run("check-out of the last player clears the venue", func(t *testing.T) {
		require.NoError(t, svc.CheckOut(ctx, "u3"))
		west4, _ := svc.Occupancy(ctx, "west4")
		assert.Equal(t, int64(0), west4)

		durable, err := gormStore.GetOccupancy(ctx, "west4")
		require.NoError(t, err)
		assert.Equal(t, int64(0), durable)
	})
}
