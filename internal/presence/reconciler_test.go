package presence

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"courtside-backend/internal/model"
	"courtside-backend/internal/store"
)

func TestRebuild_CorrectsDrift(t *testing.T) {
	svc, mem, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.CheckIn(ctx, "u1", "rucker", atCourt)
	require.NoError(t, err)

	// Records written behind the service's back, one of them already stale.
	mem.PutPresence(model.PresenceRecord{UserID: "u2", ID: "x2", VenueID: "rucker", CreatedAt: t0, ExpiresAt: t0.Add(TTL)})
	mem.PutPresence(model.PresenceRecord{UserID: "u3", ID: "x3", VenueID: "west4", CreatedAt: t0.Add(-TTL), ExpiresAt: t0})

	counts := make(chan int64, 8)
	unsubscribe, err := svc.SubscribeToVenueOccupancy(ctx, "rucker", func(c int64) { counts <- c })
	require.NoError(t, err)
	defer unsubscribe()
	assert.Equal(t, int64(1), recv(t, counts))

	require.NoError(t, svc.Rebuild(ctx))
	assert.Equal(t, int64(2), recv(t, counts), "subscribers see the corrected count")

	rucker, _ := svc.Occupancy(ctx, "rucker")
	west4, _ := svc.Occupancy(ctx, "west4")
	assert.Equal(t, int64(2), rucker)
	assert.Equal(t, int64(0), west4)

	durable, err := mem.GetOccupancy(ctx, "rucker")
	require.NoError(t, err)
	assert.Equal(t, int64(2), durable)
}

// listHookStore runs afterList once, right after the records have been read.
type listHookStore struct {
	*store.MemoryStore
	afterList func()
}

func (s *listHookStore) ListPresences(ctx context.Context) ([]model.PresenceRecord, error) {
	records, err := s.MemoryStore.ListPresences(ctx)
	if hook := s.afterList; hook != nil {
		s.afterList = nil
		hook()
	}
	return records, err
}

func newHookedService(t *testing.T) (*Service, *listHookStore, *store.MemoryStore) {
	t.Helper()
	_, mem, clk := newTestService(t)
	hooked := &listHookStore{MemoryStore: mem}
	return NewService(hooked, mem, mem, clk), hooked, mem
}

func TestRebuild_CheckOutDuringReadIsNotUndone(t *testing.T) {
	svc, hooked, mem := newHookedService(t)
	ctx := context.Background()

	_, err := svc.CheckIn(ctx, "u1", "rucker", atCourt)
	require.NoError(t, err)

	hooked.afterList = func() {
		require.NoError(t, svc.CheckOut(ctx, "u1"))
	}
	require.NoError(t, svc.Rebuild(ctx))

	count, _ := svc.Occupancy(ctx, "rucker")
	assert.Equal(t, int64(0), count, "the checked-out user is not counted again")
	durable, err := mem.GetOccupancy(ctx, "rucker")
	require.NoError(t, err)
	assert.Equal(t, int64(0), durable)

	_, err = svc.CheckIn(ctx, "u2", "rucker", atCourt)
	require.NoError(t, err)
	count, _ = svc.Occupancy(ctx, "rucker")
	records, err := mem.ListPresences(ctx)
	require.NoError(t, err)
	assert.Len(t, records, 1)
	assert.Equal(t, int64(1), count)
}

func TestRebuild_CheckInDuringReadIsKept(t *testing.T) {
	svc, hooked, mem := newHookedService(t)
	ctx := context.Background()

	_, err := svc.CheckIn(ctx, "u1", "rucker", atCourt)
	require.NoError(t, err)

	hooked.afterList = func() {
		_, err := svc.CheckIn(ctx, "u2", "rucker", atCourt)
		require.NoError(t, err)
	}
	require.NoError(t, svc.Rebuild(ctx))

	count, _ := svc.Occupancy(ctx, "rucker")
	assert.Equal(t, int64(2), count)
	durable, err := mem.GetOccupancy(ctx, "rucker")
	require.NoError(t, err)
	assert.Equal(t, int64(2), durable)

	require.NoError(t, svc.Rebuild(ctx))
	count, _ = svc.Occupancy(ctx, "rucker")
	assert.Equal(t, int64(2), count, "a quiet rebuild agrees with the live count")
}

func TestRebuild_StoreFailure(t *testing.T) {
	svc, mem, _ := newTestService(t)
	mem.SetFail(errors.New("timeout"))
	assert.ErrorIs(t, svc.Rebuild(context.Background()), ErrStoreUnavailable)
}

func TestReconciler_ExpiresAndRebuilds(t *testing.T) {
	svc, mem, clk := newTestService(t)
	ctx := context.Background()

	_, err := svc.CheckIn(ctx, "u1", "rucker", atCourt)
	require.NoError(t, err)
	_, err = svc.CheckIn(ctx, "u2", "west4", atCourt)
	require.NoError(t, err)
	clk.Advance(time.Hour)
	_, err = svc.CheckIn(ctx, "u3", "rucker", atCourt)
	require.NoError(t, err)

	clk.Advance(2*time.Hour + time.Minute)

	r := NewReconciler(svc, time.Minute)
	expired, err := r.Trigger(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, expired)

	rucker, _ := svc.Occupancy(ctx, "rucker")
	west4, _ := svc.Occupancy(ctx, "west4")
	assert.Equal(t, int64(1), rucker)
	assert.Equal(t, int64(0), west4)

	records, err := mem.ListPresences(ctx)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "u3", records[0].UserID)

	expired, err = r.Trigger(ctx)
	require.NoError(t, err)
	assert.Zero(t, expired, "a second sweep finds nothing")
}

func TestReconciler_ConcurrentTriggers(t *testing.T) {
	svc, _, clk := newTestService(t)
	ctx := context.Background()

	for _, u := range []string{"u1", "u2", "u3"} {
		_, err := svc.CheckIn(ctx, u, "rucker", atCourt)
		require.NoError(t, err)
	}
	clk.Advance(TTL)

	r := NewReconciler(svc, time.Minute)
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := r.Trigger(ctx)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	count, _ := svc.Occupancy(ctx, "rucker")
	assert.Equal(t, int64(0), count, "overlapping sweeps never double-decrement")
}

func TestReconciler_RunStopsOnCancel(t *testing.T) {
	svc, _, clk := newTestService(t)
	ctx, cancel := context.WithCancel(context.Background())

	_, err := svc.CheckIn(context.Background(), "u1", "rucker", atCourt)
	require.NoError(t, err)
	clk.Advance(TTL)

	done := make(chan struct{})
	go func() {
		NewReconciler(svc, time.Hour).Run(ctx)
		close(done)
	}()

	assert.Eventually(t, func() bool {
		return svc.index.Get("rucker") == 0
	}, 2*time.Second, 10*time.Millisecond, "the first cycle runs immediately")

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("reconciler did not stop")
	}
}

// gatedStore holds the first ListPresences until release is closed and fails
// reads made with a cancelled context.
type gatedStore struct {
	*store.MemoryStore
	entered chan struct{}
	release chan struct{}
	once    sync.Once
}

func (s *gatedStore) ListPresences(ctx context.Context) ([]model.PresenceRecord, error) {
	s.once.Do(func() {
		close(s.entered)
		<-s.release
	})
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return s.MemoryStore.ListPresences(ctx)
}

func TestReconciler_CycleOutlivesCancelledCaller(t *testing.T) {
	_, mem, clk := newTestService(t)
	gated := &gatedStore{MemoryStore: mem, entered: make(chan struct{}), release: make(chan struct{})}
	svc := NewService(gated, mem, mem, clk)
	ctx := context.Background()

	_, err := svc.CheckIn(ctx, "u1", "rucker", atCourt)
	require.NoError(t, err)
	clk.Advance(TTL)

	r := NewReconciler(svc, time.Hour)
	callerCtx, cancel := context.WithCancel(ctx)
	errs := make(chan error, 1)
	go func() {
		_, err := r.Trigger(callerCtx)
		errs <- err
	}()

	recv(t, gated.entered)
	cancel()
	assert.ErrorIs(t, recv(t, errs), context.Canceled, "the cancelled caller stops waiting")

	close(gated.release)
	_, err = r.Trigger(ctx)
	require.NoError(t, err)

	records, err := mem.ListPresences(ctx)
	require.NoError(t, err)
	assert.Empty(t, records, "the shared cycle still completes")
	count, _ := svc.Occupancy(ctx, "rucker")
	assert.Equal(t, int64(0), count)
}
