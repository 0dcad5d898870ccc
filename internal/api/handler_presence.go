package api

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"courtside-backend/internal/model"
	"courtside-backend/internal/presence"
)

// checkInRequest carries the client's position along with the venue. Clients
// that could not get a fix send location_error instead of a location.
type checkInRequest struct {
	VenueID       string          `json:"venue_id" binding:"required"`
	Location      *model.Location `json:"location"`
	LocationError string          `json:"location_error"`
}

// CurrentLocation makes the request body the check-in's LocationProvider.
func (r *checkInRequest) CurrentLocation(context.Context) (model.Location, error) {
	switch r.LocationError {
	case "":
	case "permission_denied":
		return model.Location{}, presence.ErrLocationPermissionDenied
	default:
		return model.Location{}, fmt.Errorf("%w: %s", presence.ErrLocationUnavailable, r.LocationError)
	}
	if r.Location == nil {
		return model.Location{}, fmt.Errorf("%w: no coordinate supplied", presence.ErrLocationUnavailable)
	}
	return *r.Location, nil
}

// presenceResponse is a presence record plus its remaining lifetime.
type presenceResponse struct {
	model.PresenceRecord
	TimeRemaining    string `json:"time_remaining"`
	SecondsRemaining int64  `json:"seconds_remaining"`
	Expiring         bool   `json:"expiring"`
}

func newPresenceResponse(rec *model.PresenceRecord, now time.Time) *presenceResponse {
	if rec == nil {
		return nil
	}
	remaining := presence.TimeRemaining(rec, now)
	return &presenceResponse{
		PresenceRecord:   *rec,
		TimeRemaining:    remaining.String(),
		SecondsRemaining: int64(remaining.Duration / time.Second),
		Expiring:         remaining.Expiring(),
	}
}

// CheckIn handles POST /api/users/:user_id/checkin.
func (h *Handler) CheckIn(c *gin.Context) {
	var req checkInRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	rec, err := h.svc.CheckInFrom(c.Request.Context(), c.Param("user_id"), req.VenueID, &req)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, newPresenceResponse(rec, h.svc.Clock().Now()))
}

// CheckOut handles DELETE /api/users/:user_id/checkin.
func (h *Handler) CheckOut(c *gin.Context) {
	if err := h.svc.CheckOut(c.Request.Context(), c.Param("user_id")); err != nil {
		abortWithError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// GetPresence handles GET /api/users/:user_id/presence.
func (h *Handler) GetPresence(c *gin.Context) {
	rec, err := h.svc.GetActivePresence(c.Request.Context(), c.Param("user_id"))
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"presence": newPresenceResponse(rec, h.svc.Clock().Now())})
}

// StreamPresence handles GET /api/users/:user_id/presence/stream as
// server-sent "presence" events, starting with the current state.
func (h *Handler) StreamPresence(c *gin.Context) {
	ctx := c.Request.Context()
	updates := make(chan *model.PresenceRecord, 1)
	unsubscribe, err := h.svc.SubscribeToUserPresence(ctx, c.Param("user_id"), func(rec *model.PresenceRecord) {
		offerLatest(updates, rec)
	})
	if err != nil {
		abortWithError(c, err)
		return
	}
	defer unsubscribe()

	streamEvents(c, updates, func(rec *model.PresenceRecord) {
		c.SSEvent("presence", gin.H{"presence": newPresenceResponse(rec, h.svc.Clock().Now())})
	})
}

// streamKeepAlive is how often an idle event stream sends a ping event.
const streamKeepAlive = 15 * time.Second

// streamEvents writes every value from updates with emit until the client
// goes away.
func streamEvents[T any](c *gin.Context, updates chan T, emit func(T)) {
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")

	ctx := c.Request.Context()
	ping := time.NewTicker(streamKeepAlive)
	defer ping.Stop()

	c.Stream(func(w io.Writer) bool {
		select {
		case <-ctx.Done():
			return false
		case v := <-updates:
			emit(v)
			return true
		case <-ping.C:
			c.SSEvent("ping", time.Now().UTC().Format(time.RFC3339))
			return true
		}
	})
}

// offerLatest puts v in the single-slot channel ch, replacing any value the
// reader has not taken yet. Only one goroutine may send on ch.
func offerLatest[T any](ch chan T, v T) {
	for {
		select {
		case ch <- v:
			return
		default:
		}
		select {
		case <-ch:
		default:
		}
	}
}
