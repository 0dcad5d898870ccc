package api

import (
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

// occupancyResponse is one venue's live count.
type occupancyResponse struct {
	VenueID     string `json:"venue_id"`
	ActiveCount int64  `json:"active_count"`
}

// ListVenues handles GET /api/venues.
func (h *Handler) ListVenues(c *gin.Context) {
	venues, err := h.svc.ListVenues(c.Request.Context())
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, venues)
}

// GetOccupancy handles GET /api/venues/:venue_id/occupancy.
func (h *Handler) GetOccupancy(c *gin.Context) {
	venueID := c.Param("venue_id")
	count, err := h.svc.Occupancy(c.Request.Context(), venueID)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, occupancyResponse{VenueID: venueID, ActiveCount: count})
}

// StreamOccupancy handles GET /api/venues/:venue_id/occupancy/stream as
// server-sent "occupancy" events, starting with the current count.
func (h *Handler) StreamOccupancy(c *gin.Context) {
	venueID := c.Param("venue_id")
	updates := make(chan int64, 1)
	unsubscribe, err := h.svc.SubscribeToVenueOccupancy(c.Request.Context(), venueID, func(count int64) {
		offerLatest(updates, count)
	})
	if err != nil {
		abortWithError(c, err)
		return
	}
	defer unsubscribe()

	streamEvents(c, updates, func(count int64) {
		c.SSEvent("occupancy", occupancyResponse{VenueID: venueID, ActiveCount: count})
	})
}

const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = (wsPongWait * 9) / 10
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// OccupancyWebsocket handles GET /api/venues/:venue_id/occupancy/ws. The
// server pushes an occupancyResponse JSON message per count change; anything
// the client sends is ignored.
func (h *Handler) OccupancyWebsocket(c *gin.Context) {
	venueID := c.Param("venue_id")
	updates := make(chan int64, 1)
	unsubscribe, err := h.svc.SubscribeToVenueOccupancy(c.Request.Context(), venueID, func(count int64) {
		offerLatest(updates, count)
	})
	if err != nil {
		abortWithError(c, err)
		return
	}
	defer unsubscribe()

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Printf("Websocket upgrade for venue %s failed: %v", venueID, err)
		return
	}
	defer conn.Close()

	// The read loop only exists to process pongs and notice the close.
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		conn.SetReadLimit(512)
		conn.SetReadDeadline(time.Now().Add(wsPongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(wsPongWait))
		})
		for {
			if _, _, err := conn.NextReader(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(wsPingPeriod)
	defer ping.Stop()

	for {
		select {
		case <-gone:
			return
		case count := <-updates:
			conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteJSON(occupancyResponse{VenueID: venueID, ActiveCount: count}); err != nil {
				return
			}
		case <-ping.C:
			conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
