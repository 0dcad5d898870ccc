package api

import (
	"errors"
	"log"
	"net/http"

	"github.com/SherClockHolmes/webpush-go"
	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"courtside-backend/internal/presence"
	"courtside-backend/internal/store"
)

// Handler holds shared dependencies for API handlers.
type Handler struct {
	svc        *presence.Service
	dir        store.Directory
	history    store.SessionHistory
	reconciler *presence.Reconciler
	// db backs push subscriptions; nil when running without a database.
	db      *gorm.DB
	webpush *webpush.Options
}

// NewHandler creates a new API handler.
func NewHandler(
	svc *presence.Service,
	dir store.Directory,
	history store.SessionHistory,
	reconciler *presence.Reconciler,
	db *gorm.DB,
	webpushOptions *webpush.Options,
) *Handler {
	return &Handler{
		svc:        svc,
		dir:        dir,
		history:    history,
		reconciler: reconciler,
		db:         db,
		webpush:    webpushOptions,
	}
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, presence.ErrAlreadyCheckedIn):
		return http.StatusConflict
	case errors.Is(err, presence.ErrNoActivePresence),
		errors.Is(err, presence.ErrUnknownUser),
		errors.Is(err, presence.ErrUnknownVenue),
		errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, presence.ErrLocationUnavailable):
		return http.StatusUnprocessableEntity
	case errors.Is(err, presence.ErrStoreUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// abortWithError writes err as {"error": ...} with the status its kind maps to.
func abortWithError(c *gin.Context, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		log.Printf("%s %s failed: %v", c.Request.Method, c.FullPath(), err)
	}
	c.AbortWithStatusJSON(status, gin.H{"error": err.Error()})
}
