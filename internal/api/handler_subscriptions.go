package api

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"courtside-backend/internal/model"
)

type putSubscriptionRequest struct {
	Endpoint         string   `json:"endpoint" binding:"required"`
	P256DH           string   `json:"p256dh" binding:"required"`
	Auth             string   `json:"auth" binding:"required"`
	SubscribedVenues []string `json:"subscribed_venues"`
}

// pushStorage returns the subscription database, or writes 503 and returns
// nil when the server runs without one.
func (h *Handler) pushStorage(c *gin.Context) *gorm.DB {
	if h.db == nil {
		c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"error": "push subscriptions require a database"})
		return nil
	}
	return h.db.WithContext(c.Request.Context())
}

// PutSubscription creates or replaces a push subscription and the set of
// venues it watches. Unknown venue ids are ignored.
func (h *Handler) PutSubscription(c *gin.Context) {
	var req putSubscriptionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	db := h.pushStorage(c)
	if db == nil {
		return
	}

	subscription := model.PushSubscription{
		Endpoint: req.Endpoint,
		P256DH:   req.P256DH,
		Auth:     req.Auth,
	}

	err := db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "endpoint"}},
			DoUpdates: clause.AssignmentColumns([]string{"p256dh", "auth"}),
		}).Omit("Venues").Create(&subscription).Error; err != nil {
			return err
		}

		var venues []*model.Venue
		if len(req.SubscribedVenues) > 0 {
			if err := tx.Where("id IN ?", req.SubscribedVenues).Find(&venues).Error; err != nil {
				return err
			}
		}

		return tx.Model(&subscription).Association("Venues").Replace(&venues)
	})

	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.Status(http.StatusCreated)
}

type deleteSubscriptionRequest struct {
	Endpoint string `json:"endpoint" binding:"required"`
}

// DeleteSubscription handles the deletion of a subscription.
func (h *Handler) DeleteSubscription(c *gin.Context) {
	var req deleteSubscriptionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	db := h.pushStorage(c)
	if db == nil {
		return
	}

	subscription := model.PushSubscription{Endpoint: req.Endpoint}
	err := db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&subscription).Association("Venues").Clear(); err != nil {
			return err
		}
		return tx.Delete(&subscription).Error
	})
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.Status(http.StatusNoContent)
}

// rawQueryParam reads key from the raw query without URL-decoding it, since
// push endpoints are stored exactly as the browser reported them.
func rawQueryParam(rawQuery, key string) (string, bool) {
	for _, kv := range strings.Split(rawQuery, "&") {
		if strings.HasPrefix(kv, key+"=") {
			return kv[len(key)+1:], true
		}
	}
	return "", false
}

// GetSubscription returns the venues a subscription watches.
func (h *Handler) GetSubscription(c *gin.Context) {
	raw, ok := rawQueryParam(c.Request.URL.RawQuery, "endpoint")
	if !ok || raw == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "endpoint is required"})
		return
	}

	db := h.pushStorage(c)
	if db == nil {
		return
	}

	var subscription model.PushSubscription
	if err := db.Preload("Venues").First(&subscription, "endpoint = ?", raw).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "subscription not found"})
		} else {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		}
		return
	}

	venueIDs := make([]string, len(subscription.Venues))
	for i, venue := range subscription.Venues {
		venueIDs[i] = venue.ID
	}

	c.JSON(http.StatusOK, gin.H{"subscribed_venues": venueIDs})
}
