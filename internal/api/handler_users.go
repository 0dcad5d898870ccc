package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"courtside-backend/internal/model"
	"courtside-backend/internal/presence"
	"courtside-backend/internal/reliability"
	"courtside-backend/internal/store"
)

type putUserRequest struct {
	DisplayName string `json:"display_name" binding:"required"`
}

// PutUser handles PUT /api/users/:user_id, registering or renaming a user.
func (h *Handler) PutUser(c *gin.Context) {
	var req putUserRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	user := &model.User{ID: c.Param("user_id"), DisplayName: req.DisplayName}
	if err := h.dir.UpsertUser(c.Request.Context(), user); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, user)
}

// reliabilityResponse is the profile view of a player's reliability.
type reliabilityResponse struct {
	UserID         string                 `json:"user_id"`
	Stats          model.ReliabilityStats `json:"stats"`
	AttendanceRate *int                   `json:"attendance_rate"`
	Score          int                    `json:"score"`
	Tier           string                 `json:"tier"`
	TierColor      string                 `json:"tier_color"`
}

// GetReliability handles GET /api/users/:user_id/reliability.
func (h *Handler) GetReliability(c *gin.Context) {
	userID := c.Param("user_id")
	ctx := c.Request.Context()

	if _, err := h.dir.ResolveUser(ctx, userID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			err = presence.ErrUnknownUser
		}
		abortWithError(c, err)
		return
	}

	report, err := reliability.ForUser(ctx, h.history, userID)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "Failed to load session history"})
		return
	}

	c.JSON(http.StatusOK, reliabilityResponse{
		UserID:         userID,
		Stats:          report.Stats,
		AttendanceRate: report.AttendanceRate,
		Score:          report.Score.Score,
		Tier:           report.Tier.Label(),
		TierColor:      report.Tier.Color(),
	})
}
