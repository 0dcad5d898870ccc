package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// Reconcile handles POST /api/admin/reconcile: it sweeps expired check-ins,
// rebuilds every venue count and reports how many check-ins expired.
func (h *Handler) Reconcile(c *gin.Context) {
	expired, err := h.reconciler.Trigger(c.Request.Context())
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"expired": expired})
}
