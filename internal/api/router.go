package api

import (
	"log"

	"github.com/gin-gonic/gin"
	"github.com/patrickmn/go-cache"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"

	"courtside-backend/config"
	"courtside-backend/internal/mw"
)

// NewRouter creates and configures a new Gin router.
func NewRouter(cfg config.ServerConfig, handler *Handler) *gin.Engine {
	r := gin.Default()
	configureClientIP(r, cfg)

	rateLimiter := mw.RateLimiter(rate.Limit(cfg.RateLimitPerSec), cfg.RateLimitBurst)

	// Only the venue directory is cached; counts change too often.
	cacheStore := cache.New(cfg.CacheTTL(), 2*cfg.CacheTTL())
	caching := mw.Cache(cacheStore, cfg.CacheTTL())

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := r.Group("/api")
	api.Use(rateLimiter)
	{
		api.PUT("/users/:user_id", handler.PutUser)
		api.POST("/users/:user_id/checkin", handler.CheckIn)
		api.DELETE("/users/:user_id/checkin", handler.CheckOut)
		api.GET("/users/:user_id/presence", handler.GetPresence)
		api.GET("/users/:user_id/presence/stream", handler.StreamPresence)
		api.GET("/users/:user_id/reliability", handler.GetReliability)

		api.GET("/venues", caching, handler.ListVenues)
		api.GET("/venues/:venue_id/occupancy", handler.GetOccupancy)
		api.GET("/venues/:venue_id/occupancy/stream", handler.StreamOccupancy)
		api.GET("/venues/:venue_id/occupancy/ws", handler.OccupancyWebsocket)

		api.GET("/subscriptions", handler.GetSubscription)
		api.PUT("/subscriptions", handler.PutSubscription)
		api.DELETE("/subscriptions", handler.DeleteSubscription)
		api.GET("/vapid_public_key", handler.GetVAPIDPublicKey)

		api.POST("/admin/reconcile", handler.Reconcile)
	}

	return r
}

// configureClientIP makes ClientIP read RequestIPHeader only on requests whose
// peer is one of TrustedProxies. With no header or no proxies configured the
// socket address is used.
func configureClientIP(r *gin.Engine, cfg config.ServerConfig) {
	if cfg.RequestIPHeader == "" || len(cfg.TrustedProxies) == 0 {
		if err := r.SetTrustedProxies(nil); err != nil {
			log.Printf("Failed to disable trusted proxies: %v", err)
		}
		return
	}
	r.RemoteIPHeaders = []string{cfg.RequestIPHeader}
	if err := r.SetTrustedProxies(cfg.TrustedProxies); err != nil {
		log.Printf("Invalid trusted_proxies %v, ignoring %s: %v", cfg.TrustedProxies, cfg.RequestIPHeader, err)
		_ = r.SetTrustedProxies(nil)
	}
}
