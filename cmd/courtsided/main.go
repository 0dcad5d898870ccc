package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/SherClockHolmes/webpush-go"
	"gorm.io/gorm"

	"courtside-backend/config"
	"courtside-backend/internal/api"
	"courtside-backend/internal/clock"
	"courtside-backend/internal/db"
	"courtside-backend/internal/model"
	"courtside-backend/internal/notification"
	"courtside-backend/internal/presence"
	"courtside-backend/internal/store"
)

// backend is the storage the service runs on.
type backend interface {
	store.Store
	store.Directory
	store.SessionHistory
}

func main() {
	logger := log.New(os.Stdout, "courtside ", log.LstdFlags)

	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "./config/config.yaml"
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		logger.Fatalf("failed to load configuration from %s: %v", configPath, err)
	}
	logger.Printf("configuration loaded successfully from %s", configPath)

	var (
		gormDB   *gorm.DB
		appStore backend
	)
	if cfg.Database.Driver == "memory" {
		appStore = store.NewMemoryStore()
		logger.Println("using in-memory store; state is lost on restart")
	} else {
		gormDB, err = db.Init(&cfg.Database)
		if err != nil {
			logger.Fatalf("failed to initialize database: %v", err)
		}
		appStore = store.NewGormStore(gormDB)
		logger.Println("database initialized successfully")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := seedVenues(ctx, appStore, cfg.Venues); err != nil {
		logger.Fatalf("failed to seed venues: %v", err)
	}

	directory := store.NewCachedDirectory(appStore, cfg.Presence.DirectoryCacheTTL)
	svc := presence.NewService(appStore, directory, directory, clock.Real{})
	reconciler := presence.NewReconciler(svc, cfg.Presence.ReconcileInterval)

	// Counts must be correct before the first request.
	expired, err := reconciler.Trigger(ctx)
	if err != nil {
		logger.Fatalf("failed to rebuild occupancy: %v", err)
	}
	logger.Printf("occupancy rebuilt; %d stale check-ins expired", expired)
	go reconciler.Run(ctx)

	var webpushOptions *webpush.Options
	if cfg.Push.Enabled() && gormDB != nil {
		webpushOptions = &webpush.Options{
			VAPIDPublicKey:  cfg.Push.PublicKey,
			VAPIDPrivateKey: cfg.Push.PrivateKey,
			Subscriber:      cfg.Push.Subject,
			TTL:             cfg.Push.TTL,
		}
		pool := notification.NewWorkerPool(cfg.WorkerPool.Size, gormDB, webpushOptions)
		pool.Start(ctx)
		defer pool.Watch(svc)()
		logger.Printf("push notifications enabled with %d workers", cfg.WorkerPool.Size)
	} else {
		logger.Println("VAPID keys not configured or no database; push notifications disabled")
	}

	handler := api.NewHandler(svc, directory, appStore, reconciler, gormDB, webpushOptions)
	router := api.NewRouter(cfg.Server, handler)
	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: router,
	}

	go func() {
		logger.Printf("HTTP server starting on port %d", cfg.Server.Port)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatalf("HTTP server ListenAndServe: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	<-stop
	logger.Println("Shutdown signal received, stopping services...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Printf("HTTP server Shutdown: %v", err)
	}
	cancel()

	logger.Println("Server gracefully stopped")
}

func seedVenues(ctx context.Context, dir store.Directory, seeds []config.VenueSeed) error {
	if len(seeds) == 0 {
		return nil
	}
	venues := make([]model.Venue, 0, len(seeds))
	for _, s := range seeds {
		if s.ID == "" || s.Name == "" {
			return fmt.Errorf("venue seed needs an id and a name: %+v", s)
		}
		venues = append(venues, model.Venue{ID: s.ID, Name: s.Name, Lat: s.Lat, Lon: s.Lon})
	}
	if err := dir.UpsertVenues(ctx, venues); err != nil {
		return err
	}
	log.Printf("Seeded %d venues", len(venues))
	return nil
}
