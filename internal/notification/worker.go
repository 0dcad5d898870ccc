package notification

import (
	"context"
	"fmt"
	"log"
	"net/http"

	"github.com/SherClockHolmes/webpush-go"
	"gorm.io/gorm"

	"courtside-backend/internal/model"
)

// NotificationSender defines the interface for sending a web push notification.
type NotificationSender interface {
	Send(payload []byte, sub *webpush.Subscription, options *webpush.Options) (*http.Response, error)
}

// WebPushSender is a real implementation of NotificationSender using the webpush library.
type WebPushSender struct{}

// Send sends a notification using the webpush library.
func (s *WebPushSender) Send(payload []byte, sub *webpush.Subscription, options *webpush.Options) (*http.Response, error) {
	return webpush.SendNotification(payload, sub, options)
}

// Job asks the pool to notify a venue's watchers about its new count.
type Job struct {
	VenueID string
	Count   int64
}

// OccupancySource publishes venue count changes.
type OccupancySource interface {
	SubscribeToAllVenueOccupancy(fn func(venueID string, count int64)) (unsubscribe func())
}

// WorkerPool manages a pool of workers for sending notifications.
type WorkerPool struct {
	size    int
	jobs    chan Job
	db      *gorm.DB
	webpush *webpush.Options
	sender  NotificationSender
}

// NewWorkerPool creates a new worker pool.
func NewWorkerPool(size int, db *gorm.DB, webpushOptions *webpush.Options) *WorkerPool {
	return &WorkerPool{
		size:    size,
		jobs:    make(chan Job, size*16),
		db:      db,
		webpush: webpushOptions,
		sender:  &WebPushSender{},
	}
}

// Start launches the worker goroutines.
func (wp *WorkerPool) Start(ctx context.Context) {
	for i := 0; i < wp.size; i++ {
		go wp.worker(ctx, i)
	}
}

func (wp *WorkerPool) worker(ctx context.Context, id int) {
	log.Printf("Push worker %d started", id)
	for {
		select {
		case job := <-wp.jobs:
			wp.sendNotificationsForVenue(ctx, job)
		case <-ctx.Done():
			log.Printf("Push worker %d shutting down", id)
			return
		}
	}
}

// Dispatch queues a job. It never blocks; when the queue is full the job is
// dropped and false is returned.
func (wp *WorkerPool) Dispatch(job Job) bool {
	select {
	case wp.jobs <- job:
		return true
	default:
		log.Printf("Push queue full; dropping notification for venue %s", job.VenueID)
		return false
	}
}

// Watch dispatches a job every time a venue's count rises. Decreases are not
// worth a push. It returns the unsubscribe for the underlying feed.
func (wp *WorkerPool) Watch(source OccupancySource) (unsubscribe func()) {
	// Callbacks for one subscription never overlap, so last needs no lock.
	last := make(map[string]int64)
	return source.SubscribeToAllVenueOccupancy(func(venueID string, count int64) {
		prev := last[venueID]
		if count == 0 {
			delete(last, venueID)
		} else {
			last[venueID] = count
		}
		if count > prev {
			wp.Dispatch(Job{VenueID: venueID, Count: count})
		}
	})
}

// Message renders the push body for a venue's count.
func Message(venueName string, count int64) string {
	if count == 1 {
		return fmt.Sprintf("1 hooper checked in at %s", venueName)
	}
	return fmt.Sprintf("%d hoopers checked in at %s", count, venueName)
}

func (wp *WorkerPool) sendNotificationsForVenue(ctx context.Context, job Job) {
	var subscriptions []model.PushSubscription
	err := wp.db.WithContext(ctx).
		Joins("JOIN subscription_venue_mapping svm ON svm.push_subscription_endpoint = push_subscriptions.endpoint").
		Where("svm.venue_id = ?", job.VenueID).
		Find(&subscriptions).Error
	if err != nil {
		log.Printf("Error fetching subscriptions for venue %s: %v", job.VenueID, err)
		return
	}

	if len(subscriptions) == 0 {
		return
	}

	log.Printf("Sending %d notifications for venue %s", len(subscriptions), job.VenueID)

	var venue model.Venue
	venueLabel := job.VenueID
	if err := wp.db.WithContext(ctx).
		Select("name").
		Where("id = ?", job.VenueID).
		First(&venue).Error; err != nil {
		log.Printf("Error fetching venue %s: %v", job.VenueID, err)
	} else if venue.Name != "" {
		venueLabel = venue.Name
	}

	payload := []byte(Message(venueLabel, job.Count))
	for _, sub := range subscriptions {
		wp.sendNotification(ctx, sub, payload)
	}
}

func (wp *WorkerPool) sendNotification(ctx context.Context, sub model.PushSubscription, payload []byte) {
	wpSub := &webpush.Subscription{
		Endpoint: sub.Endpoint,
		Keys: webpush.Keys{
			P256dh: sub.P256DH,
			Auth:   sub.Auth,
		},
	}

	resp, err := wp.sender.Send(payload, wpSub, wp.webpush)
	if err != nil {
		log.Printf("Error sending notification to %s: %v", sub.Endpoint, err)
		return
	}
	defer resp.Body.Close()

	// The browser revoked the subscription.
	if resp.StatusCode == http.StatusGone {
		log.Printf("Subscription for endpoint %s is expired. Deleting.", sub.Endpoint)
		if err := wp.deleteSubscription(ctx, sub); err != nil {
			log.Printf("Failed to delete expired subscription %s: %v", sub.Endpoint, err)
		}
	}
}

// deleteSubscription removes the subscription together with its venue watches.
func (wp *WorkerPool) deleteSubscription(ctx context.Context, sub model.PushSubscription) error {
	return wp.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Exec("DELETE FROM subscription_venue_mapping WHERE push_subscription_endpoint = ?", sub.Endpoint).Error; err != nil {
			return err
		}
		return tx.Delete(&sub).Error
	})
}
