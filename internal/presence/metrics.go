package presence

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	checkInsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "courtside_checkins_total",
		Help: "Successful check-ins",
	})

	checkOutsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "courtside_checkouts_total",
		Help: "Explicit check-outs",
	})

	expiredTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "courtside_presence_expired_total",
		Help: "Check-ins removed after their TTL elapsed",
	})

	floorClampsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "courtside_occupancy_floor_clamps_total",
		Help: "Decrements of a venue count that was already zero",
	})

	subscriptionsActive = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "courtside_subscriptions_active",
		Help: "Live presence and occupancy subscriptions",
	}, []string{"kind"})
)
