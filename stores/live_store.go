package stores

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"ridelink/models"
	"ridelink/utils"
)

// RideEventsChannel is the Redis pub/sub channel bridging HTTP publishers
// to the socket node.
const RideEventsChannel = "ride_events"

// Event type names. These double as the socket event names observers
// receive.
const (
	EventLocationUpdated = "locationUpdated"
	EventStatusUpdated   = "statusUpdated"
	EventOTPVerified     = "otpVerified"
)

// RideEvent is the wire shape of one live-channel event. Status and
// Location are set depending on Type.
type RideEvent struct {
	RideID   string                `json:"rideId"`
	Type     string                `json:"type"`
	Status   models.RideStatus     `json:"status,omitempty"`
	Location *models.LocationPoint `json:"location,omitempty"`
	At       time.Time             `json:"at"`
}

// LiveBus publishes ride events onto Redis. It implements the engine's
// LiveChannel port. Publishes are fire-and-forget: events are enqueued
// without blocking (dropped with a log line if the queue is full) and a
// single worker drains the queue in order, which preserves per-ride
// publish order end to end.
type LiveBus struct {
	rdb   *redis.Client
	log   *zap.Logger
	queue chan RideEvent
}

func NewLiveBus(rdb *redis.Client, log *zap.Logger) *LiveBus {
	return &LiveBus{
		rdb:   rdb,
		log:   log,
		queue: make(chan RideEvent, 1024),
	}
}

// Start runs the publishing worker until ctx is cancelled.
func (b *LiveBus) Start(ctx context.Context) {
	utils.SafeGo(func() {
		for {
			select {
			case event := <-b.queue:
				b.send(ctx, event)
			case <-ctx.Done():
				b.log.Info("live bus shutting down")
				return
			}
		}
	})
}

func (b *LiveBus) PublishStatus(rideID string, status models.RideStatus) {
	b.enqueue(RideEvent{RideID: rideID, Type: EventStatusUpdated, Status: status, At: time.Now()})
}

func (b *LiveBus) PublishLocation(rideID string, p models.LocationPoint) {
	b.enqueue(RideEvent{RideID: rideID, Type: EventLocationUpdated, Location: &p, At: p.RecordedAt})
}

func (b *LiveBus) PublishOTPVerified(rideID string) {
	b.enqueue(RideEvent{RideID: rideID, Type: EventOTPVerified, At: time.Now()})
}

func (b *LiveBus) enqueue(event RideEvent) {
	select {
	case b.queue <- event:
	default:
		// Delivery is best-effort; observers reconcile by re-fetching
		// ride state on rejoin.
		b.log.Warn("live event queue full, dropping event",
			zap.String("rideId", event.RideID),
			zap.String("type", event.Type))
	}
}

// send publishes one event, bounded by its own timeout and by the bus
// context so shutdown also cuts an in-flight publish short.
func (b *LiveBus) send(ctx context.Context, event RideEvent) {
	val, err := json.Marshal(event)
	if err != nil {
		b.log.Error("failed to marshal ride event", zap.Error(err))
		return
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := b.rdb.Publish(ctx, RideEventsChannel, val).Err(); err != nil {
		b.log.Error("failed to publish ride event",
			zap.String("rideId", event.RideID),
			zap.String("type", event.Type),
			zap.Error(err))
	}
}

// SubscribeRideEvents opens the subscription the socket node consumes.
func SubscribeRideEvents(ctx context.Context, rdb *redis.Client) *redis.PubSub {
	return rdb.Subscribe(ctx, RideEventsChannel)
}
