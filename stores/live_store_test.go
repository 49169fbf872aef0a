package stores

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"ridelink/models"
)

// A listener that accepts connections and never answers, so a publish
// against it can only end via its context.
func silentServer(t *testing.T) net.Listener {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			defer conn.Close()
		}
	}()
	return ln
}

func TestLiveBusSendStopsWithBusContext(t *testing.T) {
	ln := silentServer(t)
	defer ln.Close()

	rdb := redis.NewClient(&redis.Options{Addr: ln.Addr().String()})
	defer rdb.Close()
	b := NewLiveBus(rdb, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	done := make(chan struct{})
	go func() {
		b.send(ctx, RideEvent{RideID: "ride-1", Type: EventStatusUpdated, Status: models.StatusAccepted, At: time.Now()})
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(1500 * time.Millisecond):
		t.Fatal("send kept publishing after the bus context was cancelled")
	}
}

func TestLiveBusEnqueueNeverBlocks(t *testing.T) {
	b := NewLiveBus(nil, zap.NewNop())

	done := make(chan struct{})
	go func() {
		// Well past the queue capacity; overflow must drop, not block.
		for i := 0; i < 3000; i++ {
			b.PublishStatus("ride-1", models.StatusAccepted)
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publish blocked once the queue filled")
	}
}
