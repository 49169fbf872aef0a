package socket

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/redis/go-redis/v9"
	"github.com/zishang520/engine.io/v2/types"
	socketio "github.com/zishang520/socket.io/v2/socket"
	"go.uber.org/zap"

	"ridelink/stores"
	"ridelink/utils"
)

func rideRoom(rideID string) socketio.Room {
	return socketio.Room("ride:" + rideID)
}

// InitSocketIO creates the Socket.IO server and starts the bridge that
// relays ride events from Redis into per-ride rooms.
//
// Observers join the logical group for a ride with joinRide {rideId} and
// leave it with leaveRide. Events published while an observer is
// disconnected are not replayed; clients re-fetch ride state on rejoin.
func InitSocketIO(ctx context.Context, rdb *redis.Client) *socketio.Server {
	opts := &socketio.ServerOptions{}
	opts.SetCors(&types.Cors{
		Origin: "*",
	})

	io := socketio.NewServer(nil, opts)

	io.On("connection", func(clients ...any) {
		sock := clients[0].(*socketio.Socket)
		utils.Logger.Info("observer connected", zap.String("socketID", string(sock.Id())))

		// joinRide — observe a ride's location/status stream
		sock.On("joinRide", func(args ...any) {
			rideID, ok := rideIDArg(args)
			if !ok {
				return
			}
			sock.Join(rideRoom(rideID))
			utils.Logger.Info("observer joined ride",
				zap.String("socketID", string(sock.Id())),
				zap.String("rideId", rideID))
		})

		// leaveRide — stop observing
		sock.On("leaveRide", func(args ...any) {
			rideID, ok := rideIDArg(args)
			if !ok {
				return
			}
			sock.Leave(rideRoom(rideID))
		})

		// Dropping the connection implicitly leaves every room; nothing
		// to clean up here beyond the log line.
		sock.On("disconnect", func(args ...any) {
			utils.Logger.Info("observer disconnected", zap.String("socketID", string(sock.Id())))
		})
	})

	// Relay: one subscriber goroutine consumes the Redis channel in
	// arrival order and emits into the ride's room, so each observer sees
	// a ride's events in publish order. Socket.IO queues writes per
	// connection — a slow observer backs up its own connection only.
	go func() {
		pubsub := stores.SubscribeRideEvents(ctx, rdb)
		defer pubsub.Close()

		ch := pubsub.Channel()
		for {
			select {
			case msg, ok := <-ch:
				if !ok {
					return
				}
				var event stores.RideEvent
				if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
					utils.Logger.Error("bad ride event payload", zap.Error(err))
					continue
				}
				io.To(rideRoom(event.RideID)).Emit(event.Type, event)
			case <-ctx.Done():
				utils.Logger.Info("ride event relay shutting down")
				return
			}
		}
	}()

	return io
}

func rideIDArg(args []any) (string, bool) {
	if len(args) == 0 {
		return "", false
	}
	data, ok := args[0].(map[string]any)
	if !ok {
		return "", false
	}
	rideID, _ := data["rideId"].(string)
	return rideID, rideID != ""
}

// GetHandler returns the HTTP handler to mount at /socket.io/.
func GetHandler(io *socketio.Server) http.Handler {
	return io.ServeHandler(nil)
}
