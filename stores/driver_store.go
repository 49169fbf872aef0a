package stores

import (
	"context"
	"encoding/json"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"ridelink/models"
	"ridelink/utils"
)

const (
	driverGeoKey        = "drivers:geo"
	driverDataKeyPrefix = "drivers:data:"

	// Heartbeat entries expire after this long without a report; the
	// sweeper evicts the matching geo index member.
	heartbeatTTL = time.Hour
)

// DriverStore combines the Postgres driver profile rows with the Redis geo
// index of last-known coordinates. The geo index is advisory (feeds the
// matching query); Postgres stays authoritative for availability.
type DriverStore struct {
	pool *pgxpool.Pool
	rdb  *redis.Client
}

func NewDriverStore(pool *pgxpool.Pool, rdb *redis.Client) *DriverStore {
	return &DriverStore{pool: pool, rdb: rdb}
}

const driverSelectCols = `id, name, phone_number, email, vehicle_type, registration_number,
	vehicle_color, ratings, "totalRides", status, availability, "createdAt", "updatedAt"`

func scanDriver(scanner interface{ Scan(dest ...any) error }, d *models.Driver) error {
	return scanner.Scan(&d.ID, &d.Name, &d.PhoneNumber, &d.Email, &d.VehicleType, &d.RegistrationNumber,
		&d.VehicleColor, &d.Ratings, &d.TotalRides, &d.Status, &d.Availability, &d.CreatedAt, &d.UpdatedAt)
}

func (s *DriverStore) Get(ctx context.Context, driverID string) (*models.Driver, error) {
	var d models.Driver
	row := s.pool.QueryRow(ctx, `SELECT `+driverSelectCols+` FROM drivers WHERE id=$1`, driverID)
	if err := scanDriver(row, &d); err != nil {
		return nil, mapNoRows(err)
	}
	return &d, nil
}

func (s *DriverStore) SetAvailability(ctx context.Context, driverID string, a models.Availability) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE drivers SET availability=$1, "updatedAt"=NOW() WHERE id=$2`, a, driverID)
	if err != nil {
		return err
	}
	if a == models.AvailabilityOffline {
		s.removeFromGeo(ctx, driverID)
	}
	return nil
}

// RecordCompletedTrip bumps the trip counters on both parties of a
// completed ride.
func (s *DriverStore) RecordCompletedTrip(ctx context.Context, driverID, riderID string) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE drivers SET "totalRides"="totalRides"+1, "updatedAt"=NOW() WHERE id=$1`, driverID)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx,
		`UPDATE riders SET "totalRides"="totalRides"+1, "updatedAt"=NOW() WHERE id=$1`, riderID)
	return err
}

// RecordRating folds a new rating into the driver's running average. Called
// by the engine only after the ride row took the rating, so each rating is
// folded at most once.
func (s *DriverStore) RecordRating(ctx context.Context, driverID string, rating float64) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE drivers SET ratings = (ratings * "totalRides" + $1) / GREATEST("totalRides" + 1, 1), "updatedAt"=NOW() WHERE id=$2`,
		rating, driverID)
	return err
}

type driverPing struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// Heartbeat records a driver's idle position in the geo index with a TTL'd
// metadata key, so drivers that stop reporting age out.
func (s *DriverStore) Heartbeat(ctx context.Context, driverID string, lat, lng float64) error {
	err := s.rdb.GeoAdd(ctx, driverGeoKey, &redis.GeoLocation{
		Name:      driverID,
		Longitude: lng,
		Latitude:  lat,
	}).Err()
	if err != nil {
		return err
	}

	val, _ := json.Marshal(driverPing{Lat: lat, Lng: lng})
	return s.rdb.Set(ctx, driverDataKeyPrefix+driverID, val, heartbeatTTL).Err()
}

func (s *DriverStore) removeFromGeo(ctx context.Context, driverID string) {
	s.rdb.ZRem(ctx, driverGeoKey, driverID)
	s.rdb.Del(ctx, driverDataKeyPrefix+driverID)
}

// NearbyOnline is the rider-side matching query: geo search for last-known
// positions, cross-checked against Postgres so only availability=online
// drivers come back, each with rating, trip count and vehicle descriptor.
func (s *DriverStore) NearbyOnline(ctx context.Context, lat, lng, radiusKm float64) ([]models.NearbyDriver, error) {
	locs, err := s.rdb.GeoRadius(ctx, driverGeoKey, lng, lat, &redis.GeoRadiusQuery{
		Radius:    radiusKm,
		Unit:      "km",
		WithCoord: true,
		WithDist:  true,
		Sort:      "ASC",
	}).Result()
	if err != nil {
		return nil, err
	}
	if len(locs) == 0 {
		return []models.NearbyDriver{}, nil
	}

	ids := make([]string, 0, len(locs))
	pos := make(map[string]redis.GeoLocation, len(locs))
	for _, loc := range locs {
		ids = append(ids, loc.Name)
		pos[loc.Name] = loc
	}

	rows, err := s.pool.Query(ctx,
		`SELECT id, name, vehicle_type, ratings, "totalRides" FROM drivers
		 WHERE id=ANY($1) AND availability='online'`, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	nearby := []models.NearbyDriver{}
	for rows.Next() {
		var d models.NearbyDriver
		if err := rows.Scan(&d.ID, &d.Name, &d.VehicleType, &d.Ratings, &d.TotalRides); err != nil {
			return nil, err
		}
		loc := pos[d.ID]
		d.Lat = loc.Latitude
		d.Lng = loc.Longitude
		d.DistanceKm = loc.Dist
		nearby = append(nearby, d)
	}
	return nearby, rows.Err()
}

// StartStaleSweeper evicts geo index members whose heartbeat key has
// expired. GeoAdd members have no TTL of their own, so without this a
// driver that vanished mid-shift would keep matching forever.
func (s *DriverStore) StartStaleSweeper(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(10 * time.Minute)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				s.sweepStale(ctx)
			case <-ctx.Done():
				utils.Logger.Info("stale-driver sweeper shutting down")
				return
			}
		}
	}()
}

func (s *DriverStore) sweepStale(ctx context.Context) {
	ids, err := s.rdb.ZRange(ctx, driverGeoKey, 0, -1).Result()
	if err != nil {
		utils.Logger.Error("stale sweep failed to list geo members", zap.Error(err))
		return
	}

	removed := 0
	for _, id := range ids {
		exists, err := s.rdb.Exists(ctx, driverDataKeyPrefix+id).Result()
		if err != nil {
			continue
		}
		if exists == 0 {
			s.rdb.ZRem(ctx, driverGeoKey, id)
			removed++
		}
	}
	if removed > 0 {
		utils.Logger.Info("swept stale drivers from geo index", zap.Int("removed", removed))
	}
}
