package stores

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"ridelink/lifecycle"
	"ridelink/models"
)

// RideStore is the pgx-backed ride record. All conditional updates are
// compare-and-set on status: the WHERE clause carries the expected
// from-state, so a concurrent transition makes the update match zero rows
// instead of silently overwriting.
type RideStore struct {
	pool *pgxpool.Pool
}

func NewRideStore(pool *pgxpool.Pool) *RideStore {
	return &RideStore{pool: pool}
}

const rideSelectCols = `id, "riderId", "driverId", "pickupAddress", "pickupLat", "pickupLng",
	"dropAddress", "dropLat", "dropLng", fare, "distanceKm", "estimatedMins",
	"vehicleType", "paymentMethod", status, COALESCE("pickupCode", ''), "otpVerified",
	"currentLat", "currentLng", "currentAt", rating,
	"acceptedAt", "startedAt", "pickedUpAt", "completedAt", "cancelledAt", "cancelledBy",
	"createdAt", "updatedAt"`

func scanRide(scanner interface{ Scan(dest ...any) error }, r *models.Ride) error {
	return scanner.Scan(&r.ID, &r.RiderID, &r.DriverID, &r.PickupAddress, &r.PickupLat, &r.PickupLng,
		&r.DropAddress, &r.DropLat, &r.DropLng, &r.Fare, &r.DistanceKm, &r.EstimatedMins,
		&r.VehicleType, &r.PaymentMethod, &r.Status, &r.PickupCode, &r.OTPVerified,
		&r.CurrentLat, &r.CurrentLng, &r.CurrentAt, &r.Rating,
		&r.AcceptedAt, &r.StartedAt, &r.PickedUpAt, &r.CompletedAt, &r.CancelledAt, &r.CancelledBy,
		&r.CreatedAt, &r.UpdatedAt)
}

func mapNoRows(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return lifecycle.ErrNotFound
	}
	return err
}

func (s *RideStore) Create(ctx context.Context, ride *models.Ride) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO rides (
			id, "riderId", "pickupAddress", "pickupLat", "pickupLng",
			"dropAddress", "dropLat", "dropLng", fare, "distanceKm", "estimatedMins",
			"vehicleType", "paymentMethod", status, "createdAt", "updatedAt"
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16)`,
		ride.ID, ride.RiderID, ride.PickupAddress, ride.PickupLat, ride.PickupLng,
		ride.DropAddress, ride.DropLat, ride.DropLng, ride.Fare, ride.DistanceKm, ride.EstimatedMins,
		ride.VehicleType, ride.PaymentMethod, ride.Status, ride.CreatedAt, ride.UpdatedAt)
	return err
}

func (s *RideStore) Get(ctx context.Context, id string) (*models.Ride, error) {
	var ride models.Ride
	row := s.pool.QueryRow(ctx, `SELECT `+rideSelectCols+` FROM rides WHERE id=$1`, id)
	if err := scanRide(row, &ride); err != nil {
		return nil, mapNoRows(err)
	}
	return &ride, nil
}

func (s *RideStore) ListPending(ctx context.Context, vehicleType string, limit int) ([]models.Ride, error) {
	query := `SELECT ` + rideSelectCols + ` FROM rides WHERE status='pending'`
	args := []any{limit}
	if vehicleType != "" {
		query += ` AND "vehicleType"=$2`
		args = append(args, vehicleType)
	}
	query += ` ORDER BY "createdAt" DESC LIMIT $1`

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectRides(rows)
}

func (s *RideStore) ListByRider(ctx context.Context, riderID string) ([]models.Ride, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+rideSelectCols+` FROM rides WHERE "riderId"=$1 ORDER BY "createdAt" DESC`, riderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectRides(rows)
}

func (s *RideStore) ListByDriver(ctx context.Context, driverID string) ([]models.Ride, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+rideSelectCols+` FROM rides WHERE "driverId"=$1 ORDER BY "createdAt" DESC`, driverID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectRides(rows)
}

func collectRides(rows pgx.Rows) ([]models.Ride, error) {
	rides := []models.Ride{}
	for rows.Next() {
		var r models.Ride
		if err := scanRide(rows, &r); err != nil {
			return nil, err
		}
		rides = append(rides, r)
	}
	return rides, rows.Err()
}

// Accept assigns the driver and pickup code iff the ride is still pending.
// The losing side of a concurrent accept matches zero rows and gets
// lifecycle.ErrNotFound back for the engine to disambiguate.
func (s *RideStore) Accept(ctx context.Context, rideID, driverID, code string, at time.Time) (*models.Ride, error) {
	var ride models.Ride
	row := s.pool.QueryRow(ctx,
		`UPDATE rides
		 SET status='accepted', "driverId"=$2, "pickupCode"=$3, "acceptedAt"=$4, "updatedAt"=$4
		 WHERE id=$1 AND status='pending'
		 RETURNING `+rideSelectCols,
		rideID, driverID, code, at)
	if err := scanRide(row, &ride); err != nil {
		return nil, mapNoRows(err)
	}
	return &ride, nil
}

func (s *RideStore) Reject(ctx context.Context, rideID string, at time.Time) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE rides SET status='rejected', "updatedAt"=$2 WHERE id=$1 AND status='pending'`,
		rideID, at)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return lifecycle.ErrNotFound
	}
	return nil
}

// stampCol maps a target status onto its write-once timestamp column.
func stampCol(to models.RideStatus) string {
	switch to {
	case models.StatusStarted:
		return `"startedAt"`
	case models.StatusPickedUp:
		return `"pickedUpAt"`
	case models.StatusCompleted:
		return `"completedAt"`
	}
	return ""
}

func (s *RideStore) Advance(ctx context.Context, rideID string, from, to models.RideStatus, at time.Time) (*models.Ride, error) {
	col := stampCol(to)
	if col == "" {
		return nil, lifecycle.ErrInvalidTransition
	}

	var ride models.Ride
	row := s.pool.QueryRow(ctx,
		`UPDATE rides SET status=$2, `+col+`=$4, "updatedAt"=$4
		 WHERE id=$1 AND status=$3
		 RETURNING `+rideSelectCols,
		rideID, to, from, at)
	if err := scanRide(row, &ride); err != nil {
		return nil, mapNoRows(err)
	}
	return &ride, nil
}

func (s *RideStore) Cancel(ctx context.Context, rideID string, from models.RideStatus, by models.Role, at time.Time) (*models.Ride, error) {
	var ride models.Ride
	row := s.pool.QueryRow(ctx,
		`UPDATE rides SET status='cancelled', "cancelledAt"=$3, "cancelledBy"=$4, "updatedAt"=$3
		 WHERE id=$1 AND status=$2
		 RETURNING `+rideSelectCols,
		rideID, from, at, string(by))
	if err := scanRide(row, &ride); err != nil {
		return nil, mapNoRows(err)
	}
	return &ride, nil
}

// SetRating stamps the one-time rating on the ride. Zero rows means the
// ride is gone or already rated; the engine tells them apart.
func (s *RideStore) SetRating(ctx context.Context, rideID string, rating float64) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE rides SET rating=$2, "updatedAt"=NOW() WHERE id=$1 AND rating IS NULL`,
		rideID, rating)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return lifecycle.ErrNotFound
	}
	return nil
}

// MarkOTPVerified flips the verification flag, but only while the ride is
// still accepted; a cancel racing the verify makes this match zero rows.
func (s *RideStore) MarkOTPVerified(ctx context.Context, rideID string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE rides SET "otpVerified"=TRUE, "updatedAt"=NOW() WHERE id=$1 AND status='accepted'`, rideID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return lifecycle.ErrInvalidTransition
	}
	return nil
}

// AppendLocation writes the current snapshot and the history row in one
// transaction so the trail never skips a sample the snapshot saw. The
// snapshot update re-checks that the ride is still live, so a transition
// committing after the engine's read cannot smuggle a sample onto a
// terminal ride.
func (s *RideStore) AppendLocation(ctx context.Context, rideID string, p models.LocationPoint) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx,
		`UPDATE rides SET "currentLat"=$2, "currentLng"=$3, "currentAt"=$4, "updatedAt"=$4
		 WHERE id=$1 AND status IN ('accepted','started','picked_up')`,
		rideID, p.Lat, p.Lng, p.RecordedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return lifecycle.ErrInvalidTransition
	}

	_, err = tx.Exec(ctx,
		`INSERT INTO ride_locations ("rideId", lat, lng, "recordedAt") VALUES ($1,$2,$3,$4)`,
		rideID, p.Lat, p.Lng, p.RecordedAt)
	if err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (s *RideStore) Locations(ctx context.Context, rideID string) ([]models.LocationPoint, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT lat, lng, "recordedAt" FROM ride_locations WHERE "rideId"=$1 ORDER BY id ASC`, rideID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	points := []models.LocationPoint{}
	for rows.Next() {
		var p models.LocationPoint
		if err := rows.Scan(&p.Lat, &p.Lng, &p.RecordedAt); err != nil {
			return nil, err
		}
		points = append(points, p)
	}
	return points, rows.Err()
}
