package lifecycle

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"ridelink/models"
	"ridelink/utils"
)

// RideStore is the durable record of rides. Conditional methods (Accept,
// Reject, Advance, Cancel) must only apply when the stored status still
// equals the expected from-state, and return ErrNotFound when no row
// matched — the engine disambiguates "gone" from "lost the race".
// MarkOTPVerified and AppendLocation re-check under the write that the
// ride is still in a state that allows them, returning ErrInvalidTransition
// otherwise; SetRating applies once and returns ErrNotFound when the ride
// already carries a rating.
type RideStore interface {
	Create(ctx context.Context, ride *models.Ride) error
	Get(ctx context.Context, id string) (*models.Ride, error)
	ListPending(ctx context.Context, vehicleType string, limit int) ([]models.Ride, error)
	ListByRider(ctx context.Context, riderID string) ([]models.Ride, error)
	ListByDriver(ctx context.Context, driverID string) ([]models.Ride, error)

	Accept(ctx context.Context, rideID, driverID, code string, at time.Time) (*models.Ride, error)
	Reject(ctx context.Context, rideID string, at time.Time) error
	Advance(ctx context.Context, rideID string, from, to models.RideStatus, at time.Time) (*models.Ride, error)
	Cancel(ctx context.Context, rideID string, from models.RideStatus, by models.Role, at time.Time) (*models.Ride, error)

	MarkOTPVerified(ctx context.Context, rideID string) error
	AppendLocation(ctx context.Context, rideID string, p models.LocationPoint) error
	Locations(ctx context.Context, rideID string) ([]models.LocationPoint, error)
	SetRating(ctx context.Context, rideID string, rating float64) error
}

// DriverDirectory is the slice of the profile store the engine touches:
// availability flips, the completion counters and the rating average.
// Everything else about a driver is owned elsewhere.
type DriverDirectory interface {
	SetAvailability(ctx context.Context, driverID string, a models.Availability) error
	RecordCompletedTrip(ctx context.Context, driverID, riderID string) error
	RecordRating(ctx context.Context, driverID string, rating float64) error
	NearbyOnline(ctx context.Context, lat, lng, radiusKm float64) ([]models.NearbyDriver, error)
}

// LiveChannel fans ride events out to current observers. Publishes are
// fire-and-forget: they happen after the durable write and must never
// block or fail the transition that triggered them.
type LiveChannel interface {
	PublishStatus(rideID string, status models.RideStatus)
	PublishLocation(rideID string, p models.LocationPoint)
	PublishOTPVerified(rideID string)
}

// Caller is the identity the transport layer resolved for a request.
type Caller struct {
	ID   string
	Role models.Role
}

// Engine owns the ride state machine. It is the only writer of ride status;
// every transition is validated here against the table in status.go and
// applied with a compare-and-set write.
type Engine struct {
	rides   RideStore
	drivers DriverDirectory
	live    LiveChannel
	log     *zap.Logger

	now     func() time.Time
	newCode func() string
}

func New(rides RideStore, drivers DriverDirectory, live LiveChannel, log *zap.Logger) *Engine {
	return &Engine{
		rides:   rides,
		drivers: drivers,
		live:    live,
		log:     log,
		now:     time.Now,
		newCode: NewPickupCode,
	}
}

// CreateRideInput carries the creation-time fields of a ride. All of them
// are immutable once the ride exists.
type CreateRideInput struct {
	PickupAddress string
	PickupLat     float64
	PickupLng     float64
	DropAddress   string
	DropLat       float64
	DropLng       float64
	Fare          float64
	DistanceKm    float64
	EstimatedMins int
	VehicleType   string
	PaymentMethod string
}

func validCoord(lat, lng float64) bool {
	return lat >= -90 && lat <= 90 && lng >= -180 && lng <= 180
}

// CreateRide validates and persists a new pending ride for the rider.
func (e *Engine) CreateRide(ctx context.Context, riderID string, in CreateRideInput) (*models.Ride, error) {
	switch {
	case riderID == "":
		return nil, invalidField("riderId", "required")
	case in.PickupAddress == "":
		return nil, invalidField("pickupAddress", "required")
	case in.DropAddress == "":
		return nil, invalidField("dropAddress", "required")
	case !validCoord(in.PickupLat, in.PickupLng):
		return nil, invalidField("pickup", "coordinates out of range")
	case !validCoord(in.DropLat, in.DropLng):
		return nil, invalidField("drop", "coordinates out of range")
	case in.Fare <= 0:
		return nil, invalidField("fare", "must be positive")
	}
	switch in.VehicleType {
	case models.VehicleCar, models.VehicleBike, models.VehicleAuto:
	default:
		return nil, invalidField("vehicleType", "must be car, bike or auto")
	}
	switch in.PaymentMethod {
	case models.PaymentCash, models.PaymentCard, models.PaymentWallet:
	default:
		return nil, invalidField("paymentMethod", "must be cash, card or wallet")
	}

	if in.DistanceKm <= 0 {
		in.DistanceKm = utils.CalculateDistance(in.PickupLat, in.PickupLng, in.DropLat, in.DropLng)
	}

	now := e.now()
	ride := &models.Ride{
		ID:            uuid.New().String(),
		RiderID:       riderID,
		PickupAddress: in.PickupAddress,
		PickupLat:     in.PickupLat,
		PickupLng:     in.PickupLng,
		DropAddress:   in.DropAddress,
		DropLat:       in.DropLat,
		DropLng:       in.DropLng,
		Fare:          in.Fare,
		DistanceKm:    in.DistanceKm,
		EstimatedMins: in.EstimatedMins,
		VehicleType:   in.VehicleType,
		PaymentMethod: in.PaymentMethod,
		Status:        models.StatusPending,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := e.rides.Create(ctx, ride); err != nil {
		return nil, err
	}
	e.log.Info("ride created",
		zap.String("rideId", ride.ID),
		zap.String("riderId", riderID),
		zap.String("vehicleType", in.VehicleType))
	return ride, nil
}

// ListPendingRides returns the newest pending rides a driver can take,
// filtered to the driver's vehicle type when matchVehicle is set. A driver
// who is not online gets an empty result — offline is a valid state, not
// an error.
func (e *Engine) ListPendingRides(ctx context.Context, driver *models.Driver, matchVehicle bool) ([]models.Ride, error) {
	if driver.Availability != models.AvailabilityOnline {
		return []models.Ride{}, nil
	}
	vehicleType := ""
	if matchVehicle {
		vehicleType = driver.VehicleType
	}
	return e.rides.ListPending(ctx, vehicleType, 10)
}

// NearbyDrivers returns online drivers within radiusKm of the coordinate.
func (e *Engine) NearbyDrivers(ctx context.Context, lat, lng, radiusKm float64) ([]models.NearbyDriver, error) {
	if !validCoord(lat, lng) {
		return nil, invalidField("location", "coordinates out of range")
	}
	if radiusKm <= 0 {
		radiusKm = 5.0
	}
	return e.drivers.NearbyOnline(ctx, lat, lng, radiusKm)
}

// AcceptRide assigns the ride to the driver, exclusively. Under concurrent
// accepts exactly one caller wins; losers get ErrRideTaken. Acceptance
// issues the pickup code and marks the driver busy.
func (e *Engine) AcceptRide(ctx context.Context, rideID string, driver *models.Driver) (*models.Ride, error) {
	code := e.newCode()
	ride, err := e.rides.Accept(ctx, rideID, driver.ID, code, e.now())
	if err != nil {
		return nil, e.resolveConditional(ctx, rideID, err)
	}

	if err := e.drivers.SetAvailability(ctx, driver.ID, models.AvailabilityBusy); err != nil {
		e.log.Error("failed to mark driver busy", zap.String("driverId", driver.ID), zap.Error(err))
	}
	e.live.PublishStatus(rideID, models.StatusAccepted)
	e.log.Info("ride accepted", zap.String("rideId", rideID), zap.String("driverId", driver.ID))
	return ride, nil
}

// RejectRide declines a pending ride. Terminal: the ride simply stops being
// offered.
func (e *Engine) RejectRide(ctx context.Context, rideID string, driver *models.Driver) error {
	if err := e.rides.Reject(ctx, rideID, e.now()); err != nil {
		return e.resolveConditional(ctx, rideID, err)
	}
	e.live.PublishStatus(rideID, models.StatusRejected)
	e.log.Info("ride rejected", zap.String("rideId", rideID), zap.String("driverId", driver.ID))
	return nil
}

// VerifyPickupCode checks the code presented by the assigned driver and
// gates the started transition. Re-verifying an already-verified ride is
// idempotent and succeeds without checking the code again.
func (e *Engine) VerifyPickupCode(ctx context.Context, rideID, driverID, code string) error {
	ride, err := e.rides.Get(ctx, rideID)
	if err != nil {
		return err
	}
	if ride.DriverID == nil || *ride.DriverID != driverID {
		return ErrUnauthorized
	}
	if ride.OTPVerified {
		return nil
	}
	if code == "" || code != ride.PickupCode {
		return ErrInvalidCode
	}
	if err := e.rides.MarkOTPVerified(ctx, rideID); err != nil {
		return err
	}
	e.live.PublishOTPVerified(rideID)
	e.log.Info("pickup code verified", zap.String("rideId", rideID))
	return nil
}

// AdvanceStatus is the single entry point for every post-accept transition:
// started, picked_up, completed, cancelled. Preconditions come from the
// transition table; the write is compare-and-set on the observed status.
func (e *Engine) AdvanceStatus(ctx context.Context, rideID string, caller Caller, target models.RideStatus) (*models.Ride, error) {
	ride, err := e.rides.Get(ctx, rideID)
	if err != nil {
		return nil, err
	}

	if target == models.StatusCancelled {
		return e.cancel(ctx, ride, caller)
	}

	switch target {
	case models.StatusStarted, models.StatusPickedUp, models.StatusCompleted:
	default:
		// accepted and rejected have their own entry points; pending is
		// never a target.
		return nil, ErrInvalidTransition
	}
	if !CanTransition(ride.Status, target) {
		return nil, ErrInvalidTransition
	}
	if caller.Role != models.RoleDriver || ride.DriverID == nil || *ride.DriverID != caller.ID {
		return nil, ErrUnauthorized
	}
	if target == models.StatusStarted && !ride.OTPVerified {
		return nil, ErrInvalidTransition
	}

	updated, err := e.rides.Advance(ctx, rideID, ride.Status, target, e.now())
	if err != nil {
		return nil, e.resolveConditional(ctx, rideID, err)
	}

	if target == models.StatusCompleted {
		if err := e.drivers.RecordCompletedTrip(ctx, caller.ID, ride.RiderID); err != nil {
			e.log.Error("failed to record completed trip", zap.String("rideId", rideID), zap.Error(err))
		}
		if err := e.drivers.SetAvailability(ctx, caller.ID, models.AvailabilityOnline); err != nil {
			e.log.Error("failed to free driver", zap.String("driverId", caller.ID), zap.Error(err))
		}
	}
	e.live.PublishStatus(rideID, target)
	e.log.Info("ride status advanced",
		zap.String("rideId", rideID),
		zap.String("from", string(ride.Status)),
		zap.String("to", string(target)))
	return updated, nil
}

func (e *Engine) cancel(ctx context.Context, ride *models.Ride, caller Caller) (*models.Ride, error) {
	isRider := caller.Role == models.RoleRider && ride.RiderID == caller.ID
	isDriver := caller.Role == models.RoleDriver && ride.DriverID != nil && *ride.DriverID == caller.ID
	if !isRider && !isDriver {
		return nil, ErrUnauthorized
	}
	if !CanTransition(ride.Status, models.StatusCancelled) {
		return nil, ErrInvalidTransition
	}

	updated, err := e.rides.Cancel(ctx, ride.ID, ride.Status, caller.Role, e.now())
	if err != nil {
		return nil, e.resolveConditional(ctx, ride.ID, err)
	}

	// Whoever cancelled, an assigned driver goes back to online.
	if updated.DriverID != nil {
		if err := e.drivers.SetAvailability(ctx, *updated.DriverID, models.AvailabilityOnline); err != nil {
			e.log.Error("failed to free driver after cancel", zap.String("driverId", *updated.DriverID), zap.Error(err))
		}
	}
	e.live.PublishStatus(ride.ID, models.StatusCancelled)
	e.log.Info("ride cancelled",
		zap.String("rideId", ride.ID),
		zap.String("by", string(caller.Role)))
	return updated, nil
}

// ReportLocation persists a location sample for an in-flight ride (current
// snapshot + append-only history) and broadcasts it to observers. Only the
// assigned driver may report, and only while the ride is live.
func (e *Engine) ReportLocation(ctx context.Context, rideID, driverID string, lat, lng float64) error {
	ride, err := e.rides.Get(ctx, rideID)
	if err != nil {
		return err
	}
	if ride.DriverID == nil || *ride.DriverID != driverID {
		return ErrUnauthorized
	}
	switch ride.Status {
	case models.StatusAccepted, models.StatusStarted, models.StatusPickedUp:
	default:
		return ErrInvalidTransition
	}
	if !validCoord(lat, lng) {
		return invalidField("location", "coordinates out of range")
	}

	p := models.LocationPoint{Lat: lat, Lng: lng, RecordedAt: e.now()}
	if err := e.rides.AppendLocation(ctx, rideID, p); err != nil {
		return err
	}
	e.live.PublishLocation(rideID, p)
	return nil
}

// RateRide records the rider's rating for their completed ride, once. The
// ride row takes the rating with a compare-and-set on rating IS NULL, so
// concurrent submissions fold into the driver's average exactly once.
func (e *Engine) RateRide(ctx context.Context, rideID string, caller Caller, rating float64) error {
	if rating < 1 || rating > 5 {
		return invalidField("rating", "must be between 1 and 5")
	}
	ride, err := e.rides.Get(ctx, rideID)
	if err != nil {
		return err
	}
	if caller.Role != models.RoleRider || ride.RiderID != caller.ID {
		return ErrUnauthorized
	}
	if ride.Status != models.StatusCompleted || ride.DriverID == nil {
		return ErrInvalidTransition
	}

	if err := e.rides.SetRating(ctx, rideID, rating); err != nil {
		if errors.Is(err, ErrNotFound) {
			return ErrAlreadyRated
		}
		return err
	}
	if err := e.drivers.RecordRating(ctx, *ride.DriverID, rating); err != nil {
		e.log.Error("failed to record driver rating", zap.String("rideId", rideID), zap.Error(err))
	}
	e.log.Info("ride rated", zap.String("rideId", rideID), zap.Float64("rating", rating))
	return nil
}

// GetRide returns the ride to a party of it (rider, assigned driver) or an
// admin. Everyone else gets ErrUnauthorized — in particular nobody else
// ever sees the pickup code.
func (e *Engine) GetRide(ctx context.Context, rideID string, caller Caller) (*models.Ride, error) {
	ride, err := e.rides.Get(ctx, rideID)
	if err != nil {
		return nil, err
	}
	if !e.mayView(ride, caller) {
		return nil, ErrUnauthorized
	}
	return ride, nil
}

// LocationHistory returns the append-only location trail, same visibility
// rules as GetRide.
func (e *Engine) LocationHistory(ctx context.Context, rideID string, caller Caller) ([]models.LocationPoint, error) {
	ride, err := e.rides.Get(ctx, rideID)
	if err != nil {
		return nil, err
	}
	if !e.mayView(ride, caller) {
		return nil, ErrUnauthorized
	}
	return e.rides.Locations(ctx, rideID)
}

// ListMyRides returns the caller's own rides, newest first.
func (e *Engine) ListMyRides(ctx context.Context, caller Caller) ([]models.Ride, error) {
	switch caller.Role {
	case models.RoleRider:
		return e.rides.ListByRider(ctx, caller.ID)
	case models.RoleDriver:
		return e.rides.ListByDriver(ctx, caller.ID)
	}
	return nil, ErrUnauthorized
}

func (e *Engine) mayView(ride *models.Ride, caller Caller) bool {
	switch caller.Role {
	case models.RoleAdmin:
		return true
	case models.RoleRider:
		return ride.RiderID == caller.ID
	case models.RoleDriver:
		return ride.DriverID != nil && *ride.DriverID == caller.ID
	}
	return false
}

// resolveConditional turns a failed compare-and-set into the right caller
// error: the ride is either gone or was moved by a concurrent transition.
func (e *Engine) resolveConditional(ctx context.Context, rideID string, err error) error {
	if !errors.Is(err, ErrNotFound) {
		return err
	}
	if _, getErr := e.rides.Get(ctx, rideID); errors.Is(getErr, ErrNotFound) {
		return ErrNotFound
	}
	return ErrRideTaken
}
