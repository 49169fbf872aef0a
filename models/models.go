package models

import "time"

// RideStatus is the lifecycle state of a ride. Transitions between statuses
// are governed by the lifecycle package; nothing else writes this field.
type RideStatus string

const (
	StatusPending   RideStatus = "pending"
	StatusAccepted  RideStatus = "accepted"
	StatusRejected  RideStatus = "rejected"
	StatusStarted   RideStatus = "started"
	StatusPickedUp  RideStatus = "picked_up"
	StatusCompleted RideStatus = "completed"
	StatusCancelled RideStatus = "cancelled"
)

// Terminal reports whether no further transitions are possible from s.
func (s RideStatus) Terminal() bool {
	return s == StatusRejected || s == StatusCompleted || s == StatusCancelled
}

// Availability is the driver-side dispatch flag. Only online drivers appear
// in matching results; busy is set for the duration of an assigned ride.
type Availability string

const (
	AvailabilityOffline Availability = "offline"
	AvailabilityOnline  Availability = "online"
	AvailabilityBusy    Availability = "busy"
)

type Role string

const (
	RoleRider  Role = "rider"
	RoleDriver Role = "driver"
	RoleAdmin  Role = "admin"
)

const (
	VehicleCar  = "car"
	VehicleBike = "bike"
	VehicleAuto = "auto"
)

const (
	PaymentCash   = "cash"
	PaymentCard   = "card"
	PaymentWallet = "wallet"
)

type User struct {
	ID          string    `json:"id"`
	Name        *string   `json:"name"`
	PhoneNumber string    `json:"phone_number"`
	Email       *string   `json:"email"`
	Ratings     float64   `json:"ratings"`
	TotalRides  float64   `json:"totalRides"`
	Status      string    `json:"status"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

type Driver struct {
	ID                 string       `json:"id"`
	Name               string       `json:"name"`
	PhoneNumber        string       `json:"phone_number"`
	Email              string       `json:"email"`
	VehicleType        string       `json:"vehicle_type"`
	RegistrationNumber string       `json:"registration_number"`
	VehicleColor       *string      `json:"vehicle_color"`
	Ratings            float64      `json:"ratings"`
	TotalRides         float64      `json:"totalRides"`
	Status             string       `json:"status"`
	Availability       Availability `json:"availability"`
	CreatedAt          time.Time    `json:"createdAt"`
	UpdatedAt          time.Time    `json:"updatedAt"`
}

// LocationPoint is one live-location sample. The "current" snapshot on the
// ride row and every entry of the append-only history share this shape.
type LocationPoint struct {
	Lat        float64   `json:"lat"`
	Lng        float64   `json:"lng"`
	RecordedAt time.Time `json:"recordedAt"`
}

type Ride struct {
	ID       string  `json:"id"`
	RiderID  string  `json:"riderId"`
	DriverID *string `json:"driverId"`

	PickupAddress string  `json:"pickupAddress"`
	PickupLat     float64 `json:"pickupLat"`
	PickupLng     float64 `json:"pickupLng"`
	DropAddress   string  `json:"dropAddress"`
	DropLat       float64 `json:"dropLat"`
	DropLng       float64 `json:"dropLng"`

	Fare          float64 `json:"fare"`
	DistanceKm    float64 `json:"distanceKm"`
	EstimatedMins int     `json:"estimatedMins"`
	VehicleType   string  `json:"vehicleType"`
	PaymentMethod string  `json:"paymentMethod"`

	Status RideStatus `json:"status"`

	// PickupCode is the 4-digit handshake secret issued at acceptance.
	// Redacted from responses unless the caller is a party to the ride.
	PickupCode  string `json:"pickupCode,omitempty"`
	OTPVerified bool   `json:"otpVerified"`

	CurrentLat *float64   `json:"currentLat,omitempty"`
	CurrentLng *float64   `json:"currentLng,omitempty"`
	CurrentAt  *time.Time `json:"currentAt,omitempty"`

	Rating *float64 `json:"rating,omitempty"`

	AcceptedAt  *time.Time `json:"acceptedAt,omitempty"`
	StartedAt   *time.Time `json:"startedAt,omitempty"`
	PickedUpAt  *time.Time `json:"pickedUpAt,omitempty"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
	CancelledAt *time.Time `json:"cancelledAt,omitempty"`
	CancelledBy *string    `json:"cancelledBy,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`

	Driver *Driver `json:"driver,omitempty"`
	Rider  *User   `json:"rider,omitempty"`
}

// NearbyDriver is a matching-query result row: an online driver with the
// descriptor fields the rider needs to pick one.
type NearbyDriver struct {
	ID          string  `json:"id"`
	Name        string  `json:"name"`
	VehicleType string  `json:"vehicle_type"`
	Ratings     float64 `json:"ratings"`
	TotalRides  float64 `json:"totalRides"`
	Lat         float64 `json:"lat"`
	Lng         float64 `json:"lng"`
	DistanceKm  float64 `json:"distanceKm"`
}
