package handlers

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"ridelink/db"
	"ridelink/models"
	"ridelink/utils"
)

// RegisterAdminRoutes defines the minimal operator surface: listing rides
// and drivers. Full dashboards live elsewhere.
func RegisterAdminRoutes(r *gin.Engine, adminMiddleware gin.HandlerFunc) {
	adminGroup := r.Group("/api/v1/admin", adminMiddleware)
	{
		adminGroup.GET("/rides", AdminListRides)
		adminGroup.GET("/drivers", AdminListDrivers)
	}
}

// GET /api/v1/admin/rides?status=..&limit=..
func AdminListRides(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	if limit <= 0 || limit > 500 {
		limit = 50
	}

	query := `SELECT id, "riderId", "driverId", fare, "vehicleType", "paymentMethod", status,
		"otpVerified", "cancelledBy", "createdAt", "updatedAt" FROM rides`
	args := []any{limit}
	if status := c.Query("status"); status != "" {
		query += ` WHERE status=$2`
		args = append(args, status)
	}
	query += ` ORDER BY "createdAt" DESC LIMIT $1`

	rows, err := db.Pool.Query(context.Background(), query, args...)
	if err != nil {
		utils.RespondError(c, http.StatusInternalServerError, "Failed to fetch rides", err)
		return
	}
	defer rows.Close()

	rides := []models.Ride{}
	for rows.Next() {
		var r models.Ride
		if err := rows.Scan(&r.ID, &r.RiderID, &r.DriverID, &r.Fare, &r.VehicleType, &r.PaymentMethod,
			&r.Status, &r.OTPVerified, &r.CancelledBy, &r.CreatedAt, &r.UpdatedAt); err != nil {
			utils.RespondError(c, http.StatusInternalServerError, "Failed to read rides", err)
			return
		}
		rides = append(rides, r)
	}
	utils.RespondSuccess(c, http.StatusOK, "Rides", gin.H{"rides": rides})
}

// GET /api/v1/admin/drivers?availability=..
func AdminListDrivers(c *gin.Context) {
	query := `SELECT id, name, phone_number, email, vehicle_type, registration_number, vehicle_color,
		ratings, "totalRides", status, availability, "createdAt", "updatedAt" FROM drivers`
	args := []any{}
	if availability := c.Query("availability"); availability != "" {
		query += ` WHERE availability=$1`
		args = append(args, availability)
	}
	query += ` ORDER BY "createdAt" DESC`

	rows, err := db.Pool.Query(context.Background(), query, args...)
	if err != nil {
		utils.RespondError(c, http.StatusInternalServerError, "Failed to fetch drivers", err)
		return
	}
	defer rows.Close()

	drivers := []models.Driver{}
	for rows.Next() {
		var d models.Driver
		if err := rows.Scan(&d.ID, &d.Name, &d.PhoneNumber, &d.Email, &d.VehicleType, &d.RegistrationNumber,
			&d.VehicleColor, &d.Ratings, &d.TotalRides, &d.Status, &d.Availability, &d.CreatedAt, &d.UpdatedAt); err != nil {
			utils.RespondError(c, http.StatusInternalServerError, "Failed to read drivers", err)
			return
		}
		drivers = append(drivers, d)
	}
	utils.RespondSuccess(c, http.StatusOK, "Drivers", gin.H{"drivers": drivers})
}
