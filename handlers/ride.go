package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"ridelink/lifecycle"
	"ridelink/models"
	"ridelink/utils"
)

// RegisterUserRoutes defines all rider-facing API endpoints.
func RegisterUserRoutes(r *gin.Engine, authMiddleware gin.HandlerFunc) {
	userGroup := r.Group("/api/v1/user", authMiddleware)
	{
		userGroup.POST("/ride", CreateRide)
		userGroup.GET("/rides", GetMyRides)
		userGroup.GET("/ride/:id", GetRideDetails)
		userGroup.GET("/ride/:id/locations", GetRideLocations)
		userGroup.POST("/ride/:id/cancel", CancelRide)
		userGroup.GET("/drivers/nearby", GetNearbyDrivers)
		userGroup.POST("/rate-driver", RateDriver)
	}
}

func riderCaller(c *gin.Context) (lifecycle.Caller, *models.User) {
	user := c.MustGet("user").(*models.User)
	return lifecycle.Caller{ID: user.ID, Role: models.RoleRider}, user
}

// POST /api/v1/user/ride
func CreateRide(c *gin.Context) {
	_, user := riderCaller(c)
	var body struct {
		PickupAddress string  `json:"pickupAddress" binding:"required"`
		PickupLat     float64 `json:"pickupLat"`
		PickupLng     float64 `json:"pickupLng"`
		DropAddress   string  `json:"dropAddress" binding:"required"`
		DropLat       float64 `json:"dropLat"`
		DropLng       float64 `json:"dropLng"`
		Fare          float64 `json:"fare" binding:"required"`
		DistanceKm    float64 `json:"distanceKm"`
		EstimatedMins int     `json:"estimatedMins"`
		VehicleType   string  `json:"vehicleType" binding:"required"`
		PaymentMethod string  `json:"paymentMethod" binding:"required"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		utils.RespondError(c, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	ride, err := engine.CreateRide(c.Request.Context(), user.ID, lifecycle.CreateRideInput{
		PickupAddress: body.PickupAddress,
		PickupLat:     body.PickupLat,
		PickupLng:     body.PickupLng,
		DropAddress:   body.DropAddress,
		DropLat:       body.DropLat,
		DropLng:       body.DropLng,
		Fare:          body.Fare,
		DistanceKm:    body.DistanceKm,
		EstimatedMins: body.EstimatedMins,
		VehicleType:   body.VehicleType,
		PaymentMethod: body.PaymentMethod,
	})
	if err != nil {
		respondEngineError(c, err)
		return
	}
	utils.RespondSuccess(c, http.StatusCreated, "Ride requested", gin.H{"ride": ride})
}

// GET /api/v1/user/rides
func GetMyRides(c *gin.Context) {
	caller, _ := riderCaller(c)
	rides, err := engine.ListMyRides(c.Request.Context(), caller)
	if err != nil {
		respondEngineError(c, err)
		return
	}
	utils.RespondSuccess(c, http.StatusOK, "Rides retrieved", gin.H{"rides": rides})
}

// GET /api/v1/user/ride/:id
func GetRideDetails(c *gin.Context) {
	caller, _ := riderCaller(c)
	ride, err := engine.GetRide(c.Request.Context(), c.Param("id"), caller)
	if err != nil {
		respondEngineError(c, err)
		return
	}
	utils.RespondSuccess(c, http.StatusOK, "Ride details", gin.H{"ride": ride})
}

// GET /api/v1/user/ride/:id/locations
func GetRideLocations(c *gin.Context) {
	caller, _ := riderCaller(c)
	points, err := engine.LocationHistory(c.Request.Context(), c.Param("id"), caller)
	if err != nil {
		respondEngineError(c, err)
		return
	}
	utils.RespondSuccess(c, http.StatusOK, "Location history", gin.H{"locations": points})
}

// POST /api/v1/user/ride/:id/cancel
func CancelRide(c *gin.Context) {
	caller, _ := riderCaller(c)
	ride, err := engine.AdvanceStatus(c.Request.Context(), c.Param("id"), caller, models.StatusCancelled)
	if err != nil {
		respondEngineError(c, err)
		return
	}
	utils.RespondSuccess(c, http.StatusOK, "Ride cancelled", gin.H{"ride": ride})
}

// GET /api/v1/user/drivers/nearby?lat=..&lng=..&radius=..
func GetNearbyDrivers(c *gin.Context) {
	lat, err1 := strconv.ParseFloat(c.Query("lat"), 64)
	lng, err2 := strconv.ParseFloat(c.Query("lng"), 64)
	if err1 != nil || err2 != nil {
		utils.RespondError(c, http.StatusBadRequest, "lat and lng are required", nil)
		return
	}
	radius, _ := strconv.ParseFloat(c.DefaultQuery("radius", "5"), 64)

	drivers, err := engine.NearbyDrivers(c.Request.Context(), lat, lng, radius)
	if err != nil {
		respondEngineError(c, err)
		return
	}
	utils.RespondSuccess(c, http.StatusOK, "Nearby drivers", gin.H{"drivers": drivers})
}

// POST /api/v1/user/rate-driver
func RateDriver(c *gin.Context) {
	caller, _ := riderCaller(c)
	var body struct {
		RideID string  `json:"rideId" binding:"required"`
		Rating float64 `json:"rating" binding:"required"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		utils.RespondError(c, http.StatusBadRequest, "Invalid request", err)
		return
	}

	if err := engine.RateRide(c.Request.Context(), body.RideID, caller, body.Rating); err != nil {
		respondEngineError(c, err)
		return
	}
	utils.RespondSuccess(c, http.StatusOK, "Rating submitted", nil)
}
