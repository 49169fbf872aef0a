package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"ridelink/lifecycle"
	"ridelink/models"
	"ridelink/utils"
)

// RegisterDriverRoutes defines all driver-facing API endpoints.
func RegisterDriverRoutes(r *gin.Engine, authMiddleware gin.HandlerFunc) {
	driverGroup := r.Group("/api/v1/driver", authMiddleware)
	{
		// Availability & idle position
		driverGroup.PUT("/online", ToggleOnline)
		driverGroup.POST("/heartbeat", DriverHeartbeat)

		// Matching & lifecycle
		driverGroup.GET("/rides/pending", GetPendingRides)
		driverGroup.POST("/ride/:id/accept", AcceptRide)
		driverGroup.POST("/ride/:id/reject", RejectRide)
		driverGroup.POST("/ride/:id/verify-otp", VerifyPickupCode)
		driverGroup.PUT("/ride/:id/status", UpdateRideStatus)
		driverGroup.POST("/ride/:id/location", ReportRideLocation)

		// History
		driverGroup.GET("/rides", GetDriverRides)
		driverGroup.GET("/ride/:id", GetDriverRideDetails)
		driverGroup.GET("/ride/:id/locations", GetDriverRideLocations)
	}
}

func driverCaller(c *gin.Context) (lifecycle.Caller, *models.Driver) {
	driver := c.MustGet("driver").(*models.Driver)
	return lifecycle.Caller{ID: driver.ID, Role: models.RoleDriver}, driver
}

// PUT /api/v1/driver/online — flip between online and offline.
func ToggleOnline(c *gin.Context) {
	_, driver := driverCaller(c)

	// Only admin-approved drivers can go online.
	if driver.Status != "active" {
		utils.RespondError(c, http.StatusForbidden, "Your account is not approved yet. Please wait for verification.", nil)
		return
	}
	if driver.Availability == models.AvailabilityBusy {
		utils.RespondError(c, http.StatusConflict, "Finish your current ride before changing availability", nil)
		return
	}

	next := models.AvailabilityOnline
	msg := "You are now online and accepting rides"
	if driver.Availability == models.AvailabilityOnline {
		next = models.AvailabilityOffline
		msg = "You are now offline. No new rides will be offered."
	}

	if err := driverStore.SetAvailability(c.Request.Context(), driver.ID, next); err != nil {
		utils.RespondError(c, http.StatusInternalServerError, "Database error", err)
		return
	}
	driver.Availability = next
	utils.RespondSuccess(c, http.StatusOK, msg, gin.H{"driver": driver})
}

// POST /api/v1/driver/heartbeat — idle position report feeding the
// matching geo index.
func DriverHeartbeat(c *gin.Context) {
	_, driver := driverCaller(c)
	var body struct {
		Lat float64 `json:"lat"`
		Lng float64 `json:"lng"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		utils.RespondError(c, http.StatusBadRequest, "Invalid request", err)
		return
	}

	if err := driverStore.Heartbeat(c.Request.Context(), driver.ID, body.Lat, body.Lng); err != nil {
		utils.RespondError(c, http.StatusInternalServerError, "Failed to record position", err)
		return
	}
	utils.RespondSuccess(c, http.StatusOK, "Position updated", nil)
}

// GET /api/v1/driver/rides/pending?any=true
func GetPendingRides(c *gin.Context) {
	_, driver := driverCaller(c)
	matchVehicle := c.Query("any") != "true"

	rides, err := engine.ListPendingRides(c.Request.Context(), driver, matchVehicle)
	if err != nil {
		respondEngineError(c, err)
		return
	}
	utils.RespondSuccess(c, http.StatusOK, "Pending rides", gin.H{
		"rides":    rides,
		"isOnline": driver.Availability == models.AvailabilityOnline,
	})
}

// POST /api/v1/driver/ride/:id/accept
func AcceptRide(c *gin.Context) {
	_, driver := driverCaller(c)

	if driver.Availability != models.AvailabilityOnline {
		utils.RespondError(c, http.StatusForbidden, "You must be online to accept rides", nil)
		return
	}

	ride, err := engine.AcceptRide(c.Request.Context(), c.Param("id"), driver)
	if err != nil {
		respondEngineError(c, err)
		return
	}
	utils.RespondSuccess(c, http.StatusOK, "Ride accepted", gin.H{"ride": ride})
}

// POST /api/v1/driver/ride/:id/reject
func RejectRide(c *gin.Context) {
	_, driver := driverCaller(c)
	if err := engine.RejectRide(c.Request.Context(), c.Param("id"), driver); err != nil {
		respondEngineError(c, err)
		return
	}
	utils.RespondSuccess(c, http.StatusOK, "Ride declined", nil)
}

// POST /api/v1/driver/ride/:id/verify-otp
func VerifyPickupCode(c *gin.Context) {
	_, driver := driverCaller(c)
	var body struct {
		Code string `json:"code" binding:"required"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		utils.RespondError(c, http.StatusBadRequest, "Invalid request", err)
		return
	}

	if err := engine.VerifyPickupCode(c.Request.Context(), c.Param("id"), driver.ID, body.Code); err != nil {
		respondEngineError(c, err)
		return
	}
	utils.RespondSuccess(c, http.StatusOK, "Pickup code verified", nil)
}

// PUT /api/v1/driver/ride/:id/status
func UpdateRideStatus(c *gin.Context) {
	caller, _ := driverCaller(c)
	var body struct {
		Status string `json:"status" binding:"required"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		utils.RespondError(c, http.StatusBadRequest, "Invalid request", err)
		return
	}

	target, ok := lifecycle.ParseStatus(body.Status)
	if !ok {
		utils.RespondError(c, http.StatusBadRequest, "Unknown ride status", nil)
		return
	}

	ride, err := engine.AdvanceStatus(c.Request.Context(), c.Param("id"), caller, target)
	if err != nil {
		respondEngineError(c, err)
		return
	}
	utils.RespondSuccess(c, http.StatusOK, "Ride status updated", gin.H{"ride": ride})
}

// POST /api/v1/driver/ride/:id/location
func ReportRideLocation(c *gin.Context) {
	_, driver := driverCaller(c)
	var body struct {
		Lat float64 `json:"lat"`
		Lng float64 `json:"lng"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		utils.RespondError(c, http.StatusBadRequest, "Invalid request", err)
		return
	}

	err := engine.ReportLocation(c.Request.Context(), c.Param("id"), driver.ID, body.Lat, body.Lng)
	if err != nil {
		respondEngineError(c, err)
		return
	}

	// Keep the matching geo index fresh too; failures here don't fail
	// the report.
	if err := driverStore.Heartbeat(c.Request.Context(), driver.ID, body.Lat, body.Lng); err != nil {
		utils.Logger.Warn("heartbeat update failed during location report")
	}
	utils.RespondSuccess(c, http.StatusOK, "Location reported", nil)
}

// GET /api/v1/driver/rides
func GetDriverRides(c *gin.Context) {
	caller, _ := driverCaller(c)
	rides, err := engine.ListMyRides(c.Request.Context(), caller)
	if err != nil {
		respondEngineError(c, err)
		return
	}
	utils.RespondSuccess(c, http.StatusOK, "Rides retrieved", gin.H{"rides": rides})
}

// GET /api/v1/driver/ride/:id
func GetDriverRideDetails(c *gin.Context) {
	caller, _ := driverCaller(c)
	ride, err := engine.GetRide(c.Request.Context(), c.Param("id"), caller)
	if err != nil {
		respondEngineError(c, err)
		return
	}
	utils.RespondSuccess(c, http.StatusOK, "Ride details", gin.H{"ride": ride})
}

// GET /api/v1/driver/ride/:id/locations
func GetDriverRideLocations(c *gin.Context) {
	caller, _ := driverCaller(c)
	points, err := engine.LocationHistory(c.Request.Context(), c.Param("id"), caller)
	if err != nil {
		respondEngineError(c, err)
		return
	}
	utils.RespondSuccess(c, http.StatusOK, "Location history", gin.H{"locations": points})
}
