package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"ridelink/lifecycle"
	"ridelink/stores"
	"ridelink/utils"
)

var (
	engine      *lifecycle.Engine
	driverStore *stores.DriverStore
)

// Use wires the handler package to its dependencies. Called once from main
// before routes are registered.
func Use(e *lifecycle.Engine, ds *stores.DriverStore) {
	engine = e
	driverStore = ds
}

// respondEngineError maps the engine's typed failures onto HTTP statuses.
// A lost accept race (409) is deliberately distinguishable from an unknown
// ride (404) so clients can show "someone else took this ride".
func respondEngineError(c *gin.Context, err error) {
	var vErr *lifecycle.ValidationError
	switch {
	case errors.As(err, &vErr):
		utils.RespondError(c, http.StatusBadRequest, vErr.Error(), nil)
	case errors.Is(err, lifecycle.ErrInvalidCode):
		utils.RespondError(c, http.StatusBadRequest, "Incorrect pickup code", nil)
	case errors.Is(err, lifecycle.ErrNotFound):
		utils.RespondError(c, http.StatusNotFound, "Ride not found", nil)
	case errors.Is(err, lifecycle.ErrUnauthorized):
		utils.RespondError(c, http.StatusForbidden, "You are not allowed to do that", nil)
	case errors.Is(err, lifecycle.ErrRideTaken):
		utils.RespondError(c, http.StatusConflict, "This ride is no longer available", nil)
	case errors.Is(err, lifecycle.ErrAlreadyRated):
		utils.RespondError(c, http.StatusConflict, "This ride has already been rated", nil)
	case errors.Is(err, lifecycle.ErrInvalidTransition):
		utils.RespondError(c, http.StatusConflict, "Ride is not in a state that allows this", nil)
	default:
		utils.RespondError(c, http.StatusInternalServerError, "Internal server error", err)
	}
}
