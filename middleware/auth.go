package middleware

import (
	"context"
	"net/http"
	"os"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"

	"ridelink/db"
	"ridelink/models"
	"ridelink/utils"
)

// callerID extracts and validates the bearer token, returning the subject
// id. The token is issued by the external identity provider; this layer
// only checks the signature and pulls the id out.
func callerID(c *gin.Context) (string, bool) {
	authHeader := c.GetHeader("Authorization")
	if authHeader == "" {
		utils.RespondError(c, http.StatusUnauthorized, "Please log in to access this content", nil)
		return "", false
	}
	parts := strings.Split(authHeader, " ")
	if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" {
		utils.RespondError(c, http.StatusUnauthorized, "Invalid authorization format. Use: Bearer <token>", nil)
		return "", false
	}

	token, err := jwt.Parse(parts[1], func(t *jwt.Token) (interface{}, error) {
		return []byte(os.Getenv("ACCESS_TOKEN_SECRET")), nil
	})
	if err != nil || !token.Valid {
		utils.RespondError(c, http.StatusUnauthorized, "Invalid or expired token", err)
		return "", false
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		utils.RespondError(c, http.StatusUnauthorized, "Invalid token claims", nil)
		return "", false
	}
	id, ok := claims["id"].(string)
	if !ok || id == "" {
		utils.RespondError(c, http.StatusUnauthorized, "Invalid token payload", nil)
		return "", false
	}
	return id, true
}

// IsAuthenticated resolves the caller as a rider and loads their profile
// row into the context.
func IsAuthenticated() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := callerID(c)
		if !ok {
			c.Abort()
			return
		}

		var user models.User
		err := db.Pool.QueryRow(context.Background(),
			`SELECT id, name, phone_number, email, ratings, "totalRides", status, "createdAt", "updatedAt"
			 FROM riders WHERE id=$1`, id).
			Scan(&user.ID, &user.Name, &user.PhoneNumber, &user.Email, &user.Ratings, &user.TotalRides,
				&user.Status, &user.CreatedAt, &user.UpdatedAt)
		if err != nil {
			utils.RespondError(c, http.StatusUnauthorized, "User not found", err)
			c.Abort()
			return
		}

		if user.Status == "suspended" || user.Status == "inactive" {
			utils.RespondError(c, http.StatusForbidden, "Your account is not active. Contact support.", nil)
			c.Abort()
			return
		}

		c.Set("user", &user)
		c.Next()
	}
}

// IsAuthenticatedDriver resolves the caller as a driver.
func IsAuthenticatedDriver() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := callerID(c)
		if !ok {
			c.Abort()
			return
		}

		var driver models.Driver
		err := db.Pool.QueryRow(context.Background(),
			`SELECT id, name, phone_number, email, vehicle_type, registration_number, vehicle_color,
				ratings, "totalRides", status, availability, "createdAt", "updatedAt"
			 FROM drivers WHERE id=$1`, id).
			Scan(&driver.ID, &driver.Name, &driver.PhoneNumber, &driver.Email, &driver.VehicleType,
				&driver.RegistrationNumber, &driver.VehicleColor, &driver.Ratings, &driver.TotalRides,
				&driver.Status, &driver.Availability, &driver.CreatedAt, &driver.UpdatedAt)
		if err != nil {
			utils.RespondError(c, http.StatusUnauthorized, "Driver not found", err)
			c.Abort()
			return
		}

		if driver.Status == "suspended" || driver.Status == "rejected" {
			utils.RespondError(c, http.StatusForbidden, "Your account is not active. Contact support.", nil)
			c.Abort()
			return
		}

		c.Set("driver", &driver)
		c.Next()
	}
}

// IsAdmin validates admin access via the x-admin-secret header.
func IsAdmin() gin.HandlerFunc {
	return func(c *gin.Context) {
		adminSecret := os.Getenv("ADMIN_SECRET")
		if adminSecret == "" {
			utils.RespondError(c, http.StatusInternalServerError, "Admin access not configured", nil)
			c.Abort()
			return
		}

		headerSecret := c.GetHeader("x-admin-secret")
		if headerSecret == "" || headerSecret != adminSecret {
			utils.RespondError(c, http.StatusForbidden, "Forbidden: Invalid admin credentials", nil)
			c.Abort()
			return
		}

		c.Next()
	}
}
