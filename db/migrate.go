package db

import (
	"context"
	"log"
)

// Migrate creates all tables, columns and indexes if they don't exist.
// Safe to run multiple times — every statement is idempotent.
func Migrate() {
	sql := `
	CREATE EXTENSION IF NOT EXISTS pgcrypto;

	-- ═══════════════════════════════════════════
	-- RIDERS
	-- ═══════════════════════════════════════════
	CREATE TABLE IF NOT EXISTS riders (
		id TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
		name TEXT,
		phone_number TEXT UNIQUE NOT NULL,
		email TEXT UNIQUE,
		ratings DOUBLE PRECISION NOT NULL DEFAULT 0,
		"totalRides" DOUBLE PRECISION NOT NULL DEFAULT 0,
		status TEXT NOT NULL DEFAULT 'active',
		"createdAt" TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		"updatedAt" TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);

	-- ═══════════════════════════════════════════
	-- DRIVERS
	-- ═══════════════════════════════════════════
	CREATE TABLE IF NOT EXISTS drivers (
		id TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
		name TEXT NOT NULL,
		phone_number TEXT UNIQUE NOT NULL,
		email TEXT UNIQUE NOT NULL,
		vehicle_type TEXT NOT NULL,
		registration_number TEXT UNIQUE NOT NULL,
		vehicle_color TEXT,
		ratings DOUBLE PRECISION NOT NULL DEFAULT 0,
		"totalRides" DOUBLE PRECISION NOT NULL DEFAULT 0,
		status TEXT NOT NULL DEFAULT 'pending',
		availability TEXT NOT NULL DEFAULT 'offline',
		"createdAt" TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		"updatedAt" TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);
	ALTER TABLE drivers ADD COLUMN IF NOT EXISTS availability TEXT NOT NULL DEFAULT 'offline';

	-- ═══════════════════════════════════════════
	-- RIDES — full lifecycle record
	-- ═══════════════════════════════════════════
	CREATE TABLE IF NOT EXISTS rides (
		id TEXT PRIMARY KEY,
		"riderId" TEXT NOT NULL REFERENCES riders(id),
		"driverId" TEXT REFERENCES drivers(id),
		"pickupAddress" TEXT NOT NULL,
		"pickupLat" DOUBLE PRECISION NOT NULL,
		"pickupLng" DOUBLE PRECISION NOT NULL,
		"dropAddress" TEXT NOT NULL,
		"dropLat" DOUBLE PRECISION NOT NULL,
		"dropLng" DOUBLE PRECISION NOT NULL,
		fare DOUBLE PRECISION NOT NULL,
		"distanceKm" DOUBLE PRECISION NOT NULL DEFAULT 0,
		"estimatedMins" INTEGER NOT NULL DEFAULT 0,
		"vehicleType" TEXT NOT NULL,
		"paymentMethod" TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'pending',
		"pickupCode" TEXT,
		"otpVerified" BOOLEAN NOT NULL DEFAULT FALSE,
		"currentLat" DOUBLE PRECISION,
		"currentLng" DOUBLE PRECISION,
		"currentAt" TIMESTAMPTZ,
		rating DOUBLE PRECISION,
		"acceptedAt" TIMESTAMPTZ,
		"startedAt" TIMESTAMPTZ,
		"pickedUpAt" TIMESTAMPTZ,
		"completedAt" TIMESTAMPTZ,
		"cancelledAt" TIMESTAMPTZ,
		"cancelledBy" TEXT,
		"createdAt" TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		"updatedAt" TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);
	ALTER TABLE rides ADD COLUMN IF NOT EXISTS "pickupCode" TEXT;
	ALTER TABLE rides ADD COLUMN IF NOT EXISTS "otpVerified" BOOLEAN NOT NULL DEFAULT FALSE;
	ALTER TABLE rides ADD COLUMN IF NOT EXISTS "pickedUpAt" TIMESTAMPTZ;
	ALTER TABLE rides ADD COLUMN IF NOT EXISTS "cancelledBy" TEXT;
	ALTER TABLE rides ADD COLUMN IF NOT EXISTS "currentLat" DOUBLE PRECISION;
	ALTER TABLE rides ADD COLUMN IF NOT EXISTS "currentLng" DOUBLE PRECISION;
	ALTER TABLE rides ADD COLUMN IF NOT EXISTS "currentAt" TIMESTAMPTZ;

	-- ═══════════════════════════════════════════
	-- RIDE LOCATIONS — append-only live trail
	-- ═══════════════════════════════════════════
	CREATE TABLE IF NOT EXISTS ride_locations (
		id BIGSERIAL PRIMARY KEY,
		"rideId" TEXT NOT NULL REFERENCES rides(id),
		lat DOUBLE PRECISION NOT NULL,
		lng DOUBLE PRECISION NOT NULL,
		"recordedAt" TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);

	-- ═══════════════════════════════════════════
	-- INDEXES
	-- ═══════════════════════════════════════════
	CREATE INDEX IF NOT EXISTS idx_rides_riderid ON rides("riderId");
	CREATE INDEX IF NOT EXISTS idx_rides_driverid ON rides("driverId");
	CREATE INDEX IF NOT EXISTS idx_rides_status_created ON rides(status, "createdAt");
	CREATE INDEX IF NOT EXISTS idx_rides_status_vehicle ON rides(status, "vehicleType", "createdAt");
	CREATE INDEX IF NOT EXISTS idx_ride_locations_ride ON ride_locations("rideId", id);
	CREATE INDEX IF NOT EXISTS idx_drivers_availability ON drivers(availability) WHERE availability='online';
	`

	_, err := Pool.Exec(context.Background(), sql)
	if err != nil {
		log.Fatalf("Migration failed: %v", err)
	}
	log.Println("Database migration completed successfully")
}
