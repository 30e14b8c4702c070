// Package anticheat holds the pure validators run before any token is
// spent: geofence, Wi-Fi allowlist, and the sliding-window rate limiter.
package anticheat

import (
	"math"

	"github.com/chainpass/core/internal/models"
	"github.com/chainpass/core/internal/pkg/fault"
)

const earthRadiusMeters = 6371000.0

// GPSFix is a reported client location.
type GPSFix struct {
	Latitude  float64
	Longitude float64
}

// HaversineMeters returns the great-circle distance between two points.
func HaversineMeters(lat1, lon1, lat2, lon2 float64) float64 {
	rad := func(deg float64) float64 { return deg * math.Pi / 180 }
	dLat := rad(lat2 - lat1)
	dLon := rad(lon2 - lon1)
	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(rad(lat1))*math.Cos(rad(lat2))*math.Sin(dLon/2)*math.Sin(dLon/2)
	return 2 * earthRadiusMeters * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
}

// CheckGeofence validates a reported fix against the session's geofence.
// A nil fence accepts everything. A missing fix passes unless the fence is
// mandatory; that is session policy, not a violation.
func CheckGeofence(fence *models.Geofence, fix *GPSFix) error {
	if fence == nil {
		return nil
	}
	if fix == nil {
		if fence.Mandatory {
			return fault.New(fault.KindAntiCheat, fault.CodeGeofenceViolation, "gps reading required for this session")
		}
		return nil
	}
	dist := HaversineMeters(fence.Latitude, fence.Longitude, fix.Latitude, fix.Longitude)
	if dist > fence.RadiusMeters {
		return fault.New(fault.KindAntiCheat, fault.CodeGeofenceViolation, "reported location is outside the allowed area")
	}
	return nil
}
