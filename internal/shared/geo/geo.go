package geo

import (
	"math"
	"time"
)

const earthRadiusKm = 6371

// Point is a single GPS sample.
type Point struct {
	Lat float64   `json:"lat"`
	Lng float64   `json:"lng"`
	At  time.Time `json:"timestamp"`
}

// HaversineKm returns the great-circle distance between two coordinates in km.
func HaversineKm(lat1, lng1, lat2, lng2 float64) float64 {
	dLat := toRadians(lat2 - lat1)
	dLng := toRadians(lng2 - lng1)

	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(toRadians(lat1))*math.Cos(toRadians(lat2))*
			math.Sin(dLng/2)*math.Sin(dLng/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))

	return earthRadiusKm * c
}

// Speeds returns the km/h speed between each consecutive pair of points.
// Pairs with non-positive elapsed time are skipped.
func Speeds(points []Point) []float64 {
	var speeds []float64
	for i := 1; i < len(points); i++ {
		prev, curr := points[i-1], points[i]
		hours := curr.At.Sub(prev.At).Hours()
		if hours <= 0 {
			continue
		}
		km := HaversineKm(prev.Lat, prev.Lng, curr.Lat, curr.Lng)
		speeds = append(speeds, km/hours)
	}
	return speeds
}

// Accelerations returns the first difference of a speed sequence.
func Accelerations(speeds []float64) []float64 {
	var accels []float64
	for i := 1; i < len(speeds); i++ {
		accels = append(accels, speeds[i]-speeds[i-1])
	}
	return accels
}

func toRadians(deg float64) float64 {
	return deg * math.Pi / 180
}
