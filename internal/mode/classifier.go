package mode

import (
	"math"

	"github.com/RitwikMittal/KeraRoutes/internal/shared/geo"
)

// Unknown is returned when a trajectory is too short to classify.
const Unknown = "unknown"

// Features holds the raw kinematic values a classification was based on.
type Features struct {
	AvgSpeed        float64 `json:"avg_speed"`
	MaxSpeed        float64 `json:"max_speed"`
	SpeedVariance   float64 `json:"speed_variance"`
	AvgAcceleration float64 `json:"avg_acceleration"`
}

// Detection is the result of classifying one trajectory.
type Detection struct {
	Mode       string   `json:"mode"`
	Confidence float64  `json:"confidence"`
	Features   Features `json:"features"`
}

// profile describes the expected kinematics of one transport mode. Speeds are
// km/h. Table order is significant: on tied scores the earlier row wins.
type profile struct {
	name     string
	minSpeed float64
	maxSpeed float64
	maxAccel float64
}

var profiles = []profile{
	{"walk", 0, 8, 2},
	{"bicycle", 8, 25, 3},
	{"auto_rickshaw", 10, 50, 8},
	{"car", 15, 120, 10},
	{"bus", 15, 80, 6},
	{"train", 40, 160, 4},
	{"metro", 30, 100, 5},
}

// maxSpeedSlack tolerates short bursts above a mode's band.
const maxSpeedSlack = 1.2

// Classify scores every profile against the trajectory's kinematics and
// returns the best match. Fewer than 3 points yields Unknown with zero
// confidence; that is a boundary policy, not an error. The confidence is the
// raw weighted score in [0,1], not a calibrated probability.
func Classify(points []geo.Point) Detection {
	if len(points) < 3 {
		return Detection{Mode: Unknown, Confidence: 0}
	}

	speeds := geo.Speeds(points)
	accels := geo.Accelerations(speeds)
	f := extractFeatures(speeds, accels)

	best := Detection{Mode: Unknown, Confidence: -1, Features: f}
	for _, p := range profiles {
		score := 0.0
		if f.AvgSpeed >= p.minSpeed && f.AvgSpeed <= p.maxSpeed {
			score += 0.4
		}
		if f.MaxSpeed <= p.maxSpeed*maxSpeedSlack {
			score += 0.3
		}
		if f.AvgAcceleration <= p.maxAccel {
			score += 0.3
		}
		if score > best.Confidence {
			best.Mode = p.name
			best.Confidence = score
		}
	}
	return best
}

func extractFeatures(speeds, accels []float64) Features {
	var f Features
	if len(speeds) == 0 {
		return f
	}

	var sum float64
	for _, s := range speeds {
		sum += s
		if s > f.MaxSpeed {
			f.MaxSpeed = s
		}
	}
	f.AvgSpeed = sum / float64(len(speeds))

	var sqDiff float64
	for _, s := range speeds {
		d := s - f.AvgSpeed
		sqDiff += d * d
	}
	f.SpeedVariance = sqDiff / float64(len(speeds))

	if len(accels) > 0 {
		var absSum float64
		for _, a := range accels {
			absSum += math.Abs(a)
		}
		f.AvgAcceleration = absSum / float64(len(accels))
	}
	return f
}
