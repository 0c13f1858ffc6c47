package mode

import (
	"time"

	"github.com/RitwikMittal/KeraRoutes/internal/shared/geo"
)

// A stop is any step that moves less than stopDistanceKm while more than the
// stop threshold elapses.
const stopDistanceKm = 0.1

// DefaultStopThreshold is the minimum dwell time that splits two segments.
const DefaultStopThreshold = 3 * time.Minute

// Segment is a maximal run of points between two stops, classified once.
// Immutable once emitted.
type Segment struct {
	StartTime  time.Time   `json:"start_time"`
	EndTime    time.Time   `json:"end_time"`
	Points     []geo.Point `json:"points"`
	Mode       string      `json:"detected_mode"`
	Confidence float64     `json:"confidence"`
}

// SplitSegments cuts a trajectory into stop-delimited segments. Fewer than
// two points yields no segments, and single-point buffers are dropped rather
// than emitted: one point cannot produce a speed feature.
func SplitSegments(points []geo.Point, stopThreshold time.Duration) []Segment {
	if len(points) < 2 {
		return nil
	}
	if stopThreshold <= 0 {
		stopThreshold = DefaultStopThreshold
	}

	var segments []Segment
	buffer := []geo.Point{points[0]}

	flush := func() {
		if len(buffer) < 2 {
			return
		}
		det := Classify(buffer)
		segments = append(segments, Segment{
			StartTime:  buffer[0].At,
			EndTime:    buffer[len(buffer)-1].At,
			Points:     buffer,
			Mode:       det.Mode,
			Confidence: det.Confidence,
		})
	}

	for i := 1; i < len(points); i++ {
		prev, curr := points[i-1], points[i]
		km := geo.HaversineKm(prev.Lat, prev.Lng, curr.Lat, curr.Lng)
		elapsed := curr.At.Sub(prev.At)

		if km < stopDistanceKm && elapsed > stopThreshold {
			flush()
			buffer = []geo.Point{curr}
			continue
		}
		buffer = append(buffer, curr)
	}
	flush()

	return segments
}
