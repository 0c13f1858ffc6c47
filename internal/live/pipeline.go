package live

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/RitwikMittal/KeraRoutes/internal/mode"
	"github.com/RitwikMittal/KeraRoutes/internal/shared/geo"
	"github.com/RitwikMittal/KeraRoutes/internal/store"
)

// windowSpan is the rolling window the live mode estimate is computed over.
const windowSpan = 30 * time.Minute

// minClassifyPoints is the smallest window the classifier accepts.
const minClassifyPoints = 3

// Ping is one inbound location update. Lat/Lng are pointers so a missing
// field is distinguishable from zero; Timestamp is optional RFC3339 text.
type Ping struct {
	Lat       *float64 `json:"lat"`
	Lng       *float64 `json:"lng"`
	Timestamp string   `json:"timestamp"`
}

// Pipeline orchestrates one location ping end to end: normalize, persist,
// acknowledge, classify the rolling window, broadcast anonymized position.
type Pipeline struct {
	store    store.PingStore
	registry *Registry
	now      func() time.Time
}

func NewPipeline(st store.PingStore, reg *Registry) *Pipeline {
	return &Pipeline{store: st, registry: reg, now: time.Now}
}

// Process handles one raw ping for a user. It never returns an error to the
// transport: every failure becomes a log line, an isolated cleanup, or a
// location_error event on the user's tracked session.
func (p *Pipeline) Process(ctx context.Context, userID string, raw []byte) {
	sample, err := p.normalize(raw)
	if err != nil {
		log.Printf("live: bad ping from user %s: %v", userID, err)
		p.sendError(userID, err)
		return
	}

	if err := p.store.Append(ctx, userID, sample); err != nil {
		// Best-effort persistence: the window is one sample short, the
		// ping still flows through ack, classification and broadcast.
		log.Printf("live: ping append for user %s failed: %v", userID, err)
	}

	p.registry.SendToUser(userID, marshalEvent("location_received", map[string]any{
		"status": "success",
	}))

	window, err := p.store.QueryWindow(ctx, userID, p.now().Add(-windowSpan))
	if err != nil {
		log.Printf("live: window query for user %s failed: %v", userID, err)
	} else if len(window) >= minClassifyPoints {
		det := mode.Classify(window)
		p.registry.SendToUser(userID, marshalEvent("mode_detection", map[string]any{
			"detected_mode": det.Mode,
			"confidence":    det.Confidence,
			"features":      det.Features,
		}))
	}

	p.registry.Broadcast(ChannelLiveTracking, marshalEvent("live_location", map[string]any{
		"user_id": anonymizeUserID(userID),
		"location": map[string]any{
			"lat": sample.Lat,
			"lng": sample.Lng,
		},
	}))
}

func (p *Pipeline) normalize(raw []byte) (geo.Point, error) {
	var ping Ping
	if err := json.Unmarshal(raw, &ping); err != nil {
		return geo.Point{}, err
	}
	if ping.Lat == nil || ping.Lng == nil {
		return geo.Point{}, errMissingCoordinates
	}

	at := p.now().UTC()
	if ping.Timestamp != "" {
		parsed, err := time.Parse(time.RFC3339, ping.Timestamp)
		if err != nil {
			return geo.Point{}, err
		}
		at = parsed
	}
	return geo.Point{Lat: *ping.Lat, Lng: *ping.Lng, At: at}, nil
}

func (p *Pipeline) sendError(userID string, err error) {
	p.registry.SendToUser(userID, marshalEvent("location_error", map[string]any{
		"error": err.Error(),
	}))
}

type pingError string

func (e pingError) Error() string { return string(e) }

const errMissingCoordinates = pingError("ping requires numeric lat and lng")
