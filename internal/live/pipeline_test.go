package live

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/RitwikMittal/KeraRoutes/internal/shared/geo"
	"github.com/RitwikMittal/KeraRoutes/internal/store"
)

type failingStore struct {
	appendErr error
	queryErr  error
	inner     *store.Memory
}

func (s *failingStore) Append(ctx context.Context, userID string, p geo.Point) error {
	if s.appendErr != nil {
		return s.appendErr
	}
	return s.inner.Append(ctx, userID, p)
}

func (s *failingStore) QueryWindow(ctx context.Context, userID string, since time.Time) ([]geo.Point, error) {
	if s.queryErr != nil {
		return nil, s.queryErr
	}
	return s.inner.QueryWindow(ctx, userID, since)
}

func pingJSON(lat, lng float64, ts time.Time) []byte {
	return []byte(fmt.Sprintf(`{"lat":%v,"lng":%v,"timestamp":%q}`, lat, lng, ts.Format(time.RFC3339)))
}

func eventTypes(sink *fakeSink) []string {
	var types []string
	for _, event := range sink.events() {
		if s, ok := event["type"].(string); ok {
			types = append(types, s)
		}
	}
	return types
}

func hasEvent(sink *fakeSink, eventType string) bool {
	for _, typ := range eventTypes(sink) {
		if typ == eventType {
			return true
		}
	}
	return false
}

func TestProcessAcknowledgesPing(t *testing.T) {
	reg := NewRegistry(nil)
	defer reg.Close()
	pipe := NewPipeline(store.NewMemory(), reg)

	userSink := &fakeSink{}
	tr := reg.ConnectTracked("user-1", userSink)
	defer reg.DisconnectTracked("user-1", tr)

	pipe.Process(context.Background(), "user-1", pingJSON(8.50, 76.90, time.Now().UTC()))

	if !hasEvent(userSink, "location_received") {
		t.Fatalf("expected location_received ack, got %v", eventTypes(userSink))
	}
}

func TestProcessEmitsModeDetectionAfterThreePings(t *testing.T) {
	reg := NewRegistry(nil)
	defer reg.Close()
	pipe := NewPipeline(store.NewMemory(), reg)

	userSink := &fakeSink{}
	tr := reg.ConnectTracked("user-1", userSink)
	defer reg.DisconnectTracked("user-1", tr)

	t0 := time.Now().UTC().Add(-5 * time.Minute)
	for i := 0; i < 3; i++ {
		pipe.Process(context.Background(), "user-1",
			pingJSON(8.50+0.0005*float64(i), 76.90, t0.Add(time.Duration(i)*time.Minute)))
	}

	if !hasEvent(userSink, "mode_detection") {
		t.Fatalf("expected mode_detection after 3 pings, got %v", eventTypes(userSink))
	}

	events := userSink.events()
	last := events[len(events)-1]
	if last["type"] == "mode_detection" {
		if last["detected_mode"] == "" || last["features"] == nil {
			t.Fatalf("mode_detection missing payload: %v", last)
		}
	}
}

func TestProcessNoModeDetectionBelowThreePings(t *testing.T) {
	reg := NewRegistry(nil)
	defer reg.Close()
	pipe := NewPipeline(store.NewMemory(), reg)

	userSink := &fakeSink{}
	tr := reg.ConnectTracked("user-1", userSink)
	defer reg.DisconnectTracked("user-1", tr)

	pipe.Process(context.Background(), "user-1", pingJSON(8.50, 76.90, time.Now().UTC()))
	pipe.Process(context.Background(), "user-1", pingJSON(8.5001, 76.90, time.Now().UTC()))

	if hasEvent(userSink, "mode_detection") {
		t.Fatalf("mode detection requires at least 3 points")
	}
}

func TestProcessBroadcastsAnonymizedLocation(t *testing.T) {
	reg := NewRegistry(nil)
	defer reg.Close()
	pipe := NewPipeline(store.NewMemory(), reg)

	dashSink := &fakeSink{}
	obs := reg.ConnectObserver(dashSink)
	defer reg.DisconnectObserver(obs)
	reg.Subscribe(obs, []string{"live_tracking"})

	fullID := "user-1234567890"
	pipe.Process(context.Background(), fullID, pingJSON(8.50, 76.90, time.Now().UTC()))

	event := dashSink.lastEvent(t)
	if event["type"] != "live_location" {
		t.Fatalf("expected live_location, got %v", event["type"])
	}
	id, _ := event["user_id"].(string)
	if id != fullID[:8] {
		t.Fatalf("expected anonymized id %q, got %q", fullID[:8], id)
	}
	location, _ := event["location"].(map[string]any)
	if location["lat"] != 8.50 || location["lng"] != 76.90 {
		t.Fatalf("unexpected location payload: %v", location)
	}
}

func TestProcessMalformedPing(t *testing.T) {
	reg := NewRegistry(nil)
	defer reg.Close()
	pipe := NewPipeline(store.NewMemory(), reg)

	userSink := &fakeSink{}
	tr := reg.ConnectTracked("user-1", userSink)
	defer reg.DisconnectTracked("user-1", tr)

	pipe.Process(context.Background(), "user-1", []byte(`{"lng":76.90}`))

	if !hasEvent(userSink, "location_error") {
		t.Fatalf("expected location_error for missing lat, got %v", eventTypes(userSink))
	}
	if hasEvent(userSink, "location_received") {
		t.Fatalf("malformed ping must not be acknowledged")
	}
}

func TestProcessBadTimestamp(t *testing.T) {
	reg := NewRegistry(nil)
	defer reg.Close()
	pipe := NewPipeline(store.NewMemory(), reg)

	userSink := &fakeSink{}
	tr := reg.ConnectTracked("user-1", userSink)
	defer reg.DisconnectTracked("user-1", tr)

	pipe.Process(context.Background(), "user-1", []byte(`{"lat":8.5,"lng":76.9,"timestamp":"yesterday"}`))

	if !hasEvent(userSink, "location_error") {
		t.Fatalf("expected location_error for unparseable timestamp")
	}
}

func TestProcessAssignsIngestTimestamp(t *testing.T) {
	reg := NewRegistry(nil)
	defer reg.Close()
	mem := store.NewMemory()
	pipe := NewPipeline(mem, reg)

	pipe.Process(context.Background(), "user-1", []byte(`{"lat":8.5,"lng":76.9}`))

	window, err := mem.QueryWindow(context.Background(), "user-1", time.Now().Add(-time.Minute))
	if err != nil {
		t.Fatalf("query window: %v", err)
	}
	if len(window) != 1 {
		t.Fatalf("expected stored sample with assigned timestamp, got %d", len(window))
	}
}

func TestProcessSurvivesAppendFailure(t *testing.T) {
	reg := NewRegistry(nil)
	defer reg.Close()
	st := &failingStore{appendErr: errors.New("db down"), inner: store.NewMemory()}
	pipe := NewPipeline(st, reg)

	userSink := &fakeSink{}
	tr := reg.ConnectTracked("user-1", userSink)
	defer reg.DisconnectTracked("user-1", tr)

	dashSink := &fakeSink{}
	obs := reg.ConnectObserver(dashSink)
	defer reg.DisconnectObserver(obs)
	reg.Subscribe(obs, []string{"live_tracking"})

	pipe.Process(context.Background(), "user-1", pingJSON(8.50, 76.90, time.Now().UTC()))

	if !hasEvent(userSink, "location_received") {
		t.Fatalf("append failure must not block the acknowledgment")
	}
	if !hasEvent(dashSink, "live_location") {
		t.Fatalf("append failure must not block the broadcast")
	}
}

func TestProcessSurvivesQueryFailure(t *testing.T) {
	reg := NewRegistry(nil)
	defer reg.Close()
	st := &failingStore{queryErr: errors.New("db down"), inner: store.NewMemory()}
	pipe := NewPipeline(st, reg)

	dashSink := &fakeSink{}
	obs := reg.ConnectObserver(dashSink)
	defer reg.DisconnectObserver(obs)
	reg.Subscribe(obs, []string{"live_tracking"})

	pipe.Process(context.Background(), "user-1", pingJSON(8.50, 76.90, time.Now().UTC()))

	if !hasEvent(dashSink, "live_location") {
		t.Fatalf("query failure must degrade to broadcast-only, not abort")
	}
}

func TestProcessOldSamplesFallOutOfWindow(t *testing.T) {
	reg := NewRegistry(nil)
	defer reg.Close()
	mem := store.NewMemory()
	pipe := NewPipeline(mem, reg)

	userSink := &fakeSink{}
	tr := reg.ConnectTracked("user-1", userSink)
	defer reg.DisconnectTracked("user-1", tr)

	now := time.Now().UTC()
	// two samples well outside the 30-minute window, one inside
	pipe.Process(context.Background(), "user-1", pingJSON(8.50, 76.90, now.Add(-50*time.Minute)))
	pipe.Process(context.Background(), "user-1", pingJSON(8.5005, 76.90, now.Add(-45*time.Minute)))
	pipe.Process(context.Background(), "user-1", pingJSON(8.5010, 76.90, now))

	if hasEvent(userSink, "mode_detection") {
		t.Fatalf("samples outside the rolling window must not count toward classification")
	}
}
