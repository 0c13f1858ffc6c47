package store

import (
	"context"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/RitwikMittal/KeraRoutes/internal/db"
	"github.com/RitwikMittal/KeraRoutes/internal/shared/geo"
)

// PingStore is the durable rolling-window collaborator for raw location
// pings. Appends are best-effort from the caller's point of view; canonical
// trip persistence lives elsewhere.
type PingStore interface {
	Append(ctx context.Context, userID string, p geo.Point) error
	QueryWindow(ctx context.Context, userID string, since time.Time) ([]geo.Point, error)
}

// retention bounds how long raw pings are kept before the TTL sweep removes
// them. Well past the 30-minute classification window.
const retention = 2 * time.Hour

// Postgres stores pings in the live_locations table.
type Postgres struct {
	db db.Querier
}

func NewPostgres(q db.Querier) *Postgres {
	return &Postgres{db: q}
}

func (s *Postgres) Append(ctx context.Context, userID string, p geo.Point) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO live_locations (user_id, lat, lng, recorded_at)
		VALUES ($1,$2,$3,$4)
	`, userID, p.Lat, p.Lng, p.At)
	if err != nil {
		return err
	}

	// Opportunistic TTL sweep; a failure here never fails the append.
	if _, err := s.db.Exec(ctx, `
		DELETE FROM live_locations WHERE recorded_at < $1
	`, time.Now().Add(-retention)); err != nil {
		log.Printf("store: ttl sweep failed: %v", err)
	}
	return nil
}

func (s *Postgres) QueryWindow(ctx context.Context, userID string, since time.Time) ([]geo.Point, error) {
	rows, err := s.db.Query(ctx, `
		SELECT lat, lng, recorded_at
		FROM live_locations
		WHERE user_id=$1 AND recorded_at >= $2
		ORDER BY recorded_at
	`, userID, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var points []geo.Point
	for rows.Next() {
		var p geo.Point
		if err := rows.Scan(&p.Lat, &p.Lng, &p.At); err != nil {
			return nil, err
		}
		points = append(points, p)
	}
	return points, rows.Err()
}

// Memory keeps per-user windows in process. Used when no database is
// configured and as the degraded fallback in tests.
type Memory struct {
	mu      sync.Mutex
	samples map[string][]geo.Point
}

func NewMemory() *Memory {
	return &Memory{samples: map[string][]geo.Point{}}
}

func (s *Memory) Append(_ context.Context, userID string, p geo.Point) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	window := append(s.samples[userID], p)
	cutoff := time.Now().Add(-retention)
	trimmed := window[:0]
	for _, sample := range window {
		if sample.At.After(cutoff) {
			trimmed = append(trimmed, sample)
		}
	}
	s.samples[userID] = trimmed
	return nil
}

func (s *Memory) QueryWindow(_ context.Context, userID string, since time.Time) ([]geo.Point, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var points []geo.Point
	for _, sample := range s.samples[userID] {
		if !sample.At.Before(since) {
			points = append(points, sample)
		}
	}
	sort.Slice(points, func(i, j int) bool { return points[i].At.Before(points[j].At) })
	return points, nil
}
