package memstore

import (
	"context"
	"sort"
	"sync"

	kitlog "github.com/go-kit/kit/log"
	"github.com/pkg/errors"

	"github.com/nabilahza/IoT-Based-SmartAirQuality/pkg/clock"
	"github.com/nabilahza/IoT-Based-SmartAirQuality/pkg/reading"
)

// Store is an append only, in memory reading store. Timestamps are assigned
// from a strictly increasing clock at insert time so ordering matches insert
// order. It is intended for tests and local development without Postgres.
type Store struct {
	clock  clock.Clock
	logger kitlog.Logger

	mu       sync.RWMutex
	readings []reading.Reading
	nextID   int64
}

// New returns a new empty Store using the passed clock to assign timestamps.
func New(cl clock.Clock, logger kitlog.Logger) *Store {
	logger = kitlog.With(logger, "module", "memstore")

	logger.Log("msg", "creating in-memory store")

	return &Store{
		clock:  clock.NewStrict(cl),
		logger: logger,
		nextID: 1,
	}
}

// Start is a noop, present so the store can be managed like the Postgres one.
func (s *Store) Start() error {
	return nil
}

// Stop is a noop, present so the store can be managed like the Postgres one.
func (s *Store) Stop() error {
	return nil
}

// Ping always succeeds.
func (s *Store) Ping() error {
	return nil
}

// InsertReading appends a copy of r, setting ID and Timestamp on both the copy
// and r.
func (s *Store) InsertReading(ctx context.Context, r *reading.Reading) error {
	if r == nil {
		return errors.New("nil reading")
	}

	if err := ctx.Err(); err != nil {
		return errors.Wrap(err, "failed to insert reading")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	r.ID = s.nextID
	r.Timestamp = s.clock.Now()
	s.nextID++

	s.readings = append(s.readings, *r)

	return nil
}

// RecentReadings returns up to limit readings, newest first. The limit is
// clamped with reading.ClampLimit.
func (s *Store) RecentReadings(ctx context.Context, limit int) ([]*reading.Reading, error) {
	limit = reading.ClampLimit(limit)

	s.mu.RLock()
	defer s.mu.RUnlock()

	readings := make([]*reading.Reading, 0, len(s.readings))
	for i := range s.readings {
		r := s.readings[i]
		readings = append(readings, &r)
	}

	sort.SliceStable(readings, func(i, j int) bool {
		if readings[i].Timestamp.Equal(readings[j].Timestamp) {
			return readings[i].ID > readings[j].ID
		}
		return readings[i].Timestamp.After(readings[j].Timestamp)
	})

	if len(readings) > limit {
		readings = readings[:limit]
	}

	return readings, nil
}

// Len returns the number of stored readings.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return len(s.readings)
}
