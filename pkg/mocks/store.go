package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/nabilahza/IoT-Based-SmartAirQuality/pkg/reading"
)

// Store is a testify mock of relay.Store
type Store struct {
	mock.Mock
}

func (s *Store) InsertReading(ctx context.Context, r *reading.Reading) error {
	args := s.Called(ctx, r)
	return args.Error(0)
}

func (s *Store) RecentReadings(ctx context.Context, limit int) ([]*reading.Reading, error) {
	args := s.Called(ctx, limit)
	readings, _ := args.Get(0).([]*reading.Reading)
	return readings, args.Error(1)
}

func (s *Store) Ping() error {
	args := s.Called()
	return args.Error(0)
}
