package mocks

import (
	"github.com/stretchr/testify/mock"

	"github.com/nabilahza/IoT-Based-SmartAirQuality/pkg/reading"
)

// Cache is a testify mock of the latest reading cache
type Cache struct {
	mock.Mock
}

func (c *Cache) SetLatest(r *reading.Reading) error {
	args := c.Called(r)
	return args.Error(0)
}

func (c *Cache) Latest(sensorID string) (*reading.Reading, error) {
	args := c.Called(sensorID)
	r, _ := args.Get(0).(*reading.Reading)
	return r, args.Error(1)
}

func (c *Cache) Ping() error {
	args := c.Called()
	return args.Error(0)
}
