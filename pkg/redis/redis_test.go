package redis_test

import (
	"os"
	"testing"
	"time"

	kitlog "github.com/go-kit/kit/log"
	rd "github.com/go-redis/redis"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/suite"
	null "gopkg.in/guregu/null.v3"

	"github.com/nabilahza/IoT-Based-SmartAirQuality/pkg/reading"
	"github.com/nabilahza/IoT-Based-SmartAirQuality/pkg/redis"
)

func TestBuildKey(t *testing.T) {
	assert.Equal(t, "airquality:latest:room1", redis.BuildKey("room1"))
	assert.Equal(t, "airquality:latest:unknown", redis.BuildKey(""))
}

type RedisSuite struct {
	suite.Suite
	rd     *redis.Redis
	client *rd.Client
}

func (s *RedisSuite) SetupTest() {
	logger := kitlog.NewNopLogger()
	connStr := os.Getenv("AIRQUALITY_REDIS_URL")

	opt, err := rd.ParseURL(connStr)
	if err != nil {
		s.T().Fatalf("Failed to parse redis url: %v", err)
	}

	s.client = rd.NewClient(opt)
	_, err = s.client.FlushDb().Result()
	if err != nil {
		s.T().Fatalf("Failed to flush db: %v", err)
	}

	s.rd = redis.NewRedis(connStr, logger)

	err = s.rd.Start()
	if err != nil {
		s.T().Fatalf("Failed to start redis client: %v", err)
	}
}

func (s *RedisSuite) TearDownTest() {
	s.rd.Stop()
	s.client.Close()
}

func (s *RedisSuite) TestSetAndGetLatest() {
	ts := time.Date(2025, 1, 12, 9, 30, 0, 0, time.UTC)

	err := s.rd.SetLatest(&reading.Reading{
		ID:        7,
		SensorID:  null.StringFrom("room1"),
		Gas:       null.IntFrom(780),
		Level:     null.StringFrom(reading.Unhealthy),
		Fan:       null.StringFrom(reading.On),
		Timestamp: ts,
	})
	assert.Nil(s.T(), err)

	got, err := s.rd.Latest("room1")
	assert.Nil(s.T(), err)
	if assert.NotNil(s.T(), got) {
		assert.Equal(s.T(), int64(7), got.ID)
		assert.Equal(s.T(), int64(780), got.Gas.Int64)
		assert.Equal(s.T(), reading.Unhealthy, got.Level.String)
		assert.False(s.T(), got.LED.Valid)
		assert.True(s.T(), ts.Equal(got.Timestamp))
	}

	ttl, err := s.client.TTL(redis.BuildKey("room1")).Result()
	assert.Nil(s.T(), err)
	assert.True(s.T(), ttl > 0 && ttl <= redis.LatestTTL)
}

func (s *RedisSuite) TestLatestReplaced() {
	assert.Nil(s.T(), s.rd.SetLatest(&reading.Reading{ID: 1, SensorID: null.StringFrom("room1")}))
	assert.Nil(s.T(), s.rd.SetLatest(&reading.Reading{ID: 2, SensorID: null.StringFrom("room1")}))

	got, err := s.rd.Latest("room1")
	assert.Nil(s.T(), err)
	assert.Equal(s.T(), int64(2), got.ID)
}

func (s *RedisSuite) TestLatestMissing() {
	got, err := s.rd.Latest("nowhere")
	assert.Nil(s.T(), err)
	assert.Nil(s.T(), got)
}

func (s *RedisSuite) TestPing() {
	assert.Nil(s.T(), s.rd.Ping())
}

func TestRedisSuite(t *testing.T) {
	if os.Getenv("AIRQUALITY_REDIS_URL") == "" {
		t.Skip("AIRQUALITY_REDIS_URL not set")
	}

	suite.Run(t, new(RedisSuite))
}

func TestPingBeforeStart(t *testing.T) {
	r := redis.NewRedis("redis://localhost:6379/0", kitlog.NewNopLogger())
	assert.NotNil(t, r.Ping())
}
