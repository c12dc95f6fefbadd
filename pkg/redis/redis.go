package redis

import (
	"fmt"
	"time"

	kitlog "github.com/go-kit/kit/log"
	rd "github.com/go-redis/redis"
	"github.com/pkg/errors"
	"github.com/vmihailenco/msgpack"
	null "gopkg.in/guregu/null.v3"

	"github.com/nabilahza/IoT-Based-SmartAirQuality/pkg/reading"
)

const (
	keyPrefix = "airquality:latest"

	// unknownSensor is used in the key for readings that carry no sensor_id.
	unknownSensor = "unknown"

	// LatestTTL is how long a cached latest reading survives without being
	// replaced.
	LatestTTL = 24 * time.Hour
)

// Redis is our type that wraps the redis client and exposes an API to the rest
// of the application.
type Redis struct {
	connStr string
	logger  kitlog.Logger
	client  *rd.Client
}

// cachedReading is the msgpack representation of a reading. Absent fields are
// encoded as nil.
type cachedReading struct {
	ID        int64     `msgpack:"id"`
	SensorID  *string   `msgpack:"sensor_id"`
	Gas       *int64    `msgpack:"gas"`
	Level     *string   `msgpack:"level"`
	Fan       *string   `msgpack:"fan"`
	LED       *string   `msgpack:"led"`
	Timestamp time.Time `msgpack:"ts"`
}

// NewRedis returns a new redis client instance
func NewRedis(connStr string, logger kitlog.Logger) *Redis {
	logger = kitlog.With(logger, "module", "redis")

	logger.Log("msg", "creating redis client")

	return &Redis{
		connStr: connStr,
		logger:  logger,
	}
}

// Start starts the redis client, verifying that we can connect to redis
func (r *Redis) Start() error {
	r.logger.Log("msg", "starting redis client")

	opt, err := rd.ParseURL(r.connStr)
	if err != nil {
		return errors.Wrap(err, "failed to parse redis connection url")
	}

	client := rd.NewClient(opt)
	_, err = client.Ping().Result()
	if err != nil {
		client.Close()
		return errors.Wrap(err, "failed to ping redis")
	}

	r.client = client

	return nil
}

// Stop the redis client
func (r *Redis) Stop() error {
	r.logger.Log("msg", "stopping redis client")

	if r.client == nil {
		return nil
	}

	err := r.client.Close()
	r.client = nil

	return err
}

// Ping checks the connection to redis is alive.
func (r *Redis) Ping() error {
	if r.client == nil {
		return errors.New("redis client not started")
	}

	return r.client.Ping().Err()
}

// SetLatest stores r as the most recent reading for its sensor.
func (r *Redis) SetLatest(rdg *reading.Reading) error {
	if rdg == nil {
		return errors.New("nil reading")
	}

	b, err := msgpack.Marshal(&cachedReading{
		ID:        rdg.ID,
		SensorID:  rdg.SensorID.Ptr(),
		Gas:       rdg.Gas.Ptr(),
		Level:     rdg.Level.Ptr(),
		Fan:       rdg.Fan.Ptr(),
		LED:       rdg.LED.Ptr(),
		Timestamp: rdg.Timestamp,
	})
	if err != nil {
		return errors.Wrap(err, "failed to encode reading")
	}

	err = r.client.Set(BuildKey(rdg.SensorID.String), b, LatestTTL).Err()
	if err != nil {
		return errors.Wrap(err, "failed to write latest reading")
	}

	return nil
}

// Latest returns the cached latest reading for sensorID, or nil if nothing is
// cached for it.
func (r *Redis) Latest(sensorID string) (*reading.Reading, error) {
	b, err := r.client.Get(BuildKey(sensorID)).Bytes()
	if err != nil {
		if err == rd.Nil {
			return nil, nil
		}
		return nil, errors.Wrap(err, "failed to read latest reading")
	}

	var c cachedReading
	err = msgpack.Unmarshal(b, &c)
	if err != nil {
		return nil, errors.Wrap(err, "failed to decode cached reading")
	}

	return &reading.Reading{
		ID:        c.ID,
		SensorID:  null.StringFromPtr(c.SensorID),
		Gas:       null.IntFromPtr(c.Gas),
		Level:     null.StringFromPtr(c.Level),
		Fan:       null.StringFromPtr(c.Fan),
		LED:       null.StringFromPtr(c.LED),
		Timestamp: c.Timestamp.UTC(),
	}, nil
}

// BuildKey returns the key under which the latest reading for sensorID is
// kept. An empty sensorID maps to a shared "unknown" key.
func BuildKey(sensorID string) string {
	if sensorID == "" {
		sensorID = unknownSensor
	}
	return fmt.Sprintf("%s:%s", keyPrefix, sensorID)
}
