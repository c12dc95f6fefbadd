package reading

import (
	"bytes"
	"encoding/json"
	"math"
	"strconv"
	"time"
	"unicode/utf8"

	"github.com/pkg/errors"
	null "gopkg.in/guregu/null.v3"
)

// Level is the air quality classification computed by the device. We store it
// verbatim and never recompute it; these constants are the values the devices
// are known to send.
const (
	Good      = "Good"
	Moderate  = "Moderate"
	Unhealthy = "Unhealthy"
	Hazardous = "Hazardous"
)

// Actuator states reported for the fan and led fields.
const (
	On  = "ON"
	Off = "OFF"
)

// Reading is a single sensor sample received from a device. Every field taken
// from the payload is optional. ID and Timestamp are assigned by the store when
// the reading is written, and a written reading is never modified.
type Reading struct {
	ID        int64       `json:"id" db:"id"`
	SensorID  null.String `json:"sensor_id" db:"sensor_id"`
	Gas       null.Int    `json:"gas" db:"gas"`
	Level     null.String `json:"level" db:"level"`
	Fan       null.String `json:"fan" db:"fan"`
	LED       null.String `json:"led" db:"led"`
	Timestamp time.Time   `json:"timestamp" db:"recorded_at"`
}

// ErrEmptyPayload is returned by Parse when given no bytes at all.
var ErrEmptyPayload = errors.New("empty payload")

// Parse decodes a raw MQTT payload into a Reading. The payload must be UTF-8
// encoded JSON with an object at the top level; anything else is an error.
// Recognised keys are decoded one at a time: a missing key, a null, or a value
// of the wrong type leaves the field invalid rather than failing the whole
// message. The returned reading has no ID or Timestamp.
func Parse(payload []byte) (*Reading, error) {
	trimmed := bytes.TrimSpace(payload)
	if len(trimmed) == 0 {
		return nil, ErrEmptyPayload
	}

	if !utf8.Valid(trimmed) {
		return nil, errors.New("payload is not valid UTF-8")
	}

	if trimmed[0] != '{' {
		return nil, errors.New("payload is not a JSON object")
	}

	var fields map[string]json.RawMessage
	err := json.Unmarshal(trimmed, &fields)
	if err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal payload")
	}

	return &Reading{
		SensorID: stringField(fields, "sensor_id"),
		Gas:      intField(fields, "gas"),
		Level:    stringField(fields, "level"),
		Fan:      stringField(fields, "fan"),
		LED:      stringField(fields, "led"),
	}, nil
}

// stringField returns a valid null.String only if key is present and holds a
// JSON string.
func stringField(fields map[string]json.RawMessage, key string) null.String {
	raw, ok := fields[key]
	if !ok {
		return null.String{}
	}

	var s *string
	if err := json.Unmarshal(raw, &s); err != nil || s == nil {
		return null.String{}
	}

	return null.StringFrom(*s)
}

// intField returns a valid null.Int if key holds an integral JSON number, or a
// string containing one. Devices have been seen to send 1300.0 for 1300.
func intField(fields map[string]json.RawMessage, key string) null.Int {
	raw, ok := fields[key]
	if !ok {
		return null.Int{}
	}

	var v interface{}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&v); err != nil {
		return null.Int{}
	}

	var num json.Number
	switch x := v.(type) {
	case json.Number:
		num = x
	case string:
		num = json.Number(x)
	default:
		return null.Int{}
	}

	if i, err := strconv.ParseInt(num.String(), 10, 64); err == nil {
		return null.IntFrom(i)
	}

	f, err := strconv.ParseFloat(num.String(), 64)
	if err != nil || math.IsInf(f, 0) || math.Trunc(f) != f || math.Abs(f) >= math.MaxInt64 {
		return null.Int{}
	}

	return null.IntFrom(int64(f))
}

const (
	// DefaultLimit is the number of readings returned by a recent readings
	// query when no limit is given. It matches what the dashboard displays.
	DefaultLimit = 100

	// MaxLimit caps the number of readings a single query may return.
	MaxLimit = 1000
)

// ClampLimit maps a requested query limit into [1, MaxLimit], substituting
// DefaultLimit for zero or negative values.
func ClampLimit(limit int) int {
	if limit <= 0 {
		return DefaultLimit
	}
	if limit > MaxLimit {
		return MaxLimit
	}
	return limit
}
