package relay_test

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	kitlog "github.com/go-kit/kit/log"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	null "gopkg.in/guregu/null.v3"

	"github.com/nabilahza/IoT-Based-SmartAirQuality/pkg/clock"
	"github.com/nabilahza/IoT-Based-SmartAirQuality/pkg/memstore"
	"github.com/nabilahza/IoT-Based-SmartAirQuality/pkg/mocks"
	"github.com/nabilahza/IoT-Based-SmartAirQuality/pkg/relay"
)

const topic = "airquality/room1"

func TestHandleQueuesReading(t *testing.T) {
	queue := mocks.NewQueue(nil)
	handler := relay.NewHandler(queue, kitlog.NewNopLogger())

	handler.Handle(context.Background(), topic, []byte(`{"sensor_id":"esp32-1","gas":1300,"level":"Moderate","fan":"ON","led":"OFF"}`))

	require.Len(t, queue.Readings, 1)
	r := queue.Readings[0]
	assert.Equal(t, null.StringFrom("esp32-1"), r.SensorID)
	assert.Equal(t, null.IntFrom(1300), r.Gas)
}

func TestHandleDiscardsMalformed(t *testing.T) {
	queue := mocks.NewQueue(nil)
	handler := relay.NewHandler(queue, kitlog.NewNopLogger())

	assert.NotPanics(t, func() {
		handler.Handle(context.Background(), topic, []byte(`not valid json{{{`))
		handler.Handle(context.Background(), topic, nil)
	})

	assert.Len(t, queue.Readings, 0)
}

func TestHandleMalformedLogsOneError(t *testing.T) {
	var buf bytes.Buffer
	logger := kitlog.NewLogfmtLogger(kitlog.NewSyncWriter(&buf))

	queue := mocks.NewQueue(nil)
	handler := relay.NewHandler(queue, logger)

	parseErrors := testutil.ToFloat64(relay.ParseErrorCounter)
	received := testutil.ToFloat64(relay.MessageCounter)

	handler.Handle(context.Background(), topic, []byte(`not valid json{{{`))
	handler.Handle(context.Background(), topic, []byte(`{"sensor_id":"esp32-1","gas":900}`))

	out := buf.String()
	assert.Equal(t, 1, strings.Count(out, "level=error"))
	assert.Contains(t, out, "discarding malformed message")
	assert.Contains(t, out, "topic=airquality/room1")

	assert.Equal(t, parseErrors+1, testutil.ToFloat64(relay.ParseErrorCounter))
	assert.Equal(t, received+2, testutil.ToFloat64(relay.MessageCounter))

	require.Len(t, queue.Readings, 1)
	assert.Equal(t, null.IntFrom(900), queue.Readings[0].Gas)
}

func TestHandleQueueError(t *testing.T) {
	queue := mocks.NewQueue(errors.New("queue full"))
	handler := relay.NewHandler(queue, kitlog.NewNopLogger())

	assert.NotPanics(t, func() {
		handler.Handle(context.Background(), topic, []byte(`{"gas":1}`))
	})
}

// relay wires a handler to a writer backed by an in memory store.
func newRelay(t *testing.T) (*relay.Handler, *relay.Writer, *memstore.Store) {
	t.Helper()

	logger := kitlog.NewNopLogger()
	store := memstore.New(clock.New(), logger)

	writer := relay.NewWriter(&relay.WriterConfig{
		QueueSize:    10,
		WriteTimeout: time.Second,
	}, store, nil, logger)

	require.Nil(t, writer.Start())

	return relay.NewHandler(writer, logger), writer, store
}

func TestEndToEnd(t *testing.T) {
	start := time.Now()
	time.Sleep(time.Millisecond)

	handler, writer, store := newRelay(t)

	handler.Handle(context.Background(), topic, []byte(`{"sensor_id":"esp32-1","gas":1300,"level":"Moderate","fan":"ON","led":"OFF"}`))
	handler.Handle(context.Background(), topic, []byte(`not valid json{{{`))
	handler.Handle(context.Background(), topic, []byte(`{"gas":1850,"level":"Unhealthy"}`))

	require.Nil(t, writer.Stop(context.Background()))

	assert.Equal(t, 2, store.Len())

	readings, err := store.RecentReadings(context.Background(), 100)
	require.Nil(t, err)
	require.Len(t, readings, 2)

	// newest first
	second, first := readings[0], readings[1]

	assert.Equal(t, null.StringFrom("esp32-1"), first.SensorID)
	assert.Equal(t, null.IntFrom(1300), first.Gas)
	assert.Equal(t, null.StringFrom("Moderate"), first.Level)
	assert.Equal(t, null.StringFrom("ON"), first.Fan)
	assert.Equal(t, null.StringFrom("OFF"), first.LED)
	assert.True(t, first.Timestamp.After(start))

	assert.False(t, second.SensorID.Valid)
	assert.Equal(t, null.IntFrom(1850), second.Gas)
	assert.False(t, second.Fan.Valid)
	assert.False(t, second.LED.Valid)
	assert.True(t, second.Timestamp.After(first.Timestamp))
}
