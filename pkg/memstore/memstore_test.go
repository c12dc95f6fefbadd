package memstore_test

import (
	"context"
	"testing"
	"time"

	kitlog "github.com/go-kit/kit/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	null "gopkg.in/guregu/null.v3"

	"github.com/nabilahza/IoT-Based-SmartAirQuality/pkg/clock"
	"github.com/nabilahza/IoT-Based-SmartAirQuality/pkg/memstore"
	"github.com/nabilahza/IoT-Based-SmartAirQuality/pkg/reading"
)

func TestInsertAssignsIDAndTimestamp(t *testing.T) {
	now := time.Date(2025, 1, 10, 8, 0, 0, 0, time.UTC)
	store := memstore.New(clock.NewMock(now), kitlog.NewNopLogger())

	r := &reading.Reading{Gas: null.IntFrom(1300)}
	err := store.InsertReading(context.Background(), r)
	require.Nil(t, err)

	assert.Equal(t, int64(1), r.ID)
	assert.Equal(t, now, r.Timestamp)
	assert.Equal(t, 1, store.Len())
}

func TestRecentReadingsOrdering(t *testing.T) {
	now := time.Date(2025, 1, 10, 8, 0, 0, 0, time.UTC)
	mock := clock.NewMock(now)
	store := memstore.New(mock, kitlog.NewNopLogger())

	// clock does not advance between the first two writes
	w1 := &reading.Reading{SensorID: null.StringFrom("w1")}
	w2 := &reading.Reading{SensorID: null.StringFrom("w2")}
	w3 := &reading.Reading{SensorID: null.StringFrom("w3")}

	require.Nil(t, store.InsertReading(context.Background(), w1))
	require.Nil(t, store.InsertReading(context.Background(), w2))
	mock.Add(time.Second)
	require.Nil(t, store.InsertReading(context.Background(), w3))

	assert.True(t, w2.Timestamp.After(w1.Timestamp))

	readings, err := store.RecentReadings(context.Background(), 0)
	require.Nil(t, err)
	require.Len(t, readings, 3)

	assert.Equal(t, "w3", readings[0].SensorID.String)
	assert.Equal(t, "w2", readings[1].SensorID.String)
	assert.Equal(t, "w1", readings[2].SensorID.String)

	readings, err = store.RecentReadings(context.Background(), 2)
	require.Nil(t, err)
	assert.Len(t, readings, 2)

	readings, err = store.RecentReadings(context.Background(), -1)
	require.Nil(t, err)
	assert.Len(t, readings, 3)
}

func TestInsertReadingCancelledContext(t *testing.T) {
	store := memstore.New(clock.New(), kitlog.NewNopLogger())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := store.InsertReading(ctx, &reading.Reading{})
	assert.NotNil(t, err)
	assert.Equal(t, 0, store.Len())
}
