package mqtt

import (
	"testing"
	"time"

	kitlog "github.com/go-kit/kit/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nabilahza/IoT-Based-SmartAirQuality/pkg/version"
)

func TestCreateClientOptions(t *testing.T) {
	config := &Config{
		Broker:   "tcp://localhost:1883",
		Topic:    "airquality/room1",
		ClientID: "relay",
		Username: "user",
		Password: "secret",
	}

	opts, err := createClientOptions(config, nil, kitlog.NewNopLogger())
	require.Nil(t, err)

	require.Len(t, opts.Servers, 1)
	assert.Equal(t, "localhost:1883", opts.Servers[0].Host)
	assert.Equal(t, "relay", opts.ClientID)
	assert.Equal(t, "user", opts.Username)
	assert.Equal(t, "secret", opts.Password)
	assert.True(t, opts.AutoReconnect)
	assert.True(t, opts.ConnectRetry)
	assert.True(t, opts.CleanSession)
	assert.Equal(t, int64(DefaultKeepAlive/time.Second), opts.KeepAlive)
	assert.Equal(t, DefaultMaxReconnectInterval, opts.MaxReconnectInterval)
}

func TestCreateClientOptionsMissingCA(t *testing.T) {
	config := &Config{
		Broker:   "tls://localhost:8883",
		Topic:    "airquality/room1",
		ClientID: "relay",
		Username: "user",
		Password: "secret",
		CAFile:   "/nonexistent/ca.crt",
	}

	_, err := createClientOptions(config, nil, kitlog.NewNopLogger())
	assert.NotNil(t, err)
}

func TestConnectTimeout(t *testing.T) {
	assert.Equal(t, DefaultConnectTimeout, connectTimeout(&Config{}))
	assert.Equal(t, time.Second, connectTimeout(&Config{ConnectTimeout: time.Second}))
}

func TestCreateClientOptionsDefaultClientID(t *testing.T) {
	config := &Config{
		Broker:         "tcp://localhost:1883",
		Topic:          "airquality/room1",
		Username:       "user",
		Password:       "secret",
		ConnectTimeout: 2 * time.Second,
	}

	opts, err := createClientOptions(config, nil, kitlog.NewNopLogger())
	require.Nil(t, err)

	assert.Equal(t, version.ClientID(), opts.ClientID)
	assert.NotEqual(t, "airquality-relay_relay", opts.ClientID)
	assert.Equal(t, 2*time.Second, opts.ConnectTimeout)
}

func TestConnectDoesNotBlockOnUnreachableBroker(t *testing.T) {
	config := &Config{
		Broker:         "tcp://127.0.0.1:1",
		Topic:          "airquality/room1",
		ClientID:       "relay-test",
		Username:       "user",
		Password:       "secret",
		ConnectTimeout: 5 * time.Second,
	}

	start := time.Now()
	client, err := NewConnector().Connect(config, nil, kitlog.NewNopLogger())
	require.Nil(t, err)
	defer client.Disconnect(0)

	assert.True(t, time.Since(start) < time.Second)
	assert.False(t, client.IsConnected())
}
