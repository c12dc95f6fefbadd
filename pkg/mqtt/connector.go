package mqtt

import (
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	kitlog "github.com/go-kit/kit/log"
	"github.com/go-kit/kit/log/level"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/nabilahza/IoT-Based-SmartAirQuality/pkg/metrics"
	"github.com/nabilahza/IoT-Based-SmartAirQuality/pkg/version"
)

var (
	// connectionLostCounter counts unexpected disconnections from the broker
	connectionLostCounter = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: metrics.Namespace,
			Subsystem: metrics.Subsystem,
			Name:      "connections_lost",
			Help:      "Count of unexpected broker disconnections",
		},
	)

	// connectCounter counts successful (re)connections to the broker
	connectCounter = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: metrics.Namespace,
			Subsystem: metrics.Subsystem,
			Name:      "broker_connects",
			Help:      "Count of successful broker connections, including reconnects",
		},
	)
)

func init() {
	metrics.MustRegister(connectionLostCounter, connectCounter)
}

// Connector is our interface for a type that instantiates a new paho.Client
// for the configured broker. This logic is defined in an interface so that we
// can supply a mock implementation that does not actually connect to any MQTT
// brokers.
type Connector interface {
	// Connect returns a client for the broker. onConnect is invoked after the
	// first connection and after every reconnect.
	Connect(config *Config, onConnect paho.OnConnectHandler, logger kitlog.Logger) (paho.Client, error)
}

// NewConnector returns our instantiated connector object, ready for use.
func NewConnector() Connector {
	return &connector{}
}

// connector is our real implementation of the Connector interface.
type connector struct{}

// Connect creates a paho client and starts connecting it without blocking. The
// client retries both the initial connection and any later reconnection in the
// background, so an unreachable broker is not an error here. Only an invalid
// configuration is.
func (c *connector) Connect(config *Config, onConnect paho.OnConnectHandler, logger kitlog.Logger) (paho.Client, error) {
	opts, err := createClientOptions(config, onConnect, logger)
	if err != nil {
		return nil, err
	}

	logger.Log("broker", config.Broker, "msg", "creating client")

	client := paho.NewClient(opts)

	// With connect retry enabled the token only completes once the broker
	// accepts us, so it is not waited on here. OnConnect reports success.
	client.Connect()

	return client, nil
}

// createClientOptions initializes a set of ClientOptions for connecting to an
// MQTT broker.
func createClientOptions(config *Config, onConnect paho.OnConnectHandler, logger kitlog.Logger) (*paho.ClientOptions, error) {
	clientID := config.ClientID
	if clientID == "" {
		clientID = version.ClientID()
	}

	logger.Log("broker", config.Broker, "clientID", clientID, "msg", "configuring client")

	opts := paho.NewClientOptions()
	opts.AddBroker(config.Broker)
	opts.SetClientID(clientID)
	opts.SetUsername(config.Username)
	opts.SetPassword(config.Password)
	opts.SetCleanSession(true)
	opts.SetOrderMatters(true)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectTimeout(connectTimeout(config))

	keepAlive := config.KeepAlive
	if keepAlive == 0 {
		keepAlive = DefaultKeepAlive
	}
	opts.SetKeepAlive(keepAlive)

	maxReconnect := config.MaxReconnectInterval
	if maxReconnect == 0 {
		maxReconnect = DefaultMaxReconnectInterval
	}
	opts.SetMaxReconnectInterval(maxReconnect)

	if config.IsSecure() {
		tlsConfig, err := NewTLSConfig(config.CAFile, config.InsecureSkipVerify)
		if err != nil {
			return nil, errors.Wrap(err, "failed to configure TLS")
		}
		opts.SetTLSConfig(tlsConfig)
	} else {
		level.Warn(logger).Log("broker", config.Broker, "msg", "connecting without TLS")
	}

	opts.SetOnConnectHandler(func(client paho.Client) {
		connectCounter.Inc()
		logger.Log("broker", config.Broker, "msg", "connected to broker")

		if onConnect != nil {
			onConnect(client)
		}
	})

	opts.SetConnectionLostHandler(func(client paho.Client, err error) {
		connectionLostCounter.Inc()
		level.Error(logger).Log("broker", config.Broker, "msg", "connection lost", "err", err)
	})

	opts.SetReconnectingHandler(func(client paho.Client, opts *paho.ClientOptions) {
		logger.Log("broker", config.Broker, "msg", "reconnecting")
	})

	return opts, nil
}

func connectTimeout(config *Config) time.Duration {
	if config.ConnectTimeout > 0 {
		return config.ConnectTimeout
	}
	return DefaultConnectTimeout
}
