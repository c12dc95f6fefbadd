package mqtt

import (
	"context"
	"fmt"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	kitlog "github.com/go-kit/kit/log"
	"github.com/go-kit/kit/log/level"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/nabilahza/IoT-Based-SmartAirQuality/pkg/metrics"
)

var (
	// droppedMessageCounter counts messages discarded because the receive loop
	// had fallen too far behind
	droppedMessageCounter = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: metrics.Namespace,
			Subsystem: metrics.Subsystem,
			Name:      "messages_dropped",
			Help:      "Count of MQTT messages dropped because the receive buffer was full",
		},
	)
)

func init() {
	metrics.MustRegister(droppedMessageCounter)
}

const (
	// disconnectQuiesce is the time in milliseconds paho is given to finish
	// outstanding work when disconnecting
	disconnectQuiesce = 250

	// unsubscribeTimeout bounds how long Stop waits for the broker to
	// acknowledge our unsubscribe
	unsubscribeTimeout = 2 * time.Second
)

// Handler receives messages from the subscriber one at a time, in the order
// the broker delivered them.
type Handler interface {
	Handle(ctx context.Context, topic string, payload []byte)
}

// message is a copy of the parts of a paho.Message we pass to the handler.
type message struct {
	topic   string
	payload []byte
}

// Subscriber holds a single subscription to the configured topic. The paho
// callback only copies each message onto a bounded channel; a single goroutine
// reads that channel and invokes the Handler, so a slow handler never stalls
// paho's network loop. When the channel is full new messages are dropped.
type Subscriber struct {
	config    *Config
	connector Connector
	handler   Handler
	logger    kitlog.Logger

	messages chan message
	done     chan struct{}
	ctx      context.Context
	cancel   context.CancelFunc

	mu      sync.RWMutex
	client  paho.Client
	started bool
	stopped bool
}

// NewSubscriber returns a subscriber that has not yet connected.
func NewSubscriber(config *Config, connector Connector, handler Handler, logger kitlog.Logger) *Subscriber {
	logger = kitlog.With(logger, "module", "mqtt")

	bufferSize := config.BufferSize
	if bufferSize <= 0 {
		bufferSize = DefaultBufferSize
	}

	logger.Log("msg", "creating mqtt subscriber", "topic", config.Topic, "qos", config.QoS)

	ctx, cancel := context.WithCancel(context.Background())

	return &Subscriber{
		config:    config,
		connector: connector,
		handler:   handler,
		logger:    logger,
		messages:  make(chan message, bufferSize),
		done:      make(chan struct{}),
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Start starts the receive loop and connects to the broker. Subscription
// happens in the connect callback, so it is repeated after every reconnect.
func (s *Subscriber) Start() error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return errors.New("subscriber already started")
	}
	s.started = true
	s.mu.Unlock()

	s.logger.Log("msg", "starting mqtt subscriber")

	go s.loop()

	client, err := s.connector.Connect(s.config, s.onConnect, s.logger)
	if err != nil {
		return errors.Wrap(err, "failed to connect to broker")
	}

	s.mu.Lock()
	if s.stopped {
		// Stop ran while we were connecting and never saw this client
		s.mu.Unlock()
		client.Disconnect(disconnectQuiesce)
		return nil
	}
	s.client = client
	s.mu.Unlock()

	return nil
}

// Stop unsubscribes, disconnects from the broker and waits for the receive
// loop to finish handling any buffered messages.
func (s *Subscriber) Stop() error {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return nil
	}
	// set before releasing the lock so concurrent callers return above and
	// onMessage stops queueing
	s.stopped = true
	client := s.client
	started := s.started
	s.mu.Unlock()

	s.logger.Log("msg", "stopping mqtt subscriber")

	if client != nil {
		if client.IsConnected() {
			token := client.Unsubscribe(s.config.Topic)
			if !token.WaitTimeout(unsubscribeTimeout) {
				level.Warn(s.logger).Log("msg", "timed out unsubscribing", "topic", s.config.Topic)
			} else if token.Error() != nil {
				level.Warn(s.logger).Log("msg", "failed to unsubscribe", "topic", s.config.Topic, "err", token.Error())
			}
		}
		client.Disconnect(disconnectQuiesce)
	}

	// paho may still be inside onMessage, which holds a read lock while
	// sending, so the channel is only closed under the write lock
	s.mu.Lock()
	close(s.messages)
	s.mu.Unlock()

	if started {
		<-s.done
	}

	s.cancel()

	return nil
}

// onConnect (re)creates the subscription every time paho connects.
func (s *Subscriber) onConnect(client paho.Client) {
	s.logger.Log("msg", "subscribing", "topic", s.config.Topic, "qos", s.config.QoS)

	token := client.Subscribe(s.config.Topic, s.config.QoS, s.onMessage)
	if token.Wait() && token.Error() != nil {
		level.Error(s.logger).Log("msg", "failed to subscribe", "topic", s.config.Topic, "err", token.Error())
		return
	}

	s.logger.Log("msg", "subscribed", "topic", s.config.Topic)
}

// onMessage is the paho callback. It must return quickly, so it only copies
// the message onto the buffered channel.
func (s *Subscriber) onMessage(_ paho.Client, msg paho.Message) {
	payload := make([]byte, len(msg.Payload()))
	copy(payload, msg.Payload())

	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.stopped {
		return
	}

	select {
	case s.messages <- message{topic: msg.Topic(), payload: payload}:
	default:
		droppedMessageCounter.Inc()
		level.Error(s.logger).Log("msg", "receive buffer full, dropping message", "topic", msg.Topic())
	}
}

// loop hands buffered messages to the handler one at a time until the channel
// is closed.
func (s *Subscriber) loop() {
	defer close(s.done)

	for m := range s.messages {
		s.dispatch(m)
	}
}

// dispatch calls the handler, recovering from any panic so one bad message
// cannot end the loop.
func (s *Subscriber) dispatch(m message) {
	defer func() {
		if r := recover(); r != nil {
			level.Error(s.logger).Log("msg", "recovered from panic handling message", "topic", m.topic, "err", fmt.Sprintf("%v", r))
		}
	}()

	s.handler.Handle(s.ctx, m.topic, m.payload)
}
