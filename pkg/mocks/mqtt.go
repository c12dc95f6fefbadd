package mocks

import (
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	kitlog "github.com/go-kit/kit/log"

	"github.com/nabilahza/IoT-Based-SmartAirQuality/pkg/mqtt"
)

// Token is a paho.Token that is already complete, optionally with an error.
type Token struct {
	err error
}

// NewToken returns a completed token carrying err, which may be nil.
func NewToken(err error) *Token {
	return &Token{err: err}
}

func (t *Token) Wait() bool {
	return true
}

func (t *Token) WaitTimeout(time.Duration) bool {
	return true
}

func (t *Token) Done() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}

func (t *Token) Error() error {
	return t.err
}

// Message is a minimal paho.Message.
type Message struct {
	TopicName string
	Body      []byte
}

func (m *Message) Duplicate() bool   { return false }
func (m *Message) Qos() byte         { return 0 }
func (m *Message) Retained() bool    { return false }
func (m *Message) Topic() string     { return m.TopicName }
func (m *Message) MessageID() uint16 { return 0 }
func (m *Message) Payload() []byte   { return m.Body }
func (m *Message) Ack()              {}

// MQTTClient is a mock type that implements paho.Client. Internally it keeps
// track of subscriptions that it has been asked to create, which tests can
// inspect or deliver messages to.
type MQTTClient struct {
	subscribeErr error

	sync.RWMutex
	Subscriptions  map[string]paho.MessageHandler
	SubscribeCalls int
	Unsubscribed   []string
	Connected      bool
	Disconnected   bool
	onConnect      paho.OnConnectHandler
}

// NewMQTTClient returns a new mock client with the internal map correctly
// initialized. Subscribe calls fail with subscribeErr when it is not nil.
func NewMQTTClient(subscribeErr error) *MQTTClient {
	return &MQTTClient{
		subscribeErr:  subscribeErr,
		Subscriptions: make(map[string]paho.MessageHandler),
		Connected:     true,
	}
}

// Deliver invokes the handler registered for topic as paho's router would.
// Returns false if there is no subscription for the topic.
func (m *MQTTClient) Deliver(topic string, payload []byte) bool {
	m.RLock()
	handler, ok := m.Subscriptions[topic]
	m.RUnlock()

	if !ok {
		return false
	}

	handler(m, &Message{TopicName: topic, Body: payload})

	return true
}

// Reconnect simulates paho dropping and re-establishing the connection,
// which discards subscriptions and calls the connect handler again.
func (m *MQTTClient) Reconnect() {
	m.Lock()
	m.Subscriptions = make(map[string]paho.MessageHandler)
	onConnect := m.onConnect
	m.Unlock()

	if onConnect != nil {
		onConnect(m)
	}
}

func (m *MQTTClient) IsConnected() bool {
	m.RLock()
	defer m.RUnlock()
	return m.Connected
}

func (m *MQTTClient) IsConnectionOpen() bool {
	return m.IsConnected()
}

func (m *MQTTClient) Connect() paho.Token {
	m.Lock()
	m.Connected = true
	m.Unlock()
	return NewToken(nil)
}

func (m *MQTTClient) Disconnect(quiesce uint) {
	m.Lock()
	defer m.Unlock()
	m.Connected = false
	m.Disconnected = true
}

func (m *MQTTClient) Publish(topic string, qos byte, retained bool, payload interface{}) paho.Token {
	return NewToken(nil)
}

func (m *MQTTClient) Subscribe(topic string, qos byte, callback paho.MessageHandler) paho.Token {
	m.Lock()
	defer m.Unlock()

	m.SubscribeCalls++

	if m.subscribeErr != nil {
		return NewToken(m.subscribeErr)
	}

	m.Subscriptions[topic] = callback

	return NewToken(nil)
}

func (m *MQTTClient) SubscribeMultiple(filters map[string]byte, callback paho.MessageHandler) paho.Token {
	for topic, qos := range filters {
		m.Subscribe(topic, qos, callback)
	}
	return NewToken(nil)
}

func (m *MQTTClient) Unsubscribe(topics ...string) paho.Token {
	m.Lock()
	defer m.Unlock()

	for _, topic := range topics {
		delete(m.Subscriptions, topic)
		m.Unsubscribed = append(m.Unsubscribed, topic)
	}

	return NewToken(nil)
}

func (m *MQTTClient) AddRoute(topic string, callback paho.MessageHandler) {
	m.Lock()
	defer m.Unlock()
	m.Subscriptions[topic] = callback
}

func (m *MQTTClient) OptionsReader() paho.ClientOptionsReader {
	return paho.ClientOptionsReader{}
}

// Connector is a mock mqtt.Connector returning a fixed client, or err.
type Connector struct {
	Client *MQTTClient
	err    error
}

// NewConnector returns a connector handing out client, or failing with err.
func NewConnector(client *MQTTClient, err error) *Connector {
	return &Connector{
		Client: client,
		err:    err,
	}
}

// Connect records the connect handler on the client and invokes it once,
// simulating the first successful connection.
func (c *Connector) Connect(config *mqtt.Config, onConnect paho.OnConnectHandler, logger kitlog.Logger) (paho.Client, error) {
	if c.err != nil {
		return nil, c.err
	}

	c.Client.Lock()
	c.Client.onConnect = onConnect
	c.Client.Unlock()

	if onConnect != nil {
		onConnect(c.Client)
	}

	return c.Client, nil
}
