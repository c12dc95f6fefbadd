package relay

import (
	"context"

	kitlog "github.com/go-kit/kit/log"
	"github.com/go-kit/kit/log/level"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/nabilahza/IoT-Based-SmartAirQuality/pkg/metrics"
	"github.com/nabilahza/IoT-Based-SmartAirQuality/pkg/reading"
)

var (
	// MessageCounter counts every message handed to the handler.
	MessageCounter = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: metrics.Namespace,
			Subsystem: metrics.Subsystem,
			Name:      "messages_received",
			Help:      "Count of MQTT messages received",
		},
	)

	// ParseErrorCounter counts messages discarded because they could not be
	// parsed
	ParseErrorCounter = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: metrics.Namespace,
			Subsystem: metrics.Subsystem,
			Name:      "parse_errors",
			Help:      "Count of MQTT messages discarded as malformed",
		},
	)
)

func init() {
	metrics.MustRegister(MessageCounter, ParseErrorCounter)
}

// Queue accepts parsed readings for asynchronous persistence. Implemented by
// Writer.
type Queue interface {
	Enqueue(r *reading.Reading) error
}

// Handler turns raw MQTT payloads into readings and hands them to the write
// queue. A bad message is logged and discarded; Handle never fails.
type Handler struct {
	queue  Queue
	logger kitlog.Logger
}

// NewHandler returns a Handler feeding the given queue.
func NewHandler(queue Queue, logger kitlog.Logger) *Handler {
	logger = kitlog.With(logger, "module", "relay")

	logger.Log("msg", "creating message handler")

	return &Handler{
		queue:  queue,
		logger: logger,
	}
}

// Handle processes one payload received on topic. It returns once the reading
// has been queued (or discarded); it does not wait for the store write.
func (h *Handler) Handle(ctx context.Context, topic string, payload []byte) {
	MessageCounter.Inc()

	level.Debug(h.logger).Log("msg", "message received", "topic", topic, "payload", string(payload))

	r, err := reading.Parse(payload)
	if err != nil {
		ParseErrorCounter.Inc()
		level.Error(h.logger).Log("msg", "discarding malformed message", "topic", topic, "payload", string(payload), "err", err)
		return
	}

	err = h.queue.Enqueue(r)
	if err != nil {
		level.Error(h.logger).Log("msg", "failed to queue reading", "topic", topic, "sensorID", r.SensorID.String, "err", err)
	}
}
