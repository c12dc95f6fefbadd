package relay

import (
	"context"
	"sync"
	"time"

	kitlog "github.com/go-kit/kit/log"
	"github.com/go-kit/kit/log/level"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/nabilahza/IoT-Based-SmartAirQuality/pkg/metrics"
	"github.com/nabilahza/IoT-Based-SmartAirQuality/pkg/reading"
)

var (
	// writeErrorCounter counts readings the store failed to persist
	writeErrorCounter = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: metrics.Namespace,
			Subsystem: metrics.Subsystem,
			Name:      "write_errors",
			Help:      "Count of errors writing readings to the store",
		},
	)

	// droppedCounter counts readings discarded because the write queue was full
	droppedCounter = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: metrics.Namespace,
			Subsystem: metrics.Subsystem,
			Name:      "readings_dropped",
			Help:      "Count of readings dropped because the write queue was full",
		},
	)

	// writtenCounter counts readings successfully persisted
	writtenCounter = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: metrics.Namespace,
			Subsystem: metrics.Subsystem,
			Name:      "readings_written",
			Help:      "Count of readings written to the store",
		},
	)

	// writeHistogram records the duration of successful store writes
	writeHistogram = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: metrics.Namespace,
			Subsystem: metrics.Subsystem,
			Name:      "write_duration_seconds",
			Help:      "Store write duration distribution",
		},
	)
)

func init() {
	metrics.MustRegister(writeErrorCounter, droppedCounter, writtenCounter, writeHistogram)
}

// ErrQueueFull is returned by Enqueue when the reading could not be accepted
// without blocking.
var ErrQueueFull = errors.New("write queue full")

// ErrWriterStopped is returned by Enqueue once Stop has been called.
var ErrWriterStopped = errors.New("writer stopped")

// Store is the document store readings are persisted to. Implementations must
// be safe for concurrent use and must assign ID and Timestamp on insert.
type Store interface {
	// InsertReading appends the reading, setting its ID and server side
	// Timestamp.
	InsertReading(ctx context.Context, r *reading.Reading) error

	// RecentReadings returns up to limit readings ordered by Timestamp
	// descending.
	RecentReadings(ctx context.Context, limit int) ([]*reading.Reading, error)
}

// Cache is an optional secondary destination holding the latest reading per
// sensor. Failures writing to it are logged and otherwise ignored.
type Cache interface {
	SetLatest(r *reading.Reading) error
}

// WriterConfig carries the tunables for a Writer.
type WriterConfig struct {
	QueueSize    int
	WriteTimeout time.Duration
}

// Writer is a bounded asynchronous write queue drained by a single worker
// goroutine. Enqueue never blocks; when the queue is full the reading is
// dropped.
type Writer struct {
	store   Store
	cache   Cache
	timeout time.Duration
	logger  kitlog.Logger

	queue chan *reading.Reading
	done  chan struct{}

	mu      sync.RWMutex
	stopped bool
	started bool
}

// NewWriter returns a Writer ready to be started. cache may be nil.
func NewWriter(config *WriterConfig, store Store, cache Cache, logger kitlog.Logger) *Writer {
	logger = kitlog.With(logger, "module", "writer")

	queueSize := config.QueueSize
	if queueSize <= 0 {
		queueSize = 1
	}

	logger.Log("msg", "creating writer", "queueSize", queueSize, "writeTimeout", config.WriteTimeout)

	return &Writer{
		store:   store,
		cache:   cache,
		timeout: config.WriteTimeout,
		logger:  logger,
		queue:   make(chan *reading.Reading, queueSize),
		done:    make(chan struct{}),
	}
}

// Start launches the worker goroutine.
func (w *Writer) Start() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.started {
		return errors.New("writer already started")
	}

	w.started = true
	w.logger.Log("msg", "starting writer")

	go w.run()

	return nil
}

// Enqueue hands a reading to the worker without blocking.
func (w *Writer) Enqueue(r *reading.Reading) error {
	w.mu.RLock()
	defer w.mu.RUnlock()

	if w.stopped {
		return ErrWriterStopped
	}

	select {
	case w.queue <- r:
		return nil
	default:
		droppedCounter.Inc()
		return ErrQueueFull
	}
}

// Stop stops intake and waits until every queued reading has been written, or
// until ctx is done in which case the context's error is returned and any
// remaining readings are abandoned.
func (w *Writer) Stop(ctx context.Context) error {
	w.mu.Lock()
	if w.stopped {
		w.mu.Unlock()
		return nil
	}
	w.stopped = true
	started := w.started
	close(w.queue)
	w.mu.Unlock()

	w.logger.Log("msg", "stopping writer", "pending", len(w.queue))

	if !started {
		return nil
	}

	select {
	case <-w.done:
		return nil
	case <-ctx.Done():
		w.logger.Log("msg", "abandoning pending writes", "pending", len(w.queue), "err", ctx.Err())
		return errors.Wrap(ctx.Err(), "failed to flush write queue")
	}
}

func (w *Writer) run() {
	defer close(w.done)

	for r := range w.queue {
		w.write(r)
	}
}

// write persists a single reading with a bounded timeout. Errors are logged
// and counted but never retried.
func (w *Writer) write(r *reading.Reading) {
	ctx := context.Background()
	if w.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, w.timeout)
		defer cancel()
	}

	start := time.Now()

	err := w.store.InsertReading(ctx, r)
	if err != nil {
		writeErrorCounter.Inc()
		level.Error(w.logger).Log("msg", "failed to write reading", "sensorID", r.SensorID.String, "err", err)
		return
	}

	writeHistogram.Observe(time.Since(start).Seconds())
	writtenCounter.Inc()

	level.Debug(w.logger).Log("msg", "reading written", "id", r.ID, "sensorID", r.SensorID.String, "timestamp", r.Timestamp)

	if w.cache != nil {
		if err := w.cache.SetLatest(r); err != nil {
			level.Warn(w.logger).Log("msg", "failed to cache latest reading", "sensorID", r.SensorID.String, "err", err)
		}
	}
}
