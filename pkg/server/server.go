package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/cenkalti/backoff"
	kitlog "github.com/go-kit/kit/log"
	"github.com/go-kit/kit/log/level"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	goji "goji.io"
	"goji.io/pat"

	"github.com/nabilahza/IoT-Based-SmartAirQuality/pkg/clock"
	"github.com/nabilahza/IoT-Based-SmartAirQuality/pkg/memstore"
	"github.com/nabilahza/IoT-Based-SmartAirQuality/pkg/metrics"
	"github.com/nabilahza/IoT-Based-SmartAirQuality/pkg/middleware"
	"github.com/nabilahza/IoT-Based-SmartAirQuality/pkg/mqtt"
	"github.com/nabilahza/IoT-Based-SmartAirQuality/pkg/postgres"
	"github.com/nabilahza/IoT-Based-SmartAirQuality/pkg/reading"
	"github.com/nabilahza/IoT-Based-SmartAirQuality/pkg/redis"
	"github.com/nabilahza/IoT-Based-SmartAirQuality/pkg/relay"
	"github.com/nabilahza/IoT-Based-SmartAirQuality/pkg/system"
	"github.com/nabilahza/IoT-Based-SmartAirQuality/pkg/version"
)

var (
	buildInfo = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: metrics.Namespace,
			Subsystem: metrics.Subsystem,
			Name:      "build_info",
			Help:      "Information about the current build of the service",
		}, []string{"name", "version", "build_date"},
	)
)

func init() {
	metrics.MustRegister(buildInfo)
}

const (
	// StorePostgres selects the Postgres backed store.
	StorePostgres = "postgres"

	// StoreMemory selects the in-memory store, for local development only.
	StoreMemory = "memory"

	// LivenessBody is the static body returned by the liveness endpoint.
	LivenessBody = "MQTT subscriber running"

	// DefaultStartupTimeout bounds how long we keep retrying the store and
	// cache at startup.
	DefaultStartupTimeout = time.Minute
)

// Config is a top level config object. Populated by viper in the command setup,
// we then pass down config to the right places.
type Config struct {
	ListenAddr      string
	Store           string
	ConnStr         string
	RedisURL        string
	QueueSize       int
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
	StartupTimeout  time.Duration
	Verbose         bool
	MQTT            *mqtt.Config

	// CORSOrigins lists the origins allowed to read the readings endpoints
	// from a browser. Empty allows every origin.
	CORSOrigins []string

	// ReadingsRateLimit is the per client requests per second allowed on the
	// readings endpoints. Zero disables limiting.
	ReadingsRateLimit float64

	// Connector is used to connect to the broker. When nil a paho backed
	// connector is used.
	Connector mqtt.Connector

	// CustomStore replaces the store named by Store when set.
	CustomStore Store
}

// Validate returns an error describing the first problem found with the
// config. These are all fatal startup errors.
func (c *Config) Validate() error {
	if c.ListenAddr == "" {
		return errors.New("missing listen address")
	}

	if c.CustomStore == nil {
		switch c.Store {
		case StorePostgres:
			if c.ConnStr == "" {
				return errors.New("missing database url")
			}
		case StoreMemory:
		default:
			return errors.Errorf("unknown store %q, must be one of %s or %s", c.Store, StorePostgres, StoreMemory)
		}
	}

	if c.MQTT == nil {
		return errors.New("missing mqtt config")
	}

	err := c.MQTT.Validate()
	if err != nil {
		return err
	}

	if c.MQTT.IsSecure() {
		_, err = mqtt.NewTLSConfig(c.MQTT.CAFile, c.MQTT.InsecureSkipVerify)
		if err != nil {
			return err
		}
	}

	return nil
}

// Pinger checks that a dependency is reachable.
type Pinger interface {
	Ping() error
}

// Store is the persistence component the server owns.
type Store interface {
	relay.Store
	system.Component
	Pinger
}

// LatestReader returns the most recent cached reading for a sensor, or nil.
type LatestReader interface {
	Latest(sensorID string) (*reading.Reading, error)
}

// Cache is the optional latest reading cache the server owns.
type Cache interface {
	relay.Cache
	LatestReader
	system.Component
	Pinger
}

type migrator interface {
	MigrateUp() error
}

// Server is our top level type, contains all other components, is responsible
// for starting and stopping them in the correct order.
type Server struct {
	srv        *http.Server
	handler    http.Handler
	store      Store
	cache      Cache
	writer     *relay.Writer
	subscriber *mqtt.Subscriber
	logger     kitlog.Logger

	shutdownTimeout time.Duration
	startupTimeout  time.Duration

	mu       sync.Mutex
	listener net.Listener

	stopOnce sync.Once
	stopErr  error
	quit     chan struct{}
}

// LivenessHandler answers every request with 200 and a static body. It never
// looks at the broker or the store so it reports process liveness only.
func LivenessHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		fmt.Fprint(w, LivenessBody)
	})
}

// ReadyHandler reports whether the store and, when configured, the cache can
// be reached. It answers 503 naming the failing dependency otherwise. cache
// may be nil.
func ReadyHandler(store Pinger, cache Pinger, logger kitlog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		err := store.Ping()
		if err != nil {
			level.Warn(logger).Log("msg", "store not ready", "err", err)
			http.Error(w, "store unavailable", http.StatusServiceUnavailable)
			return
		}

		if cache != nil {
			err = cache.Ping()
			if err != nil {
				level.Warn(logger).Log("msg", "cache not ready", "err", err)
				http.Error(w, "cache unavailable", http.StatusServiceUnavailable)
				return
			}
		}

		fmt.Fprint(w, "ok")
	})
}

// ReadingsHandler returns the most recent readings as a JSON array, newest
// first. The optional limit query parameter defaults to 100.
func ReadingsHandler(store relay.Store, logger kitlog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		limit := reading.DefaultLimit

		if l := r.URL.Query().Get("limit"); l != "" {
			n, err := strconv.Atoi(l)
			if err != nil {
				http.Error(w, "invalid limit", http.StatusBadRequest)
				return
			}
			limit = n
		}

		readings, err := store.RecentReadings(r.Context(), limit)
		if err != nil {
			level.Error(logger).Log("msg", "failed to load readings", "requestID", middleware.RequestID(r.Context()), "err", err)
			http.Error(w, "failed to load readings", http.StatusInternalServerError)
			return
		}

		writeJSON(w, readings, logger)
	})
}

// LatestHandler returns the cached latest reading for the sensor named by the
// sensor_id query parameter. cache may be nil, in which case every request
// gets a 404.
func LatestHandler(cache LatestReader, logger kitlog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if cache == nil {
			http.NotFound(w, r)
			return
		}

		latest, err := cache.Latest(r.URL.Query().Get("sensor_id"))
		if err != nil {
			level.Error(logger).Log("msg", "failed to load latest reading", "requestID", middleware.RequestID(r.Context()), "err", err)
			http.Error(w, "failed to load latest reading", http.StatusInternalServerError)
			return
		}

		if latest == nil {
			http.NotFound(w, r)
			return
		}

		writeJSON(w, latest, logger)
	})
}

func writeJSON(w http.ResponseWriter, v interface{}, logger kitlog.Logger) {
	w.Header().Set("Content-Type", "application/json")

	err := json.NewEncoder(w).Encode(v)
	if err != nil {
		level.Warn(logger).Log("msg", "failed to write response", "err", err)
	}
}

// NewServer returns a new simple HTTP server. It is also responsible for
// constructing all components, and injecting them into the right place.
func NewServer(config *Config, logger kitlog.Logger) (*Server, error) {
	err := config.Validate()
	if err != nil {
		return nil, errors.Wrap(err, "invalid configuration")
	}

	store := config.CustomStore
	switch {
	case store != nil:
	case config.Store == StorePostgres:
		store = postgres.NewDB(&postgres.Config{
			ConnStr: config.ConnStr,
		}, logger)
	case config.Store == StoreMemory:
		store = memstore.New(clock.New(), logger)
	}

	// the writer must see an untyped nil when no cache is configured
	var cache Cache
	var writerCache relay.Cache
	if config.RedisURL != "" {
		rd := redis.NewRedis(config.RedisURL, logger)
		cache = rd
		writerCache = rd
	}

	writer := relay.NewWriter(&relay.WriterConfig{
		QueueSize:    config.QueueSize,
		WriteTimeout: config.WriteTimeout,
	}, store, writerCache, logger)

	msgHandler := relay.NewHandler(writer, logger)

	connector := config.Connector
	if connector == nil {
		connector = mqtt.NewConnector()
	}

	subscriber := mqtt.NewSubscriber(config.MQTT, connector, msgHandler, logger)

	buildInfo.WithLabelValues(version.BinaryName, version.Version, version.BuildDate).Set(1)

	logger = kitlog.With(logger, "module", "server")
	logger.Log("msg", "creating server", "store", config.Store, "cache", cache != nil, "topic", config.MQTT.Topic)

	latestHandler := LatestHandler(cache, logger)
	readingsHandler := ReadingsHandler(store, logger)

	if config.ReadingsRateLimit > 0 {
		limiter := middleware.NewRateLimiter(config.ReadingsRateLimit)
		latestHandler = limiter.Handler(latestHandler)
		readingsHandler = limiter.Handler(readingsHandler)
	}

	mux := goji.NewMux()

	mux.Handle(pat.Get("/metrics"), promhttp.Handler())
	mux.Handle(pat.Get("/ready"), ReadyHandler(store, cache, logger))
	mux.Handle(pat.Get("/readings/latest"), latestHandler)
	mux.Handle(pat.Get("/readings"), readingsHandler)
	mux.Handle(pat.Get("/*"), LivenessHandler())

	mux.Use(middleware.RequestIDMiddleware)
	mux.Use(middleware.MetricsMiddleware)

	c := cors.New(cors.Options{
		AllowedOrigins: config.CORSOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodHead},
		ExposedHeaders: []string{middleware.RequestIDHeader},
	})

	handler := c.Handler(mux)

	srv := &http.Server{
		Addr:    config.ListenAddr,
		Handler: handler,
	}

	startupTimeout := config.StartupTimeout
	if startupTimeout <= 0 {
		startupTimeout = DefaultStartupTimeout
	}

	return &Server{
		srv:             srv,
		handler:         handler,
		store:           store,
		cache:           cache,
		writer:          writer,
		subscriber:      subscriber,
		logger:          logger,
		shutdownTimeout: config.ShutdownTimeout,
		startupTimeout:  startupTimeout,
		quit:            make(chan struct{}),
	}, nil
}

// Handler returns the server's HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Addr returns the address the HTTP listener is bound to, or nil before Start
// has bound it.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Start starts the server running. The HTTP listener is bound first so the
// liveness endpoint answers while the store, cache and broker are still
// coming up. Components are then started in order, and in addition we attempt
// to run all up migrations as we start.
//
// Start blocks until SIGINT or SIGTERM is received, or Stop is called.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.srv.Addr)
	if err != nil {
		s.Stop()
		return errors.Wrap(err, "failed to bind listener")
	}

	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()

	stopChan := make(chan os.Signal, 1)
	signal.Notify(stopChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(stopChan)

	errChan := make(chan error, 1)

	go func() {
		s.logger.Log("listenAddr", ln.Addr().String(), "msg", "starting server")

		if err := s.srv.Serve(ln); err != nil && err != http.ErrServerClosed {
			errChan <- err
		}
	}()

	err = s.startComponents()
	if err != nil {
		s.Stop()
		return err
	}

	select {
	case sig := <-stopChan:
		s.logger.Log("msg", "received signal", "signal", sig)
		return s.Stop()
	case err := <-errChan:
		s.Stop()
		return errors.Wrap(err, "http server failed")
	case <-s.quit:
		return nil
	}
}

// startComponents starts the store, cache, writer and subscriber in that
// order. The store and cache are retried with exponential backoff as they are
// often still coming up when we start.
func (s *Server) startComponents() error {
	err := s.retry("store", s.store.Start)
	if err != nil {
		return errors.Wrap(err, "failed to start store")
	}

	if m, ok := s.store.(migrator); ok {
		err = m.MigrateUp()
		if err != nil {
			return errors.Wrap(err, "failed to migrate the database")
		}
	}

	if s.cache != nil {
		err = s.retry("cache", s.cache.Start)
		if err != nil {
			return errors.Wrap(err, "failed to connect to redis")
		}
	}

	err = s.writer.Start()
	if err != nil {
		return errors.Wrap(err, "failed to start writer")
	}

	// a broker that is down is not an error here, paho keeps retrying
	err = s.subscriber.Start()
	if err != nil {
		return errors.Wrap(err, "failed to start subscriber")
	}

	return nil
}

func (s *Server) retry(name string, op backoff.Operation) error {
	b := backoff.NewExponentialBackOff()
	b.MaxElapsedTime = s.startupTimeout

	notify := func(err error, wait time.Duration) {
		level.Warn(s.logger).Log("msg", "failed to start component, retrying", "component", name, "wait", wait, "err", err)
	}

	return backoff.RetryNotify(op, b, notify)
}

// Stop the server and all child components. The subscriber is stopped first so
// no new readings arrive, then the writer is given ShutdownTimeout to flush
// its queue. HTTP is shut down next so no handler is still using the cache or
// store when they are closed. Stop may be called more than once.
func (s *Server) Stop() error {
	s.stopOnce.Do(func() {
		s.stopErr = s.stop()
		close(s.quit)
	})

	return s.stopErr
}

func (s *Server) stop() error {
	s.logger.Log("msg", "stopping")

	var first error
	record := func(err error) {
		if err != nil {
			level.Error(s.logger).Log("msg", "error while stopping", "err", err)
			if first == nil {
				first = err
			}
		}
	}

	record(s.subscriber.Stop())

	flushCtx := context.Background()
	if s.shutdownTimeout > 0 {
		var cancel context.CancelFunc
		flushCtx, cancel = context.WithTimeout(flushCtx, s.shutdownTimeout)
		defer cancel()
	}

	record(s.writer.Stop(flushCtx))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	record(s.srv.Shutdown(ctx))

	components := []system.Stoppable{}
	if s.cache != nil {
		components = append(components, s.cache)
	}
	components = append(components, s.store)

	record(system.StopAll(components...))

	return first
}
