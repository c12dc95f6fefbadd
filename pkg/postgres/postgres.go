package postgres

import (
	"context"
	"time"

	kitlog "github.com/go-kit/kit/log"
	"github.com/go-kit/kit/log/level"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq" // registers the postgres driver
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/nabilahza/IoT-Based-SmartAirQuality/pkg/metrics"
	"github.com/nabilahza/IoT-Based-SmartAirQuality/pkg/reading"
)

var (
	// ReadingGauge is a gauge of the number of readings held in the database
	ReadingGauge = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: metrics.Namespace,
			Subsystem: metrics.Subsystem,
			Name:      "readings_stored",
			Help:      "Count of readings currently in the database",
		},
	)
)

func init() {
	metrics.MustRegister(ReadingGauge)
}

// metricsInterval is how often we count stored readings for ReadingGauge.
const metricsInterval = 30 * time.Second

// Open is a helper function that takes as input a connection string for a DB,
// and returns either a sqlx.DB instance or an error. This function is separated
// out to help with CLI tasks for managing migrations.
func Open(connStr string) (*sqlx.DB, error) {
	return sqlx.Open("postgres", connStr)
}

// DB wraps an sqlx.DB and stores readings in the air_quality table. Readings
// are only ever inserted; there is no update or delete path. The timestamp of
// each reading is assigned by Postgres with clock_timestamp().
type DB struct {
	connStr string
	DB      *sqlx.DB
	logger  kitlog.Logger

	done chan struct{}
}

// Config is used to carry package local configuration for Postgres DB module.
type Config struct {
	ConnStr string
}

// NewDB creates a new DB instance with the given connection string. We also
// pass in a logger.
func NewDB(config *Config, logger kitlog.Logger) *DB {
	logger = kitlog.With(logger, "module", "postgres")

	logger.Log("msg", "creating postgres client")

	return &DB{
		connStr: config.ConnStr,
		logger:  logger,
	}
}

// Start opens the connection pool and verifies the database is reachable.
func (d *DB) Start() error {
	d.logger.Log("msg", "starting postgres")

	db, err := Open(d.connStr)
	if err != nil {
		return errors.Wrap(err, "opening db connection failed")
	}

	err = db.Ping()
	if err != nil {
		db.Close()
		return errors.Wrap(err, "failed to ping db")
	}

	d.DB = db
	d.done = make(chan struct{})

	go d.recordMetrics()

	return nil
}

// Stop closes the DB connection pool.
func (d *DB) Stop() error {
	d.logger.Log("msg", "stopping postgres client")

	if d.DB == nil {
		return nil
	}

	close(d.done)

	err := d.DB.Close()
	d.DB = nil

	return err
}

// MigrateUp is a convenience function to run all up migrations in the context
// of an instantiated DB instance.
func (d *DB) MigrateUp() error {
	return MigrateUp(d.DB.DB, d.logger)
}

// Ping attempts to verify the database connection is still alive by executing a
// simple select query on the database server. We don't use the built in
// DB.Ping() function here as this may not go to the database if there existing
// connections in the pool.
func (d *DB) Ping() error {
	if d.DB == nil {
		return errors.New("database not open")
	}

	_, err := d.DB.Exec("SELECT 1")
	return err
}

// InsertReading writes r to the air_quality table, setting r.ID and
// r.Timestamp from the values assigned by the database.
func (d *DB) InsertReading(ctx context.Context, r *reading.Reading) (err error) {
	if r == nil {
		return errors.New("nil reading")
	}

	sql := `INSERT INTO air_quality
		(sensor_id, gas, level, fan, led)
	VALUES (:sensor_id, :gas, :level, :fan, :led)
	RETURNING id, recorded_at`

	mapArgs := map[string]interface{}{
		"sensor_id": r.SensorID,
		"gas":       r.Gas,
		"level":     r.Level,
		"fan":       r.Fan,
		"led":       r.LED,
	}

	tx, err := BeginTX(ctx, d.DB)
	if err != nil {
		return errors.Wrap(err, "failed to start transaction when inserting reading")
	}

	defer func() {
		if cerr := tx.CommitOrRollback(); err == nil && cerr != nil {
			err = cerr
		}
	}()

	var inserted struct {
		ID         int64     `db:"id"`
		RecordedAt time.Time `db:"recorded_at"`
	}

	err = tx.Get(&inserted, sql, mapArgs)
	if err != nil {
		return errors.Wrap(err, "failed to insert reading")
	}

	r.ID = inserted.ID
	r.Timestamp = inserted.RecordedAt.UTC()

	return nil
}

// RecentReadings returns up to limit readings ordered newest first. Ties on
// the timestamp are broken by id so the order always matches insert order.
func (d *DB) RecentReadings(ctx context.Context, limit int) (_ []*reading.Reading, err error) {
	sql := `SELECT id, sensor_id, gas, level, fan, led, recorded_at
		FROM air_quality
		ORDER BY recorded_at DESC, id DESC
		LIMIT :limit`

	mapArgs := map[string]interface{}{
		"limit": reading.ClampLimit(limit),
	}

	tx, err := BeginTX(ctx, d.DB)
	if err != nil {
		return nil, errors.Wrap(err, "failed to begin transaction")
	}

	defer func() {
		if cerr := tx.CommitOrRollback(); err == nil && cerr != nil {
			err = cerr
		}
	}()

	readings := []*reading.Reading{}

	mapper := func(rows *sqlx.Rows) error {
		for rows.Next() {
			var r reading.Reading

			err := rows.StructScan(&r)
			if err != nil {
				return errors.Wrap(err, "failed to scan row into Reading struct")
			}

			r.Timestamp = r.Timestamp.UTC()
			readings = append(readings, &r)
		}

		return nil
	}

	err = tx.Map(sql, mapArgs, mapper)
	if err != nil {
		return nil, errors.Wrap(err, "failed to select readings from database")
	}

	return readings, nil
}

// recordMetrics counts stored readings on a fixed interval until Stop is
// called.
func (d *DB) recordMetrics() {
	ticker := time.NewTicker(metricsInterval)
	defer ticker.Stop()

	db, done := d.DB, d.done

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			var count float64
			err := db.Get(&count, `SELECT COUNT(*) FROM air_quality`)
			if err != nil {
				level.Warn(d.logger).Log("msg", "error counting readings", "err", err)
				continue
			}

			ReadingGauge.Set(count)
		}
	}
}
