package postgres

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"time"

	kitlog "github.com/go-kit/kit/log"
	"github.com/golang-migrate/migrate/v4"
	migratepg "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/pkg/errors"
	"github.com/serenize/snaker"

	"github.com/nabilahza/IoT-Based-SmartAirQuality/pkg/migrations"
)

var migrationNameRegexp = regexp.MustCompile(`\A[a-zA-Z]+\z`)

// MigrateUp runs all up migrations against Postgres. Migrations are loaded
// from the embedded migrations package.
func MigrateUp(db *sql.DB, logger kitlog.Logger) error {
	logger.Log("msg", "migrating DB up")

	m, err := getMigrator(db, logger)
	if err != nil {
		return errors.Wrap(err, "failed to create migrator")
	}

	err = m.Up()
	if err != nil && err != migrate.ErrNoChange {
		return errors.Wrap(err, "failed to run up migrations")
	}

	return nil
}

// MigrateDown rolls back the given number of migrations.
func MigrateDown(db *sql.DB, steps int, logger kitlog.Logger) error {
	logger.Log("msg", "migrating DB down", "steps", steps)

	if steps < 1 {
		return errors.New("steps must be at least 1")
	}

	m, err := getMigrator(db, logger)
	if err != nil {
		return errors.Wrap(err, "failed to create migrator")
	}

	return m.Steps(-steps)
}

// MigrateDownAll rolls back every migration.
func MigrateDownAll(db *sql.DB, logger kitlog.Logger) error {
	logger.Log("msg", "migrating DB down all")

	m, err := getMigrator(db, logger)
	if err != nil {
		return errors.Wrap(err, "failed to create migrator")
	}

	err = m.Down()
	if err != nil && err != migrate.ErrNoChange {
		return err
	}

	return nil
}

// NewMigration creates a new pair of empty up/down files in dirName for a
// migration called migrationName, which must be a single CamelCased word. It
// returns the base name shared by both files.
func NewMigration(dirName, migrationName string, now time.Time, logger kitlog.Logger) (string, error) {
	if migrationName == "" {
		return "", errors.New("Must specify a name when creating a migration")
	}

	if !migrationNameRegexp.MatchString(migrationName) {
		return "", errors.New("Name must be a single CamelCased string with no numbers or special characters")
	}

	migrationID := now.UTC().Format("20060102150405") + "_" + snaker.CamelToSnake(migrationName)
	upFileName := fmt.Sprintf("%s.up.sql", migrationID)
	downFileName := fmt.Sprintf("%s.down.sql", migrationID)

	logger.Log("upfile", upFileName, "downfile", downFileName, "directory", dirName, "msg", "creating migration files")

	err := os.MkdirAll(dirName, 0755)
	if err != nil {
		return "", errors.Wrap(err, "failed to make directory for migrations")
	}

	for _, name := range []string{upFileName, downFileName} {
		f, err := os.Create(filepath.Join(dirName, name))
		if err != nil {
			return "", errors.Wrapf(err, "failed to create migration file %s", name)
		}
		f.Close()
	}

	return migrationID, nil
}

// getMigrator instantiates a migrate.Migrate reading from the embedded
// migrations and writing to db.
func getMigrator(db *sql.DB, logger kitlog.Logger) (*migrate.Migrate, error) {
	dbDriver, err := migratepg.WithInstance(db, &migratepg.Config{})
	if err != nil {
		return nil, errors.Wrap(err, "failed to create database driver")
	}

	sourceDriver, err := iofs.New(migrations.FS, migrations.Dir)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create source driver")
	}

	migrator, err := migrate.NewWithInstance(
		"iofs",
		sourceDriver,
		"postgres",
		dbDriver,
	)
	if err != nil {
		return nil, err
	}

	migrator.Log = newLogAdapter(logger, false)

	return migrator, nil
}

// newLogAdapter wraps our gokit logger so it can be used by go-migrate.
func newLogAdapter(logger kitlog.Logger, verbose bool) migrate.Logger {
	return &logAdapter{logger: logger, verbose: verbose}
}

// logAdapter adapts a go-kit Logger to go-migrate's Logger interface.
type logAdapter struct {
	logger  kitlog.Logger
	verbose bool
}

// Printf outputs the formatted string as the value of a `msg` key.
func (l *logAdapter) Printf(format string, v ...interface{}) {
	l.logger.Log("msg", fmt.Sprintf(format, v...))
}

// Verbose returns true when verbose logging output is wanted
func (l *logAdapter) Verbose() bool {
	return l.verbose
}
