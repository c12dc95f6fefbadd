package tasks

import (
	"os"
	"strings"

	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"

	"github.com/nabilahza/IoT-Based-SmartAirQuality/pkg/postgres"
)

// GetFromEnv returns the value of the environment variable key, or an error
// naming the variable when it is unset or blank.
func GetFromEnv(key string) (string, error) {
	val := strings.TrimSpace(os.Getenv(key))
	if val == "" {
		return "", errors.Errorf("Missing required environment variable: $%s", key)
	}

	return val, nil
}

// openDatabase opens a connection pool to the database named by
// $AIRQUALITY_DATABASE_URL. Callers must close it.
func openDatabase() (*sqlx.DB, error) {
	connStr, err := GetFromEnv(DatabaseURLKey)
	if err != nil {
		return nil, err
	}

	db, err := postgres.Open(connStr)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open database")
	}

	return db, nil
}
