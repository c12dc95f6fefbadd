package postgres_test

import (
	"io/ioutil"
	"os"
	"path/filepath"
	"testing"
	"time"

	kitlog "github.com/go-kit/kit/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nabilahza/IoT-Based-SmartAirQuality/pkg/postgres"
)

func TestNewMigration(t *testing.T) {
	dir, err := ioutil.TempDir("", "migrations")
	require.Nil(t, err)
	defer os.RemoveAll(dir)

	now := time.Date(2025, 1, 12, 9, 30, 0, 0, time.UTC)

	id, err := postgres.NewMigration(dir, "AddSensorIndex", now, kitlog.NewNopLogger())
	require.Nil(t, err)
	assert.Equal(t, "20250112093000_add_sensor_index", id)

	for _, suffix := range []string{".up.sql", ".down.sql"} {
		_, err := os.Stat(filepath.Join(dir, id+suffix))
		assert.Nil(t, err)
	}
}

func TestNewMigrationInvalidName(t *testing.T) {
	for _, name := range []string{"", "add_index", "Add Index", "Add2"} {
		_, err := postgres.NewMigration(os.TempDir(), name, time.Now(), kitlog.NewNopLogger())
		assert.NotNil(t, err, name)
	}
}

func TestMigrateDownRejectsZeroSteps(t *testing.T) {
	err := postgres.MigrateDown(nil, 0, kitlog.NewNopLogger())
	assert.NotNil(t, err)
}
