package tasks

import (
	"log"
	"os"
	"strings"

	raven "github.com/getsentry/raven-go"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/nabilahza/IoT-Based-SmartAirQuality/pkg/version"
)

func init() {
	viper.SetEnvPrefix("airquality")
	viper.AutomaticEnv()
	replacer := strings.NewReplacer("-", "_")
	viper.SetEnvKeyReplacer(replacer)

	cobra.OnInitialize(loadEnvFile)
}

// loadEnvFile reads a .env file from the working directory if one exists.
// Variables already set in the environment take precedence.
func loadEnvFile() {
	err := godotenv.Load()
	if err != nil && !os.IsNotExist(err) {
		log.Printf("failed to load .env file: %v", err)
	}
}

var rootCmd = &cobra.Command{
	Use:   version.BinaryName,
	Short: "Relays air quality readings from MQTT into Postgres",
	Long: `This tool subscribes to a single MQTT topic on which air quality sensors
publish JSON readings, and writes one row per reading into Postgres.

Each reading carries an optional sensor id, a gas concentration, the air
quality level computed by the device, and the state of the fan and LED. The
write timestamp is assigned by the database so readings can always be read
back newest first, regardless of the clocks on the devices.

The relay also exposes a liveness endpoint for the hosting platform, recent
readings as JSON, and Prometheus metrics.
`,
	Version: version.VersionString(),
}

// Execute is our main entrypoint to the application
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		raven.CaptureErrorAndWait(err, nil)
		log.Fatal(err)
	}
}
