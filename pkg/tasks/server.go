package tasks

import (
	"errors"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/nabilahza/IoT-Based-SmartAirQuality/pkg/logger"
	"github.com/nabilahza/IoT-Based-SmartAirQuality/pkg/mqtt"
	"github.com/nabilahza/IoT-Based-SmartAirQuality/pkg/server"
)

func init() {
	rootCmd.AddCommand(serverCmd)
	serverCmd.Flags().StringP("addr", "a", "0.0.0.0:8080", "Address to which the HTTP server binds")
	serverCmd.Flags().StringP("broker", "b", "tls://localhost:8883", "Address of the MQTT broker")
	serverCmd.Flags().StringP("topic", "t", "airquality/room1", "Topic on which readings are published")
	serverCmd.Flags().Int("qos", 0, "QoS level used for the subscription (0, 1 or 2)")
	serverCmd.Flags().String("client-id", "", "Client identifier presented to the broker, defaults to a unique id per process")
	serverCmd.Flags().StringP("mqtt-username", "u", "", "Username used to authenticate with the broker")
	serverCmd.Flags().String("ca-cert", "ca.crt", "Path to the PEM encoded CA bundle used to verify the broker")
	serverCmd.Flags().Bool("insecure-skip-verify", false, "Skip broker hostname verification, the certificate chain is still verified")
	serverCmd.Flags().String("store", server.StorePostgres, "Where readings are stored: postgres or memory")
	serverCmd.Flags().String("redis-url", "", "Optional Redis URL used to cache the latest reading per sensor")
	serverCmd.Flags().Int("queue-size", 100, "Number of readings that may wait to be written")
	serverCmd.Flags().Duration("write-timeout", 5*time.Second, "Timeout applied to each write")
	serverCmd.Flags().Duration("shutdown-timeout", 10*time.Second, "How long pending writes are given to flush on shutdown")
	serverCmd.Flags().StringSlice("cors-origin", []string{}, "Origins allowed to read readings from a browser, may be repeated")
	serverCmd.Flags().Float64("readings-rate-limit", 5, "Requests per second per client allowed on the readings endpoints, 0 disables")
	serverCmd.Flags().Bool("verbose", false, "Enable verbose output")

	for _, name := range []string{
		"addr", "broker", "topic", "qos", "client-id", "mqtt-username", "ca-cert",
		"insecure-skip-verify", "store", "redis-url", "queue-size", "write-timeout",
		"shutdown-timeout", "cors-origin", "readings-rate-limit", "verbose",
	} {
		viper.BindPFlag(name, serverCmd.Flags().Lookup(name))
	}
}

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Starts the relay",
	Long: `
Starts the relay: connects to the MQTT broker, subscribes to the readings
topic and writes every valid reading to the store. Malformed payloads are
logged and discarded. If the broker is unreachable the relay keeps retrying in
the background and the HTTP endpoints stay up.

The broker password is read from $AIRQUALITY_MQTT_PASSWORD and the database
URL from $AIRQUALITY_DATABASE_URL.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		config, err := serverConfigFromViper()
		if err != nil {
			return err
		}

		logger := logger.NewLogger(config.Verbose)

		s, err := server.NewServer(config, logger)
		if err != nil {
			return err
		}

		return s.Start()
	},
}

// serverConfigFromViper assembles the server config from flags and the
// environment, rejecting values that are clearly unusable.
func serverConfigFromViper() (*server.Config, error) {
	addr := viper.GetString("addr")
	if addr == "" {
		return nil, errors.New("Must provide a bind address")
	}

	qos := viper.GetInt("qos")
	if qos < 0 || qos > 2 {
		return nil, errors.New("QoS must be 0, 1 or 2")
	}

	username := viper.GetString("mqtt-username")
	if username == "" {
		return nil, errors.New("Must provide an MQTT username")
	}

	password := viper.GetString("mqtt_password")
	if password == "" {
		return nil, errors.New("Missing required environment variable: $" + MQTTPasswordKey)
	}

	store := viper.GetString("store")

	connStr := viper.GetString("database_url")
	if store == server.StorePostgres && connStr == "" {
		return nil, errors.New("Missing required environment variable: $" + DatabaseURLKey)
	}

	config := &server.Config{
		ListenAddr:      addr,
		Store:           store,
		ConnStr:         connStr,
		RedisURL:        viper.GetString("redis-url"),
		QueueSize:       viper.GetInt("queue-size"),
		WriteTimeout:    viper.GetDuration("write-timeout"),
		ShutdownTimeout: viper.GetDuration("shutdown-timeout"),
		Verbose:         viper.GetBool("verbose"),

		CORSOrigins:       viper.GetStringSlice("cors-origin"),
		ReadingsRateLimit: viper.GetFloat64("readings-rate-limit"),

		MQTT: &mqtt.Config{
			Broker:             viper.GetString("broker"),
			Topic:              viper.GetString("topic"),
			QoS:                byte(qos),
			ClientID:           viper.GetString("client-id"),
			Username:           username,
			Password:           password,
			CAFile:             viper.GetString("ca-cert"),
			InsecureSkipVerify: viper.GetBool("insecure-skip-verify"),
			BufferSize:         viper.GetInt("queue-size"),
		},
	}

	err := config.Validate()
	if err != nil {
		return nil, err
	}

	return config, nil
}
