package tasks

const (
	// DatabaseURLKey is the environment variable which must hold the database
	// URL to which we want to connect.
	DatabaseURLKey = "AIRQUALITY_DATABASE_URL"

	// MQTTPasswordKey is the environment variable holding the broker password.
	// It is never accepted as a flag so it does not leak into process listings.
	MQTTPasswordKey = "AIRQUALITY_MQTT_PASSWORD"
)
