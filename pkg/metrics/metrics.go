package metrics

import "github.com/prometheus/client_golang/prometheus"

const (
	// Namespace is the prometheus namespace used by every collector we export.
	Namespace = "airquality"

	// Subsystem is the prometheus subsystem used by every collector we export.
	Subsystem = "relay"
)

// MustRegister wraps prometheus's MustRegister so that a collector which has
// already been registered is unregistered and registered again rather than
// panicking.
func MustRegister(cs ...prometheus.Collector) {
	for _, c := range cs {
		err := prometheus.Register(c)
		if err != nil {
			if prometheus.Unregister(c) {
				prometheus.MustRegister(c)
			} else {
				panic(err)
			}
		}
	}
}
