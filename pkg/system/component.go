package system

// Startable is a single method interface for a component that can meaningfully
// be "started"
type Startable interface {
	// Start starts the component, creating any runtime resources (connection
	// pools, clients, goroutines, etc.)
	Start() error
}

// Stoppable is a single method interface for a component that can meaningfully be
// "stopped".
type Stoppable interface {
	// Stop stops the component, cleaning up any open resources.
	Stop() error
}

// Component is a runtime resource owned by the server which is started on boot
// and stopped on shutdown.
type Component interface {
	Startable
	Stoppable
}

// StopAll stops the given components in order, returning the first error seen.
// Every component is asked to stop even if an earlier one failed.
func StopAll(components ...Stoppable) error {
	var first error

	for _, c := range components {
		if c == nil {
			continue
		}

		if err := c.Stop(); err != nil && first == nil {
			first = err
		}
	}

	return first
}
