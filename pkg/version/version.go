package version

import (
	"fmt"
	"runtime"

	"github.com/google/uuid"
)

const (
	unknown = "UNKNOWN"
)

// BinaryName is the name of the binary, substituted via -ldflags at build
// time.
var BinaryName = "airquality-relay"

// Version is the release version, substituted via -ldflags at build time.
var Version = unknown

// BuildDate is the date the binary was built, substituted via -ldflags at
// build time.
var BuildDate = unknown

// VersionString returns a verbose version string, including platform and build
// date, suitable for `--version` output.
func VersionString() string {
	return fmt.Sprintf("%s (%s/%s). build date: %s", Version, runtime.GOOS, runtime.GOARCH, BuildDate)
}

// instanceID distinguishes this process from other replicas talking to the
// same broker.
var instanceID = uuid.New().String()[:8]

// ClientID returns the identifier we present to an MQTT broker when no explicit
// client id has been configured. It is stable for the life of the process and
// unique between processes, as brokers drop an existing session when a second
// client connects with the same id.
func ClientID() string {
	return fmt.Sprintf("%s_%s", BinaryName, instanceID)
}
