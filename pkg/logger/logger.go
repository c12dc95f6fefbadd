package logger

import (
	"os"

	kitlog "github.com/go-kit/kit/log"
	"github.com/go-kit/kit/log/level"

	"github.com/nabilahza/IoT-Based-SmartAirQuality/pkg/version"
)

// NewLogger returns a JSON kitlog.Logger writing to stdout. Debug messages are
// only emitted when verbose is true, otherwise the logger filters at info.
func NewLogger(verbose bool) kitlog.Logger {
	logger := kitlog.NewJSONLogger(kitlog.NewSyncWriter(os.Stdout))
	logger = kitlog.With(logger,
		"service", version.BinaryName,
		"ts", kitlog.DefaultTimestampUTC,
		"version", version.Version,
	)

	if verbose {
		logger = level.NewFilter(logger, level.AllowDebug())
	} else {
		logger = level.NewFilter(logger, level.AllowInfo())
	}

	level.Debug(logger).Log("module", "logger", "msg", "creating logger instance")

	return logger
}
