package middleware

import (
	"net/http"
)

// captureWriter wraps http.ResponseWriter so we can record the status code
// written by the downstream handler.
type captureWriter struct {
	http.ResponseWriter
	statusCode int
}

func newCaptureWriter(w http.ResponseWriter) *captureWriter {
	return &captureWriter{
		ResponseWriter: w,
		statusCode:     http.StatusOK,
	}
}

// WriteHeader captures the status code, and then calls the wrapped response
// writer method.
func (cw *captureWriter) WriteHeader(statusCode int) {
	cw.statusCode = statusCode
	cw.ResponseWriter.WriteHeader(statusCode)
}
