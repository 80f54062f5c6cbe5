package llm

import (
	"context"
	"errors"
	"net"
	"strings"
)

// ErrOutputInvalid is returned when the model's output fails schema
// validation even after one repair round-trip. This is a model-output
// error: the caller fails the job without further retry.
var ErrOutputInvalid = errors.New("model output invalid after repair")

// shouldRetry mirrors the source client's _should_retry: retry on
// connection/timeout errors and on 5xx/429 status codes, never on a
// canceled or deadline-exceeded context.
func shouldRetry(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}

	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "429") || strings.Contains(msg, "rate limit") {
		return true
	}
	for _, code := range []string{"500", "502", "503", "504"} {
		if strings.Contains(msg, code) {
			return true
		}
	}
	return strings.Contains(msg, "timeout") || strings.Contains(msg, "connection")
}
