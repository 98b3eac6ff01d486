// Package proxy defines the capability set the core needs from the
// request-hosting environment: log sinks, response formatting, and a
// monotonic countdown clock used by bounded waiters (§4.2).
package proxy

// Level is the severity of a log line, mirroring the teacher's klog.V(n)
// verbosity plus named helpers convention.
type Level int

const (
	LevelInfo Level = iota
	LevelWarning
	LevelError
)

// Adapter exposes logging, response formatting, and the remaining
// execution time clock bounded waiters consult (§4.2, §5).
type Adapter interface {
	Log(msg string, level Level)
	Info(msg string)
	Warning(msg string)
	Error(msg string)

	// FormatResponse renders the final transport-level response. headers
	// may be nil. secret, when true, asks the transport to mark the body
	// maskable (used for license file responses, §6).
	FormatResponse(status int, body string, secret bool, headers map[string]string) any

	// GetRemainingExecutionTimeMs returns a monotonically decreasing
	// countdown to the handler's deadline; bounded waiters must stop at
	// least 6000ms before it reaches zero (§4.5, §5).
	GetRemainingExecutionTimeMs() int64
}
