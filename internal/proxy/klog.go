package proxy

import (
	"time"

	"k8s.io/klog/v2"
)

// KlogAdapter is the default Adapter, logging through klog the way every
// teacher controller does (klog.Infof/Warningf/Errorf) and deriving the
// remaining-time countdown from a deadline fixed at construction.
type KlogAdapter struct {
	deadline time.Time
}

// NewKlogAdapter returns an Adapter whose remaining-execution-time clock
// counts down to now+budget.
func NewKlogAdapter(budget time.Duration) *KlogAdapter {
	return &KlogAdapter{deadline: time.Now().Add(budget)}
}

func (a *KlogAdapter) Log(msg string, level Level) {
	switch level {
	case LevelWarning:
		a.Warning(msg)
	case LevelError:
		a.Error(msg)
	default:
		a.Info(msg)
	}
}

func (a *KlogAdapter) Info(msg string)    { klog.V(3).Info(msg) }
func (a *KlogAdapter) Warning(msg string) { klog.Warning(msg) }
func (a *KlogAdapter) Error(msg string)   { klog.Error(msg) }

// FormatResponse returns a plain map; a transport layer built on top of
// the core translates this into whatever wire framing it speaks. secret
// responses are logged with their body redacted — the license bytes
// themselves still flow through in the returned map for the transport to
// deliver, only the log line is masked.
func (a *KlogAdapter) FormatResponse(status int, body string, secret bool, headers map[string]string) any {
	logged := body
	if secret {
		logged = "<redacted>"
	}
	klog.V(4).Infof("response status=%d secret=%t body=%q", status, secret, logged)
	return map[string]any{
		"status":  status,
		"body":    body,
		"secret":  secret,
		"headers": headers,
	}
}

func (a *KlogAdapter) GetRemainingExecutionTimeMs() int64 {
	remaining := time.Until(a.deadline).Milliseconds()
	if remaining < 0 {
		return 0
	}
	return remaining
}
