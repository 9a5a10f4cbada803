package clientpool

import (
	"strings"
	"time"
)

const (
	DefaultTimeout   = 30 * time.Second
	ExtendedTimeout  = 120 * time.Second
	DefaultSizeLimit = 10 << 20
)

// TimeoutRule extends the timeout of endpoints containing Contains.
type TimeoutRule struct {
	Contains string
	Timeout  time.Duration
}

// DefaultTimeoutRules keeps long-running AI and generation calls alive past
// the generic timeout.
func DefaultTimeoutRules() []TimeoutRule {
	return []TimeoutRule{
		{Contains: "/ai/", Timeout: ExtendedTimeout},
		{Contains: "/generate", Timeout: ExtendedTimeout},
	}
}

func matchRule(rules []TimeoutRule, endpoint string) (time.Duration, bool) {
	for _, r := range rules {
		if r.Contains != "" && r.Timeout > 0 && strings.Contains(endpoint, r.Contains) {
			return r.Timeout, true
		}
	}
	return 0, false
}
