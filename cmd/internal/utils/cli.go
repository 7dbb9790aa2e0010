package utils

import (
	"fmt"
	"strconv"
	"time"
)

// ParseTimeout returns a parsed duration from a string.
// A duration string value must be a positive integer in seconds, or a go duration (e.g. 90s, 30m, 2h).
func ParseTimeout(duration string) (time.Duration, error) {
	if i, err := strconv.ParseInt(duration, 10, 64); err == nil && i >= 0 {
		return time.Duration(i) * time.Second, nil
	}
	if timeout, err := time.ParseDuration(duration); err == nil && timeout >= 0 {
		return timeout, nil
	}
	return 0, fmt.Errorf("invalid timeout value %q, timeout must be a single integer in seconds, or an integer followed by a corresponding time unit (e.g. 1s | 2m | 3h)", duration)
}
