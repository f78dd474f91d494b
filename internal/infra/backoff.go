package infra

import (
	"time"
)

const (
	// Standard backoff constants
	BaseDelay = 1 * time.Second
	MaxDelay  = 30 * time.Second
)

// CalculateBackoff returns the reconnect delay for a given attempt count.
// Logic: BaseDelay * 2^(attempt-1), capped at MaxDelay. The attempt counter
// is 1-based: the first failure waits BaseDelay.
// If attempt is zero or negative, it returns BaseDelay.
func CalculateBackoff(attempt int) time.Duration {
	if attempt < 2 {
		return BaseDelay
	}

	// 2^30 seconds already exceeds any sane cap; bail out before the
	// shift can overflow.
	if attempt > 30 {
		return MaxDelay
	}

	backoff := BaseDelay * time.Duration(1<<(attempt-1))

	if backoff > MaxDelay {
		return MaxDelay
	}

	return backoff
}
