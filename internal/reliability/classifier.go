package reliability

import "time"

// IsRetryableHTTPStatus classifies HTTP status codes a caller may retry.
// Nothing inside the relay retries; the classification is surfaced in
// errors and used by the CLI's opt-in retry loop.
func IsRetryableHTTPStatus(code int) bool {
	switch code {
	case 429, 502, 503, 504:
		return true
	default:
		return false
	}
}

// ExponentialBackoff computes a deterministic capped backoff duration.
func ExponentialBackoff(attempt int, base, cap time.Duration) time.Duration {
	if attempt <= 0 {
		return base
	}
	d := base
	for i := 0; i < attempt; i++ {
		d *= 2
		if d >= cap {
			return cap
		}
	}
	return d
}
