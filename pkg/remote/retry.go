package remote

import "time"

// retryOp runs fn up to maxAttempts times with exponential backoff
// starting at baseDelay, adapted from the teacher's HTTP-specific
// retryDo (pkg/remote/retry.go) into a transport-agnostic shape:
// boxfs's Fetch/Push calls go out over pkg/transport, not net/http, so
// there is no status code to inspect — every non-nil error is treated
// as retryable up to the attempt cap.
func retryOp(maxAttempts int, baseDelay time.Duration, fn func() error) error {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	backoff := baseDelay
	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if attempt > 0 {
			time.Sleep(backoff)
			backoff *= 2
		}
		if err := fn(); err != nil {
			lastErr = err
			continue
		}
		return nil
	}
	return lastErr
}
