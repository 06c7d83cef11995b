package sync

import (
	"errors"
	"fmt"
	"time"
)

// ErrMaxRetryAttempts is returned once a call failed more than allowed
var ErrMaxRetryAttempts = errors.New("max retry attempts reached")

// RetryHandler spaces the retries of failed calls and bounds their number.
// A negative MaxRetryAttemptsAfterError retries forever.
type RetryHandler struct {
	RetryAfterErrorPeriod      time.Duration
	MaxRetryAttemptsAfterError int
}

// Handle waits before the next attempt or fails once attempts reached the max
func (h *RetryHandler) Handle(funcName string, attempts int) error {
	if h.MaxRetryAttemptsAfterError > -1 && attempts >= h.MaxRetryAttemptsAfterError {
		return fmt.Errorf("%s failed too many times (%d): %w",
			funcName, h.MaxRetryAttemptsAfterError, ErrMaxRetryAttempts)
	}
	time.Sleep(h.RetryAfterErrorPeriod)
	return nil
}
