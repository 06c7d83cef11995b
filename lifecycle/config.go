package lifecycle

import "github.com/defibridge/bridgedata/config/types"

// Config is the configuration of the coordinator
type Config struct {
	// RefreshTimeout bounds the ledger reads that reconcile local state after
	// a finalisation attempt. They run even if the caller went away.
	RefreshTimeout types.Duration `mapstructure:"RefreshTimeout"`
}

// AutoFinaliserConfig is the configuration of the loop finalising ready interactions
type AutoFinaliserConfig struct {
	// Interval is the time between two passes over the pending interactions
	Interval types.Duration `mapstructure:"Interval"`
	// RetryAfterErrorPeriod is the time to wait after a failed pass
	RetryAfterErrorPeriod types.Duration `mapstructure:"RetryAfterErrorPeriod"`
	// MaxRetryAttemptsAfterError is the number of consecutive failed passes
	// tolerated before the loop stops, -1 means no limit
	MaxRetryAttemptsAfterError int `mapstructure:"MaxRetryAttemptsAfterError"`
}
