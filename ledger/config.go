package ledger

import (
	"github.com/defibridge/bridgedata/config/types"
	"github.com/ethereum/go-ethereum/common"
)

// Config is the configuration of the EVM dispatcher adapter
type Config struct {
	// DispatcherAddr is the address of the dispatcher contract
	DispatcherAddr common.Address `mapstructure:"DispatcherAddr"`
	// SenderAddr is the address the dispatcher transactions are sent from
	SenderAddr common.Address `mapstructure:"SenderAddr"`
	// GasOffset is added to the estimated gas of every transaction
	GasOffset uint64 `mapstructure:"GasOffset"`
	// WaitPeriodMonitorTx is the time between two polls of a monitored tx
	WaitPeriodMonitorTx types.Duration `mapstructure:"WaitPeriodMonitorTx"`
	// RetryAfterErrorPeriod is the time between retries of failed history queries
	RetryAfterErrorPeriod types.Duration `mapstructure:"RetryAfterErrorPeriod"`
	// MaxRetryAttemptsAfterError bounds the retries of history queries, -1 means no limit
	MaxRetryAttemptsAfterError int `mapstructure:"MaxRetryAttemptsAfterError"`
}

// SimulatedConfig is the configuration of the in-memory dispatcher used by
// local deployments
type SimulatedConfig struct {
	// StartTime is the initial ledger time, 0 starts at the wall clock time
	StartTime uint64 `mapstructure:"StartTime"`
	// ClockTick is how often the ledger time catches up with the elapsed wall
	// time, 0 keeps the clock still
	ClockTick types.Duration `mapstructure:"ClockTick"`
}
