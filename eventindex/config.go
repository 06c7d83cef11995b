package eventindex

import "github.com/defibridge/bridgedata/config/types"

// Config is the configuration of the event index
type Config struct {
	// IndexerURL is the JSON-RPC endpoint of the service mapping interaction
	// batches to the ledger transaction that carried them
	IndexerURL string `mapstructure:"IndexerURL"`
	// InteractionsPerBatch is the number of nonces allocated per batch
	InteractionsPerBatch uint64 `mapstructure:"InteractionsPerBatch"`
	// FetchTimeout bounds the fetch of a batch missing from the cache
	FetchTimeout types.Duration `mapstructure:"FetchTimeout"`
}
