package etherman

// Config represents the configuration of the ethereum client
type Config struct {
	// URL is the URL of the Ethereum node
	URL string `mapstructure:"URL"`
	// ChainID of the network the dispatcher is deployed on
	ChainID uint64 `mapstructure:"ChainID"`
	// BlockFinality is the block tag the clock and the status reads are anchored to
	BlockFinality BlockNumberFinality `mapstructure:"BlockFinality" jsonschema:"enum=LatestBlock, enum=SafeBlock, enum=PendingBlock, enum=FinalizedBlock, enum=EarliestBlock"` //nolint:lll
}
