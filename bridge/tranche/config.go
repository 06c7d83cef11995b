package tranche

import (
	"github.com/defibridge/bridgedata/config/types"
	"github.com/ethereum/go-ethereum/common"
)

// Term is one listed maturity of a tranche market
type Term struct {
	// AssetID is the dispatcher id of the underlying ERC20
	AssetID uint64 `mapstructure:"AssetID"`
	// Asset is the address of the underlying ERC20
	Asset common.Address `mapstructure:"Asset"`
	// Expiry is the maturity timestamp, also used as aux data
	Expiry uint64 `mapstructure:"Expiry"`
	// RateBps is the fixed yearly rate paid until expiry, in basis points
	RateBps uint64 `mapstructure:"RateBps"`
}

// Config is the configuration of a tranche bridge adapter
type Config struct {
	// Address of the bridge contract
	Address common.Address `mapstructure:"Address"`
	// Terms listed on the bridge
	Terms []Term `mapstructure:"Terms"`
	// MarketsTTL is how long the listed terms are cached. 0 caches until refreshed
	MarketsTTL types.Duration `mapstructure:"MarketsTTL"`
}
