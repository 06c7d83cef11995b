package bridge

import (
	"context"
	"math/big"

	"github.com/defibridge/bridgedata/interaction"
	"github.com/defibridge/bridgedata/presentvalue"
)

// ConversionRequest describes the conversion a caller wants to quote
type ConversionRequest struct {
	InputAssetA  interaction.Asset
	InputAssetB  interaction.Asset
	OutputAssetA interaction.Asset
	OutputAssetB interaction.Asset
	AuxData      uint64
	InputValue   *big.Int
}

// Quote is the output a bridge expects to return for a conversion. For async
// bridges it is the value at maturity.
type Quote struct {
	OutputValueA *big.Int `json:"outputValueA"`
	OutputValueB *big.Int `json:"outputValueB"`
	IsAsync      bool     `json:"isAsync"`
}

// AssetValue is an amount of a given asset
type AssetValue struct {
	AssetID uint64   `json:"assetId"`
	Value   *big.Int `json:"value"`
}

// Bridge is implemented by every bridge adapter
type Bridge interface {
	// ExpectedOutput quotes a conversion. Asset combinations the bridge does
	// not support fail with interaction.ErrUnsupportedAsset
	ExpectedOutput(ctx context.Context, req ConversionRequest) (*Quote, error)
	// AuxData lists the auxiliary values accepted for the asset combination
	AuxData(ctx context.Context, req ConversionRequest) ([]uint64, error)
	// Capabilities returns the optional capabilities of the bridge
	Capabilities() Capabilities
}

// Capabilities holds the optional capabilities of a bridge. A nil field means
// the bridge does not support it.
type Capabilities struct {
	PresentValue PresentValueProvider
	APR          APRProvider
	Expiration   ExpirationProvider
	Finalisation FinalisationProvider
	MarketSize   MarketSizeProvider
}

// PresentValueProvider values an interaction before it is finalised
type PresentValueProvider interface {
	// InteractionPresentValue returns nil when the value can not be computed
	InteractionPresentValue(ctx context.Context, nonce uint64, inputValue *big.Int) ([]AssetValue, error)
}

// APRProvider returns annualised yields
type APRProvider interface {
	// InteractionAPR returns nil when the yield can not be computed
	InteractionAPR(ctx context.Context, nonce uint64) (*presentvalue.Yield, error)
}

// ExpirationProvider resolves maturities of async bridges
type ExpirationProvider interface {
	// Expiration returns the timestamp at which an interaction registered
	// with auxData can be finalised
	Expiration(ctx context.Context, auxData uint64) (uint64, error)
}

// FinalisationProvider reports whether an interaction has been settled
type FinalisationProvider interface {
	HasFinalised(ctx context.Context, nonce uint64) (bool, error)
}

// MarketSizeProvider reports the liquidity of a market
type MarketSizeProvider interface {
	MarketSize(ctx context.Context, req ConversionRequest) ([]AssetValue, error)
}
