package tranche

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sort"

	"github.com/defibridge/bridgedata/bridge"
	"github.com/defibridge/bridgedata/interaction"
	"github.com/defibridge/bridgedata/log"
	"github.com/defibridge/bridgedata/presentvalue"
	"github.com/defibridge/bridgedata/readiness"
	"github.com/ethereum/go-ethereum/common"
)

var basisPoints = big.NewInt(10_000)

// Markets lists the terms a tranche bridge currently offers
type Markets interface {
	Terms(ctx context.Context) ([]Term, error)
}

// StaticMarkets serves the terms listed in the configuration
type StaticMarkets []Term

// Terms returns a copy of the listed terms
func (s StaticMarkets) Terms(context.Context) ([]Term, error) {
	return append([]Term(nil), s...), nil
}

// Bridge is the adapter of a fixed term lending tranche. Deposits of an ERC20
// return the same ERC20 at the expiry chosen through the aux data.
type Bridge struct {
	logger    *log.Logger
	address   common.Address
	markets   *bridge.Cache[[]Term]
	estimator *presentvalue.Estimator
	registry  interaction.Registry
	oracle    *readiness.Oracle
	clock     interaction.Clock
}

var (
	_ bridge.Bridge               = (*Bridge)(nil)
	_ bridge.PresentValueProvider = (*Bridge)(nil)
	_ bridge.APRProvider          = (*Bridge)(nil)
	_ bridge.ExpirationProvider   = (*Bridge)(nil)
	_ bridge.FinalisationProvider = (*Bridge)(nil)
	_ bridge.MarketSizeProvider   = (*Bridge)(nil)
)

// New creates a tranche adapter
func New(
	logger *log.Logger,
	cfg Config,
	markets Markets,
	estimator *presentvalue.Estimator,
	registry interaction.Registry,
	oracle *readiness.Oracle,
	clock interaction.Clock,
) *Bridge {
	return &Bridge{
		logger:    logger,
		address:   cfg.Address,
		markets:   bridge.NewCache(cfg.MarketsTTL.Duration, markets.Terms),
		estimator: estimator,
		registry:  registry,
		oracle:    oracle,
		clock:     clock,
	}
}

// Address returns the bridge contract address
func (b *Bridge) Address() common.Address {
	return b.address
}

// Capabilities returns every optional capability, all backed by b
func (b *Bridge) Capabilities() bridge.Capabilities {
	return bridge.Capabilities{
		PresentValue: b,
		APR:          b,
		Expiration:   b,
		Finalisation: b,
		MarketSize:   b,
	}
}

// RefreshMarkets reloads the listed terms
func (b *Bridge) RefreshMarkets(ctx context.Context) error {
	_, err := b.markets.Refresh(ctx)
	return err
}

// InvalidateMarkets drops the cached terms
func (b *Bridge) InvalidateMarkets() {
	b.markets.Invalidate()
}

func checkAssets(req bridge.ConversionRequest) error {
	in, out := req.InputAssetA, req.OutputAssetA
	if in.AssetType != interaction.AssetTypeERC20 || out.AssetType != interaction.AssetTypeERC20 {
		return fmt.Errorf("input %s, output %s: %w", in.AssetType, out.AssetType, interaction.ErrUnsupportedAsset)
	}
	if in.ERC20Address != out.ERC20Address {
		return fmt.Errorf("input %s and output %s differ: %w",
			in.ERC20Address.Hex(), out.ERC20Address.Hex(), interaction.ErrUnsupportedAsset)
	}
	if req.InputAssetB.IsUsed() || req.OutputAssetB.IsUsed() {
		return fmt.Errorf("second asset legs are not accepted: %w", interaction.ErrUnsupportedAsset)
	}
	return nil
}

func (b *Bridge) termsFor(ctx context.Context, asset common.Address) ([]Term, error) {
	terms, err := b.markets.Get(ctx)
	if err != nil {
		return nil, fmt.Errorf("error loading tranche terms: %w", err)
	}
	result := make([]Term, 0, len(terms))
	for _, t := range terms {
		if t.Asset == asset {
			result = append(result, t)
		}
	}
	if len(result) == 0 {
		return nil, fmt.Errorf("no term listed for %s: %w", asset.Hex(), interaction.ErrUnsupportedAsset)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].Expiry < result[j].Expiry
	})
	return result, nil
}

func (b *Bridge) term(ctx context.Context, req bridge.ConversionRequest) (Term, error) {
	if err := checkAssets(req); err != nil {
		return Term{}, err
	}
	terms, err := b.termsFor(ctx, req.InputAssetA.ERC20Address)
	if err != nil {
		return Term{}, err
	}
	for _, t := range terms {
		if t.Expiry == req.AuxData {
			return t, nil
		}
	}
	return Term{}, fmt.Errorf("expiry %d not listed for %s: %w",
		req.AuxData, req.InputAssetA.ERC20Address.Hex(), interaction.ErrUnsupportedAsset)
}

// ExpectedOutput quotes the value the deposit will be worth at expiry
func (b *Bridge) ExpectedOutput(ctx context.Context, req bridge.ConversionRequest) (*bridge.Quote, error) {
	if req.InputValue == nil || req.InputValue.Sign() <= 0 {
		return nil, errors.New("input value must be positive")
	}
	t, err := b.term(ctx, req)
	if err != nil {
		return nil, err
	}
	now, err := b.clock.Now(ctx)
	if err != nil {
		return nil, fmt.Errorf("error reading clock: %w", err)
	}
	if t.Expiry <= now {
		return nil, fmt.Errorf("term %d already matured at %d: %w", t.Expiry, now, interaction.ErrZeroDuration)
	}
	return &bridge.Quote{
		OutputValueA: FaceValue(req.InputValue, t.RateBps, t.Expiry-now),
		OutputValueB: big.NewInt(0),
		IsAsync:      true,
	}, nil
}

// FaceValue is principal plus simple interest at rateBps per year for duration seconds
func FaceValue(principal *big.Int, rateBps, duration uint64) *big.Int {
	interest := new(big.Int).Mul(principal, new(big.Int).SetUint64(rateBps))
	interest.Mul(interest, new(big.Int).SetUint64(duration))
	interest.Quo(interest, new(big.Int).Mul(basisPoints, big.NewInt(presentvalue.YearSeconds)))
	return interest.Add(interest, principal)
}

// AuxData lists the expiries still open for the asset
func (b *Bridge) AuxData(ctx context.Context, req bridge.ConversionRequest) ([]uint64, error) {
	if err := checkAssets(req); err != nil {
		return nil, err
	}
	terms, err := b.termsFor(ctx, req.InputAssetA.ERC20Address)
	if err != nil {
		return nil, err
	}
	now, err := b.clock.Now(ctx)
	if err != nil {
		return nil, fmt.Errorf("error reading clock: %w", err)
	}
	expiries := make([]uint64, 0, len(terms))
	for _, t := range terms {
		if t.Expiry > now {
			expiries = append(expiries, t.Expiry)
		}
	}
	return expiries, nil
}

// Expiration returns the maturity selected by auxData
func (b *Bridge) Expiration(ctx context.Context, auxData uint64) (uint64, error) {
	terms, err := b.markets.Get(ctx)
	if err != nil {
		return 0, fmt.Errorf("error loading tranche terms: %w", err)
	}
	for _, t := range terms {
		if t.Expiry == auxData {
			return t.Expiry, nil
		}
	}
	return 0, fmt.Errorf("expiry %d not listed: %w", auxData, interaction.ErrUnsupportedAsset)
}

func (b *Bridge) ownInteraction(ctx context.Context, nonce uint64) (*interaction.Interaction, error) {
	i, err := b.registry.Get(ctx, nonce)
	if err != nil {
		return nil, err
	}
	if i.BridgeAddr != b.address {
		return nil, fmt.Errorf("nonce %d belongs to bridge %s: %w", nonce, i.BridgeAddr.Hex(), interaction.ErrUnknownNonce)
	}
	return i, nil
}

// InteractionPresentValue values inputValue units of the interaction in the underlying asset
func (b *Bridge) InteractionPresentValue(
	ctx context.Context, nonce uint64, inputValue *big.Int,
) ([]bridge.AssetValue, error) {
	i, err := b.ownInteraction(ctx, nonce)
	if err != nil {
		return nil, err
	}
	estimate, err := b.estimator.PresentValue(ctx, nonce, inputValue)
	if err != nil || estimate == nil {
		return nil, err
	}
	callData, err := bridge.DecodeCallData(i.BridgeID)
	if err != nil {
		return nil, fmt.Errorf("nonce %d: %w", nonce, err)
	}
	return []bridge.AssetValue{{AssetID: callData.OutputAssetIDA, Value: estimate.Value}}, nil
}

// InteractionAPR returns the annualised yield of the interaction
func (b *Bridge) InteractionAPR(ctx context.Context, nonce uint64) (*presentvalue.Yield, error) {
	if _, err := b.ownInteraction(ctx, nonce); err != nil {
		return nil, err
	}
	return b.estimator.APR(ctx, nonce)
}

// HasFinalised reports whether the interaction has been settled
func (b *Bridge) HasFinalised(ctx context.Context, nonce uint64) (bool, error) {
	if _, err := b.ownInteraction(ctx, nonce); err != nil {
		return false, err
	}
	state, err := b.oracle.State(ctx, nonce)
	if err != nil {
		return false, err
	}
	return state == interaction.StateFinalised, nil
}

// MarketSize returns the input locked in pending interactions of the term
func (b *Bridge) MarketSize(ctx context.Context, req bridge.ConversionRequest) ([]bridge.AssetValue, error) {
	if _, err := b.term(ctx, req); err != nil {
		return nil, err
	}
	pending, err := b.registry.GetByState(ctx, interaction.StatePending)
	if err != nil {
		return nil, err
	}
	total := big.NewInt(0)
	for _, i := range pending {
		if i.BridgeAddr != b.address || i.AuxData != req.AuxData {
			continue
		}
		callData, err := bridge.DecodeCallData(i.BridgeID)
		if err != nil || callData.InputAssetIDA != req.InputAssetA.ID {
			continue
		}
		total.Add(total, i.TotalInputValue)
	}
	return []bridge.AssetValue{{AssetID: req.InputAssetA.ID, Value: total}}, nil
}

// UpdateProjectedTerminalValue revises the value a pending interaction is
// projected to be worth at expiry
func (b *Bridge) UpdateProjectedTerminalValue(ctx context.Context, nonce uint64, value *big.Int) error {
	if _, err := b.ownInteraction(ctx, nonce); err != nil {
		return err
	}
	if err := b.registry.UpdateProjectedTerminalValue(ctx, nonce, value); err != nil {
		return err
	}
	b.logger.Infof("nonce %d projected terminal value revised to %s", nonce, value.String())
	return nil
}
