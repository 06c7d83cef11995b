package tranche

import (
	"context"
	"fmt"
	"math/big"
	"path"
	"sync/atomic"
	"testing"

	"github.com/defibridge/bridgedata/bridge"
	"github.com/defibridge/bridgedata/eventindex"
	"github.com/defibridge/bridgedata/interaction"
	"github.com/defibridge/bridgedata/log"
	"github.com/defibridge/bridgedata/presentvalue"
	"github.com/defibridge/bridgedata/readiness"
	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"
)

const (
	day   = uint64(24 * 3600)
	start = uint64(1_700_000_000)
)

var (
	bridgeAddr = common.HexToAddress("0xb1")
	dai        = interaction.Asset{ID: 1, ERC20Address: common.HexToAddress("0xda1"), AssetType: interaction.AssetTypeERC20}
	usdc       = interaction.Asset{ID: 2, ERC20Address: common.HexToAddress("0x05dc"), AssetType: interaction.AssetTypeERC20}
	eth        = interaction.Asset{ID: 0, AssetType: interaction.AssetTypeETH}
)

type testClock struct{ now atomic.Uint64 }

func (c *testClock) Now(context.Context) (uint64, error) { return c.now.Load(), nil }

type entryEvents map[uint64]eventindex.EventRecord

func (e entryEvents) Lookup(_ context.Context, nonce uint64) (*eventindex.EventRecord, error) {
	r, ok := e[nonce]
	if !ok {
		return nil, fmt.Errorf("nonce %d: %w", nonce, eventindex.ErrEventNotFound)
	}
	return &r, nil
}

type countingMarkets struct {
	terms []Term
	calls atomic.Int32
}

func (m *countingMarkets) Terms(context.Context) ([]Term, error) {
	m.calls.Add(1)
	return append([]Term(nil), m.terms...), nil
}

type fixture struct {
	bridge   *Bridge
	registry *interaction.RegistrySQLStorage
	clock    *testClock
	events   entryEvents
	markets  *countingMarkets
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	logger := log.GetDefaultLogger()
	registry, err := interaction.NewRegistrySQLStorage(logger, path.Join(t.TempDir(), "tranche.sqlite"))
	require.NoError(t, err)
	clock := &testClock{}
	clock.now.Store(start)
	events := entryEvents{}
	markets := &countingMarkets{terms: []Term{
		{AssetID: dai.ID, Asset: dai.ERC20Address, Expiry: start + 90*day, RateBps: 500},
		{AssetID: dai.ID, Asset: dai.ERC20Address, Expiry: start + 30*day, RateBps: 400},
		{AssetID: dai.ID, Asset: dai.ERC20Address, Expiry: start - day, RateBps: 400},
	}}
	estimator := presentvalue.NewEstimator(logger, events, registry, clock)
	oracle := readiness.New(registry, clock)
	b := New(logger, Config{Address: bridgeAddr}, markets, estimator, registry, oracle, clock)
	return &fixture{bridge: b, registry: registry, clock: clock, events: events, markets: markets}
}

func daiRequest(aux uint64, value int64) bridge.ConversionRequest {
	return bridge.ConversionRequest{
		InputAssetA:  dai,
		OutputAssetA: dai,
		AuxData:      aux,
		InputValue:   big.NewInt(value),
	}
}

func (f *fixture) register(t *testing.T, nonce uint64, req bridge.ConversionRequest) {
	t.Helper()
	ctx := context.Background()
	quote, err := f.bridge.ExpectedOutput(ctx, req)
	require.NoError(t, err)
	now, _ := f.clock.Now(ctx)
	require.NoError(t, f.registry.Insert(ctx, interaction.Descriptor{
		Nonce:           nonce,
		BridgeAddr:      bridgeAddr,
		BridgeID:        bridge.NewCallData(req).Encode(),
		TotalInputValue: req.InputValue,
		EntryTimestamp:  now,
		AuxData:         req.AuxData,
		IsAsync:         true,
	}, &interaction.TerminalFact{Expiry: req.AuxData, ProjectedTerminalValue: quote.OutputValueA}, interaction.StatePending))
	f.events[nonce] = eventindex.EventRecord{Nonce: nonce, TotalInputValue: req.InputValue, Timestamp: now}
}

func TestExpectedOutput(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	quote, err := f.bridge.ExpectedOutput(ctx, daiRequest(start+90*day, 1_000_000))
	require.NoError(t, err)
	require.True(t, quote.IsAsync)
	require.Equal(t, FaceValue(big.NewInt(1_000_000), 500, 90*day), quote.OutputValueA)
	require.Equal(t, int64(1_012_328), quote.OutputValueA.Int64())
}

func TestExpectedOutputRejectsAssets(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	tests := []struct {
		name string
		req  bridge.ConversionRequest
	}{
		{"different output", bridge.ConversionRequest{InputAssetA: dai, OutputAssetA: usdc, AuxData: start + 90*day, InputValue: big.NewInt(1)}},
		{"eth input", bridge.ConversionRequest{InputAssetA: eth, OutputAssetA: eth, AuxData: start + 90*day, InputValue: big.NewInt(1)}},
		{"unlisted asset", bridge.ConversionRequest{InputAssetA: usdc, OutputAssetA: usdc, AuxData: start + 90*day, InputValue: big.NewInt(1)}},
		{"unlisted expiry", daiRequest(start+91*day, 1)},
		{"second leg", bridge.ConversionRequest{InputAssetA: dai, InputAssetB: usdc, OutputAssetA: dai, AuxData: start + 90*day, InputValue: big.NewInt(1)}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.bridge.ExpectedOutput(ctx, tt.req)
			require.ErrorIs(t, err, interaction.ErrUnsupportedAsset)
		})
	}

	_, err := f.bridge.ExpectedOutput(ctx, daiRequest(start-day, 1))
	require.ErrorIs(t, err, interaction.ErrZeroDuration)
}

func TestAuxDataListsOpenExpiries(t *testing.T) {
	f := newFixture(t)

	aux, err := f.bridge.AuxData(context.Background(), daiRequest(0, 1))
	require.NoError(t, err)
	require.Equal(t, []uint64{start + 30*day, start + 90*day}, aux)

	_, err = f.bridge.AuxData(context.Background(), bridge.ConversionRequest{InputAssetA: usdc, OutputAssetA: usdc})
	require.ErrorIs(t, err, interaction.ErrUnsupportedAsset)
}

func TestExpiration(t *testing.T) {
	f := newFixture(t)

	expiry, err := f.bridge.Expiration(context.Background(), start+30*day)
	require.NoError(t, err)
	require.Equal(t, start+30*day, expiry)

	_, err = f.bridge.Expiration(context.Background(), start)
	require.ErrorIs(t, err, interaction.ErrUnsupportedAsset)
}

func TestMarketsAreCachedUntilRefreshed(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := f.bridge.Expiration(ctx, start+30*day)
		require.NoError(t, err)
	}
	require.Equal(t, int32(1), f.markets.calls.Load())

	f.markets.terms = append(f.markets.terms, Term{AssetID: dai.ID, Asset: dai.ERC20Address, Expiry: start + 180*day, RateBps: 600})
	_, err := f.bridge.Expiration(ctx, start+180*day)
	require.ErrorIs(t, err, interaction.ErrUnsupportedAsset)

	require.NoError(t, f.bridge.RefreshMarkets(ctx))
	_, err = f.bridge.Expiration(ctx, start+180*day)
	require.NoError(t, err)

	f.bridge.InvalidateMarkets()
	_, err = f.bridge.Expiration(ctx, start+180*day)
	require.NoError(t, err)
	require.Equal(t, int32(3), f.markets.calls.Load())
}

func TestCapabilities(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	caps := f.bridge.Capabilities()
	require.NotNil(t, caps.PresentValue)
	require.NotNil(t, caps.APR)
	require.NotNil(t, caps.Expiration)
	require.NotNil(t, caps.Finalisation)
	require.NotNil(t, caps.MarketSize)

	f.register(t, 7, daiRequest(start+90*day, 1_000_000))
	f.register(t, 8, daiRequest(start+90*day, 500_000))
	f.register(t, 9, daiRequest(start+30*day, 1))

	f.clock.now.Store(start + 45*day)
	values, err := caps.PresentValue.InteractionPresentValue(ctx, 7, nil)
	require.NoError(t, err)
	require.Len(t, values, 1)
	require.Equal(t, dai.ID, values[0].AssetID)
	require.Equal(t, int64(1_006_164), values[0].Value.Int64())

	y, err := caps.APR.InteractionAPR(ctx, 7)
	require.NoError(t, err)
	require.Equal(t, "5.00", y.Percentage)

	size, err := caps.MarketSize.MarketSize(ctx, daiRequest(start+90*day, 1))
	require.NoError(t, err)
	require.Equal(t, int64(1_500_000), size[0].Value.Int64())

	done, err := caps.Finalisation.HasFinalised(ctx, 7)
	require.NoError(t, err)
	require.False(t, done)
	require.NoError(t, f.registry.MarkFinalised(ctx, 7, start+91*day))
	done, err = caps.Finalisation.HasFinalised(ctx, 7)
	require.NoError(t, err)
	require.True(t, done)

	// unknown event
	delete(f.events, 8)
	values, err = caps.PresentValue.InteractionPresentValue(ctx, 8, nil)
	require.NoError(t, err)
	require.Nil(t, values)
}

func TestUpdateProjectedTerminalValue(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.register(t, 1, daiRequest(start+90*day, 1_000_000))

	require.NoError(t, f.bridge.UpdateProjectedTerminalValue(ctx, 1, big.NewInt(1_100_000)))
	i, err := f.registry.Get(ctx, 1)
	require.NoError(t, err)
	require.Equal(t, int64(1_100_000), i.Terminal.ProjectedTerminalValue.Int64())

	require.ErrorIs(t, f.bridge.UpdateProjectedTerminalValue(ctx, 2, big.NewInt(1)), interaction.ErrUnknownNonce)
}
