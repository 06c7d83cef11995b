package lifecycle

import (
	"context"
	"errors"
	"math/big"
	"path"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/defibridge/bridgedata/bridge"
	"github.com/defibridge/bridgedata/config/types"
	"github.com/defibridge/bridgedata/eventindex"
	"github.com/defibridge/bridgedata/interaction"
	"github.com/defibridge/bridgedata/ledger"
	"github.com/defibridge/bridgedata/log"
	"github.com/defibridge/bridgedata/presentvalue"
	"github.com/defibridge/bridgedata/readiness"
	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"
)

const (
	start = uint64(1_700_000_000)
	day   = uint64(86_400)
)

var (
	asyncBridgeAddr = common.HexToAddress("0xa5")
	syncBridgeAddr  = common.HexToAddress("0x5c")
)

// testBridge quotes multiplier times the input and matures at the aux data timestamp
type testBridge struct {
	async      bool
	multiplier int64
}

func (b testBridge) ExpectedOutput(_ context.Context, req bridge.ConversionRequest) (*bridge.Quote, error) {
	if req.InputAssetA.AssetType != interaction.AssetTypeERC20 {
		return nil, interaction.ErrUnsupportedAsset
	}
	return &bridge.Quote{
		OutputValueA: new(big.Int).Mul(req.InputValue, big.NewInt(b.multiplier)),
		OutputValueB: big.NewInt(0),
		IsAsync:      b.async,
	}, nil
}

func (b testBridge) AuxData(context.Context, bridge.ConversionRequest) ([]uint64, error) {
	return nil, nil
}

func (b testBridge) Capabilities() bridge.Capabilities {
	if !b.async {
		return bridge.Capabilities{}
	}
	return bridge.Capabilities{Expiration: b}
}

func (b testBridge) Expiration(_ context.Context, auxData uint64) (uint64, error) {
	return auxData, nil
}

// countingLedger counts dispatches and can fail them after they reached the ledger
type countingLedger struct {
	*ledger.Simulated
	converts     atomic.Int32
	processes    atomic.Int32
	afterProcess error
}

func (l *countingLedger) Convert(ctx context.Context, req ledger.ConvertRequest) (*ledger.ConvertResult, error) {
	l.converts.Add(1)
	return l.Simulated.Convert(ctx, req)
}

func (l *countingLedger) ProcessAsyncInteraction(ctx context.Context, nonce uint64) (*ledger.SettlementResult, error) {
	l.processes.Add(1)
	res, err := l.Simulated.ProcessAsyncInteraction(ctx, nonce)
	if err == nil && l.afterProcess != nil {
		return nil, l.afterProcess
	}
	return res, err
}

type testEnv struct {
	coordinator *Coordinator
	registry    *interaction.RegistrySQLStorage
	ledger      *countingLedger
	oracle      *readiness.Oracle
	bridges     *bridge.Directory
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	dir := bridge.NewDirectory()
	dir.Register(asyncBridgeAddr, testBridge{async: true, multiplier: 10})
	dir.Register(syncBridgeAddr, testBridge{async: false, multiplier: 1})
	sim, err := ledger.NewSimulated(start, 4, dir)
	require.NoError(t, err)
	l := &countingLedger{Simulated: sim}

	registry, err := interaction.NewRegistrySQLStorage(log.GetDefaultLogger(), path.Join(t.TempDir(), "lifecycle.sqlite"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = registry.Close() })

	oracle := readiness.New(registry, l)
	c := New(log.GetDefaultLogger(), Config{RefreshTimeout: types.NewDuration(time.Second)}, registry, oracle, l, dir)
	return &testEnv{
		coordinator: c,
		registry:    registry,
		ledger:      l,
		oracle:      oracle,
		bridges:     dir,
	}
}

func eth(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), big.NewInt(1_000_000_000_000_000_000))
}

func erc20(id uint64) interaction.Asset {
	return interaction.Asset{
		ID:           id,
		ERC20Address: common.BigToAddress(new(big.Int).SetUint64(id)),
		AssetType:    interaction.AssetTypeERC20,
	}
}

func registerReq(addr common.Address, total *big.Int, expiry uint64) RegisterRequest {
	return RegisterRequest{
		BridgeAddr:      addr,
		InputAssetA:     erc20(1),
		OutputAssetA:    erc20(2),
		TotalInputValue: total,
		AuxData:         expiry,
	}
}

func TestRegisterAsync(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	res, err := env.coordinator.Register(ctx, registerReq(asyncBridgeAddr, eth(1), start+60*day))
	require.NoError(t, err)
	require.Equal(t, uint64(0), res.Interaction.Nonce)
	require.Equal(t, interaction.StatePending, res.Interaction.State)
	require.Equal(t, eth(10), res.OutputValueA)
	require.NotEqual(t, common.Hash{}, res.TxHash)

	stored, err := env.registry.Get(ctx, 0)
	require.NoError(t, err)
	require.Equal(t, res.Interaction.Descriptor.Hash(), stored.Descriptor.Hash())
	require.Equal(t, start, stored.EntryTimestamp)
	require.True(t, stored.IsAsync)
	require.Equal(t, start+60*day, stored.Terminal.Expiry)
	require.Equal(t, eth(10), stored.Terminal.ProjectedTerminalValue)

	callData, err := bridge.DecodeCallData(stored.BridgeID)
	require.NoError(t, err)
	require.Equal(t, uint64(1), callData.InputAssetIDA)
	require.Equal(t, uint64(2), callData.OutputAssetIDA)
	require.Equal(t, start+60*day, callData.AuxData)
}

func TestRegisterSyncIsFinalised(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	res, err := env.coordinator.Register(ctx, registerReq(syncBridgeAddr, eth(1), 0))
	require.NoError(t, err)
	require.Equal(t, interaction.StateFinalised, res.Interaction.State)
	require.Nil(t, res.Interaction.Terminal)

	pending, err := env.coordinator.Pending(ctx)
	require.NoError(t, err)
	require.Empty(t, pending)

	_, err = env.coordinator.Finalise(ctx, res.Interaction.Nonce)
	require.ErrorIs(t, err, interaction.ErrAlreadyFinalised)
	require.Equal(t, int32(0), env.ledger.processes.Load())
}

func TestRegisterDuplicateNonceKeepsDescriptor(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	nonce := uint64(5)
	req := registerReq(asyncBridgeAddr, eth(1), start+60*day)
	req.Nonce = &nonce
	_, err := env.coordinator.Register(ctx, req)
	require.NoError(t, err)
	stored, err := env.registry.Get(ctx, nonce)
	require.NoError(t, err)
	hash := stored.Descriptor.Hash()

	again := registerReq(asyncBridgeAddr, eth(3), start+90*day)
	again.Nonce = &nonce
	_, err = env.coordinator.Register(ctx, again)
	require.ErrorIs(t, err, interaction.ErrDuplicateNonce)
	require.Equal(t, int32(1), env.ledger.converts.Load())

	stored, err = env.registry.Get(ctx, nonce)
	require.NoError(t, err)
	require.Equal(t, hash, stored.Descriptor.Hash())
}

func TestRegisterDuplicateNonceRejectedByLedger(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	// registered on the ledger by another process, unknown locally
	nonce := uint64(7)
	_, err := env.ledger.Simulated.Convert(ctx, ledger.ConvertRequest{
		BridgeAddr:      asyncBridgeAddr,
		InputAssetA:     erc20(1),
		TotalInputValue: eth(1),
		AuxData:         start + day,
		Nonce:           &nonce,
	})
	require.NoError(t, err)

	req := registerReq(asyncBridgeAddr, eth(1), start+60*day)
	req.Nonce = &nonce
	_, err = env.coordinator.Register(ctx, req)
	require.ErrorIs(t, err, interaction.ErrDuplicateNonce)
	_, err = env.registry.Get(ctx, nonce)
	require.ErrorIs(t, err, interaction.ErrUnknownNonce)
}

// slowMiningLedger reports conversions as mined delay seconds after submission
type slowMiningLedger struct {
	*countingLedger
	delay uint64
}

func (l *slowMiningLedger) Convert(ctx context.Context, req ledger.ConvertRequest) (*ledger.ConvertResult, error) {
	res, err := l.countingLedger.Convert(ctx, req)
	if err != nil {
		return nil, err
	}
	res.Timestamp += l.delay
	return res, nil
}

func TestRegisterMinedAtExpiryIsRejected(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	slow := &slowMiningLedger{countingLedger: env.ledger, delay: day}
	c := New(log.GetDefaultLogger(), Config{}, env.registry, env.oracle, slow, env.bridges)

	_, err := c.Register(ctx, registerReq(asyncBridgeAddr, eth(1), start+day))
	require.ErrorIs(t, err, interaction.ErrZeroDuration)
	require.ErrorIs(t, err, interaction.ErrDivideByZero)
	require.Equal(t, int32(1), env.ledger.converts.Load())

	_, err = env.registry.Get(ctx, 0)
	require.ErrorIs(t, err, interaction.ErrUnknownNonce)

	// mined before expiry is kept
	slow.delay = day - 1
	res, err := c.Register(ctx, registerReq(asyncBridgeAddr, eth(1), start+day))
	require.NoError(t, err)
	require.Equal(t, start+day-1, res.Interaction.EntryTimestamp)
}

func TestRegisterRejections(t *testing.T) {
	ctx := context.Background()

	unsupported := registerReq(asyncBridgeAddr, eth(1), start+60*day)
	unsupported.InputAssetA.AssetType = interaction.AssetTypeETH
	tooBig := interaction.MaxNonce + 1
	outOfRange := registerReq(asyncBridgeAddr, eth(1), start+60*day)
	outOfRange.Nonce = &tooBig

	testCases := []struct {
		name        string
		req         RegisterRequest
		expectedErr error
	}{
		{
			name:        "zero duration",
			req:         registerReq(asyncBridgeAddr, eth(1), start),
			expectedErr: interaction.ErrZeroDuration,
		},
		{
			name:        "expiry in the past",
			req:         registerReq(asyncBridgeAddr, eth(1), start-day),
			expectedErr: interaction.ErrDivideByZero,
		},
		{
			name:        "unsupported asset",
			req:         unsupported,
			expectedErr: interaction.ErrUnsupportedAsset,
		},
		{
			name:        "unknown bridge",
			req:         registerReq(common.HexToAddress("0xdead"), eth(1), start+60*day),
			expectedErr: interaction.ErrUnknownBridge,
		},
		{
			name:        "zero input",
			req:         registerReq(asyncBridgeAddr, big.NewInt(0), start+60*day),
			expectedErr: ErrInvalidRequest,
		},
		{
			name:        "nil input",
			req:         registerReq(asyncBridgeAddr, nil, start+60*day),
			expectedErr: ErrInvalidRequest,
		},
		{
			name:        "nonce out of range",
			req:         outOfRange,
			expectedErr: ErrInvalidRequest,
		},
	}

	for _, tc := range testCases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			env := newTestEnv(t)

			_, err := env.coordinator.Register(ctx, tc.req)
			require.ErrorIs(t, err, tc.expectedErr)
			require.Equal(t, int32(0), env.ledger.converts.Load())

			stored, err := env.registry.GetByState(ctx, interaction.StatePending, interaction.StateFinalised)
			require.NoError(t, err)
			require.Empty(t, stored)
		})
	}
}

func TestFinaliseLifecycle(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	res, err := env.coordinator.Register(ctx, registerReq(asyncBridgeAddr, eth(1), start+60*day))
	require.NoError(t, err)
	nonce := res.Interaction.Nonce

	_, err = env.coordinator.Finalise(ctx, nonce)
	require.ErrorIs(t, err, interaction.ErrNotReady)
	require.Equal(t, int32(0), env.ledger.processes.Load())

	env.ledger.SetTime(start + 60*day)
	settlement, err := env.coordinator.Finalise(ctx, nonce)
	require.NoError(t, err)
	require.Equal(t, eth(10), settlement.OutputValueA)

	stored, err := env.registry.Get(ctx, nonce)
	require.NoError(t, err)
	require.Equal(t, interaction.StateFinalised, stored.State)
	require.Equal(t, start+60*day, stored.FinalisedAt)

	_, err = env.coordinator.Finalise(ctx, nonce)
	require.ErrorIs(t, err, interaction.ErrAlreadyFinalised)

	_, err = env.coordinator.Finalise(ctx, 999)
	require.ErrorIs(t, err, interaction.ErrUnknownNonce)
	require.Equal(t, 0, env.coordinator.locks.len())
}

func TestFinaliseConcurrentCallersExactlyOneSucceeds(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	res, err := env.coordinator.Register(ctx, registerReq(asyncBridgeAddr, eth(1), start+day))
	require.NoError(t, err)
	env.ledger.SetTime(start + day)

	const callers = 8
	var (
		wg        sync.WaitGroup
		successes atomic.Int32
		errs      = make(chan error, callers)
	)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := env.coordinator.Finalise(ctx, res.Interaction.Nonce); err != nil {
				errs <- err
				return
			}
			successes.Add(1)
		}()
	}
	wg.Wait()
	close(errs)

	require.Equal(t, int32(1), successes.Load())
	require.Equal(t, int32(1), env.ledger.processes.Load())
	for err := range errs {
		require.ErrorIs(t, err, interaction.ErrAlreadyFinalised)
	}
	require.Equal(t, 0, env.coordinator.locks.len())
}

func TestFinaliseByCompetingProcessRefreshesState(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	res, err := env.coordinator.Register(ctx, registerReq(asyncBridgeAddr, eth(1), start+day))
	require.NoError(t, err)
	nonce := res.Interaction.Nonce
	env.ledger.SetTime(start + 2*day)

	// another process settles it first
	_, err = env.ledger.Simulated.ProcessAsyncInteraction(ctx, nonce)
	require.NoError(t, err)

	_, err = env.coordinator.Finalise(ctx, nonce)
	require.ErrorIs(t, err, interaction.ErrAlreadyFinalised)
	require.ErrorIs(t, err, interaction.ErrUnknownNonce)

	stored, err := env.registry.Get(ctx, nonce)
	require.NoError(t, err)
	require.Equal(t, interaction.StateFinalised, stored.State)
	require.Equal(t, start+2*day, stored.FinalisedAt)
}

func TestFinaliseRefreshesAfterCancelledCaller(t *testing.T) {
	env := newTestEnv(t)

	res, err := env.coordinator.Register(context.Background(), registerReq(asyncBridgeAddr, eth(1), start+day))
	require.NoError(t, err)
	nonce := res.Interaction.Nonce
	env.ledger.SetTime(start + day)

	// the tx went through but the caller stopped waiting for it
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	env.ledger.afterProcess = context.Canceled

	_, err = env.coordinator.Finalise(ctx, nonce)
	require.ErrorIs(t, err, context.Canceled)
	require.ErrorIs(t, err, interaction.ErrAlreadyFinalised)

	stored, err := env.registry.Get(context.Background(), nonce)
	require.NoError(t, err)
	require.Equal(t, interaction.StateFinalised, stored.State)
}

func TestRefresh(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	res, err := env.coordinator.Register(ctx, registerReq(asyncBridgeAddr, eth(1), start+day))
	require.NoError(t, err)
	nonce := res.Interaction.Nonce

	state, err := env.coordinator.Refresh(ctx, nonce)
	require.NoError(t, err)
	require.Equal(t, interaction.StatePending, state)

	env.ledger.SetTime(start + day)
	state, err = env.coordinator.Refresh(ctx, nonce)
	require.NoError(t, err)
	require.Equal(t, interaction.StateReady, state)

	_, err = env.ledger.Simulated.ProcessAsyncInteraction(ctx, nonce)
	require.NoError(t, err)
	state, err = env.coordinator.Refresh(ctx, nonce)
	require.NoError(t, err)
	require.Equal(t, interaction.StateFinalised, state)

	ok, err := env.oracle.CanFinalise(ctx, nonce)
	require.NoError(t, err)
	require.False(t, ok)

	_, err = env.coordinator.Refresh(ctx, 999)
	require.ErrorIs(t, err, interaction.ErrUnknownNonce)
}

func TestPendingAndFinaliseReady(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	for _, expiry := range []uint64{start + day, start + 2*day, start + 3*day} {
		_, err := env.coordinator.Register(ctx, registerReq(asyncBridgeAddr, eth(1), expiry))
		require.NoError(t, err)
	}
	_, err := env.coordinator.Register(ctx, registerReq(syncBridgeAddr, eth(1), 0))
	require.NoError(t, err)

	env.ledger.SetTime(start + 2*day)
	pending, err := env.coordinator.Pending(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 3)
	states := make([]interaction.State, 0, len(pending))
	for _, i := range pending {
		states = append(states, i.State)
	}
	require.Equal(t, []interaction.State{
		interaction.StateReady, interaction.StateReady, interaction.StatePending,
	}, states)

	settled, err := env.coordinator.FinaliseReady(ctx)
	require.NoError(t, err)
	require.Len(t, settled, 2)
	require.Equal(t, uint64(0), settled[0].Nonce)
	require.Equal(t, uint64(1), settled[1].Nonce)

	settled, err = env.coordinator.FinaliseReady(ctx)
	require.NoError(t, err)
	require.Empty(t, settled)

	pending, err = env.coordinator.Pending(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	require.Equal(t, uint64(2), pending[0].Nonce)
}

func TestFinaliseReadyReportsFailures(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	_, err := env.coordinator.Register(ctx, registerReq(asyncBridgeAddr, eth(1), start+day))
	require.NoError(t, err)
	env.ledger.SetTime(start + day)

	errBoom := errors.New("boom")
	env.ledger.afterProcess = errBoom
	faulty := &pendingLedger{countingLedger: env.ledger}
	c := New(log.GetDefaultLogger(), Config{}, env.registry, env.oracle, faulty, env.bridges)

	settled, err := c.FinaliseReady(ctx)
	require.ErrorIs(t, err, errBoom)
	require.Empty(t, settled)

	stored, err := env.registry.Get(ctx, 0)
	require.NoError(t, err)
	require.Equal(t, interaction.StatePending, stored.State)
}

// pendingLedger fails every settlement and keeps reporting interactions pending
type pendingLedger struct {
	*countingLedger
}

func (l *pendingLedger) ProcessAsyncInteraction(context.Context, uint64) (*ledger.SettlementResult, error) {
	l.processes.Add(1)
	return nil, l.afterProcess
}

func (l *pendingLedger) InteractionStatus(context.Context, uint64) (ledger.Status, error) {
	return ledger.StatusPending, nil
}

func TestPresentValueOfRegisteredInteraction(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	res, err := env.coordinator.Register(ctx, registerReq(asyncBridgeAddr, eth(1), start+60*day))
	require.NoError(t, err)

	index, err := eventindex.New(log.GetDefaultLogger(), eventindex.Config{InteractionsPerBatch: 4},
		env.ledger.Simulated, env.ledger.Simulated)
	require.NoError(t, err)
	estimator := presentvalue.NewEstimator(log.GetDefaultLogger(), index, env.registry, env.ledger)

	env.ledger.SetTime(start + 30*day)
	estimate, err := estimator.PresentValue(ctx, res.Interaction.Nonce, nil)
	require.NoError(t, err)
	require.Equal(t, "5500000000000000000", estimate.Value.String())

	env.ledger.SetTime(start + 60*day)
	_, err = env.coordinator.Finalise(ctx, res.Interaction.Nonce)
	require.NoError(t, err)
	estimate, err = estimator.PresentValue(ctx, res.Interaction.Nonce, nil)
	require.NoError(t, err)
	require.Equal(t, eth(10), estimate.Value)
}

func TestNonceLocksAreReleased(t *testing.T) {
	locks := newNonceLocks()
	unlockA := locks.lock(1)
	unlockB := locks.lock(2)
	require.Equal(t, 2, locks.len())

	acquired := make(chan struct{})
	go func() {
		unlock := locks.lock(1)
		close(acquired)
		unlock()
	}()
	select {
	case <-acquired:
		t.Fatal("lock of nonce 1 acquired twice")
	case <-time.After(20 * time.Millisecond):
	}

	unlockA()
	<-acquired
	unlockB()
	require.Eventually(t, func() bool { return locks.len() == 0 }, time.Second, time.Millisecond)
}
