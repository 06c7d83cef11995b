package interaction

import (
	"context"
	"math/big"
	"path"
	"testing"

	"github.com/defibridge/bridgedata/log"
	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"
)

func newTestRegistry(t *testing.T) *RegistrySQLStorage {
	t.Helper()

	dbPath := path.Join(t.TempDir(), "registry.sqlite")
	registry, err := NewRegistrySQLStorage(log.GetDefaultLogger(), dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { _ = registry.Close() })
	return registry
}

func testDescriptor(nonce uint64) Descriptor {
	return Descriptor{
		Nonce:           nonce,
		BridgeAddr:      common.HexToAddress("0xb1"),
		BridgeID:        []byte{0x01, 0x02},
		TotalInputValue: big.NewInt(1_000_000),
		EntryTimestamp:  1_700_000_000,
		AuxData:         1_705_000_000,
		IsAsync:         true,
	}
}

func TestRegistryInsertAndGet(t *testing.T) {
	ctx := context.Background()
	registry := newTestRegistry(t)

	d := testDescriptor(5)
	fact := &TerminalFact{Expiry: 1_705_000_000, ProjectedTerminalValue: big.NewInt(1_100_000)}
	require.NoError(t, registry.Insert(ctx, d, fact, StatePending))

	got, err := registry.Get(ctx, 5)
	require.NoError(t, err)
	require.Equal(t, d, got.Descriptor)
	require.Equal(t, StatePending, got.State)
	require.Equal(t, fact, got.Terminal)
	require.Equal(t, d.Hash(), got.Hash())
}

func TestRegistryDuplicateNonceKeepsDescriptor(t *testing.T) {
	ctx := context.Background()
	registry := newTestRegistry(t)

	d := testDescriptor(5)
	require.NoError(t, registry.Insert(ctx, d, &TerminalFact{Expiry: 10, ProjectedTerminalValue: big.NewInt(2)}, StatePending))
	before, err := registry.Get(ctx, 5)
	require.NoError(t, err)

	other := testDescriptor(5)
	other.TotalInputValue = big.NewInt(42)
	other.BridgeAddr = common.HexToAddress("0xb2")
	err = registry.Insert(ctx, other, nil, StateFinalised)
	require.ErrorIs(t, err, ErrDuplicateNonce)

	after, err := registry.Get(ctx, 5)
	require.NoError(t, err)
	require.Equal(t, before.Hash(), after.Hash())
	require.Equal(t, before, after)
}

func TestRegistryUnknownNonce(t *testing.T) {
	ctx := context.Background()
	registry := newTestRegistry(t)

	_, err := registry.Get(ctx, 999)
	require.ErrorIs(t, err, ErrUnknownNonce)
	require.ErrorIs(t, registry.MarkFinalised(ctx, 999, 1), ErrUnknownNonce)
	require.ErrorIs(t, registry.UpdateProjectedTerminalValue(ctx, 999, big.NewInt(1)), ErrUnknownNonce)
}

func TestRegistryFinalisedIsAbsorbing(t *testing.T) {
	ctx := context.Background()
	registry := newTestRegistry(t)

	require.NoError(t, registry.Insert(ctx, testDescriptor(1), &TerminalFact{Expiry: 10, ProjectedTerminalValue: big.NewInt(2)}, StatePending))
	require.NoError(t, registry.MarkFinalised(ctx, 1, 100))
	require.NoError(t, registry.MarkFinalised(ctx, 1, 200))

	got, err := registry.Get(ctx, 1)
	require.NoError(t, err)
	require.Equal(t, StateFinalised, got.State)
	require.Equal(t, uint64(100), got.FinalisedAt)

	err = registry.UpdateProjectedTerminalValue(ctx, 1, big.NewInt(5))
	require.ErrorIs(t, err, ErrAlreadyFinalised)
}

func TestRegistryUpdateProjectedTerminalValue(t *testing.T) {
	ctx := context.Background()
	registry := newTestRegistry(t)

	require.NoError(t, registry.Insert(ctx, testDescriptor(3), &TerminalFact{Expiry: 10, ProjectedTerminalValue: big.NewInt(2)}, StatePending))
	require.NoError(t, registry.UpdateProjectedTerminalValue(ctx, 3, big.NewInt(7)))

	got, err := registry.Get(ctx, 3)
	require.NoError(t, err)
	require.Equal(t, "7", got.Terminal.ProjectedTerminalValue.String())
	require.Equal(t, uint64(10), got.Terminal.Expiry)

	require.Error(t, registry.UpdateProjectedTerminalValue(ctx, 3, big.NewInt(-1)))
}

func TestRegistryRejectsInvalidInput(t *testing.T) {
	ctx := context.Background()
	registry := newTestRegistry(t)

	d := testDescriptor(1)
	require.Error(t, registry.Insert(ctx, d, nil, StateReady))

	d.TotalInputValue = big.NewInt(0)
	require.Error(t, registry.Insert(ctx, d, nil, StatePending))

	d = testDescriptor(1 << 63)
	require.Error(t, registry.Insert(ctx, d, nil, StatePending))
}

func TestRegistryGetByState(t *testing.T) {
	ctx := context.Background()
	registry := newTestRegistry(t)

	for _, nonce := range []uint64{4, 2, 3} {
		require.NoError(t, registry.Insert(ctx, testDescriptor(nonce), &TerminalFact{Expiry: 10, ProjectedTerminalValue: big.NewInt(1)}, StatePending))
	}
	sync := testDescriptor(1)
	sync.IsAsync = false
	require.NoError(t, registry.Insert(ctx, sync, nil, StateFinalised))

	pending, err := registry.GetByState(ctx, StatePending)
	require.NoError(t, err)
	require.Len(t, pending, 3)
	require.Equal(t, uint64(2), pending[0].Nonce)
	require.Equal(t, uint64(4), pending[2].Nonce)

	all, err := registry.GetByState(ctx)
	require.NoError(t, err)
	require.Len(t, all, 4)
	require.Nil(t, all[0].Terminal)
}
