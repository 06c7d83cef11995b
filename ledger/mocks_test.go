package ledger

import (
	"context"
	"math/big"

	ethtxtypes "github.com/0xPolygon/zkevm-ethtx-manager/types"
	"github.com/defibridge/bridgedata/etherman"
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/mock"
)

// ethClientMock implements the calls the ledger makes, any other call panics
type ethClientMock struct {
	etherman.EthClienter
	mock.Mock
}

func (m *ethClientMock) CallContract(
	ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int,
) ([]byte, error) {
	args := m.Called(ctx, msg, blockNumber)
	out, _ := args.Get(0).([]byte)
	return out, args.Error(1)
}

func (m *ethClientMock) HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error) {
	args := m.Called(ctx, number)
	header, _ := args.Get(0).(*types.Header)
	return header, args.Error(1)
}

func (m *ethClientMock) TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error) {
	args := m.Called(ctx, txHash)
	receipt, _ := args.Get(0).(*types.Receipt)
	return receipt, args.Error(1)
}

func (m *ethClientMock) FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error) {
	args := m.Called(ctx, q)
	logs, _ := args.Get(0).([]types.Log)
	return logs, args.Error(1)
}

type ethTxManagerMock struct {
	mock.Mock
}

func (m *ethTxManagerMock) Remove(ctx context.Context, id common.Hash) error {
	return m.Called(ctx, id).Error(0)
}

func (m *ethTxManagerMock) ResultsByStatus(
	ctx context.Context, statuses []ethtxtypes.MonitoredTxStatus,
) ([]ethtxtypes.MonitoredTxResult, error) {
	args := m.Called(ctx, statuses)
	results, _ := args.Get(0).([]ethtxtypes.MonitoredTxResult)
	return results, args.Error(1)
}

func (m *ethTxManagerMock) Result(ctx context.Context, id common.Hash) (ethtxtypes.MonitoredTxResult, error) {
	args := m.Called(ctx, id)
	result, _ := args.Get(0).(ethtxtypes.MonitoredTxResult)
	return result, args.Error(1)
}

func (m *ethTxManagerMock) Add(
	ctx context.Context,
	to *common.Address,
	value *big.Int,
	data []byte,
	gasOffset uint64,
	sidecar *types.BlobTxSidecar,
) (common.Hash, error) {
	args := m.Called(ctx, to, value, data, gasOffset, sidecar)
	hash, _ := args.Get(0).(common.Hash)
	return hash, args.Error(1)
}
