package eventindex

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/mock"
)

type batchLocatorMock struct {
	mock.Mock
}

func (m *batchLocatorMock) BatchTx(ctx context.Context, batch uint64) (common.Hash, error) {
	args := m.Called(ctx, batch)
	return args.Get(0).(common.Hash), args.Error(1)
}

type historyMock struct {
	mock.Mock
}

func (m *historyMock) TxBlockNumber(ctx context.Context, txHash common.Hash) (uint64, error) {
	args := m.Called(ctx, txHash)
	return args.Get(0).(uint64), args.Error(1)
}

func (m *historyMock) InteractionEvents(ctx context.Context, fromBlock, toBlock uint64) ([]EventRecord, error) {
	args := m.Called(ctx, fromBlock, toBlock)
	events, _ := args.Get(0).([]EventRecord)
	return events, args.Error(1)
}
