package rpc

import (
	"context"
	"math/big"

	"github.com/defibridge/bridgedata/interaction"
	"github.com/defibridge/bridgedata/ledger"
	"github.com/defibridge/bridgedata/lifecycle"
	"github.com/defibridge/bridgedata/presentvalue"
	"github.com/stretchr/testify/mock"
)

type coordinatorMock struct {
	mock.Mock
}

func (m *coordinatorMock) Register(ctx context.Context, req lifecycle.RegisterRequest) (*lifecycle.RegisterResult, error) {
	args := m.Called(ctx, req)
	res, _ := args.Get(0).(*lifecycle.RegisterResult)
	return res, args.Error(1)
}

func (m *coordinatorMock) Finalise(ctx context.Context, nonce uint64) (*ledger.SettlementResult, error) {
	args := m.Called(ctx, nonce)
	res, _ := args.Get(0).(*ledger.SettlementResult)
	return res, args.Error(1)
}

func (m *coordinatorMock) Pending(ctx context.Context) ([]*interaction.Interaction, error) {
	args := m.Called(ctx)
	res, _ := args.Get(0).([]*interaction.Interaction)
	return res, args.Error(1)
}

type oracleMock struct {
	mock.Mock
}

func (m *oracleMock) CanFinalise(ctx context.Context, nonce uint64) (bool, error) {
	args := m.Called(ctx, nonce)
	return args.Bool(0), args.Error(1)
}

func (m *oracleMock) StateOf(ctx context.Context, i *interaction.Interaction) (interaction.State, error) {
	args := m.Called(ctx, i)
	state, _ := args.Get(0).(interaction.State)
	return state, args.Error(1)
}

type registryMock struct {
	mock.Mock
}

func (m *registryMock) Get(ctx context.Context, nonce uint64) (*interaction.Interaction, error) {
	args := m.Called(ctx, nonce)
	res, _ := args.Get(0).(*interaction.Interaction)
	return res, args.Error(1)
}

type estimatorMock struct {
	mock.Mock
}

func (m *estimatorMock) PresentValue(
	ctx context.Context, nonce uint64, inputValue *big.Int,
) (*presentvalue.Estimate, error) {
	args := m.Called(ctx, nonce, inputValue)
	res, _ := args.Get(0).(*presentvalue.Estimate)
	return res, args.Error(1)
}

func (m *estimatorMock) APR(ctx context.Context, nonce uint64) (*presentvalue.Yield, error) {
	args := m.Called(ctx, nonce)
	res, _ := args.Get(0).(*presentvalue.Yield)
	return res, args.Error(1)
}
