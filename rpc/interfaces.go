package rpc

import (
	"context"
	"math/big"

	"github.com/defibridge/bridgedata/interaction"
	"github.com/defibridge/bridgedata/ledger"
	"github.com/defibridge/bridgedata/lifecycle"
	"github.com/defibridge/bridgedata/presentvalue"
)

type Coordinator interface {
	Register(ctx context.Context, req lifecycle.RegisterRequest) (*lifecycle.RegisterResult, error)
	Finalise(ctx context.Context, nonce uint64) (*ledger.SettlementResult, error)
	Pending(ctx context.Context) ([]*interaction.Interaction, error)
}

type ReadinessOracle interface {
	CanFinalise(ctx context.Context, nonce uint64) (bool, error)
	StateOf(ctx context.Context, i *interaction.Interaction) (interaction.State, error)
}

type InteractionGetter interface {
	Get(ctx context.Context, nonce uint64) (*interaction.Interaction, error)
}

type Estimator interface {
	PresentValue(ctx context.Context, nonce uint64, inputValue *big.Int) (*presentvalue.Estimate, error)
	APR(ctx context.Context, nonce uint64) (*presentvalue.Yield, error)
}
