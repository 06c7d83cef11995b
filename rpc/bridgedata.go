package rpc

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/0xPolygon/cdk-rpc/rpc"
	"github.com/defibridge/bridgedata/interaction"
	"github.com/defibridge/bridgedata/lifecycle"
	"github.com/defibridge/bridgedata/log"
	"github.com/defibridge/bridgedata/rpc/types"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

const (
	// BRIDGEDATA is the namespace of the bridgedata service
	BRIDGEDATA = "bridgedata"
	meterName  = "github.com/defibridge/bridgedata/rpc"
)

// BridgeDataEndpoints contains implementations for the "bridgedata" RPC endpoints
type BridgeDataEndpoints struct {
	logger       *log.Logger
	meter        metric.Meter
	readTimeout  time.Duration
	writeTimeout time.Duration
	coordinator  Coordinator
	oracle       ReadinessOracle
	registry     InteractionGetter
	estimator    Estimator
}

// NewBridgeDataEndpoints returns BridgeDataEndpoints
func NewBridgeDataEndpoints(
	logger *log.Logger,
	writeTimeout time.Duration,
	readTimeout time.Duration,
	coordinator Coordinator,
	oracle ReadinessOracle,
	registry InteractionGetter,
	estimator Estimator,
) *BridgeDataEndpoints {
	meter := otel.Meter(meterName)
	return &BridgeDataEndpoints{
		logger:       logger,
		meter:        meter,
		readTimeout:  readTimeout,
		writeTimeout: writeTimeout,
		coordinator:  coordinator,
		oracle:       oracle,
		registry:     registry,
		estimator:    estimator,
	}
}

func (b *BridgeDataEndpoints) count(ctx context.Context, name string) {
	c, merr := b.meter.Int64Counter(name)
	if merr != nil {
		b.logger.Warnf("failed to create %s counter: %s", name, merr)
	}
	c.Add(ctx, 1)
}

// toRPCError keeps lookups of unknown interactions apart from real failures
func toRPCError(msg string, err error) rpc.Error {
	code := rpc.DefaultErrorCode
	if errors.Is(err, interaction.ErrUnknownNonce) || errors.Is(err, interaction.ErrEventNotFound) {
		code = rpc.NotFoundErrorCode
	}
	return rpc.NewRPCError(code, fmt.Sprintf("%s, error: %s", msg, err))
}

// CanFinalise returns true when the interaction is past its expiry and not finalised
//
// curl -X POST http://localhost:5576/ -H "Content-Type: application/json" \
// -d '{"method":"bridgedata_canFinalise", "params":[3], "id":1}'
func (b *BridgeDataEndpoints) CanFinalise(nonce uint64) (interface{}, rpc.Error) {
	ctx, cancel := context.WithTimeout(context.Background(), b.readTimeout)
	defer cancel()
	b.count(ctx, "can_finalise")

	ok, err := b.oracle.CanFinalise(ctx, nonce)
	if err != nil {
		return false, toRPCError(fmt.Sprintf("failed to check readiness of interaction %d", nonce), err)
	}
	return ok, nil
}

// Interaction returns the stored interaction with its current state
func (b *BridgeDataEndpoints) Interaction(nonce uint64) (interface{}, rpc.Error) {
	ctx, cancel := context.WithTimeout(context.Background(), b.readTimeout)
	defer cancel()
	b.count(ctx, "interaction")

	i, err := b.registry.Get(ctx, nonce)
	if err != nil {
		return nil, toRPCError(fmt.Sprintf("failed to get interaction %d", nonce), err)
	}
	state, err := b.oracle.StateOf(ctx, i)
	if err != nil {
		return nil, toRPCError(fmt.Sprintf("failed to get state of interaction %d", nonce), err)
	}
	return types.NewInteractionInfo(i, state), nil
}

// PresentValue estimates the value of inputValue units of the interaction,
// nil inputValue meaning all of it. Returns null when it can not be computed.
func (b *BridgeDataEndpoints) PresentValue(nonce uint64, inputValue *big.Int) (interface{}, rpc.Error) {
	ctx, cancel := context.WithTimeout(context.Background(), b.readTimeout)
	defer cancel()
	b.count(ctx, "present_value")

	estimate, err := b.estimator.PresentValue(ctx, nonce, inputValue)
	if err != nil {
		return nil, toRPCError(fmt.Sprintf("failed to estimate present value of interaction %d", nonce), err)
	}
	if estimate == nil {
		return nil, nil
	}
	return estimate, nil
}

// InteractionAPR returns the annualised yield of the interaction, null when unknown
func (b *BridgeDataEndpoints) InteractionAPR(nonce uint64) (interface{}, rpc.Error) {
	ctx, cancel := context.WithTimeout(context.Background(), b.readTimeout)
	defer cancel()
	b.count(ctx, "interaction_apr")

	y, err := b.estimator.APR(ctx, nonce)
	if err != nil {
		return nil, toRPCError(fmt.Sprintf("failed to compute apr of interaction %d", nonce), err)
	}
	if y == nil {
		return nil, nil
	}
	return y, nil
}

// Register dispatches a conversion and tracks it
func (b *BridgeDataEndpoints) Register(req lifecycle.RegisterRequest) (interface{}, rpc.Error) {
	ctx, cancel := context.WithTimeout(context.Background(), b.writeTimeout)
	defer cancel()
	b.count(ctx, "register")

	res, err := b.coordinator.Register(ctx, req)
	if err != nil {
		return nil, toRPCError("failed to register interaction", err)
	}
	return res, nil
}

// Finalise settles a ready interaction
func (b *BridgeDataEndpoints) Finalise(nonce uint64) (interface{}, rpc.Error) {
	ctx, cancel := context.WithTimeout(context.Background(), b.writeTimeout)
	defer cancel()
	b.count(ctx, "finalise")

	res, err := b.coordinator.Finalise(ctx, nonce)
	if err != nil {
		return nil, toRPCError(fmt.Sprintf("failed to finalise interaction %d", nonce), err)
	}
	return res, nil
}

// PendingInteractions returns the interactions not finalised yet
func (b *BridgeDataEndpoints) PendingInteractions() (interface{}, rpc.Error) {
	ctx, cancel := context.WithTimeout(context.Background(), b.readTimeout)
	defer cancel()
	b.count(ctx, "pending_interactions")

	pending, err := b.coordinator.Pending(ctx)
	if err != nil {
		return nil, toRPCError("failed to get pending interactions", err)
	}
	infos := make([]types.InteractionInfo, 0, len(pending))
	for _, i := range pending {
		infos = append(infos, types.NewInteractionInfo(i, i.State))
	}
	return infos, nil
}
