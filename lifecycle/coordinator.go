package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/defibridge/bridgedata/bridge"
	bdcommon "github.com/defibridge/bridgedata/common"
	"github.com/defibridge/bridgedata/interaction"
	"github.com/defibridge/bridgedata/ledger"
	"github.com/defibridge/bridgedata/log"
	"github.com/defibridge/bridgedata/readiness"
	"github.com/ethereum/go-ethereum/common"
)

const defaultRefreshTimeout = 30 * time.Second

// ErrInvalidRequest is returned when a registration request is malformed
var ErrInvalidRequest = errors.New("invalid request")

// RegisterRequest is a conversion to dispatch and track
type RegisterRequest struct {
	BridgeAddr      common.Address    `json:"bridgeAddr"`
	InputAssetA     interaction.Asset `json:"inputAssetA"`
	InputAssetB     interaction.Asset `json:"inputAssetB"`
	OutputAssetA    interaction.Asset `json:"outputAssetA"`
	OutputAssetB    interaction.Asset `json:"outputAssetB"`
	TotalInputValue *big.Int          `json:"totalInputValue"`
	AuxData         uint64            `json:"auxData"`
	// Nonce forces the interaction nonce, nil lets the ledger allocate it
	Nonce *uint64 `json:"nonce,omitempty"`
}

func (r RegisterRequest) conversion() bridge.ConversionRequest {
	return bridge.ConversionRequest{
		InputAssetA:  r.InputAssetA,
		InputAssetB:  r.InputAssetB,
		OutputAssetA: r.OutputAssetA,
		OutputAssetB: r.OutputAssetB,
		AuxData:      r.AuxData,
		InputValue:   bdcommon.CopyBig(r.TotalInputValue),
	}
}

func (r RegisterRequest) validate() error {
	if r.TotalInputValue == nil || r.TotalInputValue.Sign() <= 0 {
		return fmt.Errorf("%w: total input value must be greater than 0", ErrInvalidRequest)
	}
	if r.Nonce != nil && *r.Nonce > interaction.MaxNonce {
		return fmt.Errorf("%w: nonce %d out of range", ErrInvalidRequest, *r.Nonce)
	}
	return nil
}

// RegisterResult is the outcome of a registration
type RegisterResult struct {
	Interaction  *interaction.Interaction `json:"interaction"`
	OutputValueA *big.Int                 `json:"outputValueA"`
	OutputValueB *big.Int                 `json:"outputValueB"`
	TxHash       common.Hash              `json:"txHash"`
}

// Coordinator drives interactions from registration to finalisation, keeping
// the registry consistent with the ledger
type Coordinator struct {
	logger         *log.Logger
	registry       interaction.Registry
	oracle         *readiness.Oracle
	ledger         ledger.Dispatcher
	bridges        *bridge.Directory
	locks          *nonceLocks
	refreshTimeout time.Duration
}

// New creates a Coordinator
func New(
	logger *log.Logger,
	cfg Config,
	registry interaction.Registry,
	oracle *readiness.Oracle,
	dispatcher ledger.Dispatcher,
	bridges *bridge.Directory,
) *Coordinator {
	refreshTimeout := cfg.RefreshTimeout.Duration
	if refreshTimeout <= 0 {
		refreshTimeout = defaultRefreshTimeout
	}
	return &Coordinator{
		logger:         logger,
		registry:       registry,
		oracle:         oracle,
		ledger:         dispatcher,
		bridges:        bridges,
		locks:          newNonceLocks(),
		refreshTimeout: refreshTimeout,
	}
}

// Register dispatches a conversion and stores its descriptor. Async
// interactions are stored pending with their terminal fact, sync ones are
// already finalised.
func (c *Coordinator) Register(ctx context.Context, req RegisterRequest) (*RegisterResult, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}
	b, err := c.bridges.Get(req.BridgeAddr)
	if err != nil {
		return nil, err
	}

	if req.Nonce != nil {
		_, err := c.registry.Get(ctx, *req.Nonce)
		switch {
		case err == nil:
			return nil, fmt.Errorf("nonce %d: %w", *req.Nonce, interaction.ErrDuplicateNonce)
		case !errors.Is(err, interaction.ErrUnknownNonce):
			return nil, err
		}
	}

	conversion := req.conversion()
	quote, err := b.ExpectedOutput(ctx, conversion)
	if err != nil {
		return nil, fmt.Errorf("error quoting conversion: %w", err)
	}

	var expiry uint64
	expirations := b.Capabilities().Expiration
	if expirations != nil {
		expiry, err = expirations.Expiration(ctx, req.AuxData)
		if err != nil {
			return nil, fmt.Errorf("error resolving expiry of aux data %d: %w", req.AuxData, err)
		}
		now, err := c.ledger.Now(ctx)
		if err != nil {
			return nil, fmt.Errorf("error reading clock: %w", err)
		}
		if expiry <= now {
			return nil, fmt.Errorf("expiry %d is not after %d: %w", expiry, now, interaction.ErrZeroDuration)
		}
	} else if quote.IsAsync {
		return nil, fmt.Errorf("bridge %s quotes async conversions without an expiration capability",
			req.BridgeAddr.Hex())
	}

	bridgeID := bridge.NewCallData(conversion).Encode()
	res, err := c.ledger.Convert(ctx, ledger.ConvertRequest{
		BridgeAddr:      req.BridgeAddr,
		BridgeID:        bridgeID,
		InputAssetA:     req.InputAssetA,
		InputAssetB:     req.InputAssetB,
		OutputAssetA:    req.OutputAssetA,
		OutputAssetB:    req.OutputAssetB,
		TotalInputValue: bdcommon.CopyBig(req.TotalInputValue),
		AuxData:         req.AuxData,
		Nonce:           req.Nonce,
	})
	if err != nil {
		return nil, fmt.Errorf("error dispatching conversion: %w", err)
	}

	i := &interaction.Interaction{
		Descriptor: interaction.Descriptor{
			Nonce:           res.Nonce,
			BridgeAddr:      req.BridgeAddr,
			BridgeID:        bridgeID,
			TotalInputValue: bdcommon.CopyBig(req.TotalInputValue),
			EntryTimestamp:  res.Timestamp,
			AuxData:         req.AuxData,
			IsAsync:         res.IsAsync,
		},
		State: interaction.StateFinalised,
	}
	if res.IsAsync {
		if expirations == nil {
			// the ledger holds it pending, nothing local can ever finalise it
			c.logger.Errorf("interaction %d registered async by bridge %s without expiry", res.Nonce, req.BridgeAddr.Hex())
			return nil, fmt.Errorf("interaction %d is async but bridge %s has no expiry", res.Nonce, req.BridgeAddr.Hex())
		}
		if res.Timestamp >= expiry {
			c.logger.Errorf("ledger accepted interaction %d at %d, not before its expiry %d",
				res.Nonce, res.Timestamp, expiry)
			return nil, fmt.Errorf("interaction %d entered at %d, expiry %d: %w",
				res.Nonce, res.Timestamp, expiry, interaction.ErrZeroDuration)
		}
		i.State = interaction.StatePending
		i.Terminal = &interaction.TerminalFact{
			Expiry:                 expiry,
			ProjectedTerminalValue: bdcommon.CopyBig(res.OutputValueA),
		}
	} else {
		i.FinalisedAt = res.Timestamp
	}

	if err := c.registry.Insert(ctx, i.Descriptor, i.Terminal, i.State); err != nil {
		return nil, fmt.Errorf("error storing interaction %d: %w", res.Nonce, err)
	}
	c.logger.Infof("interaction registered - %s, state: %s, tx: %s", i.Descriptor.String(), i.State, res.TxHash.Hex())

	return &RegisterResult{
		Interaction:  i,
		OutputValueA: res.OutputValueA,
		OutputValueB: res.OutputValueB,
		TxHash:       res.TxHash,
	}, nil
}

// Finalise settles a ready async interaction. Whatever the outcome of the
// dispatch, local state is reconciled with the ledger before returning.
func (c *Coordinator) Finalise(ctx context.Context, nonce uint64) (*ledger.SettlementResult, error) {
	unlock := c.locks.lock(nonce)
	defer unlock()

	i, err := c.registry.Get(ctx, nonce)
	if err != nil {
		return nil, err
	}
	if i.State == interaction.StateFinalised {
		return nil, fmt.Errorf("nonce %d: %w", nonce, interaction.ErrAlreadyFinalised)
	}
	state, err := c.oracle.StateOf(ctx, i)
	if err != nil {
		return nil, err
	}
	if state != interaction.StateReady {
		return nil, fmt.Errorf("nonce %d expires at %d: %w", nonce, i.Terminal.Expiry, interaction.ErrNotReady)
	}

	res, errProcess := c.ledger.ProcessAsyncInteraction(ctx, nonce)

	refreshCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.refreshTimeout)
	defer cancel()
	if errProcess == nil {
		if err := c.registry.MarkFinalised(refreshCtx, nonce, res.Timestamp); err != nil {
			return nil, fmt.Errorf("interaction %d settled but not stored: %w", nonce, err)
		}
		return res, nil
	}

	c.logger.Warnf("error processing interaction %d: %v", nonce, errProcess)
	refreshed, err := c.refresh(refreshCtx, i)
	if err != nil {
		c.logger.Errorf("error refreshing interaction %d: %v", nonce, err)
		return nil, fmt.Errorf("error processing interaction %d: %w", nonce, errProcess)
	}
	if refreshed == interaction.StateFinalised {
		return nil, fmt.Errorf("nonce %d: %w: %w", nonce, interaction.ErrAlreadyFinalised, errProcess)
	}
	return nil, fmt.Errorf("error processing interaction %d: %w", nonce, errProcess)
}

// Refresh reconciles the local state of nonce with the ledger and returns it
func (c *Coordinator) Refresh(ctx context.Context, nonce uint64) (interaction.State, error) {
	unlock := c.locks.lock(nonce)
	defer unlock()

	i, err := c.registry.Get(ctx, nonce)
	if err != nil {
		return "", err
	}
	return c.refresh(ctx, i)
}

func (c *Coordinator) refresh(ctx context.Context, i *interaction.Interaction) (interaction.State, error) {
	if i.State == interaction.StateFinalised {
		return interaction.StateFinalised, nil
	}
	status, err := c.ledger.InteractionStatus(ctx, i.Nonce)
	if err != nil {
		return "", fmt.Errorf("error reading ledger status of %d: %w", i.Nonce, err)
	}
	switch status {
	case ledger.StatusFinalised:
		now, err := c.ledger.Now(ctx)
		if err != nil {
			return "", fmt.Errorf("error reading clock: %w", err)
		}
		if err := c.registry.MarkFinalised(ctx, i.Nonce, now); err != nil {
			return "", err
		}
		c.logger.Infof("interaction %d was finalised by another process", i.Nonce)
		return interaction.StateFinalised, nil
	case ledger.StatusUnknown:
		c.logger.Warnf("interaction %d is %s locally but unknown to the ledger", i.Nonce, i.State)
	}
	return c.oracle.StateOf(ctx, i)
}

// Pending returns the interactions not finalised yet, with StateReady set on
// the ones past their expiry
func (c *Coordinator) Pending(ctx context.Context) ([]*interaction.Interaction, error) {
	pending, err := c.registry.GetByState(ctx, interaction.StatePending)
	if err != nil {
		return nil, err
	}
	for _, i := range pending {
		state, err := c.oracle.StateOf(ctx, i)
		if err != nil {
			return nil, err
		}
		i.State = state
	}
	return pending, nil
}

// FinaliseReady finalises every ready interaction. Interactions another
// caller settled in the meantime are skipped, any other failure is returned
// after the remaining interactions were tried.
func (c *Coordinator) FinaliseReady(ctx context.Context) ([]*ledger.SettlementResult, error) {
	pending, err := c.Pending(ctx)
	if err != nil {
		return nil, err
	}
	var (
		settled []*ledger.SettlementResult
		errs    []error
	)
	for _, i := range pending {
		if i.State != interaction.StateReady {
			continue
		}
		res, err := c.Finalise(ctx, i.Nonce)
		switch {
		case err == nil:
			settled = append(settled, res)
		case errors.Is(err, interaction.ErrAlreadyFinalised), errors.Is(err, interaction.ErrNotReady):
			c.logger.Debugf("skipping interaction %d: %v", i.Nonce, err)
		default:
			errs = append(errs, err)
		}
	}
	return settled, errors.Join(errs...)
}
