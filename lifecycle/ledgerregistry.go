package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/defibridge/bridgedata/bridge"
	bdcommon "github.com/defibridge/bridgedata/common"
	"github.com/defibridge/bridgedata/eventindex"
	"github.com/defibridge/bridgedata/interaction"
	"github.com/defibridge/bridgedata/ledger"
	"github.com/defibridge/bridgedata/log"
	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/sync/singleflight"
)

// EventLocator returns the entry event of an interaction
type EventLocator interface {
	Lookup(ctx context.Context, nonce uint64) (*eventindex.EventRecord, error)
}

// LedgerRegistry is the local registry read through to the ledger. A nonce
// missing locally, for instance because another process sharing the
// dispatcher registered it, is rebuilt from its ledger status, its entry
// event and the expiry its bridge resolves, then stored locally.
type LedgerRegistry struct {
	interaction.Registry
	logger     *log.Logger
	dispatcher ledger.Dispatcher
	events     EventLocator
	bridges    *bridge.Directory
	timeout    time.Duration
	group      singleflight.Group
}

var _ interaction.Registry = (*LedgerRegistry)(nil)

// NewLedgerRegistry wraps local
func NewLedgerRegistry(
	logger *log.Logger,
	cfg Config,
	local interaction.Registry,
	dispatcher ledger.Dispatcher,
	events EventLocator,
	bridges *bridge.Directory,
) *LedgerRegistry {
	timeout := cfg.RefreshTimeout.Duration
	if timeout <= 0 {
		timeout = defaultRefreshTimeout
	}
	return &LedgerRegistry{
		Registry:   local,
		logger:     logger,
		dispatcher: dispatcher,
		events:     events,
		bridges:    bridges,
		timeout:    timeout,
	}
}

// Get returns the interaction for nonce, asking the ledger when it is not
// stored locally
func (r *LedgerRegistry) Get(ctx context.Context, nonce uint64) (*interaction.Interaction, error) {
	i, err := r.Registry.Get(ctx, nonce)
	if !errors.Is(err, interaction.ErrUnknownNonce) || nonce > interaction.MaxNonce {
		return i, err
	}

	ch := r.group.DoChan(strconv.FormatUint(nonce, 10), func() (interface{}, error) {
		backfillCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.timeout)
		defer cancel()
		return nil, r.backfill(backfillCtx, nonce)
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
	}
	return r.Registry.Get(ctx, nonce)
}

func (r *LedgerRegistry) backfill(ctx context.Context, nonce uint64) error {
	status, err := r.dispatcher.InteractionStatus(ctx, nonce)
	if err != nil {
		return fmt.Errorf("error reading ledger status of %d: %w", nonce, err)
	}
	if status == ledger.StatusUnknown {
		return fmt.Errorf("nonce %d: %w", nonce, interaction.ErrUnknownNonce)
	}

	record, err := r.events.Lookup(ctx, nonce)
	if errors.Is(err, interaction.ErrEventNotFound) {
		return fmt.Errorf("nonce %d is %s on the ledger but its entry event is not located: %w: %w",
			nonce, status, interaction.ErrUnknownNonce, err)
	}
	if err != nil {
		return fmt.Errorf("error looking up entry event of nonce %d: %w", nonce, err)
	}
	callData, err := bridge.DecodeCallData(record.BridgeID)
	if err != nil {
		return fmt.Errorf("nonce %d: %w", nonce, err)
	}

	d := interaction.Descriptor{
		Nonce:           nonce,
		BridgeAddr:      record.BridgeAddr,
		BridgeID:        record.BridgeID,
		TotalInputValue: record.TotalInputValue,
		EntryTimestamp:  record.Timestamp,
		AuxData:         callData.AuxData,
		IsAsync:         record.IsAsync,
	}
	state := interaction.StateFinalised
	var fact *interaction.TerminalFact
	if record.IsAsync {
		expiry, err := r.expiry(ctx, record.BridgeAddr, callData.AuxData)
		if err != nil {
			return fmt.Errorf("nonce %d: %w", nonce, err)
		}
		if record.Timestamp >= expiry {
			return fmt.Errorf("nonce %d entered at %d, expiry %d: %w",
				nonce, record.Timestamp, expiry, interaction.ErrZeroDuration)
		}
		state = interaction.StatePending
		fact = &interaction.TerminalFact{
			Expiry:                 expiry,
			ProjectedTerminalValue: bdcommon.CopyBig(record.OutputValueA),
		}
	} else if status == ledger.StatusPending {
		return fmt.Errorf("nonce %d is pending on the ledger but its entry event is synchronous", nonce)
	}

	err = r.Registry.Insert(ctx, d, fact, state)
	if errors.Is(err, interaction.ErrDuplicateNonce) {
		// stored by a local registration in the meantime
		return nil
	}
	if err != nil {
		return err
	}
	if state == interaction.StatePending && status == ledger.StatusFinalised {
		now, err := r.dispatcher.Now(ctx)
		if err != nil {
			return fmt.Errorf("error reading clock: %w", err)
		}
		if err := r.Registry.MarkFinalised(ctx, nonce, now); err != nil {
			return err
		}
	}

	r.logger.Infof("interaction stored from the ledger - %s, ledger status: %s", d.String(), status)
	return nil
}

func (r *LedgerRegistry) expiry(ctx context.Context, bridgeAddr common.Address, auxData uint64) (uint64, error) {
	b, err := r.bridges.Get(bridgeAddr)
	if err != nil {
		return 0, err
	}
	expirations := b.Capabilities().Expiration
	if expirations == nil {
		return 0, fmt.Errorf("bridge %s has no expiration capability", bridgeAddr.Hex())
	}
	expiry, err := expirations.Expiration(ctx, auxData)
	if err != nil {
		return 0, fmt.Errorf("error resolving expiry of aux data %d: %w", auxData, err)
	}
	return expiry, nil
}
