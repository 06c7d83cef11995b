package ledger

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sort"
	"sync"
	"time"

	"github.com/defibridge/bridgedata/bridge"
	bdcommon "github.com/defibridge/bridgedata/common"
	"github.com/defibridge/bridgedata/eventindex"
	"github.com/defibridge/bridgedata/interaction"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

const (
	reasonUnknownBridge = "UNKNOWN_BRIDGE"
	reasonInvalidInput  = "INVALID_INPUT"
)

type simInteraction struct {
	bridgeAddr   common.Address
	expiry       uint64
	outputValueA *big.Int
	outputValueB *big.Int
	status       Status
}

// Simulated is an in-memory dispatcher with a settable clock. Conversions of
// the same batch are mined in the same block, one block per batch, so the
// event index can locate them the way it does on a real chain.
type Simulated struct {
	mu                   sync.Mutex
	now                  uint64
	nextNonce            uint64
	interactionsPerBatch uint64
	bridges              *bridge.Directory
	interactions         map[uint64]*simInteraction
	events               []eventindex.EventRecord
	txBlocks             map[common.Hash]uint64
	batchTxs             map[uint64]common.Hash
	txCount              uint64
}

var (
	_ Dispatcher              = (*Simulated)(nil)
	_ eventindex.History      = (*Simulated)(nil)
	_ eventindex.BatchLocator = (*Simulated)(nil)
)

// NewSimulated creates a simulated dispatcher whose clock starts at now
func NewSimulated(now, interactionsPerBatch uint64, bridges *bridge.Directory) (*Simulated, error) {
	if interactionsPerBatch == 0 {
		return nil, errors.New("interactionsPerBatch must be greater than 0")
	}
	return &Simulated{
		now:                  now,
		interactionsPerBatch: interactionsPerBatch,
		bridges:              bridges,
		interactions:         make(map[uint64]*simInteraction),
		txBlocks:             make(map[common.Hash]uint64),
		batchTxs:             make(map[uint64]common.Hash),
	}, nil
}

// Now returns the simulated time
func (s *Simulated) Now(context.Context) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.now, nil
}

// SetTime moves the clock to now
func (s *Simulated) SetTime(now uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

// Advance moves the clock forward by seconds
func (s *Simulated) Advance(seconds uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now += seconds
}

// AdvanceTo moves the clock to now unless it is already past it
func (s *Simulated) AdvanceTo(now uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if now > s.now {
		s.now = now
	}
}

// FollowWallClock advances the clock by the wall time elapsed since the call,
// checking every interval, until ctx is done. Moves made with SetTime or
// Advance are kept when they are ahead.
func (s *Simulated) FollowWallClock(ctx context.Context, interval time.Duration) {
	s.followClock(ctx, interval, time.Now(), time.Now)
}

func (s *Simulated) followClock(
	ctx context.Context, interval time.Duration, origin time.Time, wallNow func() time.Time,
) {
	base, _ := s.Now(ctx)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.AdvanceTo(base + uint64(wallNow().Sub(origin)/time.Second))
		}
	}
}

func revert(reason string) error {
	return interaction.TranslateLedgerError(reason)
}

// bridgeRevert maps the error of a bridge adapter to the revert the
// dispatcher would emit for it
func bridgeRevert(err error) error {
	switch {
	case errors.Is(err, interaction.ErrUnsupportedAsset):
		return revert(interaction.ReasonUnsupportedAsset)
	case errors.Is(err, interaction.ErrDivideByZero):
		return revert(interaction.ReasonInvalidExpiry)
	default:
		return revert(err.Error())
	}
}

// nextTx returns a new tx hash mined in the block of batch
func (s *Simulated) nextTx(batch uint64) common.Hash {
	s.txCount++
	hash := crypto.Keccak256Hash(bdcommon.Uint64ToBytes(s.txCount))
	s.txBlocks[hash] = s.blockOfBatch(batch)
	if _, ok := s.batchTxs[batch]; !ok {
		s.batchTxs[batch] = hash
	}
	return hash
}

func (s *Simulated) blockOfBatch(batch uint64) uint64 {
	return batch + 1
}

// Convert registers a conversion with the bridge at req.BridgeAddr
func (s *Simulated) Convert(ctx context.Context, req ConvertRequest) (*ConvertResult, error) {
	if err := req.validate(); err != nil {
		return nil, revert(reasonInvalidInput)
	}
	b, err := s.bridges.Get(req.BridgeAddr)
	if err != nil {
		return nil, revert(reasonUnknownBridge)
	}

	s.mu.Lock()
	nonce := s.nextNonce
	if req.Nonce != nil {
		nonce = *req.Nonce
	}
	_, exists := s.interactions[nonce]
	s.mu.Unlock()
	if exists {
		return nil, revert(interaction.ReasonInteractionAlreadyExists)
	}

	// bridges read the clock, so they are queried without holding the lock
	quote, err := b.ExpectedOutput(ctx, bridge.ConversionRequest{
		InputAssetA:  req.InputAssetA,
		InputAssetB:  req.InputAssetB,
		OutputAssetA: req.OutputAssetA,
		OutputAssetB: req.OutputAssetB,
		AuxData:      req.AuxData,
		InputValue:   req.TotalInputValue,
	})
	if err != nil {
		return nil, bridgeRevert(err)
	}
	var expiry uint64
	if quote.IsAsync {
		expirations := b.Capabilities().Expiration
		if expirations == nil {
			return nil, revert(reasonInvalidInput)
		}
		if expiry, err = expirations.Expiration(ctx, req.AuxData); err != nil {
			return nil, bridgeRevert(err)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.interactions[nonce]; exists {
		return nil, revert(interaction.ReasonInteractionAlreadyExists)
	}
	if quote.IsAsync && expiry <= s.now {
		return nil, revert(interaction.ReasonInvalidExpiry)
	}

	status := StatusFinalised
	if quote.IsAsync {
		status = StatusPending
	}
	s.interactions[nonce] = &simInteraction{
		bridgeAddr:   req.BridgeAddr,
		expiry:       expiry,
		outputValueA: bdcommon.CopyBig(quote.OutputValueA),
		outputValueB: bdcommon.CopyBig(quote.OutputValueB),
		status:       status,
	}
	if nonce >= s.nextNonce {
		s.nextNonce = nonce + 1
	}
	batch := nonce / s.interactionsPerBatch
	txHash := s.nextTx(batch)
	s.insertEvent(eventindex.EventRecord{
		Nonce:           nonce,
		BlockNumber:     s.blockOfBatch(batch),
		BridgeAddr:      req.BridgeAddr,
		BridgeID:        append([]byte(nil), req.BridgeID...),
		TotalInputValue: bdcommon.CopyBig(req.TotalInputValue),
		OutputValueA:    bdcommon.CopyBig(quote.OutputValueA),
		IsAsync:         quote.IsAsync,
		Timestamp:       s.now,
	})

	return &ConvertResult{
		Nonce:        nonce,
		OutputValueA: bdcommon.CopyBig(quote.OutputValueA),
		OutputValueB: bdcommon.CopyBig(quote.OutputValueB),
		IsAsync:      quote.IsAsync,
		Timestamp:    s.now,
		TxHash:       txHash,
	}, nil
}

func (s *Simulated) insertEvent(e eventindex.EventRecord) {
	i := sort.Search(len(s.events), func(i int) bool {
		return s.events[i].Nonce >= e.Nonce
	})
	s.events = append(s.events, eventindex.EventRecord{})
	copy(s.events[i+1:], s.events[i:])
	s.events[i] = e
}

// ProcessAsyncInteraction settles a pending interaction once its expiry passed
func (s *Simulated) ProcessAsyncInteraction(_ context.Context, nonce uint64) (*SettlementResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i, ok := s.interactions[nonce]
	if !ok || i.status != StatusPending {
		return nil, revert(interaction.ReasonUnknownNonce)
	}
	if s.now < i.expiry {
		return nil, revert(interaction.ReasonBridgeNotReady)
	}
	i.status = StatusFinalised
	return &SettlementResult{
		Nonce:        nonce,
		OutputValueA: bdcommon.CopyBig(i.outputValueA),
		OutputValueB: bdcommon.CopyBig(i.outputValueB),
		Timestamp:    s.now,
		TxHash:       s.nextTx(nonce / s.interactionsPerBatch),
	}, nil
}

// InteractionStatus returns the status of nonce
func (s *Simulated) InteractionStatus(_ context.Context, nonce uint64) (Status, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i, ok := s.interactions[nonce]
	if !ok {
		return StatusUnknown, nil
	}
	return i.status, nil
}

// BatchTx returns the first tx mined for batch
func (s *Simulated) BatchTx(_ context.Context, batch uint64) (common.Hash, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	hash, ok := s.batchTxs[batch]
	if !ok {
		return common.Hash{}, fmt.Errorf("batch %d: %w", batch, ErrNotFound)
	}
	return hash, nil
}

// TxBlockNumber returns the block txHash was mined in
func (s *Simulated) TxBlockNumber(_ context.Context, txHash common.Hash) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	block, ok := s.txBlocks[txHash]
	if !ok {
		return 0, fmt.Errorf("tx %s: %w", txHash.Hex(), ErrNotFound)
	}
	return block, nil
}

// InteractionEvents returns the entry events of [fromBlock, toBlock], nonce ascending
func (s *Simulated) InteractionEvents(_ context.Context, fromBlock, toBlock uint64) ([]eventindex.EventRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	records := []eventindex.EventRecord{}
	for _, e := range s.events {
		if e.BlockNumber < fromBlock || e.BlockNumber > toBlock {
			continue
		}
		e.BridgeID = append([]byte(nil), e.BridgeID...)
		e.TotalInputValue = bdcommon.CopyBig(e.TotalInputValue)
		e.OutputValueA = bdcommon.CopyBig(e.OutputValueA)
		records = append(records, e)
	}
	return records, nil
}
