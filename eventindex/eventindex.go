package eventindex

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	bdcommon "github.com/defibridge/bridgedata/common"
	"github.com/defibridge/bridgedata/interaction"
	"github.com/defibridge/bridgedata/log"
	"github.com/ethereum/go-ethereum/common"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	"golang.org/x/sync/singleflight"
)

const (
	meterName           = "github.com/defibridge/bridgedata/eventindex"
	defaultFetchTimeout = 30 * time.Second
)

var (
	// ErrEventNotFound is returned when the entry event of a nonce can not be
	// located, either because the fetched range holds no event for it or
	// because its batch is not indexed yet
	ErrEventNotFound = interaction.ErrEventNotFound
	// ErrNotIndexed is returned by BatchLocator and History implementations
	// for batches and txs they do not know yet
	ErrNotIndexed = errors.New("not indexed yet")
)

// BatchLocator maps an interaction batch to the ledger transaction that carried it
type BatchLocator interface {
	BatchTx(ctx context.Context, batch uint64) (common.Hash, error)
}

// History queries the ledger history
type History interface {
	// TxBlockNumber returns the block a transaction was included in
	TxBlockNumber(ctx context.Context, txHash common.Hash) (uint64, error)
	// InteractionEvents returns the entry events emitted in [fromBlock, toBlock], nonce ascending
	InteractionEvents(ctx context.Context, fromBlock, toBlock uint64) ([]EventRecord, error)
}

// Index finds the entry event of an interaction without scanning the whole
// ledger history. Only the first and last event of every fetched batch are
// kept, so repeated lookups of batch boundaries are served from memory.
type Index struct {
	logger               *log.Logger
	locator              BatchLocator
	history              History
	interactionsPerBatch uint64
	fetchTimeout         time.Duration

	mu    sync.Mutex
	cache cache
	group singleflight.Group

	hits   metric.Int64Counter
	misses metric.Int64Counter
}

// New creates an Index
func New(logger *log.Logger, cfg Config, locator BatchLocator, history History) (*Index, error) {
	if cfg.InteractionsPerBatch == 0 {
		return nil, errors.New("InteractionsPerBatch must be greater than 0")
	}
	meter := otel.Meter(meterName)
	hits, err := meter.Int64Counter("event_index_cache_hits")
	if err != nil {
		logger.Warnf("failed to create event_index_cache_hits counter: %s", err)
	}
	misses, err := meter.Int64Counter("event_index_cache_misses")
	if err != nil {
		logger.Warnf("failed to create event_index_cache_misses counter: %s", err)
	}

	fetchTimeout := cfg.FetchTimeout.Duration
	if fetchTimeout <= 0 {
		fetchTimeout = defaultFetchTimeout
	}

	return &Index{
		logger:               logger,
		locator:              locator,
		history:              history,
		interactionsPerBatch: cfg.InteractionsPerBatch,
		fetchTimeout:         fetchTimeout,
		hits:                 hits,
		misses:               misses,
	}, nil
}

// Lookup returns the entry event of nonce
func (i *Index) Lookup(ctx context.Context, nonce uint64) (*EventRecord, error) {
	i.mu.Lock()
	record, found := i.cache.lookup(nonce)
	i.mu.Unlock()
	if found {
		i.hits.Add(ctx, 1)
		return copyRecord(record), nil
	}
	i.misses.Add(ctx, 1)

	batch := nonce / i.interactionsPerBatch
	// the fetch is shared by every caller missing the same batch, so it must
	// outlive the caller that started it
	ch := i.group.DoChan(strconv.FormatUint(batch, 10), func() (interface{}, error) {
		fetchCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), i.fetchTimeout)
		defer cancel()
		return i.fetchBatch(fetchCtx, batch)
	})
	var res singleflight.Result
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res = <-ch:
	}
	if res.Err != nil {
		return nil, res.Err
	}
	if res.Shared {
		i.logger.Debugf("lookup of nonce %d shared the fetch of batch %d", nonce, batch)
	}

	for _, e := range res.Val.([]EventRecord) {
		if e.Nonce == nonce {
			return copyRecord(e), nil
		}
	}
	return nil, fmt.Errorf("nonce %d, batch %d: %w", nonce, batch, ErrEventNotFound)
}

func (i *Index) fetchBatch(ctx context.Context, batch uint64) ([]EventRecord, error) {
	txHash, err := i.locator.BatchTx(ctx, batch)
	if errors.Is(err, ErrNotIndexed) {
		return nil, fmt.Errorf("batch %d: %w: %w", batch, ErrEventNotFound, err)
	}
	if err != nil {
		return nil, fmt.Errorf("error locating batch %d: %w", batch, err)
	}
	block, err := i.history.TxBlockNumber(ctx, txHash)
	if errors.Is(err, ErrNotIndexed) {
		return nil, fmt.Errorf("batch %d, tx %s: %w: %w", batch, txHash.Hex(), ErrEventNotFound, err)
	}
	if err != nil {
		return nil, fmt.Errorf("error getting block of tx %s: %w", txHash.Hex(), err)
	}
	events, err := i.history.InteractionEvents(ctx, block, block+1)
	if err != nil {
		return nil, fmt.Errorf("error fetching events of blocks [%d, %d]: %w", block, block+1, err)
	}
	i.logger.Debugf("batch %d: fetched %d events from blocks [%d, %d]", batch, len(events), block, block+1)

	if len(events) > 0 {
		i.mu.Lock()
		i.cache.insertIfAbsent(events[0])
		if len(events) > 1 {
			i.cache.insertIfAbsent(events[len(events)-1])
		}
		i.mu.Unlock()
	}
	return events, nil
}

// Len returns the number of cached records
func (i *Index) Len() int {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.cache.len()
}

// Reset discards every cached record
func (i *Index) Reset() {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.cache.reset()
}

func copyRecord(e EventRecord) *EventRecord {
	return &EventRecord{
		Nonce:           e.Nonce,
		BlockNumber:     e.BlockNumber,
		BridgeAddr:      e.BridgeAddr,
		BridgeID:        append([]byte(nil), e.BridgeID...),
		TotalInputValue: bdcommon.CopyBig(e.TotalInputValue),
		OutputValueA:    bdcommon.CopyBig(e.OutputValueA),
		IsAsync:         e.IsAsync,
		Timestamp:       e.Timestamp,
	}
}
