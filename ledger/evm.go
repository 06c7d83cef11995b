package ledger

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sort"
	"time"

	"github.com/0xPolygon/zkevm-ethtx-manager/ethtxmanager"
	ethtxtypes "github.com/0xPolygon/zkevm-ethtx-manager/types"
	"github.com/defibridge/bridgedata/etherman"
	"github.com/defibridge/bridgedata/eventindex"
	"github.com/defibridge/bridgedata/interaction"
	"github.com/defibridge/bridgedata/log"
	"github.com/defibridge/bridgedata/sync"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

type EthTxManager interface {
	Remove(ctx context.Context, id common.Hash) error
	ResultsByStatus(ctx context.Context,
		statuses []ethtxtypes.MonitoredTxStatus,
	) ([]ethtxtypes.MonitoredTxResult, error)
	Result(ctx context.Context, id common.Hash) (ethtxtypes.MonitoredTxResult, error)
	Add(ctx context.Context,
		to *common.Address,
		value *big.Int,
		data []byte,
		gasOffset uint64,
		sidecar *types.BlobTxSidecar,
	) (common.Hash, error)
}

// EVMConfig groups the settings of the EVM dispatcher adapter and its tx manager
type EVMConfig struct {
	Config       `mapstructure:",squash"`
	EthTxManager ethtxmanager.Config `mapstructure:"EthTxManager"`
}

// EVMLedger is the Dispatcher deployed on an EVM chain. It is also the ledger
// clock and the history querier of the event index.
type EVMLedger struct {
	logger              *log.Logger
	client              *etherman.Client
	contract            *bind.BoundContract
	dispatcherAddr      common.Address
	sender              common.Address
	ethTxMan            EthTxManager
	downloader          *sync.EVMDownloader
	gasOffset           uint64
	waitPeriodMonitorTx time.Duration
}

var (
	_ Dispatcher         = (*EVMLedger)(nil)
	_ eventindex.History = (*EVMLedger)(nil)
	_ interaction.Clock  = (*EVMLedger)(nil)
)

// NewEVMLedger creates the adapter of the dispatcher at cfg.DispatcherAddr
func NewEVMLedger(
	logger *log.Logger,
	cfg Config,
	client *etherman.Client,
	ethTxMan EthTxManager,
) *EVMLedger {
	contract := bind.NewBoundContract(
		cfg.DispatcherAddr, DispatcherABI, client.EthClient, client.EthClient, client.EthClient,
	)
	appender := sync.LogAppenderMap{
		interactionRegisteredSignature: func(b *sync.EVMBlock, l types.Log) error {
			record, err := parseInteractionRegistered(l)
			if err != nil {
				return err
			}
			record.Timestamp = b.Timestamp
			b.Events = append(b.Events, record)
			return nil
		},
	}
	rh := &sync.RetryHandler{
		RetryAfterErrorPeriod:      cfg.RetryAfterErrorPeriod.Duration,
		MaxRetryAttemptsAfterError: cfg.MaxRetryAttemptsAfterError,
	}
	downloader := sync.NewEVMDownloader(
		"dispatcher", client.EthClient, appender, []common.Address{cfg.DispatcherAddr}, rh,
	)
	return &EVMLedger{
		logger:              logger,
		client:              client,
		contract:            contract,
		dispatcherAddr:      cfg.DispatcherAddr,
		sender:              cfg.SenderAddr,
		ethTxMan:            ethTxMan,
		downloader:          downloader,
		gasOffset:           cfg.GasOffset,
		waitPeriodMonitorTx: cfg.WaitPeriodMonitorTx.Duration,
	}
}

// Now returns the timestamp of the last block at the configured finality
func (l *EVMLedger) Now(ctx context.Context) (uint64, error) {
	return l.client.GetLatestBlockTimestamp(ctx)
}

// simulateOpts runs calls as the sender on top of the latest state
func (l *EVMLedger) simulateOpts(ctx context.Context) *bind.CallOpts {
	return &bind.CallOpts{
		From:    l.sender,
		Context: ctx,
	}
}

// call runs method against the dispatcher without sending a tx. Reverts are
// translated into the interaction error taxonomy.
func (l *EVMLedger) call(
	opts *bind.CallOpts, method string, outputs int, params ...interface{},
) ([]interface{}, error) {
	var out []interface{}
	if err := l.contract.Call(opts, &out, method, params...); err != nil {
		if reason, ok := etherman.RevertReason(err); ok {
			return nil, interaction.TranslateLedgerError(reason)
		}
		return nil, fmt.Errorf("error calling %s: %w", method, err)
	}
	if len(out) != outputs {
		return nil, fmt.Errorf("%s returned %d values, expected %d", method, len(out), outputs)
	}
	return out, nil
}

func (l *EVMLedger) nextNonce(ctx context.Context) (uint64, error) {
	out, err := l.call(l.simulateOpts(ctx), methodNextInteractionNonce, 1)
	if err != nil {
		return 0, err
	}
	next, ok := out[0].(*big.Int)
	if !ok {
		return 0, fmt.Errorf("unexpected %s output %v", methodNextInteractionNonce, out)
	}
	return toNonce(next)
}

// Convert dispatches a conversion and waits until it is mined
func (l *EVMLedger) Convert(ctx context.Context, req ConvertRequest) (*ConvertResult, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}
	var nonce uint64
	if req.Nonce != nil {
		nonce = *req.Nonce
	} else {
		next, err := l.nextNonce(ctx)
		if err != nil {
			return nil, err
		}
		nonce = next
	}
	data, err := packConvert(req, nonce)
	if err != nil {
		return nil, err
	}

	params := convertParams(req, nonce)
	out, err := l.call(l.simulateOpts(ctx), methodConvert, 3, params...)
	if err != nil {
		return nil, err
	}
	outputA, okA := out[0].(*big.Int)
	outputB, okB := out[1].(*big.Int)
	isAsync, okAsync := out[2].(bool)
	if !okA || !okB || !okAsync {
		return nil, fmt.Errorf("unexpected %s output %v", methodConvert, out)
	}

	receipt, err := l.sendAndWait(ctx, data, func(ctx context.Context) error {
		_, err := l.call(l.simulateOpts(ctx), methodConvert, 3, params...)
		return err
	})
	if err != nil {
		return nil, err
	}
	if registered, found := findRegisteredNonce(receipt.Logs); found && registered != nonce {
		return nil, fmt.Errorf("dispatcher registered nonce %d instead of %d", registered, nonce)
	}
	timestamp, err := l.client.GetBlockTimestamp(ctx, receipt.BlockNumber.Uint64())
	if err != nil {
		return nil, err
	}

	l.logger.Infof("conversion with nonce %d mined in tx %s", nonce, receipt.TxHash.Hex())
	return &ConvertResult{
		Nonce:        nonce,
		OutputValueA: outputA,
		OutputValueB: outputB,
		IsAsync:      isAsync,
		Timestamp:    timestamp,
		TxHash:       receipt.TxHash,
	}, nil
}

// ProcessAsyncInteraction settles an async interaction and waits until it is mined
func (l *EVMLedger) ProcessAsyncInteraction(ctx context.Context, nonce uint64) (*SettlementResult, error) {
	bigNonce := new(big.Int).SetUint64(nonce)
	simulate := func(ctx context.Context) error {
		_, err := l.call(l.simulateOpts(ctx), methodProcessAsyncDefiInteraction, 2, bigNonce)
		return err
	}
	if err := simulate(ctx); err != nil {
		return nil, err
	}
	data, err := DispatcherABI.Pack(methodProcessAsyncDefiInteraction, bigNonce)
	if err != nil {
		return nil, err
	}
	receipt, err := l.sendAndWait(ctx, data, simulate)
	if err != nil {
		return nil, err
	}
	outputA, outputB, found := findSettlement(receipt.Logs, nonce)
	if !found {
		return nil, fmt.Errorf("tx %s has no settlement event for nonce %d", receipt.TxHash.Hex(), nonce)
	}
	timestamp, err := l.client.GetBlockTimestamp(ctx, receipt.BlockNumber.Uint64())
	if err != nil {
		return nil, err
	}

	l.logger.Infof("interaction %d finalised in tx %s", nonce, receipt.TxHash.Hex())
	return &SettlementResult{
		Nonce:        nonce,
		OutputValueA: outputA,
		OutputValueB: outputB,
		Timestamp:    timestamp,
		TxHash:       receipt.TxHash,
	}, nil
}

// InteractionStatus reads the dispatcher state of nonce
func (l *EVMLedger) InteractionStatus(ctx context.Context, nonce uint64) (Status, error) {
	out, err := l.call(l.client.CallOpts(ctx), methodInteractionStatus, 1, new(big.Int).SetUint64(nonce))
	if err != nil {
		return StatusUnknown, err
	}
	status, ok := out[0].(uint8)
	if !ok {
		return StatusUnknown, fmt.Errorf("unexpected %s output %v", methodInteractionStatus, out)
	}
	if Status(status) > StatusFinalised {
		return StatusUnknown, fmt.Errorf("unknown interaction status %d", status)
	}
	return Status(status), nil
}

// sendAndWait submits data to the dispatcher through the tx manager and polls
// until the tx is mined. When the tx fails, resimulate is used to recover the
// revert reason.
func (l *EVMLedger) sendAndWait(
	ctx context.Context, data []byte, resimulate func(ctx context.Context) error,
) (*types.Receipt, error) {
	id, err := l.ethTxMan.Add(ctx, &l.dispatcherAddr, big.NewInt(0), data, l.gasOffset, nil)
	if err != nil {
		return nil, err
	}
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(l.waitPeriodMonitorTx):
		}
		l.logger.Debugf("waiting for tx %s to be mined", id.Hex())
		res, err := l.ethTxMan.Result(ctx, id)
		if err != nil {
			l.logger.Error("error calling ethTxMan.Result: ", err)
			continue
		}
		switch res.Status {
		case ethtxtypes.MonitoredTxStatusCreated,
			ethtxtypes.MonitoredTxStatusSent:
			continue
		case ethtxtypes.MonitoredTxStatusFailed:
			if errSim := resimulate(ctx); errSim != nil {
				return nil, errSim
			}
			return nil, fmt.Errorf("tx %s failed: %w", res.ID, interaction.ErrLedgerReverted)
		case ethtxtypes.MonitoredTxStatusMined,
			ethtxtypes.MonitoredTxStatusSafe,
			ethtxtypes.MonitoredTxStatusFinalized:
			return l.minedReceipt(ctx, res)
		default:
			l.logger.Error("unexpected tx status: ", res.Status)
		}
	}
}

// minedReceipt returns the receipt of the attempt of res that was mined
func (l *EVMLedger) minedReceipt(ctx context.Context, res ethtxtypes.MonitoredTxResult) (*types.Receipt, error) {
	for hash := range res.Txs {
		mined, receipt, err := l.client.CheckTxWasMined(ctx, hash)
		if err != nil {
			return nil, err
		}
		if !mined {
			continue
		}
		if receipt.Status != types.ReceiptStatusSuccessful {
			return nil, fmt.Errorf("tx %s reverted: %w", hash.Hex(), interaction.ErrLedgerReverted)
		}
		return receipt, nil
	}
	return nil, fmt.Errorf("no mined attempt found for monitored tx %s", res.ID.Hex())
}

// TxBlockNumber returns the block txHash was mined in
func (l *EVMLedger) TxBlockNumber(ctx context.Context, txHash common.Hash) (uint64, error) {
	receipt, err := l.client.GetTxReceipt(ctx, txHash)
	if err != nil {
		if errors.Is(err, etherman.ErrNotFound) {
			return 0, fmt.Errorf("tx %s: %w", txHash.Hex(), ErrNotFound)
		}
		return 0, err
	}
	return receipt.BlockNumber.Uint64(), nil
}

// InteractionEvents returns the entry events of [fromBlock, toBlock], nonce ascending
func (l *EVMLedger) InteractionEvents(ctx context.Context, fromBlock, toBlock uint64) ([]eventindex.EventRecord, error) {
	blocks, err := l.downloader.GetEventsByBlockRange(ctx, fromBlock, toBlock)
	if err != nil {
		return nil, err
	}
	records := []eventindex.EventRecord{}
	for _, b := range blocks {
		if b.Empty() {
			continue
		}
		for _, e := range b.Events {
			record, ok := e.(*eventindex.EventRecord)
			if !ok {
				continue
			}
			records = append(records, *record)
		}
	}
	sort.Slice(records, func(i, j int) bool {
		return records[i].Nonce < records[j].Nonce
	})
	return records, nil
}
