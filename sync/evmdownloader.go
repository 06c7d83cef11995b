package sync

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/defibridge/bridgedata/log"
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

type EthClienter interface {
	ethereum.LogFilterer
	HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error)
}

type LogAppenderMap map[common.Hash]func(b *EVMBlock, l types.Log) error

// EVMDownloader fetches the logs of a bounded block range and groups them by
// block, decoding each log with the appender registered for its topic
type EVMDownloader struct {
	ethClient        EthClienter
	appender         LogAppenderMap
	topicsToQuery    []common.Hash
	adressessToQuery []common.Address
	rh               *RetryHandler
	log              *log.Logger
}

func NewEVMDownloader(
	syncerID string,
	ethClient EthClienter,
	appender LogAppenderMap,
	adressessToQuery []common.Address,
	rh *RetryHandler,
) *EVMDownloader {
	logger := log.WithFields("syncer", syncerID)
	topicsToQuery := make([]common.Hash, 0, len(appender))
	for topic := range appender {
		topicsToQuery = append(topicsToQuery, topic)
	}
	return &EVMDownloader{
		ethClient:        ethClient,
		appender:         appender,
		topicsToQuery:    topicsToQuery,
		adressessToQuery: adressessToQuery,
		rh:               rh,
		log:              logger,
	}
}

// GetEventsByBlockRange returns the blocks of [fromBlock, toBlock] that hold
// at least one log of interest, in block order
func (d *EVMDownloader) GetEventsByBlockRange(ctx context.Context, fromBlock, toBlock uint64) ([]EVMBlock, error) {
	blocks := []EVMBlock{}
	logs, err := d.GetLogs(ctx, fromBlock, toBlock)
	if err != nil {
		return nil, err
	}
	for _, l := range logs {
		if len(blocks) == 0 || blocks[len(blocks)-1].Num < l.BlockNumber {
			b, err := d.GetBlockHeader(ctx, l.BlockNumber)
			if err != nil {
				return nil, err
			}

			if b.Hash != l.BlockHash {
				d.log.Infof(
					"there has been a block hash change between the event query and the block query "+
						"for block %d: %s vs %s. Retrying.",
					l.BlockNumber, b.Hash, l.BlockHash,
				)
				return d.GetEventsByBlockRange(ctx, fromBlock, toBlock)
			}
			blocks = append(blocks, EVMBlock{
				EVMBlockHeader: EVMBlockHeader{
					Num:        l.BlockNumber,
					Hash:       l.BlockHash,
					Timestamp:  b.Timestamp,
					ParentHash: b.ParentHash,
				},
				Events: []interface{}{},
			})
		}

		if err := d.appender[l.Topics[0]](&blocks[len(blocks)-1], l); err != nil {
			return nil, fmt.Errorf("error appending log of tx %s: %w", l.TxHash.Hex(), err)
		}
	}

	return blocks, nil
}

func filterQueryToString(query ethereum.FilterQuery) string {
	return fmt.Sprintf("FromBlock: %s, ToBlock: %s, Addresses: %s, Topics: %s",
		query.FromBlock.String(), query.ToBlock.String(), query.Addresses, query.Topics)
}

// GetLogs returns the logs of interest of [fromBlock, toBlock]
func (d *EVMDownloader) GetLogs(ctx context.Context, fromBlock, toBlock uint64) ([]types.Log, error) {
	query := ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(fromBlock),
		Addresses: d.adressessToQuery,
		ToBlock:   new(big.Int).SetUint64(toBlock),
	}
	var (
		attempts       = 0
		unfilteredLogs []types.Log
		err            error
	)
	for {
		unfilteredLogs, err = d.ethClient.FilterLogs(ctx, query)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return nil, err
			}

			attempts++
			d.log.Errorf("error calling FilterLogs to eth client: filter: %s err: %v",
				filterQueryToString(query),
				err,
			)
			if errRetry := d.rh.Handle("getLogs", attempts); errRetry != nil {
				return nil, errRetry
			}
			continue
		}
		break
	}
	logs := make([]types.Log, 0, len(unfilteredLogs))
	for _, l := range unfilteredLogs {
		if len(l.Topics) == 0 {
			continue
		}
		for _, topic := range d.topicsToQuery {
			if l.Topics[0] == topic {
				logs = append(logs, l)
				break
			}
		}
	}
	return logs, nil
}

// GetBlockHeader returns the header of blockNum, waiting for it when the
// client does not know it yet
func (d *EVMDownloader) GetBlockHeader(ctx context.Context, blockNum uint64) (EVMBlockHeader, error) {
	attempts := 0
	for {
		header, err := d.ethClient.HeaderByNumber(ctx, new(big.Int).SetUint64(blockNum))
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return EVMBlockHeader{}, err
			}
			attempts++
			if errors.Is(err, ethereum.NotFound) {
				// block num can temporary disappear from the execution client due to a reorg
				d.log.Warnf("block %d not found on the ethereum client: %v", blockNum, err)
			} else {
				d.log.Errorf("error getting block header for block %d, err: %v", blockNum, err)
			}
			if errRetry := d.rh.Handle("getBlockHeader", attempts); errRetry != nil {
				return EVMBlockHeader{}, errRetry
			}
			continue
		}
		return EVMBlockHeader{
			Num:        header.Number.Uint64(),
			Hash:       header.Hash(),
			ParentHash: header.ParentHash,
			Timestamp:  header.Time,
		}, nil
	}
}
