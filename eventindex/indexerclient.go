package eventindex

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/0xPolygon/cdk-rpc/rpc"
	"github.com/ethereum/go-ethereum/common"
)

// IndexerClient is a BatchLocator backed by the JSON-RPC indexer
type IndexerClient struct {
	url string
}

// NewIndexerClient returns a client ready to be used
func NewIndexerClient(url string) *IndexerClient {
	return &IndexerClient{
		url: url,
	}
}

// BatchTx returns the hash of the ledger transaction that carried batch
func (c *IndexerClient) BatchTx(_ context.Context, batch uint64) (common.Hash, error) {
	response, err := rpc.JSONRPCCall(c.url, "indexer_batchTx", batch)
	if err != nil {
		return common.Hash{}, err
	}
	if response.Error != nil {
		if response.Error.Code == rpc.NotFoundErrorCode {
			return common.Hash{}, fmt.Errorf("batch %d: %w: %s", batch, ErrNotIndexed, response.Error.Message)
		}
		return common.Hash{}, fmt.Errorf("%v %v", response.Error.Code, response.Error.Message)
	}
	var result common.Hash
	return result, json.Unmarshal(response.Result, &result)
}
