package etherman

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/defibridge/bridgedata/log"
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"
)

var (
	// ErrNotFound is used when the object is not found
	ErrNotFound = errors.New("not found")
)

const revertPrefix = "execution reverted"

// EthClienter is the subset of the eth client used by the node
type EthClienter interface {
	ethereum.LogFilterer
	ethereum.BlockNumberReader
	ethereum.ChainReader
	ethereum.TransactionReader
	bind.ContractBackend
}

// Client wraps the eth client with the reads shared by the ledger adapters
type Client struct {
	EthClient EthClienter

	cfg           Config
	blockFinality *big.Int
}

// NewClient creates a new etherman
func NewClient(cfg Config) (*Client, error) {
	// Connect to ethereum node
	ethClient, err := ethclient.Dial(cfg.URL)
	if err != nil {
		log.Errorf("error connecting to %s: %+v", cfg.URL, err)
		return nil, err
	}
	return NewClientFromEthClient(cfg, ethClient)
}

// NewClientFromEthClient creates an etherman on top of an existing client
func NewClientFromEthClient(cfg Config, ethClient EthClienter) (*Client, error) {
	finality, err := cfg.BlockFinality.ToBlockNum()
	if err != nil {
		return nil, err
	}
	return &Client{
		EthClient:     ethClient,
		cfg:           cfg,
		blockFinality: finality,
	}, nil
}

// HeaderByNumber returns a block header from the current canonical chain. If number is
// nil, the latest known header is returned.
func (etherMan *Client) HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error) {
	header, err := etherMan.EthClient.HeaderByNumber(ctx, number)
	if err != nil {
		if errors.Is(err, ethereum.NotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return header, nil
}

// GetLatestBlockTimestamp returns the timestamp of the block at the configured finality
func (etherMan *Client) GetLatestBlockTimestamp(ctx context.Context) (uint64, error) {
	header, err := etherMan.HeaderByNumber(ctx, etherMan.blockFinality)
	if err != nil {
		return 0, err
	}
	return header.Time, nil
}

// GetBlockTimestamp returns the timestamp of the given block
func (etherMan *Client) GetBlockTimestamp(ctx context.Context, blockNum uint64) (uint64, error) {
	header, err := etherMan.HeaderByNumber(ctx, new(big.Int).SetUint64(blockNum))
	if err != nil {
		return 0, err
	}
	return header.Time, nil
}

// GetTxReceipt returns the receipt of a mined tx
func (etherMan *Client) GetTxReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error) {
	receipt, err := etherMan.EthClient.TransactionReceipt(ctx, txHash)
	if errors.Is(err, ethereum.NotFound) {
		return nil, ErrNotFound
	}
	return receipt, err
}

// CheckTxWasMined check if a tx was already mined
func (etherMan *Client) CheckTxWasMined(ctx context.Context, txHash common.Hash) (bool, *types.Receipt, error) {
	receipt, err := etherMan.GetTxReceipt(ctx, txHash)
	if errors.Is(err, ErrNotFound) {
		return false, nil, nil
	} else if err != nil {
		return false, nil, err
	}

	return true, receipt, nil
}

// CallOpts returns the call options anchored to the configured finality
func (etherMan *Client) CallOpts(ctx context.Context) *bind.CallOpts {
	return &bind.CallOpts{
		Pending:     false,
		BlockNumber: etherMan.blockFinality,
		Context:     ctx,
	}
}

// RevertReason extracts the revert reason of a failed call. The reason is taken
// from the ABI encoded revert data when the node returns it and from the error
// message otherwise. The bool is false when err is not a revert.
func RevertReason(err error) (string, bool) {
	if err == nil {
		return "", false
	}
	var dataErr rpc.DataError
	if errors.As(err, &dataErr) {
		if reason, ok := unpackRevertData(dataErr.ErrorData()); ok {
			return reason, true
		}
	}
	msg := err.Error()
	idx := strings.Index(msg, revertPrefix)
	if idx < 0 {
		return "", false
	}
	reason := strings.TrimPrefix(msg[idx+len(revertPrefix):], ":")
	return strings.TrimSpace(reason), true
}

func unpackRevertData(data interface{}) (string, bool) {
	var raw []byte
	switch v := data.(type) {
	case string:
		decoded, err := hexutil.Decode(v)
		if err != nil {
			return "", false
		}
		raw = decoded
	case []byte:
		raw = v
	default:
		return "", false
	}
	reason, err := abi.UnpackRevert(raw)
	if err != nil {
		return "", false
	}
	return reason, true
}

func (etherMan *Client) String() string {
	return fmt.Sprintf("etherman{url: %s, chainID: %d, finality: %s}",
		etherMan.cfg.URL, etherMan.cfg.ChainID, etherMan.cfg.BlockFinality)
}
