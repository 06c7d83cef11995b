package ledger

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/defibridge/bridgedata/eventindex"
	"github.com/defibridge/bridgedata/interaction"
	"github.com/ethereum/go-ethereum/common"
)

var (
	// ErrNotFound is returned by the history queries for unknown batches and txs
	ErrNotFound = eventindex.ErrNotIndexed
	// ErrValueOutOfRange is returned when a value does not fit the dispatcher types
	ErrValueOutOfRange = errors.New("value out of range")
)

// Status is the dispatcher view of an interaction
type Status uint8

const (
	StatusUnknown Status = iota
	StatusPending
	StatusFinalised
)

func (s Status) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusFinalised:
		return "finalised"
	default:
		return "unknown"
	}
}

// ConvertRequest is a conversion dispatched to a bridge
type ConvertRequest struct {
	BridgeAddr      common.Address
	BridgeID        []byte
	InputAssetA     interaction.Asset
	InputAssetB     interaction.Asset
	OutputAssetA    interaction.Asset
	OutputAssetB    interaction.Asset
	TotalInputValue *big.Int
	AuxData         uint64
	// Nonce forces the interaction nonce, nil lets the dispatcher allocate it
	Nonce *uint64
}

// ConvertResult is the outcome of a conversion
type ConvertResult struct {
	Nonce        uint64      `json:"nonce"`
	OutputValueA *big.Int    `json:"outputValueA"`
	OutputValueB *big.Int    `json:"outputValueB"`
	IsAsync      bool        `json:"isAsync"`
	Timestamp    uint64      `json:"timestamp"`
	TxHash       common.Hash `json:"txHash"`
}

// SettlementResult is the outcome of the finalisation of an async interaction
type SettlementResult struct {
	Nonce        uint64      `json:"nonce"`
	OutputValueA *big.Int    `json:"outputValueA"`
	OutputValueB *big.Int    `json:"outputValueB"`
	Timestamp    uint64      `json:"timestamp"`
	TxHash       common.Hash `json:"txHash"`
}

// Dispatcher is the settlement ledger. It is the only authority on nonce
// allocation and interaction state. Reverts are returned already translated
// with interaction.TranslateLedgerError.
type Dispatcher interface {
	interaction.Clock
	Convert(ctx context.Context, req ConvertRequest) (*ConvertResult, error)
	ProcessAsyncInteraction(ctx context.Context, nonce uint64) (*SettlementResult, error)
	InteractionStatus(ctx context.Context, nonce uint64) (Status, error)
}

func (r ConvertRequest) validate() error {
	if r.TotalInputValue == nil || r.TotalInputValue.Sign() <= 0 {
		return fmt.Errorf("total input value must be greater than 0: %w", ErrValueOutOfRange)
	}
	if r.Nonce != nil && *r.Nonce > interaction.MaxNonce {
		return fmt.Errorf("nonce %d: %w", *r.Nonce, ErrValueOutOfRange)
	}
	return nil
}
