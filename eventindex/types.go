package eventindex

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// EventRecord is the entry event emitted by the dispatcher when an
// interaction is registered
type EventRecord struct {
	Nonce           uint64         `json:"nonce"`
	BlockNumber     uint64         `json:"blockNumber"`
	BridgeAddr      common.Address `json:"bridgeAddr"`
	BridgeID        []byte         `json:"bridgeId"`
	TotalInputValue *big.Int       `json:"totalInputValue"`
	// OutputValueA is the output quoted at registration, the projected
	// terminal value of async interactions
	OutputValueA *big.Int `json:"outputValueA"`
	IsAsync      bool     `json:"isAsync"`
	Timestamp    uint64   `json:"timestamp"`
}

func (e EventRecord) String() string {
	return fmt.Sprintf("Nonce: %d, BlockNumber: %d, TotalInputValue: %s, Timestamp: %d",
		e.Nonce, e.BlockNumber, e.TotalInputValue, e.Timestamp)
}
