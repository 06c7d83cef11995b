package interaction

import (
	"fmt"
	"math/big"

	bdcommon "github.com/defibridge/bridgedata/common"
	"github.com/ethereum/go-ethereum/common"
	"github.com/iden3/go-iden3-crypto/keccak256"
)

// State is the lifecycle position of an interaction. Only StatePending and
// StateFinalised are ever persisted, StateReady is derived from the clock.
type State string

const (
	StatePending   State = "pending"
	StateReady     State = "ready"
	StateFinalised State = "finalised"
)

func (s State) String() string {
	return string(s)
}

// IsValid returns true if the state is one of the known ones
func (s State) IsValid() bool {
	switch s {
	case StatePending, StateReady, StateFinalised:
		return true
	}
	return false
}

// AssetType is the kind of asset moved through the dispatcher
type AssetType uint8

const (
	AssetTypeNotUsed AssetType = iota
	AssetTypeETH
	AssetTypeERC20
	AssetTypeVirtual
)

func (a AssetType) String() string {
	switch a {
	case AssetTypeETH:
		return "ETH"
	case AssetTypeERC20:
		return "ERC20"
	case AssetTypeVirtual:
		return "VIRTUAL"
	default:
		return "NOT_USED"
	}
}

// Asset identifies one input or output leg of a conversion
type Asset struct {
	ID           uint64         `json:"id"`
	ERC20Address common.Address `json:"erc20Address"`
	AssetType    AssetType      `json:"assetType"`
}

// IsUsed returns false for the empty second leg of single-asset conversions
func (a Asset) IsUsed() bool {
	return a.AssetType != AssetTypeNotUsed
}

// Descriptor is the immutable record written when a conversion is registered.
type Descriptor struct {
	Nonce           uint64         `json:"nonce"`
	BridgeAddr      common.Address `json:"bridgeAddr"`
	BridgeID        []byte         `json:"bridgeId"`
	TotalInputValue *big.Int       `json:"totalInputValue"`
	EntryTimestamp  uint64         `json:"entryTimestamp"`
	AuxData         uint64         `json:"auxData"`
	IsAsync         bool           `json:"isAsync"`
}

// Hash returns the keccak digest of every immutable field
func (d Descriptor) Hash() common.Hash {
	isAsync := byte(0)
	if d.IsAsync {
		isAsync = 1
	}
	total := d.TotalInputValue
	if total == nil {
		total = big.NewInt(0)
	}
	return common.BytesToHash(keccak256.Hash(
		bdcommon.Uint64ToBytes(d.Nonce),
		d.BridgeAddr.Bytes(),
		d.BridgeID,
		common.LeftPadBytes(total.Bytes(), common.HashLength),
		bdcommon.Uint64ToBytes(d.EntryTimestamp),
		bdcommon.Uint64ToBytes(d.AuxData),
		[]byte{isAsync},
	))
}

func (d Descriptor) String() string {
	return fmt.Sprintf("Nonce: %d, Bridge: %s, TotalInputValue: %s, EntryTimestamp: %d, AuxData: %d, IsAsync: %t",
		d.Nonce, d.BridgeAddr.Hex(), d.TotalInputValue, d.EntryTimestamp, d.AuxData, d.IsAsync)
}

// TerminalFact is what is known about the settlement of an async interaction.
// Expiry never changes once registered, ProjectedTerminalValue is revised by
// the bridge adapter only.
type TerminalFact struct {
	Expiry                 uint64   `json:"expiry"`
	ProjectedTerminalValue *big.Int `json:"projectedTerminalValue"`
}

// Interaction is a descriptor together with its persisted lifecycle data
type Interaction struct {
	Descriptor
	State       State         `json:"state"`
	Terminal    *TerminalFact `json:"terminal,omitempty"`
	FinalisedAt uint64        `json:"finalisedAt,omitempty"`
}
