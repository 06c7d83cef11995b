package ledger

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/defibridge/bridgedata/eventindex"
	"github.com/defibridge/bridgedata/interaction"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/holiman/uint256"
)

const (
	methodConvert                     = "convert"
	methodNextInteractionNonce        = "nextInteractionNonce"
	methodProcessAsyncDefiInteraction = "processAsyncDefiInteraction"
	methodInteractionStatus           = "interactionStatus"

	eventInteractionRegistered    = "InteractionRegistered"
	eventAsyncDefiBridgeProcessed = "AsyncDefiBridgeProcessed"
)

const assetTuple = `{"name":"%s","type":"tuple","components":[` +
	`{"name":"id","type":"uint256"},{"name":"erc20Address","type":"address"},{"name":"assetType","type":"uint8"}]}`

var dispatcherABIJSON = `[
{"type":"function","name":"convert","stateMutability":"nonpayable","inputs":[
	{"name":"bridgeAddress","type":"address"},
	{"name":"bridgeId","type":"bytes"},
	` + fmt.Sprintf(assetTuple, "inputAssetA") + `,
	` + fmt.Sprintf(assetTuple, "inputAssetB") + `,
	` + fmt.Sprintf(assetTuple, "outputAssetA") + `,
	` + fmt.Sprintf(assetTuple, "outputAssetB") + `,
	{"name":"totalInputValue","type":"uint256"},
	{"name":"interactionNonce","type":"uint256"},
	{"name":"auxData","type":"uint64"}],
 "outputs":[{"name":"outputValueA","type":"uint256"},{"name":"outputValueB","type":"uint256"},{"name":"isAsync","type":"bool"}]},
{"type":"function","name":"nextInteractionNonce","stateMutability":"view","inputs":[],
 "outputs":[{"name":"","type":"uint256"}]},
{"type":"function","name":"processAsyncDefiInteraction","stateMutability":"nonpayable",
 "inputs":[{"name":"interactionNonce","type":"uint256"}],
 "outputs":[{"name":"outputValueA","type":"uint256"},{"name":"outputValueB","type":"uint256"}]},
{"type":"function","name":"interactionStatus","stateMutability":"view",
 "inputs":[{"name":"interactionNonce","type":"uint256"}],
 "outputs":[{"name":"","type":"uint8"}]},
{"type":"event","name":"InteractionRegistered","anonymous":false,"inputs":[
	{"name":"nonce","type":"uint256","indexed":true},
	{"name":"bridgeAddress","type":"address","indexed":false},
	{"name":"bridgeId","type":"bytes","indexed":false},
	{"name":"totalInputValue","type":"uint256","indexed":false},
	{"name":"outputValueA","type":"uint256","indexed":false},
	{"name":"isAsync","type":"bool","indexed":false}]},
{"type":"event","name":"AsyncDefiBridgeProcessed","anonymous":false,"inputs":[
	{"name":"nonce","type":"uint256","indexed":true},
	{"name":"outputValueA","type":"uint256","indexed":false},
	{"name":"outputValueB","type":"uint256","indexed":false}]}
]`

// DispatcherABI is the parsed dispatcher interface
var DispatcherABI = mustParseABI(dispatcherABIJSON)

func mustParseABI(raw string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(raw))
	if err != nil {
		panic(fmt.Sprintf("invalid dispatcher abi: %v", err))
	}
	return parsed
}

var (
	interactionRegisteredSignature    = DispatcherABI.Events[eventInteractionRegistered].ID
	asyncDefiBridgeProcessedSignature = DispatcherABI.Events[eventAsyncDefiBridgeProcessed].ID
)

// abiAsset mirrors the asset tuple of the dispatcher
type abiAsset struct {
	Id           *big.Int //nolint:revive,stylecheck
	Erc20Address common.Address
	AssetType    uint8
}

func toABIAsset(a interaction.Asset) abiAsset {
	return abiAsset{
		Id:           new(big.Int).SetUint64(a.ID),
		Erc20Address: a.ERC20Address,
		AssetType:    uint8(a.AssetType),
	}
}

// toUint256 checks that v fits a uint256 before it is packed
func toUint256(name string, v *big.Int) (*big.Int, error) {
	if v == nil {
		return nil, fmt.Errorf("%s is nil: %w", name, ErrValueOutOfRange)
	}
	if v.Sign() < 0 {
		return nil, fmt.Errorf("%s is negative: %w", name, ErrValueOutOfRange)
	}
	u, overflow := uint256.FromBig(v)
	if overflow {
		return nil, fmt.Errorf("%s overflows uint256: %w", name, ErrValueOutOfRange)
	}
	return u.ToBig(), nil
}

// toNonce checks that a dispatcher nonce fits the registry
func toNonce(v *big.Int) (uint64, error) {
	u, overflow := uint256.FromBig(v)
	if overflow || !u.IsUint64() || u.Uint64() > interaction.MaxNonce {
		return 0, fmt.Errorf("nonce %s: %w", v, ErrValueOutOfRange)
	}
	return u.Uint64(), nil
}

// convertParams returns the arguments of convert in ABI order. The total input
// value must have been checked with toUint256.
func convertParams(req ConvertRequest, nonce uint64) []interface{} {
	return []interface{}{
		req.BridgeAddr,
		req.BridgeID,
		toABIAsset(req.InputAssetA),
		toABIAsset(req.InputAssetB),
		toABIAsset(req.OutputAssetA),
		toABIAsset(req.OutputAssetB),
		req.TotalInputValue,
		new(big.Int).SetUint64(nonce),
		req.AuxData,
	}
}

func packConvert(req ConvertRequest, nonce uint64) ([]byte, error) {
	if _, err := toUint256("totalInputValue", req.TotalInputValue); err != nil {
		return nil, err
	}
	return DispatcherABI.Pack(methodConvert, convertParams(req, nonce)...)
}

// parseInteractionRegistered decodes the entry event of an interaction
func parseInteractionRegistered(l types.Log) (*eventindex.EventRecord, error) {
	if len(l.Topics) != 2 || l.Topics[0] != interactionRegisteredSignature {
		return nil, fmt.Errorf("log %s/%d is not an %s event", l.TxHash.Hex(), l.Index, eventInteractionRegistered)
	}
	var decoded struct {
		BridgeAddress   common.Address
		BridgeId        []byte //nolint:revive,stylecheck
		TotalInputValue *big.Int
		OutputValueA    *big.Int
		IsAsync         bool
	}
	if err := DispatcherABI.UnpackIntoInterface(&decoded, eventInteractionRegistered, l.Data); err != nil {
		return nil, fmt.Errorf("error decoding %s event: %w", eventInteractionRegistered, err)
	}
	nonce, err := toNonce(new(big.Int).SetBytes(l.Topics[1].Bytes()))
	if err != nil {
		return nil, err
	}
	return &eventindex.EventRecord{
		Nonce:           nonce,
		BlockNumber:     l.BlockNumber,
		BridgeAddr:      decoded.BridgeAddress,
		BridgeID:        decoded.BridgeId,
		TotalInputValue: decoded.TotalInputValue,
		OutputValueA:    decoded.OutputValueA,
		IsAsync:         decoded.IsAsync,
	}, nil
}

// findSettlement returns the outputs of the AsyncDefiBridgeProcessed event of nonce
func findSettlement(logs []*types.Log, nonce uint64) (outputA, outputB *big.Int, found bool) {
	topic := common.BigToHash(new(big.Int).SetUint64(nonce))
	for _, l := range logs {
		if len(l.Topics) != 2 || l.Topics[0] != asyncDefiBridgeProcessedSignature || l.Topics[1] != topic {
			continue
		}
		values, err := DispatcherABI.Unpack(eventAsyncDefiBridgeProcessed, l.Data)
		if err != nil || len(values) != 2 {
			continue
		}
		a, okA := values[0].(*big.Int)
		b, okB := values[1].(*big.Int)
		if okA && okB {
			return a, b, true
		}
	}
	return nil, nil, false
}

// findRegisteredNonce returns the nonce announced by the entry event of a convert tx
func findRegisteredNonce(logs []*types.Log) (uint64, bool) {
	for _, l := range logs {
		if l == nil || len(l.Topics) != 2 || l.Topics[0] != interactionRegisteredSignature {
			continue
		}
		nonce, err := toNonce(new(big.Int).SetBytes(l.Topics[1].Bytes()))
		if err != nil {
			continue
		}
		return nonce, true
	}
	return 0, false
}
