package bridge

import (
	"fmt"

	bdcommon "github.com/defibridge/bridgedata/common"
)

const callDataLength = 5 * 8

// CallData is the bridge id the coordinator registers interactions under. It
// packs the asset legs and the aux data so adapters can recover them from a
// stored descriptor.
type CallData struct {
	InputAssetIDA  uint64
	InputAssetIDB  uint64
	OutputAssetIDA uint64
	OutputAssetIDB uint64
	AuxData        uint64
}

// NewCallData builds the call data of a conversion request
func NewCallData(req ConversionRequest) CallData {
	return CallData{
		InputAssetIDA:  req.InputAssetA.ID,
		InputAssetIDB:  req.InputAssetB.ID,
		OutputAssetIDA: req.OutputAssetA.ID,
		OutputAssetIDB: req.OutputAssetB.ID,
		AuxData:        req.AuxData,
	}
}

// Encode returns the big endian packing of every field
func (c CallData) Encode() []byte {
	out := make([]byte, 0, callDataLength)
	for _, v := range []uint64{c.InputAssetIDA, c.InputAssetIDB, c.OutputAssetIDA, c.OutputAssetIDB, c.AuxData} {
		out = append(out, bdcommon.Uint64ToBytes(v)...)
	}
	return out
}

// DecodeCallData is the inverse of CallData.Encode
func DecodeCallData(data []byte) (CallData, error) {
	if len(data) != callDataLength {
		return CallData{}, fmt.Errorf("invalid call data length %d, expected %d", len(data), callDataLength)
	}
	return CallData{
		InputAssetIDA:  bdcommon.BytesToUint64(data[0:8]),
		InputAssetIDB:  bdcommon.BytesToUint64(data[8:16]),
		OutputAssetIDA: bdcommon.BytesToUint64(data[16:24]),
		OutputAssetIDB: bdcommon.BytesToUint64(data[24:32]),
		AuxData:        bdcommon.BytesToUint64(data[32:40]),
	}, nil
}
