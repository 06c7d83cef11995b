package common

import (
	"encoding/binary"
	"math/big"
)

// Uint64ToBytes converts a uint64 to a byte slice
func Uint64ToBytes(num uint64) []byte {
	const uint64ByteSize = 8

	bytes := make([]byte, uint64ByteSize)
	binary.BigEndian.PutUint64(bytes, num)

	return bytes
}

// BytesToUint64 converts a byte slice to a uint64
func BytesToUint64(bytes []byte) uint64 {
	return binary.BigEndian.Uint64(bytes)
}

// CopyBig returns a copy of num, so callers can mutate it freely. nil stays nil
func CopyBig(num *big.Int) *big.Int {
	if num == nil {
		return nil
	}
	return new(big.Int).Set(num)
}
