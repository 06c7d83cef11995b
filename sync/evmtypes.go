package sync

import "github.com/ethereum/go-ethereum/common"

// EVMBlock is a block together with the decoded events it emitted, in log order
type EVMBlock struct {
	EVMBlockHeader
	Events []interface{}
}

// EVMBlockHeader holds the header fields the ledger adapter reads. Timestamp
// is the ledger time of every event of the block.
type EVMBlockHeader struct {
	Num        uint64
	Hash       common.Hash
	ParentHash common.Hash
	Timestamp  uint64
}

// Empty reports whether the block carries no decoded event
func (b *EVMBlock) Empty() bool {
	return len(b.Events) == 0
}
