package bridge

import (
	"fmt"
	"sort"
	"sync"

	"github.com/defibridge/bridgedata/interaction"
	"github.com/ethereum/go-ethereum/common"
)

// Directory maps bridge contract addresses to their adapters
type Directory struct {
	mu      sync.RWMutex
	bridges map[common.Address]Bridge
}

// NewDirectory creates an empty Directory
func NewDirectory() *Directory {
	return &Directory{
		bridges: make(map[common.Address]Bridge),
	}
}

// Register adds the adapter for addr, replacing any previous one
func (d *Directory) Register(addr common.Address, b Bridge) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.bridges[addr] = b
}

// Get returns the adapter for addr or interaction.ErrUnknownBridge
func (d *Directory) Get(addr common.Address) (Bridge, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	b, ok := d.bridges[addr]
	if !ok {
		return nil, fmt.Errorf("%s: %w", addr.Hex(), interaction.ErrUnknownBridge)
	}
	return b, nil
}

// Addresses returns the registered addresses sorted
func (d *Directory) Addresses() []common.Address {
	d.mu.RLock()
	defer d.mu.RUnlock()
	addrs := make([]common.Address, 0, len(d.bridges))
	for addr := range d.bridges {
		addrs = append(addrs, addr)
	}
	sort.Slice(addrs, func(i, j int) bool {
		return addrs[i].Cmp(addrs[j]) < 0
	})
	return addrs
}
