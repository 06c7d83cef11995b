package lifecycle

import "sync"

type nonceLock struct {
	mu   sync.Mutex
	refs int
}

// nonceLocks hands out one mutex per nonce and forgets it once unused
type nonceLocks struct {
	mu    sync.Mutex
	locks map[uint64]*nonceLock
}

func newNonceLocks() *nonceLocks {
	return &nonceLocks{
		locks: make(map[uint64]*nonceLock),
	}
}

// lock blocks until the caller holds nonce and returns the release func
func (n *nonceLocks) lock(nonce uint64) func() {
	n.mu.Lock()
	l, ok := n.locks[nonce]
	if !ok {
		l = &nonceLock{}
		n.locks[nonce] = l
	}
	l.refs++
	n.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		n.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(n.locks, nonce)
		}
		n.mu.Unlock()
	}
}

func (n *nonceLocks) len() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.locks)
}
