package eventindex

import "sort"

// cache keeps event records sorted by nonce. It is not safe for concurrent
// use, Index guards it.
type cache struct {
	records []EventRecord
}

func (c *cache) search(nonce uint64) int {
	return sort.Search(len(c.records), func(i int) bool {
		return c.records[i].Nonce >= nonce
	})
}

// lookup returns the record for nonce if cached
func (c *cache) lookup(nonce uint64) (EventRecord, bool) {
	i := c.search(nonce)
	if i < len(c.records) && c.records[i].Nonce == nonce {
		return c.records[i], true
	}
	return EventRecord{}, false
}

// insertIfAbsent adds the record at its sorted position. It returns false if
// the nonce was already cached, in which case the cache is left as it was
func (c *cache) insertIfAbsent(record EventRecord) bool {
	i := c.search(record.Nonce)
	if i < len(c.records) && c.records[i].Nonce == record.Nonce {
		return false
	}
	c.records = append(c.records, EventRecord{})
	copy(c.records[i+1:], c.records[i:])
	c.records[i] = record
	return true
}

func (c *cache) len() int {
	return len(c.records)
}

func (c *cache) reset() {
	c.records = nil
}
