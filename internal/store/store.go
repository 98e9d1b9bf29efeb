// Package store implements the server's global key index: a typed entry
// per user key (string or sorted set), backed by the hash map package, plus
// a per-entry TTL min-heap for eager expiration.
package store

import (
	"container/heap"
	"hash/fnv"

	"github.com/lzgustavo/kvd/internal/hashmap"
	"github.com/lzgustavo/kvd/internal/zset"
)

// Kind identifies the type of value an Entry holds.
type Kind int

const (
	KindString Kind = iota
	KindZSet
)

// Entry is the unit stored under a user key.
type Entry struct {
	Key  string
	Hash uint64
	Kind Kind

	Str  []byte
	ZSet *zset.Set

	// DeadlineUs is only meaningful while heapIndex >= 0.
	DeadlineUs int64

	heapIndex int
	hnode     *hashmap.Node
}

func hashKey(key string) uint64 {
	h := fnv.New64a()
	h.Write([]byte(key))
	return h.Sum64()
}

// ttlHeap is a container/heap.Interface over *Entry ordered by DeadlineUs.
// Swap keeps each Entry's heapIndex in sync with its slot, grounded on the
// back-pointer pattern of an indexed link queue.
type ttlHeap []*Entry

func (h ttlHeap) Len() int            { return len(h) }
func (h ttlHeap) Less(i, j int) bool  { return h[i].DeadlineUs < h[j].DeadlineUs }
func (h ttlHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].heapIndex = i
	h[j].heapIndex = j
}

func (h *ttlHeap) Push(x interface{}) {
	e := x.(*Entry)
	e.heapIndex = len(*h)
	*h = append(*h, e)
}

func (h *ttlHeap) Pop() interface{} {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	e.heapIndex = -1
	*h = old[:n-1]
	return e
}

// Store is the process-wide key index. The zero value is ready to use.
type Store struct {
	db   hashmap.Map
	heap ttlHeap
}

// New returns an empty Store.
func New() *Store {
	return &Store{}
}

func eqKey(key string) hashmap.Eq {
	return func(n *hashmap.Node) bool {
		return n.Value.(*Entry).Key == key
	}
}

// Get looks up key, returning its entry and whether it was found.
func (s *Store) Get(key string) (*Entry, bool) {
	n := s.db.Lookup(hashKey(key), eqKey(key))
	if n == nil {
		return nil, false
	}
	return n.Value.(*Entry), true
}

// SetString upserts key as a STRING entry holding val. If key previously
// held a ZSET, that set is disposed first. Any existing TTL is preserved.
func (s *Store) SetString(key string, val []byte) *Entry {
	if e, ok := s.Get(key); ok {
		if e.Kind == KindZSet {
			e.ZSet = nil
		}
		e.Kind = KindString
		e.Str = val
		return e
	}

	e := &Entry{Key: key, Hash: hashKey(key), Kind: KindString, Str: val, heapIndex: -1}
	e.hnode = hashmap.NewNode(e, e.Hash)
	s.db.Insert(e.hnode)
	return e
}

// GetOrCreateZSet returns key's entry, lazily creating an empty ZSET entry
// if key is absent. It returns ok=false without creating anything if key
// already holds a STRING.
func (s *Store) GetOrCreateZSet(key string) (e *Entry, ok bool) {
	if e, found := s.Get(key); found {
		if e.Kind != KindZSet {
			return nil, false
		}
		return e, true
	}

	e = &Entry{Key: key, Hash: hashKey(key), Kind: KindZSet, ZSet: zset.New(), heapIndex: -1}
	e.hnode = hashmap.NewNode(e, e.Hash)
	s.db.Insert(e.hnode)
	return e, true
}

// Delete removes key, disposing any owned ZSet and releasing its TTL heap
// slot. It reports whether key was present.
func (s *Store) Delete(key string) bool {
	n := s.db.Pop(hashKey(key), eqKey(key))
	if n == nil {
		return false
	}
	e := n.Value.(*Entry)
	if e.heapIndex >= 0 {
		heap.Remove(&s.heap, e.heapIndex)
	}
	e.ZSet = nil
	return true
}

// Len returns the number of keys currently stored.
func (s *Store) Len() int {
	return int(s.db.Len())
}

// Keys returns every key currently stored, in no particular order.
func (s *Store) Keys() []string {
	out := make([]string, 0, s.db.Len())
	s.db.ForEach(func(n *hashmap.Node) {
		out = append(out, n.Value.(*Entry).Key)
	})
	return out
}

// SetTTL implements entry_set_ttl: ttlMs < 0 clears any TTL, ttlMs >= 0 sets
// the deadline to nowUs + ttlMs*1000 and pushes or fixes the heap slot.
func (s *Store) SetTTL(e *Entry, ttlMs int64, nowUs int64) {
	if ttlMs < 0 {
		if e.heapIndex >= 0 {
			heap.Remove(&s.heap, e.heapIndex)
		}
		return
	}

	e.DeadlineUs = nowUs + ttlMs*1000
	if e.heapIndex >= 0 {
		heap.Fix(&s.heap, e.heapIndex)
	} else {
		heap.Push(&s.heap, e)
	}
}

// TTLms reports the remaining time-to-live in milliseconds, or -1 if e has
// no TTL set.
func (s *Store) TTLms(e *Entry, nowUs int64) int64 {
	if e.heapIndex < 0 {
		return -1
	}
	remain := (e.DeadlineUs - nowUs) / 1000
	if remain < 0 {
		return 0
	}
	return remain
}

// NextDeadline returns the earliest TTL deadline in the heap and whether
// one exists.
func (s *Store) NextDeadline() (int64, bool) {
	if len(s.heap) == 0 {
		return 0, false
	}
	return s.heap[0].DeadlineUs, true
}

// ExpireTick deletes every entry whose TTL deadline is at or before nowUs,
// up to max entries, returning how many were deleted. Callers bound max per
// tick so a burst of simultaneous expirations can't stall the event loop.
func (s *Store) ExpireTick(nowUs int64, max int) int {
	n := 0
	for n < max && len(s.heap) > 0 && s.heap[0].DeadlineUs <= nowUs {
		e := s.heap[0]
		s.Delete(e.Key)
		n++
	}
	return n
}
