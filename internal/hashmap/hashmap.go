// Package hashmap implements a two-table, progressively rehashing, open
// chained hash map. Every mutating operation migrates a bounded number of
// entries from the shrinking "secondary" table into the growing "primary"
// table, so no single operation pays for a full-table rehash.
package hashmap

const (
	// ResizingWork is the maximum number of entries migrated from the
	// secondary table to the primary table per mutating operation.
	ResizingWork = 128

	// MaxLoadFactor is the size/bucket-count ratio that triggers a grow.
	MaxLoadFactor = 8

	initialBuckets = 4
)

// Node is a single hash-chain link. Callers embed or wrap their payload in
// Value, mirroring container/list.Element.
type Node struct {
	Value interface{}
	Hash  uint64

	next *Node
}

// NewNode returns a detached node ready for Map.Insert.
func NewNode(v interface{}, hash uint64) *Node {
	return &Node{Value: v, Hash: hash}
}

// Eq reports whether node is the entry a lookup is searching for. Callers
// supply this instead of a Key type so the map stays payload-agnostic.
type Eq func(*Node) bool

type table struct {
	buckets []*Node
	mask    uint64
	size    uint64
}

func newTable(n uint64) *table {
	return &table{buckets: make([]*Node, n), mask: n - 1}
}

func (t *table) insert(n *Node) {
	pos := n.Hash & t.mask
	n.next = t.buckets[pos]
	t.buckets[pos] = n
}

// ref is the result of a successful lookup: enough to detach the node in
// O(1) without re-walking its chain.
type ref struct {
	t     *table
	pos   uint64
	prev  *Node
	found *Node
}

func (t *table) lookup(hash uint64, eq Eq) *ref {
	pos := hash & t.mask
	var prev *Node
	for cur := t.buckets[pos]; cur != nil; cur = cur.next {
		if eq(cur) {
			return &ref{t: t, pos: pos, prev: prev, found: cur}
		}
		prev = cur
	}
	return nil
}

func (r *ref) detach() *Node {
	if r.prev == nil {
		r.t.buckets[r.pos] = r.found.next
	} else {
		r.prev.next = r.found.next
	}
	r.found.next = nil
	r.t.size--
	return r.found
}

// Map is a progressive-rehash hash map. The zero Map is ready to use.
type Map struct {
	primary, secondary *table
	cursor             uint64
}

// Len returns the total number of entries across both tables.
func (m *Map) Len() uint64 {
	var n uint64
	if m.primary != nil {
		n += m.primary.size
	}
	if m.secondary != nil {
		n += m.secondary.size
	}
	return n
}

// Rehashing reports whether a progressive rehash is currently in flight.
func (m *Map) Rehashing() bool {
	return m.secondary != nil
}

// Insert adds node to the map, triggering a grow once the load factor
// reaches MaxLoadFactor, then performs one bounded step of any in-flight
// rehash.
func (m *Map) Insert(n *Node) {
	if m.primary == nil {
		m.primary = newTable(initialBuckets)
	}
	m.primary.insert(n)
	m.primary.size++

	if m.secondary == nil && m.primary.size/(m.primary.mask+1) >= MaxLoadFactor {
		m.startRehash()
	}
	m.helpRehash()
}

func (m *Map) startRehash() {
	m.secondary = m.primary
	m.primary = newTable((m.secondary.mask + 1) * 2)
	m.cursor = 0
}

// helpRehash migrates up to ResizingWork entries from secondary to primary,
// always advancing the cursor past buckets it visits (whether or not they
// held anything) so an empty stretch of buckets can never stall progress.
func (m *Map) helpRehash() {
	if m.secondary == nil {
		return
	}

	moved := 0
	for moved < ResizingWork && m.secondary.size > 0 {
		bucket := m.secondary.buckets[m.cursor]
		if bucket == nil {
			m.cursor++
			continue
		}

		m.secondary.buckets[m.cursor] = bucket.next
		bucket.next = nil
		m.secondary.size--
		m.primary.insert(bucket)
		m.primary.size++
		moved++

		if m.secondary.buckets[m.cursor] == nil {
			m.cursor++
		}
	}

	if m.secondary.size == 0 {
		m.secondary = nil
		m.cursor = 0
	}
}

// Lookup returns the node matching (hash, eq), checking primary then
// secondary, or nil if no such node exists.
func (m *Map) Lookup(hash uint64, eq Eq) *Node {
	m.helpRehash()
	if m.primary != nil {
		if r := m.primary.lookup(hash, eq); r != nil {
			return r.found
		}
	}
	if m.secondary != nil {
		if r := m.secondary.lookup(hash, eq); r != nil {
			return r.found
		}
	}
	return nil
}

// Pop removes and returns the node matching (hash, eq), or nil if absent.
func (m *Map) Pop(hash uint64, eq Eq) *Node {
	m.helpRehash()
	if m.primary != nil {
		if r := m.primary.lookup(hash, eq); r != nil {
			return r.detach()
		}
	}
	if m.secondary != nil {
		if r := m.secondary.lookup(hash, eq); r != nil {
			return r.detach()
		}
	}
	return nil
}

// ForEach visits every node in the map, primary table first then secondary,
// in unspecified order. f must not mutate the map.
func (m *Map) ForEach(f func(*Node)) {
	for _, t := range []*table{m.primary, m.secondary} {
		if t == nil {
			continue
		}
		for _, head := range t.buckets {
			for n := head; n != nil; n = n.next {
				f(n)
			}
		}
	}
}
