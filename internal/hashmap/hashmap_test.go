package hashmap

import (
	"fmt"
	"hash/fnv"
	"testing"
)

func hashStr(s string) uint64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(s))
	return h.Sum64()
}

func eqStr(s string) Eq {
	return func(n *Node) bool { return n.Value.(string) == s }
}

func drainRehash(m *Map) {
	for m.Rehashing() {
		m.helpRehash()
	}
}

func TestInsertLookupPop(t *testing.T) {
	m := &Map{}
	const n = 5000

	for i := 0; i < n; i++ {
		key := fmt.Sprintf("key-%d", i)
		m.Insert(NewNode(key, hashStr(key)))
	}
	drainRehash(m)

	if got := m.Len(); got != n {
		t.Fatalf("Len() = %d, want %d", got, n)
	}

	for i := 0; i < n; i++ {
		key := fmt.Sprintf("key-%d", i)
		found := m.Lookup(hashStr(key), eqStr(key))
		if found == nil || found.Value.(string) != key {
			t.Fatalf("Lookup(%q) missing after insert", key)
		}
	}

	for i := 0; i < n; i += 2 {
		key := fmt.Sprintf("key-%d", i)
		popped := m.Pop(hashStr(key), eqStr(key))
		if popped == nil {
			t.Fatalf("Pop(%q) returned nil, want the node", key)
		}
		if again := m.Lookup(hashStr(key), eqStr(key)); again != nil {
			t.Fatalf("Lookup(%q) found entry after Pop", key)
		}
	}

	if got, want := m.Len(), uint64(n/2); got != want {
		t.Fatalf("Len() after popping evens = %d, want %d", got, want)
	}
}

func TestPopAbsentIsNil(t *testing.T) {
	m := &Map{}
	m.Insert(NewNode("a", hashStr("a")))
	if got := m.Pop(hashStr("b"), eqStr("b")); got != nil {
		t.Fatalf("Pop of absent key = %v, want nil", got)
	}
	if got := m.Pop(hashStr("a"), eqStr("a")); got == nil {
		t.Fatalf("Pop of present key = nil, want node")
	}
	if got := m.Pop(hashStr("a"), eqStr("a")); got != nil {
		t.Fatalf("second Pop of same key = %v, want nil", got)
	}
}

// TestRehashMakesBoundedProgress inserts enough keys to force several grows
// and checks that every single Insert call only ever touches a bounded
// number of secondary-table entries (ResizingWork), even across long runs
// of empty buckets in the secondary table -- the scenario the original
// source's unfixed cursor bug would have spun on forever.
func TestRehashMakesBoundedProgress(t *testing.T) {
	m := &Map{}
	const n = 20000

	maxStepsObserved := 0
	for i := 0; i < n; i++ {
		key := fmt.Sprintf("adversarial-%d", i)
		before := m.secondaryLen()
		m.Insert(NewNode(key, hashStr(key)))
		after := m.secondaryLen()

		moved := 0
		if before > after {
			moved = before - after
		}
		if moved > ResizingWork {
			t.Fatalf("insert %d moved %d secondary entries, want <= %d", i, moved, ResizingWork)
		}
		if moved > maxStepsObserved {
			maxStepsObserved = moved
		}
	}
	drainRehash(m)
	if got := m.Len(); got != n {
		t.Fatalf("Len() = %d, want %d", got, n)
	}
}

func (m *Map) secondaryLen() int {
	if m.secondary == nil {
		return 0
	}
	return int(m.secondary.size)
}

func TestForEachVisitsEverything(t *testing.T) {
	m := &Map{}
	want := map[string]bool{}
	for i := 0; i < 1000; i++ {
		key := fmt.Sprintf("k%d", i)
		want[key] = true
		m.Insert(NewNode(key, hashStr(key)))
	}

	seen := map[string]bool{}
	m.ForEach(func(n *Node) {
		seen[n.Value.(string)] = true
	})
	if len(seen) != len(want) {
		t.Fatalf("ForEach visited %d entries, want %d", len(seen), len(want))
	}
	for k := range want {
		if !seen[k] {
			t.Fatalf("ForEach missed key %q", k)
		}
	}
}

// TestHelpRehashAdvancesPastLongEmptyRuns exercises the exact scenario
// flagged as ambiguous in the source material: a secondary table where a
// long run of buckets is empty must not stall progress.
func TestHelpRehashAdvancesPastLongEmptyRuns(t *testing.T) {
	m := &Map{}
	// Force a grow and let it finish, then pop almost everything so the
	// table's buckets are mostly empty, then insert fresh keys until
	// another grow starts and confirm that rehash still finishes.
	const n = 64
	keys := make([]string, n)
	for i := 0; i < n; i++ {
		keys[i] = fmt.Sprintf("seed-%d", i)
		m.Insert(NewNode(keys[i], hashStr(keys[i])))
	}
	drainRehash(m)

	for i := 0; i < n-1; i++ {
		m.Pop(hashStr(keys[i]), eqStr(keys[i]))
	}

	// Re-trigger a rehash cycle by forcing load factor past threshold with
	// the single remaining key plus fresh insertions.
	for i := 0; i < 200; i++ {
		key := fmt.Sprintf("fresh-%d", i)
		m.Insert(NewNode(key, hashStr(key)))
	}
	drainRehash(m)
	if m.Rehashing() {
		t.Fatalf("rehash never completed")
	}
}
