// Package zset implements a sorted set: a collection of (name, score)
// members kept simultaneously in a hash index (lookup by name) and an
// order-statistic AVL tree (range queries ordered by score, then name).
// The two indices always hold the same population; see Set's invariant in
// the package-level tests.
package zset

import (
	"hash/fnv"

	"github.com/lzgustavo/kvd/internal/avltree"
	"github.com/lzgustavo/kvd/internal/hashmap"
)

// Member is a single (score, name) element of a Set.
type Member struct {
	Score float64
	Name  string

	hash  uint64
	tnode *avltree.Node
	hnode *hashmap.Node
}

func hashName(name string) uint64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(name))
	return h.Sum64()
}

// less orders members primarily by score as real numbers, then
// lexicographically by name bytes, with a shorter name sorting before a
// longer one that shares its full prefix. Negative and positive zero
// compare equal, matching ordinary float64 comparison.
func less(a, b *Member) bool {
	if a.Score != b.Score {
		return a.Score < b.Score
	}
	n := len(a.Name)
	if len(b.Name) < n {
		n = len(b.Name)
	}
	for i := 0; i < n; i++ {
		if a.Name[i] != b.Name[i] {
			return a.Name[i] < b.Name[i]
		}
	}
	return len(a.Name) < len(b.Name)
}

// Set is a sorted set, composing a hashmap.Map for by-name lookup with an
// avltree.Tree for by-(score,name) ordering.
type Set struct {
	hm   hashmap.Map
	tree *avltree.Tree
}

// New returns an empty sorted set.
func New() *Set {
	s := &Set{}
	s.tree = avltree.New(func(a, b *avltree.Node) bool {
		return less(a.Value.(*Member), b.Value.(*Member))
	})
	return s
}

// Len returns the number of members in the set.
func (s *Set) Len() uint32 { return s.tree.Len() }

func eqName(name string) hashmap.Eq {
	return func(n *hashmap.Node) bool { return n.Value.(*Member).Name == name }
}

// lookup returns the member named name, or nil.
func (s *Set) lookup(name string) *Member {
	found := s.hm.Lookup(hashName(name), eqName(name))
	if found == nil {
		return nil
	}
	return found.Value.(*Member)
}

// Add inserts name with score if absent, or updates the score of the
// existing member (re-inserting it into the tree only if the score
// actually changed). It reports whether a new member was created; NaN
// scores are rejected at the command boundary, not here.
func (s *Set) Add(name string, score float64) bool {
	if m := s.lookup(name); m != nil {
		s.updateScore(m, score)
		return false
	}

	m := &Member{Score: score, Name: name, hash: hashName(name)}
	m.hnode = hashmap.NewNode(m, m.hash)
	s.hm.Insert(m.hnode)
	m.tnode = avltree.NewNode(m)
	s.tree.Insert(m.tnode)
	return true
}

func (s *Set) updateScore(m *Member, score float64) {
	if m.Score == score {
		return
	}
	s.tree.Delete(m.tnode)
	m.Score = score
	s.tree.Insert(m.tnode)
}

// Score returns the score of name and true, or (0, false) if absent.
func (s *Set) Score(name string) (float64, bool) {
	m := s.lookup(name)
	if m == nil {
		return 0, false
	}
	return m.Score, true
}

// Remove deletes name from the set, reporting whether it was present.
func (s *Set) Remove(name string) bool {
	popped := s.hm.Pop(hashName(name), eqName(name))
	if popped == nil {
		return false
	}
	m := popped.Value.(*Member)
	s.tree.Delete(m.tnode)
	return true
}

// Query finds the smallest member whose (score, name) is >= the argument,
// walks offset positions from it, then returns up to limit members in
// ascending order starting there. It returns an empty, non-nil slice if
// there is no such lower bound or limit <= 0.
func (s *Set) Query(score float64, name string, offset, limit int64) []*Member {
	res := make([]*Member, 0)
	if limit <= 0 {
		return res
	}

	probe := &Member{Score: score, Name: name}
	var lowerBound *avltree.Node
	cur := s.tree.Root()
	for cur != nil {
		if less(cur.Value.(*Member), probe) {
			cur = cur.Right()
		} else {
			lowerBound = cur
			cur = cur.Left()
		}
	}
	if lowerBound == nil {
		return res
	}

	n := avltree.Offset(lowerBound, offset)
	for n != nil && int64(len(res)) < limit {
		res = append(res, n.Value.(*Member))
		n = avltree.Next(n)
	}
	return res
}
