// Package idlelist implements a circular, intrusive doubly linked list with
// a sentinel head/tail node, ordered ascending by last-activity timestamp.
// Every touch detaches a node and re-links it at the tail, so the list
// never needs an explicit sort: the head is always the next connection due
// to idle out.
package idlelist

// Node is a single link. The zero Node is a valid, unlinked node.
type Node struct {
	prev, next     *Node
	LastActivityUs int64
	Value          interface{}
}

func link(a, b *Node) {
	a.next = b
	b.prev = a
}

// Detach removes n from whatever list it is currently linked into. It is a
// no-op if n is already detached (prev/next nil).
func (n *Node) Detach() {
	if n.prev == nil && n.next == nil {
		return
	}
	link(n.prev, n.next)
	n.prev, n.next = nil, nil
}

// List is a sentinel-based circular doubly linked list.
type List struct {
	sentinel Node
}

// New returns an empty list.
func New() *List {
	l := &List{}
	l.sentinel.prev = &l.sentinel
	l.sentinel.next = &l.sentinel
	return l
}

// Empty reports whether the list has no linked nodes.
func (l *List) Empty() bool {
	return l.sentinel.next == &l.sentinel
}

// PushBack links n at the tail (the most-recently-touched end).
func (l *List) PushBack(n *Node) {
	link(l.sentinel.prev, n)
	link(n, &l.sentinel)
}

// Front returns the head (earliest-to-expire) node, or nil if empty.
func (l *List) Front() *Node {
	if l.Empty() {
		return nil
	}
	return l.sentinel.next
}

// Touch detaches n (already linked, or fresh) and re-links it at the tail
// with a refreshed timestamp, preserving ascending order.
func (l *List) Touch(n *Node, nowUs int64) {
	n.Detach()
	n.LastActivityUs = nowUs
	l.PushBack(n)
}
