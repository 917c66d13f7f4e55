package transport

import (
	"bytes"
	"slices"
	"sort"
	"sync"

	"github.com/ethereum/go-ethereum/p2p/enode"
)

const (
	bucketSize = 16 // Kademlia bucket size
	hashBits   = 256
	nBuckets   = hashBits + 1 // Number of buckets, distance 0 included
)

// Table is the routing table of one node. Entries live in an arena of slots
// and the buckets hold slot indexes, so a node id maps to exactly one slot.
type Table struct {
	self enode.ID

	mu      sync.RWMutex
	slots   []*enode.Node
	free    []int
	index   map[enode.ID]int
	buckets [nBuckets][]int
}

// NewTable creates an empty table for the local node id.
func NewTable(self enode.ID) *Table {
	return &Table{
		self:  self,
		index: make(map[enode.ID]int),
	}
}

// Self returns the local node id.
func (tab *Table) Self() enode.ID {
	return tab.self
}

// Add inserts n or replaces the stored record when n is not older.
// The local node and nodes whose bucket is full are rejected.
func (tab *Table) Add(n *enode.Node) error {
	id := n.ID()
	if id == tab.self {
		return ErrSelfNode
	}
	tab.mu.Lock()
	defer tab.mu.Unlock()

	if slot, ok := tab.index[id]; ok {
		if n.Seq() >= tab.slots[slot].Seq() {
			tab.slots[slot] = n
		}
		return nil
	}
	b := enode.LogDist(tab.self, id)
	if len(tab.buckets[b]) >= bucketSize {
		return ErrBucketFull
	}
	var slot int
	if len(tab.free) > 0 {
		slot = tab.free[len(tab.free)-1]
		tab.free = tab.free[:len(tab.free)-1]
		tab.slots[slot] = n
	} else {
		slot = len(tab.slots)
		tab.slots = append(tab.slots, n)
	}
	tab.index[id] = slot
	tab.buckets[b] = append(tab.buckets[b], slot)
	return nil
}

// Remove deletes the node with the given id. It reports whether it was present.
func (tab *Table) Remove(id enode.ID) bool {
	tab.mu.Lock()
	defer tab.mu.Unlock()

	slot, ok := tab.index[id]
	if !ok {
		return false
	}
	b := enode.LogDist(tab.self, id)
	tab.buckets[b] = slices.DeleteFunc(tab.buckets[b], func(s int) bool { return s == slot })
	delete(tab.index, id)
	tab.slots[slot] = nil
	tab.free = append(tab.free, slot)
	return true
}

// Node returns the stored record of id, or nil.
func (tab *Table) Node(id enode.ID) *enode.Node {
	tab.mu.RLock()
	defer tab.mu.RUnlock()

	if slot, ok := tab.index[id]; ok {
		return tab.slots[slot]
	}
	return nil
}

// Len returns the number of entries.
func (tab *Table) Len() int {
	tab.mu.RLock()
	defer tab.mu.RUnlock()
	return len(tab.index)
}

// Nodes returns all entries ordered by node id.
func (tab *Table) Nodes() []*enode.Node {
	tab.mu.RLock()
	nodes := make([]*enode.Node, 0, len(tab.index))
	for _, slot := range tab.index {
		nodes = append(nodes, tab.slots[slot])
	}
	tab.mu.RUnlock()

	sortByID(nodes)
	return nodes
}

// BucketNodes returns the entries at log distance dist from the local node,
// ordered by node id.
func (tab *Table) BucketNodes(dist uint) []*enode.Node {
	if dist >= nBuckets {
		return nil
	}
	tab.mu.RLock()
	nodes := make([]*enode.Node, 0, len(tab.buckets[dist]))
	for _, slot := range tab.buckets[dist] {
		nodes = append(nodes, tab.slots[slot])
	}
	tab.mu.RUnlock()

	sortByID(nodes)
	return nodes
}

// Buckets returns the content of every bucket, indexed by log distance.
func (tab *Table) Buckets() [][]*enode.Node {
	out := make([][]*enode.Node, nBuckets)
	for i := range out {
		out[i] = tab.BucketNodes(uint(i))
	}
	return out
}

// Closest returns at most max entries closest to target by XOR distance,
// nearest first.
func (tab *Table) Closest(target enode.ID, max int) []*enode.Node {
	tab.mu.RLock()
	defer tab.mu.RUnlock()

	result := &nodesByDistance{target: target}
	for _, slot := range tab.index {
		result.push(tab.slots[slot], max)
	}
	return result.entries
}

func sortByID(nodes []*enode.Node) {
	sort.Slice(nodes, func(i, j int) bool {
		a, b := nodes[i].ID(), nodes[j].ID()
		return bytes.Compare(a[:], b[:]) < 0
	})
}

// nodesByDistance is a list of nodes, ordered by distance to target.
type nodesByDistance struct {
	entries []*enode.Node
	target  enode.ID
}

// push adds the given node to the list, keeping the total size below maxElems.
func (h *nodesByDistance) push(n *enode.Node, maxElems int) {
	if maxElems <= 0 {
		return
	}
	ix := sort.Search(len(h.entries), func(i int) bool {
		return enode.DistCmp(h.target, h.entries[i].ID(), n.ID()) > 0
	})

	end := len(h.entries)
	if len(h.entries) < maxElems {
		h.entries = append(h.entries, n)
	}
	if ix < end {
		// Slide existing entries down to make room.
		// This will overwrite the entry we just appended.
		copy(h.entries[ix+1:], h.entries[ix:])
		h.entries[ix] = n
	}
}
