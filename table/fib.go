package table

import (
	"net/netip"

	"github.com/cespare/xxhash"
	"github.com/nestroute/mrtd/bgp"
)

// Net is one prefix node of the table.
type Net struct {
	Prefix netip.Prefix
	Flags  NetFlags
	Routes []*Route

	prev, next *Net
	// cursors parked at this node
	iterators []*FibIterator
}

// Fib is the routing table walked by table dumps. Nodes keep their
// insertion order; that order is the walk order.
// It is not synchronized, all access must happen on one goroutine.
type Fib struct {
	index map[uint64][]*Net
	head  *Net
	tail  *Net
	count int
	// cursors that ran past the last node
	exhausted []*FibIterator
}

// NewFib creates an empty table.
func NewFib() *Fib {
	return &Fib{
		index: make(map[uint64][]*Net),
	}
}

func prefixHash(prefix netip.Prefix) uint64 {
	addr := prefix.Addr().As16()
	key := append(addr[:], byte(prefix.Bits()), byte(len(prefix.Addr().AsSlice())))
	return xxhash.Sum64(key)
}

// Len returns the number of nodes.
func (f *Fib) Len() int {
	return f.count
}

// Find returns the node of the exact prefix, or nil.
func (f *Fib) Find(prefix netip.Prefix) *Net {
	prefix = prefix.Masked()
	for _, n := range f.index[prefixHash(prefix)] {
		if n.Prefix == prefix {
			return n
		}
	}
	return nil
}

// Get returns the node of the prefix, appending a new one if missing.
func (f *Fib) Get(prefix netip.Prefix) *Net {
	prefix = prefix.Masked()
	if n := f.Find(prefix); n != nil {
		return n
	}

	n := &Net{Prefix: prefix}
	hash := prefixHash(prefix)
	f.index[hash] = append(f.index[hash], n)

	n.prev = f.tail
	if f.tail != nil {
		f.tail.next = n
	} else {
		f.head = n
	}
	f.tail = n
	f.count++

	// Cursors past the end continue at the new node
	parked := f.exhausted
	f.exhausted = nil
	for _, it := range parked {
		it.exhausted = false
		it.park(n)
	}

	return n
}

// Add adds or updates a route of the prefix. A route from the same source
// and sender replaces the existing one.
func (f *Fib) Add(prefix netip.Prefix, route *Route) *Net {
	n := f.Get(prefix)
	route.Net = n

	for i, existing := range n.Routes {
		if existing.Source == route.Source && existing.Sender == route.Sender {
			n.Routes[i] = route
			return n
		}
	}
	n.Routes = append(n.Routes, route)
	return n
}

// Withdraw removes the route of the prefix received from sender.
// The node is removed once it has no routes left.
func (f *Fib) Withdraw(prefix netip.Prefix, source RouteSource, sender *bgp.Session) bool {
	n := f.Find(prefix)
	if n == nil {
		return false
	}

	for i, route := range n.Routes {
		if route.Source == source && route.Sender == sender {
			n.Routes = append(n.Routes[:i], n.Routes[i+1:]...)
			route.Net = nil
			if len(n.Routes) == 0 {
				f.remove(n)
			}
			return true
		}
	}
	return false
}

// Remove deletes the node of the prefix with all its routes.
func (f *Fib) Remove(prefix netip.Prefix) bool {
	n := f.Find(prefix)
	if n == nil {
		return false
	}
	for _, route := range n.Routes {
		route.Net = nil
	}
	f.remove(n)
	return true
}

// SetFlags replaces the flags of the prefix node, if present.
func (f *Fib) SetFlags(prefix netip.Prefix, flags NetFlags) bool {
	n := f.Find(prefix)
	if n == nil {
		return false
	}
	n.Flags = flags
	return true
}

func (f *Fib) remove(n *Net) {
	hash := prefixHash(n.Prefix)
	bucket := f.index[hash]
	for i, entry := range bucket {
		if entry == n {
			bucket = append(bucket[:i], bucket[i+1:]...)
			break
		}
	}
	if len(bucket) == 0 {
		delete(f.index, hash)
	} else {
		f.index[hash] = bucket
	}

	// Cursors parked here move on to the following node
	next := n.next
	parked := n.iterators
	n.iterators = nil
	for _, it := range parked {
		if next != nil {
			it.park(next)
		} else {
			it.parkExhausted()
		}
	}

	if n.prev != nil {
		n.prev.next = n.next
	} else {
		f.head = n.next
	}
	if n.next != nil {
		n.next.prev = n.prev
	} else {
		f.tail = n.prev
	}
	n.prev, n.next = nil, nil
	f.count--
}

// Walk calls fn on every node in table order.
// fn must not modify the table.
func (f *Fib) Walk(fn func(*Net)) {
	for n := f.head; n != nil; n = n.next {
		fn(n)
	}
}
