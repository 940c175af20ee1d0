package table

// FibIterator is a resumable cursor over the nodes of a Fib.
//
// Between calls the cursor is parked at the node Next will return, and is
// registered with the table so that table changes keep it valid: removing
// the parked node moves the cursor to the following node, and nodes appended
// after the cursor position are still visited.
type FibIterator struct {
	fib       *Fib
	pos       *Net
	exhausted bool
	released  bool
}

// NewIterator creates a cursor parked at the first node.
func (f *Fib) NewIterator() *FibIterator {
	it := &FibIterator{fib: f}
	if f.head != nil {
		it.park(f.head)
	} else {
		it.parkExhausted()
	}
	return it
}

// Next returns the parked node and advances the cursor past it,
// or returns nil when no nodes remain.
func (it *FibIterator) Next() *Net {
	it.check()
	if it.exhausted {
		return nil
	}

	n := it.pos
	if n.next != nil {
		it.park(n.next)
	} else {
		it.parkExhausted()
	}
	return n
}

// Put parks the cursor at n, so the next call to Next returns n again.
// n must be a node of the cursor's table.
func (it *FibIterator) Put(n *Net) {
	it.check()
	it.park(n)
}

// Unlink releases the cursor from the table. It may be called more than once.
func (it *FibIterator) Unlink() {
	if it.released {
		return
	}
	it.unpark()
	it.released = true
}

// Released reports whether Unlink was called.
func (it *FibIterator) Released() bool {
	return it.released
}

func (it *FibIterator) check() {
	if it.released {
		panic("table: iterator used after unlink")
	}
}

func (it *FibIterator) park(n *Net) {
	it.unpark()
	it.pos = n
	it.exhausted = false
	n.iterators = append(n.iterators, it)
}

func (it *FibIterator) parkExhausted() {
	it.unpark()
	it.exhausted = true
	it.fib.exhausted = append(it.fib.exhausted, it)
}

func (it *FibIterator) unpark() {
	if it.exhausted {
		it.fib.exhausted = removeIterator(it.fib.exhausted, it)
		it.exhausted = false
	} else if it.pos != nil {
		it.pos.iterators = removeIterator(it.pos.iterators, it)
		it.pos = nil
	}
}

func removeIterator(list []*FibIterator, it *FibIterator) []*FibIterator {
	for i, entry := range list {
		if entry == it {
			return append(list[:i], list[i+1:]...)
		}
	}
	return list
}

// Iterators returns the number of cursors registered with the table.
func (f *Fib) Iterators() int {
	count := len(f.exhausted)
	for n := f.head; n != nil; n = n.next {
		count += len(n.iterators)
	}
	return count
}
