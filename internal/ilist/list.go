package ilist

import "log"

// NodeTable resolves an index into a reference to its backing Node. It
// is the node-table view object the teacher's Design Notes call for
// ("a resolver that turns an idx into a reference to the backing
// node") in place of raw pointers, so the same List type can drive both
// the object table and the extent table; internal/area backs each of
// the two with its own node array.
type NodeTable interface {
	GetNode(idx uint32) (*Node, bool)
}

// List implements the intrusive bit-packed doubly-linked list
// operations of spec §4.1 over a NodeTable. A List has no state of its
// own beyond the resolver: every list head is just another index into
// the same table.
type List struct {
	Table NodeTable
}

func (l *List) warn(op string, idx uint32) {
	log.Printf("ilist: %s: index %d out of range, ignored", op, idx)
}

func (l *List) node(op string, idx uint32) (*Node, bool) {
	n, ok := l.Table.GetNode(idx)
	if !ok {
		l.warn(op, idx)
		return nil, false
	}
	return n, true
}

func (l *List) load(idx uint32) (fields, bool) {
	n, ok := l.Table.GetNode(idx)
	if !ok {
		return fields{}, false
	}
	return decode(n.word.Load()), true
}

// storeLocked overwrites a node's fields while preserving the lock bit
// the caller is assumed to be currently holding (true). Used only
// between Lock(idx) and Unlock(idx).
func (l *List) storeLocked(n *Node, f fields) {
	f.lock = true
	n.word.Store(f.encode())
}

// Init resets idx to an empty self-loop: prev == next == idx, mcgid 0,
// priv and lock clear.
func (l *List) Init(idx uint32) bool {
	n, ok := l.node("init", idx)
	if !ok {
		return false
	}
	n.word.Store(initWord(idx))
	return true
}

// Lock spins on idx's 1-bit lock via test-and-set.
func (l *List) Lock(idx uint32) bool {
	n, ok := l.node("lock", idx)
	if !ok {
		return false
	}
	for {
		w := n.word.Load()
		if decode(w).lock {
			continue
		}
		f := decode(w)
		f.lock = true
		if n.word.CompareAndSwap(w, f.encode()) {
			return true
		}
	}
}

// Unlock clears idx's 1-bit lock.
func (l *List) Unlock(idx uint32) {
	n, ok := l.node("unlock", idx)
	if !ok {
		return
	}
	for {
		w := n.word.Load()
		f := decode(w)
		f.lock = false
		if n.word.CompareAndSwap(w, f.encode()) {
			return
		}
	}
}

// Empty reports whether hidx is an empty list head. The caller must
// hold hidx's lock.
func (l *List) Empty(hidx uint32) bool {
	f, ok := l.load(hidx)
	return ok && f.prev == hidx && f.next == hidx
}

// Add inserts idx immediately after hidx (the new front of the list).
// The caller must hold hidx's lock.
func (l *List) Add(idx, hidx uint32) bool {
	hn, ok := l.node("add", hidx)
	if !ok {
		return false
	}
	hf := decode(hn.word.Load())
	oldFront := hf.next

	if !l.Lock(idx) {
		return false
	}
	defer l.Unlock(idx)

	idxF, _ := l.load(idx)
	idxF.prev, idxF.next = hidx, oldFront
	idxN, _ := l.node("add", idx)
	l.storeLocked(idxN, idxF)

	if oldFront == hidx {
		hf.prev = idx
	} else {
		if !l.Lock(oldFront) {
			return false
		}
		frontF, _ := l.load(oldFront)
		frontF.prev = idx
		frontN, _ := l.node("add", oldFront)
		l.storeLocked(frontN, frontF)
		l.Unlock(oldFront)
	}
	hf.next = idx
	l.storeLocked(hn, hf)
	return true
}

// AddTail inserts idx immediately before hidx (the new back of the
// list, i.e. the LRU tail). The caller must hold hidx's lock.
func (l *List) AddTail(idx, hidx uint32) bool {
	hn, ok := l.node("add_tail", hidx)
	if !ok {
		return false
	}
	hf := decode(hn.word.Load())
	oldBack := hf.prev

	if !l.Lock(idx) {
		return false
	}
	defer l.Unlock(idx)

	idxF, _ := l.load(idx)
	idxF.next, idxF.prev = hidx, oldBack
	idxN, _ := l.node("add_tail", idx)
	l.storeLocked(idxN, idxF)

	if oldBack == hidx {
		hf.next = idx
	} else {
		if !l.Lock(oldBack) {
			return false
		}
		backF, _ := l.load(oldBack)
		backF.next = idx
		backN, _ := l.node("add_tail", oldBack)
		l.storeLocked(backN, backF)
		l.Unlock(oldBack)
	}
	hf.prev = idx
	l.storeLocked(hn, hf)
	return true
}

// Del unlinks idx from whatever list it currently belongs to (hidx is
// the list's head, for lock-ordering convention: if idx's neighbor
// happens to be the head, that lock is already held by the caller).
// Del is a no-op if idx is already a self-loop.
func (l *List) Del(idx, hidx uint32) bool {
	if !l.Lock(idx) {
		return false
	}
	idxN, _ := l.node("del", idx)
	idxF := decode(idxN.word.Load())
	prev, next := idxF.prev, idxF.next

	if prev == idx && next == idx {
		l.Unlock(idx)
		return true
	}

	if prev != hidx {
		if !l.Lock(prev) {
			l.Unlock(idx)
			return false
		}
	}
	pf, _ := l.load(prev)
	pf.next = next
	if next == prev {
		// idx was the only other node: prev becomes a self-loop.
		pf.prev = prev
	}
	pn, _ := l.node("del", prev)
	l.storeLocked(pn, pf)
	if prev != hidx {
		l.Unlock(prev)
	}

	if next != prev {
		if next != hidx {
			if !l.Lock(next) {
				l.Unlock(idx)
				return false
			}
		}
		nf, _ := l.load(next)
		nf.prev = prev
		nn, _ := l.node("del", next)
		l.storeLocked(nn, nf)
		if next != hidx {
			l.Unlock(next)
		}
	}

	idxF.prev, idxF.next = idx, idx
	l.storeLocked(idxN, idxF)
	l.Unlock(idx)
	return true
}

// SetPriv atomically sets idx's priv bit and reports whether it was
// previously clear. It does not take the node's spin lock: priv is an
// independent bit in the same word, set via its own compare-and-swap
// (spec §4.1).
func (l *List) SetPriv(idx uint32) (set bool, ok bool) {
	n, ok := l.node("set_priv", idx)
	if !ok {
		return false, false
	}
	for {
		w := n.word.Load()
		f := decode(w)
		if f.priv {
			return false, true
		}
		nf := f
		nf.priv = true
		if n.word.CompareAndSwap(w, nf.encode()) {
			return true, true
		}
	}
}

// ClearPriv atomically clears idx's priv bit.
func (l *List) ClearPriv(idx uint32) {
	n, ok := l.node("clear_priv", idx)
	if !ok {
		return
	}
	for {
		w := n.word.Load()
		f := decode(w)
		if !f.priv {
			return
		}
		f.priv = false
		if n.word.CompareAndSwap(w, f.encode()) {
			return
		}
	}
}

// GetMcgid returns the group id stamped on idx's node.
func (l *List) GetMcgid(idx uint32) uint32 {
	f, ok := l.load(idx)
	if !ok {
		return 0
	}
	return f.mcgid()
}

// SetMcgid stamps idx's node with group id, taking idx's lock.
func (l *List) SetMcgid(idx uint32, id uint32) bool {
	if !l.Lock(idx) {
		return false
	}
	defer l.Unlock(idx)
	n, _ := l.node("set_mcgid", idx)
	f := decode(n.word.Load())
	f = withMcgid(f, id)
	l.storeLocked(n, f)
	return true
}

// Next returns idx's next pointer without locking (the caller typically
// already holds a relevant lock, e.g. while walking a list under the
// head lock).
func (l *List) Next(idx uint32) (uint32, bool) {
	f, ok := l.load(idx)
	if !ok {
		return 0, false
	}
	return f.next, true
}

// Prev returns idx's prev pointer without locking.
func (l *List) Prev(idx uint32) (uint32, bool) {
	f, ok := l.load(idx)
	if !ok {
		return 0, false
	}
	return f.prev, true
}
