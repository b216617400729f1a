// Package area implements the Area container of spec §4.2: the
// fixed-size bookkeeping arrays for objects, extents and groups, the
// extent free bitmap, and the LRU/reverse-map list views layered over
// internal/ilist.
//
// The teacher's mem.Physmem_t (biscuit/src/mem/mem.go) is the model for
// the bitmap allocator here: a rotating free cursor over a single
// bitmap guarded by one mutex. biscuit's per-CPU shard free lists are
// not carried over; every allocation scans the one bitmap.
package area

import (
	"sync"
	"sync/atomic"

	"eswap/internal/eserr"
	"eswap/internal/ilist"
)

// Area is the top-level container owning all bookkeeping for one
// compressed-store instance (spec §3).
type Area struct {
	NrObjs uint32
	NrExts uint32
	NrMcgs uint32

	// ObjList is the list table whose members are object indices
	// [0, NrObjs). Its heads are drawn from two disjoint ranges of the
	// same backing array: extHeadBase+e (the reverse map of extent e)
	// and groupLRUHeadBase+g (the LRU of group g).
	ObjList *ilist.List
	objNodes []ilist.Node

	// ExtList is the list table whose members are extent indices
	// [0, NrExts). Its heads are groupExtHeadBase+g, the per-group
	// extent list. Extent member nodes also carry the priv bit used by
	// AcquireExtent/ReleaseExtent to serialize fault-in against
	// free/rewrite (spec §4.1's "priv" field, living on the extent's
	// own list-membership node since nothing else needs it there).
	ExtList *ilist.List
	extNodes []ilist.Node

	extHeadBase      uint32
	groupLRUHeadBase uint32
	groupExtHeadBase uint32

	bitmapMu     sync.Mutex
	bitmap       []uint64 // bit set = extent allocated
	lastAllocBit uint32

	extStoredPages []atomic.Int64
}

type objTable struct{ nodes []ilist.Node }

func (t *objTable) GetNode(idx uint32) (*ilist.Node, bool) {
	if int(idx) >= len(t.nodes) {
		return nil, false
	}
	return &t.nodes[idx], true
}

type extTable struct{ nodes []ilist.Node }

func (t *extTable) GetNode(idx uint32) (*ilist.Node, bool) {
	if int(idx) >= len(t.nodes) {
		return nil, false
	}
	return &t.nodes[idx], true
}

// Create allocates all backing arrays for an Area sized to hold
// objectCount objects and extentCount extents, per spec §4.2.
func Create(objectCount, extentCount, groupCount uint32) *Area {
	a := &Area{
		NrObjs: objectCount,
		NrExts: extentCount,
		NrMcgs: groupCount,
	}

	a.extHeadBase = objectCount
	a.groupLRUHeadBase = objectCount + extentCount
	objNodeCount := objectCount + extentCount + groupCount
	a.objNodes = make([]ilist.Node, objNodeCount)
	ot := &objTable{nodes: a.objNodes}
	a.ObjList = &ilist.List{Table: ot}
	for i := uint32(0); i < objNodeCount; i++ {
		a.ObjList.Init(i)
	}

	a.groupExtHeadBase = extentCount
	extNodeCount := extentCount + groupCount
	a.extNodes = make([]ilist.Node, extNodeCount)
	et := &extTable{nodes: a.extNodes}
	a.ExtList = &ilist.List{Table: et}
	for i := uint32(0); i < extNodeCount; i++ {
		a.ExtList.Init(i)
	}

	a.bitmap = make([]uint64, (extentCount+63)/64)
	a.extStoredPages = make([]atomic.Int64, extentCount)
	return a
}

// ExtHead returns the object-table index used as the head of extent
// e's reverse map.
func (a *Area) ExtHead(e uint32) uint32 { return a.extHeadBase + e }

// GroupLRUHead returns the object-table index used as the head of
// group g's LRU.
func (a *Area) GroupLRUHead(g uint32) uint32 { return a.groupLRUHeadBase + g }

// GroupExtHead returns the extent-table index used as the head of
// group g's extent list.
func (a *Area) GroupExtHead(g uint32) uint32 { return a.groupExtHeadBase + g }

// ExtStoredPages returns the atomic stored-page counter for extent e.
func (a *Area) ExtStoredPages(e uint32) *atomic.Int64 { return &a.extStoredPages[e] }

func (a *Area) bitSet(e uint32) bool {
	return a.bitmap[e/64]&(1<<(e%64)) != 0
}

func (a *Area) bitToggle(e uint32, set bool) {
	if set {
		a.bitmap[e/64] |= 1 << (e % 64)
	} else {
		a.bitmap[e/64] &^= 1 << (e % 64)
	}
}

// AllocExtent finds the next free bit starting at lastAllocBit, marks
// it allocated, initializes the extent's nodes, links it into group's
// extent list, and returns its id. Returns eserr.NoSpace if the bitmap
// is full (spec §4.2, §6.6/§7).
func (a *Area) AllocExtent(group uint32) (uint32, error) {
	a.bitmapMu.Lock()
	extID, found := a.scanFree(a.lastAllocBit)
	if !found {
		a.bitmapMu.Unlock()
		return 0, eserr.NoSpace
	}
	a.bitToggle(extID, true)
	a.lastAllocBit = (extID + 1) % a.NrExts
	a.bitmapMu.Unlock()

	a.ObjList.Init(a.ExtHead(extID))
	a.ExtList.Init(extID)
	a.extStoredPages[extID].Store(0)
	a.ExtList.SetMcgid(extID, group)

	gh := a.GroupExtHead(group)
	a.ExtList.Lock(gh)
	a.ExtList.AddTail(extID, gh)
	a.ExtList.Unlock(gh)
	return extID, nil
}

func (a *Area) scanFree(start uint32) (uint32, bool) {
	n := a.NrExts
	if n == 0 {
		return 0, false
	}
	for i := uint32(0); i < n; i++ {
		e := (start + i) % n
		word := a.bitmap[e/64]
		bit := uint(e % 64)
		if word&(1<<bit) == 0 {
			return e, true
		}
		// skip ahead within a fully-set word for less scanning.
		if word == ^uint64(0) && bit == 0 {
			skip := uint32(64)
			if n-e < skip {
				skip = n - e
			}
			i += skip - 1
		}
	}
	return 0, false
}

// FreeExtent detaches extID from its owning group's extent list, clears
// its bitmap bit, and resets its stored-page counter and owner.
func (a *Area) FreeExtent(extID uint32) {
	owner := a.ExtList.GetMcgid(extID)
	gh := a.GroupExtHead(owner)
	a.ExtList.Lock(gh)
	a.ExtList.Del(extID, gh)
	a.ExtList.Unlock(gh)

	a.ExtList.SetMcgid(extID, 0)
	a.extStoredPages[extID].Store(0)

	a.bitmapMu.Lock()
	a.bitToggle(extID, false)
	a.bitmapMu.Unlock()
}

// AcquireExtent sets extID's priv bit, serializing fault-in against
// concurrent free/rewrite. Returns eserr.Busy if priv was already set,
// eserr.NotFound if extID is not currently allocated.
func (a *Area) AcquireExtent(extID uint32) (uint32, error) {
	if extID >= a.NrExts {
		return 0, eserr.Invalid
	}
	a.bitmapMu.Lock()
	allocated := a.bitSet(extID)
	a.bitmapMu.Unlock()
	if !allocated {
		return 0, eserr.NotFound
	}
	transitioned, ok := a.ExtList.SetPriv(extID)
	if !ok {
		return 0, eserr.Invalid
	}
	if !transitioned {
		return 0, eserr.Busy
	}
	return extID, nil
}

// ReleaseExtent clears extID's priv bit.
func (a *Area) ReleaseExtent(extID uint32) {
	a.ExtList.ClearPriv(extID)
}

// GetGroupColdestObjects walks group g's LRU in reverse (from the tail,
// coldest first) under the head lock, collecting up to max object
// indices into out. Returns the count collected.
func (a *Area) GetGroupColdestObjects(g uint32, out []uint32, max int) int {
	h := a.GroupLRUHead(g)
	a.ObjList.Lock(h)
	defer a.ObjList.Unlock(h)

	n := 0
	cur, _ := a.ObjList.Prev(h)
	for cur != h && n < max && n < len(out) {
		out[n] = cur
		n++
		cur, _ = a.ObjList.Prev(cur)
	}
	return n
}

// GetExtentObjects walks extent extID's reverse map under its own head
// lock, collecting up to max member object indices into out. Returns
// the count collected. This is the enumeration extmgr.ExtentReadDone
// needs to snapshot an extent's current membership at fault-in
// completion time (spec §4.3): unlike the group LRU, reverse-map order
// doesn't matter to callers, so this walks forward from the head.
func (a *Area) GetExtentObjects(extID uint32, out []uint32, max int) int {
	h := a.ExtHead(extID)
	a.ObjList.Lock(h)
	defer a.ObjList.Unlock(h)

	n := 0
	cur, _ := a.ObjList.Next(h)
	for cur != h && n < max && n < len(out) {
		out[n] = cur
		n++
		cur, _ = a.ObjList.Next(cur)
	}
	return n
}

// GetGroupZramEntry returns the head of group g's LRU (any remaining
// in-zram object), or ok=false if empty. Used only during teardown.
func (a *Area) GetGroupZramEntry(g uint32) (uint32, bool) {
	h := a.GroupLRUHead(g)
	a.ObjList.Lock(h)
	defer a.ObjList.Unlock(h)
	if a.ObjList.Empty(h) {
		return 0, false
	}
	next, _ := a.ObjList.Next(h)
	return next, true
}

// GetGroupExtent returns any extent currently owned by group g, or
// ok=false if it owns none. Used only during teardown.
func (a *Area) GetGroupExtent(g uint32) (uint32, bool) {
	h := a.GroupExtHead(g)
	a.ExtList.Lock(h)
	defer a.ExtList.Unlock(h)
	if a.ExtList.Empty(h) {
		return 0, false
	}
	next, _ := a.ExtList.Next(h)
	return next, true
}
