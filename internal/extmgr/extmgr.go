// Package extmgr implements the ExtentManager of spec §4.3: the
// object<->extent lifecycle that rides on top of internal/area's
// bitmap allocator and list tables.
//
// Grounded on original_source/drivers/block/zram/expandmem/
// eswap_manager.c: Track/Untrack mirror zram_lru_add/zram_lru_del,
// CreateExtent mirrors eswap_extent_create's two-phase "shrink_entry_list
// snapshot, then pack under per-slot lock" shape, FindExtent mirrors
// eswap_fault_out_get_extent's EBUSY poll loop (udelay(50),
// GET_EXTENT_MAX_TIMES), and GroupTeardown mirrors
// eswap_manager_memcg_deinit's two drain loops (LRU then extent list).
package extmgr

import (
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/common/log"

	"eswap/internal/area"
	"eswap/internal/eserr"
	"eswap/internal/group"
	"eswap/internal/zramapi"
	"eswap/pkg/align"
)

// Manager is the ExtentManager: it owns no memory itself, only the
// policy wiring between an Area, a group Registry and a zram Store.
type Manager struct {
	Area  *area.Area
	Store zramapi.Store

	// PollBackoff is the sleep between FindExtent retries; the original
	// uses udelay(50). Exposed so tests can shrink it.
	PollBackoff time.Duration
	// MaxPolls bounds FindExtent's retry budget (GET_EXTENT_MAX_TIMES).
	MaxPolls int
}

// New returns a Manager with the teacher's default poll parameters.
func New(a *area.Area, store zramapi.Store) *Manager {
	return &Manager{
		Area:        a,
		Store:       store,
		PollBackoff: 50 * time.Microsecond,
		MaxPolls:    align.GetExtentMaxTimes,
	}
}

// Track places index on group g's LRU as the newest (warmest) entry.
func (m *Manager) Track(index uint32, g zramapi.GroupID) {
	h := m.Area.GroupLRUHead(uint32(g))
	m.Store.SetMemcgID(index, g)
	m.Area.ObjList.Lock(h)
	m.Area.ObjList.Add(index, h)
	m.Area.ObjList.Unlock(h)
}

// Untrack removes index from group g's LRU, e.g. when an object is
// freed while resident in zram.
func (m *Manager) Untrack(index uint32, g zramapi.GroupID) {
	h := m.Area.GroupLRUHead(uint32(g))
	m.Area.ObjList.Lock(h)
	m.Area.ObjList.Del(index, h)
	m.Area.ObjList.Unlock(h)
	m.Store.SetMemcgID(index, 0)
}

// Delete asks whether index may be freed right now. It refuses while
// index is mid write-back or mid fault-in (spec §4.3, invariant 4:
// transient exclusion), returning false without touching any state. If
// index is written back and not transient, it decrements the owning
// extent's stored-page counter and frees the extent once drained, then
// reports true. Callers hold index's slot lock across this call.
func (m *Manager) Delete(index uint32) bool {
	if m.Store.TestFlag(index, zramapi.UnderWB) || m.Store.TestFlag(index, zramapi.UnderFaultout) {
		return false
	}
	if m.Store.TestFlag(index, zramapi.WB) {
		extID := align.EswapEntry(m.Store.GetHandle(index)).ExtentID()
		if m.Area.ExtStoredPages(extID).Add(-1) == 0 {
			m.Area.FreeExtent(extID)
		}
	}
	return true
}

// CreateExtent allocates a new extent for group g and packs it with
// that group's coldest zram-resident objects, skipping any object that
// fails its per-slot eligibility check by the time it is actually
// locked (spec §4.3's "snapshot coldest, then filter under per-object
// lock"). Returns eserr.NoSpace if the area has no free extent.
func (m *Manager) CreateExtent(g zramapi.GroupID) (uint32, []uint32, error) {
	extID, err := m.Area.AllocExtent(uint32(g))
	if err != nil {
		return 0, nil, err
	}

	candidates := make([]uint32, align.ExtentMaxObjCount)
	n := m.Area.GetGroupColdestObjects(uint32(g), candidates, align.ExtentMaxObjCount)
	candidates = candidates[:n]

	packed := make([]uint32, 0, n)
	remaining := align.ExtentSize
	for _, idx := range candidates {
		if len(packed) >= align.ExtentMaxObjCount || remaining <= 0 {
			break
		}
		m.Store.SlotLock(idx)
		size := m.Store.GetObjSize(idx)
		skip := m.Store.TestFlag(idx, zramapi.WB) ||
			m.Store.TestFlag(idx, zramapi.UnderWB) ||
			m.Store.TestFlag(idx, zramapi.UnderFaultout) ||
			m.Store.TestFlag(idx, zramapi.Same) ||
			m.Store.GetMemcgID(idx) != g ||
			size == 0
		if skip {
			m.Store.SlotUnlock(idx)
			continue
		}
		if size > remaining {
			m.Store.SlotUnlock(idx)
			break
		}
		m.Store.SetFlag(idx, zramapi.UnderWB)
		m.Untrack(idx, g)
		m.Store.SlotUnlock(idx)
		packed = append(packed, idx)
		remaining -= size
	}

	if len(packed) == 0 {
		m.Area.FreeExtent(extID)
		return 0, nil, eserr.Wrap(eserr.Again, nil, "no eligible objects to pack")
	}
	return extID, packed, nil
}

// RegisterExtent stamps each packed object with its on-disk handle and
// links it into extID's reverse map (spec §4.3, mirrors extent_add +
// eswap_extent_register). It does not touch the extent's priv bit:
// nothing on the write path sets it.
func (m *Manager) RegisterExtent(extID uint32, objs []uint32) {
	eswapentry := uint64(extID) << align.ExtentShift
	h := m.Area.ExtHead(extID)
	m.Area.ObjList.Lock(h)
	for _, idx := range objs {
		size := m.Store.GetObjSize(idx)
		m.Store.SlotLock(idx)
		m.Store.SetHandle(idx, zramapi.Handle(eswapentry))
		m.Store.SetFlag(idx, zramapi.WB)
		m.Store.ClearFlag(idx, zramapi.UnderWB)
		m.Store.SlotUnlock(idx)
		m.Area.ObjList.Add(idx, h)
		eswapentry += uint64(size)
	}
	m.Area.ObjList.Unlock(h)
	m.Area.ExtStoredPages(extID).Add(int64(len(objs)))
}

// ExtentWriteFailed reinserts objs back onto group g's LRU tail and
// frees the extent, undoing a failed write (mirrors discard_io_extent's
// write-failure path in eswap_manager.c).
func (m *Manager) ExtentWriteFailed(extID uint32, objs []uint32, g zramapi.GroupID) {
	for _, idx := range objs {
		m.Store.SlotLock(idx)
		m.Store.ClearFlag(idx, zramapi.UnderWB)
		m.Store.SlotUnlock(idx)
		h := m.Area.GroupLRUHead(uint32(g))
		m.Area.ObjList.Lock(h)
		m.Area.ObjList.AddTail(idx, h)
		m.Area.ObjList.Unlock(h)
	}
	m.Area.FreeExtent(extID)
}

// FindExtent acquires extID for fault-in, retrying with a short
// backoff while it is transiently busy (its priv bit held by another
// fault-in), up to MaxPolls times (spec §4.3, mirrors
// eswap_fault_out_get_extent's EBUSY retry loop). stillWanted is
// consulted on each retry so the caller can bail out once the
// requesting object no longer needs this extent (e.g. it raced with a
// delete). Both that bail-out and an extent still busy after MaxPolls
// retries return eserr.Again.
func (m *Manager) FindExtent(extID uint32, stillWanted func() bool) (uint32, error) {
	id, err := m.Area.AcquireExtent(extID)
	if err == nil {
		return id, nil
	}
	if !errors.Is(err, eserr.Busy) {
		return 0, err
	}
	for i := 0; i < m.MaxPolls; i++ {
		if stillWanted != nil && !stillWanted() {
			return 0, eserr.Again
		}
		id, err = m.Area.AcquireExtent(extID)
		if err == nil {
			return id, nil
		}
		if !errors.Is(err, eserr.Busy) {
			return 0, err
		}
		time.Sleep(m.PollBackoff)
	}
	return 0, eserr.Wrap(eserr.Again, nil, "extent stayed busy past poll budget")
}

// ExtentReadDone completes a fault-in of extID. It snapshots the
// extent's current reverse-map membership itself (spec §4.3, §8
// scenario 3), then for each member still genuinely written back to
// extID — re-checked under its own slot lock, since the owner may have
// rewritten the slot while the read was in flight — carves its bytes
// out of buf at its encoded offset into a fresh zram buffer, marks it
// resident, and inserts it at the tail (coldest end) of group g's LRU,
// per spec §4.3's "insert at LRU tail" (so it is among the first
// objects GetGroupColdestObjects returns). An object whose flag or
// handle no longer points at extID is left untouched: the overwriting
// write path already owns its list membership. Returns the number of
// objects actually moved, decrementing the extent's stored-page
// counter by that count and freeing it once drained (mirrors
// __move_to_zram / eswap_extent_objs_del's refcounted free).
func (m *Manager) ExtentReadDone(extID uint32, buf []byte, g zramapi.GroupID) int {
	members := make([]uint32, align.ExtentMaxObjCount)
	n := m.Area.GetExtentObjects(extID, members, align.ExtentMaxObjCount)
	members = members[:n]

	h := m.Area.ExtHead(extID)
	moved := 0
	for _, idx := range members {
		m.Store.SlotLock(idx)
		handle := align.EswapEntry(m.Store.GetHandle(idx))
		if !m.Store.TestFlag(idx, zramapi.WB) || handle.ExtentID() != extID {
			m.Store.SlotUnlock(idx)
			continue
		}

		size := m.Store.GetObjSize(idx)
		entryOff := int(uint64(handle) & (align.ExtentSize - 1))
		nh, ok := m.Store.AllocBuf(size)
		if !ok {
			log.Warnf("eswap: extent %d fault-in: buffer alloc failed for object %d, leaving written back", extID, idx)
			m.Store.SlotUnlock(idx)
			continue
		}
		dst := m.Store.MapBuf(nh, true)
		if entryOff+size <= len(buf) {
			copy(dst, buf[entryOff:entryOff+size])
		}
		m.Store.UnmapBuf(nh)
		m.Store.SetHandle(idx, nh)
		m.Store.ClearFlag(idx, zramapi.WB)
		m.Store.SetFlag(idx, zramapi.FromEswap)
		m.Store.SlotUnlock(idx)

		m.Area.ObjList.Lock(h)
		m.Area.ObjList.Del(idx, h)
		m.Area.ObjList.Unlock(h)

		m.Store.SetMemcgID(idx, g)
		lh := m.Area.GroupLRUHead(uint32(g))
		m.Area.ObjList.Lock(lh)
		m.Area.ObjList.AddTail(idx, lh)
		m.Area.ObjList.Unlock(lh)
		moved++
	}

	m.Area.ReleaseExtent(extID)
	if m.Area.ExtStoredPages(extID).Add(-int64(moved)) == 0 {
		m.Area.FreeExtent(extID)
	}
	return moved
}

// ExtentReadFailed releases extID without freeing it or touching its
// reverse map: the objects remain written back for a future retry.
func (m *Manager) ExtentReadFailed(extID uint32) {
	m.Area.ReleaseExtent(extID)
}

// GroupTeardown drains group g entirely: every LRU-resident object is
// detached and orphaned, then every extent g owns is cleared of group
// ownership and freed if already empty (spec §4.3, mirrors
// eswap_manager_memcg_deinit's two drain loops).
func (m *Manager) GroupTeardown(g zramapi.GroupID, registry *group.Registry) {
	for {
		idx, ok := m.Area.GetGroupZramEntry(uint32(g))
		if !ok {
			break
		}
		m.Store.SlotLock(idx)
		m.Untrack(idx, g)
		m.Store.SetFlag(idx, zramapi.MCGIDClear)
		m.Store.SlotUnlock(idx)
	}

	for {
		extID, ok := m.Area.GetGroupExtent(uint32(g))
		if !ok {
			break
		}
		if m.Area.ExtStoredPages(extID).Load() == 0 {
			m.Area.FreeExtent(extID)
			continue
		}
		// Detach from the group list and clear ownership, but leave
		// the extent live until its last stored object drains
		// naturally via ExtentReadDone.
		h := m.Area.GroupExtHead(uint32(g))
		m.Area.ExtList.Lock(h)
		m.Area.ExtList.Del(extID, h)
		m.Area.ExtList.Unlock(h)
		m.Area.ExtList.SetMcgid(extID, 0)
	}

	if registry != nil {
		registry.Unregister(group.GroupID(g))
	}
}
