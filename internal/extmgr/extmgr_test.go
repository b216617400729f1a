package extmgr

import (
	"testing"
	"time"

	"eswap/internal/area"
	"eswap/internal/zramapi"
	"eswap/internal/zramtest"
	"eswap/pkg/align"
)

func newTestManager(nrObjs, nrExts, nrMcgs uint32) (*Manager, *area.Area, *zramtest.Store) {
	a := area.Create(nrObjs, nrExts, nrMcgs)
	store := zramtest.New(int(nrObjs))
	m := New(a, store)
	m.PollBackoff = time.Microsecond
	m.MaxPolls = 100
	return m, a, store
}

func TestTrackUntrack(t *testing.T) {
	m, a, _ := newTestManager(4, 2, 2)
	m.Track(0, 1)
	m.Track(1, 1)

	out := make([]uint32, 2)
	n := a.GetGroupColdestObjects(1, out, 2)
	if n != 2 {
		t.Fatalf("expected 2 tracked objects, got %d", n)
	}

	m.Untrack(0, 1)
	n = a.GetGroupColdestObjects(1, out, 2)
	if n != 1 || out[0] != 1 {
		t.Fatalf("got %v want [1]", out[:n])
	}
}

func TestCreateExtentPacksGroupColdest(t *testing.T) {
	m, _, store := newTestManager(8, 2, 2)
	for _, idx := range []uint32{0, 1, 2} {
		store.SetObjSize(idx, 100)
		m.Track(idx, 1)
	}

	extID, objs, err := m.CreateExtent(1)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if len(objs) != 3 {
		t.Fatalf("expected 3 packed objects, got %v", objs)
	}
	for _, idx := range objs {
		if store.TestFlag(idx, zramapi.UnderWB) != true {
			t.Fatalf("expected object %d to be marked under write-back", idx)
		}
	}

	m.RegisterExtent(extID, objs)
	for _, idx := range objs {
		if !store.TestFlag(idx, zramapi.WB) {
			t.Fatalf("expected object %d to be marked written back", idx)
		}
		if store.TestFlag(idx, zramapi.UnderWB) {
			t.Fatalf("expected under-write-back cleared for %d", idx)
		}
	}
}

func TestCreateExtentSkipsSameFilled(t *testing.T) {
	m, _, store := newTestManager(8, 2, 2)
	store.SetObjSize(0, 100)
	store.SetFlag(0, zramapi.Same)
	m.Track(0, 1)

	_, _, err := m.CreateExtent(1)
	if err == nil {
		t.Fatalf("expected error when no eligible objects remain")
	}
}

func TestFindExtentBusyThenReleased(t *testing.T) {
	m, a, _ := newTestManager(4, 2, 1)
	extID, err := a.AllocExtent(0)
	if err != nil {
		t.Fatalf("alloc: %v", err)
	}
	if _, err := a.AcquireExtent(extID); err != nil {
		t.Fatalf("acquire: %v", err)
	}

	m.PollBackoff = time.Millisecond
	m.MaxPolls = 50

	done := make(chan struct{})
	go func() {
		time.Sleep(5 * time.Millisecond)
		a.ReleaseExtent(extID)
		close(done)
	}()

	got, err := m.FindExtent(extID, func() bool { return true })
	<-done
	if err != nil {
		t.Fatalf("FindExtent: %v", err)
	}
	if got != extID {
		t.Fatalf("got %d want %d", got, extID)
	}
}

func TestExtentReadDoneFreesWhenDrained(t *testing.T) {
	m, a, store := newTestManager(4, 2, 2)
	extID, err := a.AllocExtent(1)
	if err != nil {
		t.Fatalf("alloc: %v", err)
	}
	a.ExtStoredPages(extID).Store(2)

	h := a.ExtHead(extID)
	a.ObjList.Lock(h)
	for _, idx := range []uint32{0, 1} {
		store.SetObjSize(idx, 64)
		store.SetFlag(idx, zramapi.WB)
		store.SetHandle(idx, zramapi.Handle(align.EncodeEntry(extID, 0, 0)))
		a.ObjList.Add(idx, h)
	}
	a.ObjList.Unlock(h)

	buf := make([]byte, align.ExtentSize)
	moved := m.ExtentReadDone(extID, buf, 1)

	if moved != 2 {
		t.Fatalf("expected 2 objects moved, got %d", moved)
	}
	if store.TestFlag(0, zramapi.WB) || store.TestFlag(1, zramapi.WB) {
		t.Fatalf("expected WB cleared on both objects")
	}
	if a.ExtStoredPages(extID).Load() != 0 {
		t.Fatalf("expected stored pages to hit 0")
	}
	if _, ok := a.GetGroupExtent(1); ok {
		t.Fatalf("expected extent freed after drain")
	}
}

func TestExtentReadDoneSkipsOverwrittenObjects(t *testing.T) {
	m, a, store := newTestManager(4, 2, 2)
	extID, err := a.AllocExtent(1)
	if err != nil {
		t.Fatalf("alloc: %v", err)
	}
	a.ExtStoredPages(extID).Store(1)

	h := a.ExtHead(extID)
	a.ObjList.Lock(h)
	a.ObjList.Add(0, h)
	a.ObjList.Unlock(h)
	// Object 0 was rewritten while the fault-in was in flight: WB is
	// now clear, so extent_read_done must leave it untouched.
	store.SetObjSize(0, 64)

	buf := make([]byte, align.ExtentSize)
	moved := m.ExtentReadDone(extID, buf, 1)

	if moved != 0 {
		t.Fatalf("expected 0 objects moved for an overwritten slot, got %d", moved)
	}
	if store.TestFlag(0, zramapi.FromEswap) {
		t.Fatalf("overwritten object must not be mutated")
	}
}

func TestDeleteRefusesTransientObjects(t *testing.T) {
	m, _, store := newTestManager(4, 2, 1)
	store.SetFlag(0, zramapi.UnderWB)
	if m.Delete(0) {
		t.Fatalf("expected Delete to refuse an object mid write-back")
	}
	store.ClearFlag(0, zramapi.UnderWB)
	store.SetFlag(0, zramapi.UnderFaultout)
	if m.Delete(0) {
		t.Fatalf("expected Delete to refuse an object mid fault-in")
	}
}

func TestDeleteFreesExtentWhenDrained(t *testing.T) {
	m, a, store := newTestManager(4, 2, 2)
	extID, err := a.AllocExtent(1)
	if err != nil {
		t.Fatalf("alloc: %v", err)
	}
	a.ExtStoredPages(extID).Store(1)
	store.SetFlag(0, zramapi.WB)
	store.SetHandle(0, zramapi.Handle(align.EncodeEntry(extID, 0, 0)))

	if !m.Delete(0) {
		t.Fatalf("expected Delete to succeed for a written-back object")
	}
	if a.ExtStoredPages(extID).Load() != 0 {
		t.Fatalf("expected stored pages to hit 0")
	}
	if _, ok := a.GetGroupExtent(1); ok {
		t.Fatalf("expected extent freed after drain")
	}
}

func TestGroupTeardownDrainsLRUAndExtents(t *testing.T) {
	m, a, store := newTestManager(8, 2, 2)
	m.Track(0, 1)
	m.Track(1, 1)
	extID, err := a.AllocExtent(1)
	if err != nil {
		t.Fatalf("alloc: %v", err)
	}

	m.GroupTeardown(1, nil)

	if store.TestFlag(0, zramapi.MCGIDClear) != true || store.TestFlag(1, zramapi.MCGIDClear) != true {
		t.Fatalf("expected both objects marked mcgid-clear")
	}
	if _, ok := a.GetGroupZramEntry(1); ok {
		t.Fatalf("expected LRU drained")
	}
	if _, ok := a.GetGroupExtent(1); ok {
		t.Fatalf("expected extent list drained")
	}
	if got := a.ExtList.GetMcgid(extID); got != 0 {
		t.Fatalf("expected extent ownership cleared, got %d", got)
	}
}
