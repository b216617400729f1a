package area

import (
	"testing"

	"eswap/internal/eserr"
)

func TestAllocFreeExtentRoundTrip(t *testing.T) {
	a := Create(8, 4, 2)

	e0, err := a.AllocExtent(1)
	if err != nil {
		t.Fatalf("alloc: %v", err)
	}
	e1, err := a.AllocExtent(1)
	if err != nil {
		t.Fatalf("alloc: %v", err)
	}
	if e0 == e1 {
		t.Fatalf("expected distinct extent ids, got %d twice", e0)
	}

	got, ok := a.GetGroupExtent(1)
	if !ok {
		t.Fatalf("expected group 1 to own an extent")
	}
	if got != e0 && got != e1 {
		t.Fatalf("unexpected owned extent %d", got)
	}

	a.FreeExtent(e0)
	a.FreeExtent(e1)

	if _, ok := a.GetGroupExtent(1); ok {
		t.Fatalf("expected group 1 to own no extents after free")
	}

	// bitmap slots must be reusable.
	for i := 0; i < 4; i++ {
		if _, err := a.AllocExtent(0); err != nil {
			t.Fatalf("realloc %d: %v", i, err)
		}
	}
	if _, err := a.AllocExtent(0); err != eserr.NoSpace {
		t.Fatalf("expected NoSpace once exhausted, got %v", err)
	}
}

func TestAcquireReleaseExtent(t *testing.T) {
	a := Create(4, 2, 1)
	e, err := a.AllocExtent(0)
	if err != nil {
		t.Fatalf("alloc: %v", err)
	}

	if _, err := a.AcquireExtent(e); err != nil {
		t.Fatalf("first acquire: %v", err)
	}
	if _, err := a.AcquireExtent(e); err != eserr.Busy {
		t.Fatalf("expected Busy on second acquire, got %v", err)
	}
	a.ReleaseExtent(e)
	if _, err := a.AcquireExtent(e); err != nil {
		t.Fatalf("acquire after release: %v", err)
	}
	a.ReleaseExtent(e)

	if _, err := a.AcquireExtent(999); err != eserr.Invalid {
		t.Fatalf("expected Invalid for out-of-range extent, got %v", err)
	}

	a.FreeExtent(e)
	if _, err := a.AcquireExtent(e); err != eserr.NotFound {
		t.Fatalf("expected NotFound after free, got %v", err)
	}
}

func TestGroupLRUOrderColdestFirst(t *testing.T) {
	a := Create(8, 2, 1)
	h := a.GroupLRUHead(0)

	a.ObjList.Lock(h)
	a.ObjList.AddTail(0, h)
	a.ObjList.AddTail(1, h)
	a.ObjList.AddTail(2, h)
	a.ObjList.Unlock(h)

	out := make([]uint32, 4)
	n := a.GetGroupColdestObjects(0, out, 4)
	if n != 3 {
		t.Fatalf("expected 3 objects, got %d", n)
	}
	want := []uint32{2, 1, 0}
	for i, w := range want {
		if out[i] != w {
			t.Fatalf("coldest-first order got %v want %v", out[:n], want)
		}
	}
}

func TestGroupLRUMaxCap(t *testing.T) {
	a := Create(8, 2, 1)
	h := a.GroupLRUHead(0)
	a.ObjList.Lock(h)
	a.ObjList.AddTail(0, h)
	a.ObjList.AddTail(1, h)
	a.ObjList.AddTail(2, h)
	a.ObjList.Unlock(h)

	out := make([]uint32, 2)
	n := a.GetGroupColdestObjects(0, out, 2)
	if n != 2 {
		t.Fatalf("expected cap of 2, got %d", n)
	}
}

func TestGetExtentObjectsEnumeratesReverseMap(t *testing.T) {
	a := Create(8, 2, 1)
	e, err := a.AllocExtent(0)
	if err != nil {
		t.Fatalf("alloc: %v", err)
	}
	h := a.ExtHead(e)

	a.ObjList.Lock(h)
	a.ObjList.Add(0, h)
	a.ObjList.Add(1, h)
	a.ObjList.Add(2, h)
	a.ObjList.Unlock(h)

	out := make([]uint32, 4)
	n := a.GetExtentObjects(e, out, 4)
	if n != 3 {
		t.Fatalf("expected 3 members, got %d", n)
	}

	seen := map[uint32]bool{}
	for _, idx := range out[:n] {
		seen[idx] = true
	}
	for _, want := range []uint32{0, 1, 2} {
		if !seen[want] {
			t.Fatalf("expected object %d among members, got %v", want, out[:n])
		}
	}
}

func TestExtentStoredPagesCounter(t *testing.T) {
	a := Create(4, 2, 1)
	e, err := a.AllocExtent(0)
	if err != nil {
		t.Fatalf("alloc: %v", err)
	}
	c := a.ExtStoredPages(e)
	c.Add(3)
	if got := a.ExtStoredPages(e).Load(); got != 3 {
		t.Fatalf("got %d want 3", got)
	}
	a.FreeExtent(e)
	if got := a.ExtStoredPages(e).Load(); got != 0 {
		t.Fatalf("expected reset to 0 after free, got %d", got)
	}
}
