package ioq

import (
	"context"
	"sync"
	"testing"

	"eswap/pkg/align"
)

type memDevice struct {
	mu   sync.Mutex
	data []byte
}

func newMemDevice(size int) *memDevice {
	return &memDevice{data: make([]byte, size)}
}

func (m *memDevice) ReadAt(buf []byte, offset int64) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return copy(buf, m.data[offset:]), nil
}

func (m *memDevice) WriteAt(buf []byte, offset int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	copy(m.data[offset:], buf)
	return nil
}

func (m *memDevice) Sync() error  { return nil }
func (m *memDevice) Close() error { return nil }

func TestWriteThenReadRoundTrip(t *testing.T) {
	dev := newMemDevice(4096)
	sched := New()

	req := sched.PlugStart(dev, ReclaimIn)
	src := make([]byte, 512)
	for i := range src {
		src[i] = byte(i)
	}
	var writeErr error
	if err := req.WriteExtent(context.Background(), 0, src, func(err error) { writeErr = err }); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := req.PlugFinish(); err != nil {
		t.Fatalf("plug finish: %v", err)
	}
	if writeErr != nil {
		t.Fatalf("write callback error: %v", writeErr)
	}

	dst := make([]byte, 512)
	rreq := sched.PlugStart(dev, FaultOut)
	var readErr error
	rreq.ReadExtent(0, dst, func(err error) { readErr = err })
	if err := rreq.PlugFinish(); err != nil {
		t.Fatalf("plug finish: %v", err)
	}
	if readErr != nil {
		t.Fatalf("read callback error: %v", readErr)
	}
	for i := range src {
		if dst[i] != src[i] {
			t.Fatalf("byte %d: got %d want %d", i, dst[i], src[i])
		}
	}
}

func TestMergesContiguousSectors(t *testing.T) {
	dev := newMemDevice(4096)
	sched := New()
	req := sched.PlugStart(dev, ReclaimIn)

	buf1 := make([]byte, 512)
	buf2 := make([]byte, 512)
	req.add(Entry{Sector: 0, Buf: buf1})
	req.add(Entry{Sector: 1, Buf: buf2})

	if len(req.segs) != 1 {
		t.Fatalf("expected contiguous sectors to merge into one segment, got %d", len(req.segs))
	}
	if req.segs[0].pageCount() != 2 {
		t.Fatalf("expected 2 entries in merged segment, got %d", req.segs[0].pageCount())
	}
}

func TestNonContiguousSectorsStartNewSegment(t *testing.T) {
	dev := newMemDevice(4096)
	sched := New()
	req := sched.PlugStart(dev, ReclaimIn)

	buf1 := make([]byte, 512)
	buf2 := make([]byte, 512)
	req.add(Entry{Sector: 0, Buf: buf1})
	req.add(Entry{Sector: 5, Buf: buf2})

	if len(req.segs) != 2 {
		t.Fatalf("expected non-contiguous sectors to start a new segment, got %d", len(req.segs))
	}
}

func TestWriteExtentRespectsCanceledContext(t *testing.T) {
	dev := newMemDevice(1 << 20)
	sched := New()
	// Exhaust the entire inflight budget up front.
	if err := sched.inflight.Acquire(context.Background(), int64(align.MaxInflight)); err != nil {
		t.Fatalf("acquire full budget: %v", err)
	}

	req := sched.PlugStart(dev, ReclaimIn)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	buf := make([]byte, align.PageSize)
	if err := req.WriteExtent(ctx, 0, buf, nil); err == nil {
		t.Fatalf("expected WriteExtent to fail on an already-canceled context once budget is exhausted")
	}
}
