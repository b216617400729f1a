// Package ioq implements the IOScheduler of spec §4.4: a plug/segment
// batching layer over internal/blockdev.BlockDevice, with inflight
// back-pressure for the reclaim-in (write) path.
//
// Grounded on original_source/drivers/block/zram/expandmem/
// eswap_schedule.c: eswap_plug_start/eswap_read_extent/
// eswap_write_extent/eswap_plug_finish, eswap_ext_merge's contiguous-
// sector segment coalescing capped at BIO_MAX_PAGES, and
// eswap_limit_inflight's ESWAP_MAX_INFILGHT_NUM back-pressure (applied
// only to ESWAP_RECLAIM_IN, never to fault-out, since fault-out must
// never block behind reclaim). The condvar-style wait_event_timeout
// loop there is re-expressed with golang.org/x/sync/semaphore, which
// gives the same "acquire N weighted units, block until available"
// shape without hand-rolled condition variables.
package ioq

import (
	"context"
	"sync"

	"golang.org/x/sync/semaphore"

	"eswap/internal/blockdev"
	"eswap/pkg/align"
)

// Scenario distinguishes the two I/O directions the scheduler serves.
type Scenario int

const (
	ReclaimIn Scenario = iota
	FaultOut
)

// Entry is one object's worth of I/O: its target sector and buffer.
type Entry struct {
	Sector int64
	Buf    []byte
	Done   func(err error)
}

// segment is a run of entries whose sectors are contiguous, merged so
// they can be issued as a single BlockDevice operation.
type segment struct {
	startSector int64
	entries     []Entry
}

func entryPages(e Entry) int { return (len(e.Buf) + align.PageSize - 1) / align.PageSize }

func (s *segment) pageCount() int {
	n := 0
	for _, e := range s.entries {
		n += entryPages(e)
	}
	return n
}

func (s *segment) canMerge(e Entry) bool {
	if len(s.entries) == 0 {
		return true
	}
	if s.pageCount()+entryPages(e) > align.BioMaxPages {
		return false
	}
	last := s.entries[len(s.entries)-1]
	lastEndSector := last.Sector + int64(len(last.Buf))/512
	return e.Sector == lastEndSector
}

// Request is one plugged batch of I/O for a single scenario.
type Request struct {
	dev      blockdev.BlockDevice
	scenario Scenario
	segs     []*segment
	sched    *Scheduler

	mu sync.Mutex
}

// Scheduler owns the inflight back-pressure semaphore and the two
// worker pools (read vs write) that run issued segments.
type Scheduler struct {
	inflight *semaphore.Weighted

	readWg  sync.WaitGroup
	writeWg sync.WaitGroup
}

// New returns a Scheduler with the teacher's default inflight cap.
func New() *Scheduler {
	return &Scheduler{inflight: semaphore.NewWeighted(int64(align.MaxInflight))}
}

// PlugStart begins a new batch for scenario against dev.
func (s *Scheduler) PlugStart(dev blockdev.BlockDevice, scenario Scenario) *Request {
	return &Request{dev: dev, scenario: scenario, sched: s}
}

// add appends e to the request, merging it into the last segment when
// sectors are contiguous or starting a new one otherwise.
func (r *Request) add(e Entry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if n := len(r.segs); n > 0 && r.segs[n-1].canMerge(e) {
		r.segs[n-1].entries = append(r.segs[n-1].entries, e)
		return
	}
	r.segs = append(r.segs, &segment{startSector: e.Sector, entries: []Entry{e}})
}

// ReadExtent queues a fault-out read. Reads never wait on the inflight
// semaphore: a stalled reclaim-in writer must never stall a fault-in.
func (r *Request) ReadExtent(sector int64, buf []byte, done func(error)) {
	r.add(Entry{Sector: sector, Buf: buf, Done: done})
}

// WriteExtent queues a reclaim-in write, blocking until the scheduler
// has inflight budget.
func (r *Request) WriteExtent(ctx context.Context, sector int64, buf []byte, done func(error)) error {
	pages := int64((len(buf) + align.PageSize - 1) / align.PageSize)
	if err := r.sched.inflight.Acquire(ctx, pages); err != nil {
		return err
	}
	r.add(Entry{Sector: sector, Buf: buf, Done: func(err error) {
		r.sched.inflight.Release(pages)
		if done != nil {
			done(err)
		}
	}})
	return nil
}

// PlugFinish issues every merged segment, dispatching reads to the
// read worker pool and writes to the write worker pool, and blocks
// until all segments in this request have completed.
func (r *Request) PlugFinish() error {
	var wg sync.WaitGroup
	var firstErr error
	var mu sync.Mutex

	for _, seg := range r.segs {
		seg := seg
		wg.Add(1)
		pool := &r.sched.readWg
		if r.scenario == ReclaimIn {
			pool = &r.sched.writeWg
		}
		pool.Add(1)
		go func() {
			defer wg.Done()
			defer pool.Done()
			err := issue(r.dev, r.scenario, seg)
			if err != nil {
				mu.Lock()
				if firstErr == nil {
					firstErr = err
				}
				mu.Unlock()
			}
			for _, e := range seg.entries {
				if e.Done != nil {
					e.Done(err)
				}
			}
		}()
	}
	wg.Wait()
	return firstErr
}

func issue(dev blockdev.BlockDevice, scenario Scenario, seg *segment) error {
	if scenario == ReclaimIn {
		buf := concat(seg.entries)
		return dev.WriteAt(buf, seg.startSector*512)
	}
	buf := concat(seg.entries)
	n, err := dev.ReadAt(buf, seg.startSector*512)
	if err != nil {
		return err
	}
	scatter(buf[:n], seg.entries)
	return nil
}

func concat(entries []Entry) []byte {
	total := 0
	for _, e := range entries {
		total += len(e.Buf)
	}
	out := make([]byte, total)
	off := 0
	for _, e := range entries {
		copy(out[off:], e.Buf)
		off += len(e.Buf)
	}
	return out
}

func scatter(buf []byte, entries []Entry) {
	off := 0
	for _, e := range entries {
		n := copy(e.Buf, buf[off:])
		off += n
	}
}
