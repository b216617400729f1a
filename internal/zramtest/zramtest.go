// Package zramtest is a reference, in-memory implementation of
// zramapi.Store, used by every other package's tests to exercise real
// track/untrack/fault/delete sequences instead of mocking the
// interface per test. It is not meant for production use: slot locks
// are plain mutexes and buffers are plain byte slices.
package zramtest

import (
	"sync"

	"eswap/internal/zramapi"
)

type slot struct {
	mu     sync.Mutex
	flags  zramapi.Flag
	handle zramapi.Handle
	size   int
	mcg    zramapi.GroupID
}

// Store is an in-memory zramapi.Store over a fixed number of slots.
type Store struct {
	slots []slot

	bufMu   sync.Mutex
	buffers map[zramapi.Handle][]byte
	nextBuf zramapi.Handle
}

// New returns a Store with n object slots.
func New(n int) *Store {
	return &Store{
		slots:   make([]slot, n),
		buffers: make(map[zramapi.Handle][]byte),
		nextBuf: 1,
	}
}

func (s *Store) SlotLock(index uint32)   { s.slots[index].mu.Lock() }
func (s *Store) SlotUnlock(index uint32) { s.slots[index].mu.Unlock() }

func (s *Store) TestFlag(index uint32, f zramapi.Flag) bool {
	return s.slots[index].flags&f != 0
}

func (s *Store) SetFlag(index uint32, f zramapi.Flag) {
	s.slots[index].flags |= f
}

func (s *Store) ClearFlag(index uint32, f zramapi.Flag) {
	s.slots[index].flags &^= f
}

func (s *Store) GetHandle(index uint32) zramapi.Handle { return s.slots[index].handle }
func (s *Store) SetHandle(index uint32, h zramapi.Handle) { s.slots[index].handle = h }

func (s *Store) GetObjSize(index uint32) int    { return s.slots[index].size }
func (s *Store) SetObjSize(index uint32, sz int) { s.slots[index].size = sz }

func (s *Store) GetMemcgID(index uint32) zramapi.GroupID { return s.slots[index].mcg }
func (s *Store) SetMemcgID(index uint32, id zramapi.GroupID) { s.slots[index].mcg = id }

func (s *Store) AllocBuf(size int) (zramapi.Handle, bool) {
	s.bufMu.Lock()
	defer s.bufMu.Unlock()
	h := s.nextBuf
	s.nextBuf++
	s.buffers[h] = make([]byte, size)
	return h, true
}

func (s *Store) MapBuf(h zramapi.Handle, write bool) []byte {
	s.bufMu.Lock()
	defer s.bufMu.Unlock()
	return s.buffers[h]
}

func (s *Store) UnmapBuf(h zramapi.Handle) {}

func (s *Store) FreeBuf(h zramapi.Handle) {
	s.bufMu.Lock()
	defer s.bufMu.Unlock()
	delete(s.buffers, h)
}
