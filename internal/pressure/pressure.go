// Package pressure connects an external memory-pressure signal (e.g. a
// cgroup PSI poller, or the kernel's own low-memory notifier) to
// reclaim.Loop.ReclaimIn, so a reclaim pass can be requested
// synchronously and the caller blocked until that pass has run.
//
// Grounded on biscuit/src/oommsg/oommsg.go: a package-level channel of
// a request/resume struct notified whenever the allocator runs dry.
// This repo turns that into a per-instance channel (an Area owns its
// own pressure source rather than every Area in a process sharing one
// global channel); Source's Notify and Events methods are the two ends
// of that channel, used the same way by production callers and tests.
package pressure

// Event is sent on a Source's channel when memory is under pressure.
// Need is how many objects the sender is asking to be freed; Resume is
// closed (or sent true) once that much has been reclaimed, so the
// sender can unblock an allocation that was waiting on it.
type Event struct {
	Need   int
	Resume chan bool
}

// Source is a channel of pressure Events, mirroring the teacher's
// package-level OomCh but scoped to one instance.
type Source struct {
	ch chan Event
}

// NewSource returns a Source ready to notify and be drained.
func NewSource() *Source {
	return &Source{ch: make(chan Event)}
}

// Notify sends an Event asking for need objects to be freed, and blocks
// until the receiver resumes it. It is meant to be called from the
// allocation path that is about to fail for lack of free extents.
func (s *Source) Notify(need int) {
	resume := make(chan bool, 1)
	s.ch <- Event{Need: need, Resume: resume}
	<-resume
}

// Events exposes the channel for a driver loop to range over.
func (s *Source) Events() <-chan Event {
	return s.ch
}

// Reclaimer is the subset of reclaim.Loop this package drives: a
// synchronous "free approximately this many objects from this group"
// call. Kept as a narrow interface so pressure doesn't import reclaim
// and create a cycle; cmd/eswapd supplies the concrete *reclaim.Loop.
type Reclaimer interface {
	ReclaimGroup(group uint32, need int) (int, error)
}

// Drive ranges over src's events, asking r to reclaim Need objects
// from the given group, and resumes the sender once done (or once r
// reports an error, so a stuck reclaim never wedges the allocator
// forever).
func Drive(src *Source, group uint32, r Reclaimer) {
	for ev := range src.Events() {
		_, _ = r.ReclaimGroup(group, ev.Need)
		select {
		case ev.Resume <- true:
		default:
			close(ev.Resume)
		}
	}
}
